// Package cache stores short-lived derived data such as aggregate statistics.
package cache

import (
	"context"
	"time"
)

// Cache is a string key/value store with per-entry expiry. A ttl of zero
// means the entry does not expire.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
