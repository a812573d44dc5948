package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_, ok := c.Get(ctx, "stats")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "stats", `{"totalProposals":1}`, 0))
	v, ok := c.Get(ctx, "stats")
	assert.True(t, ok)
	assert.Equal(t, `{"totalProposals":1}`, v)

	require.NoError(t, c.Delete(ctx, "stats"))
	_, ok = c.Get(ctx, "stats")
	assert.False(t, ok)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Date(2024, 1, 21, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

	now = now.Add(59 * time.Second)
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

var _ Cache = (*MemoryCache)(nil)
var _ Cache = (*RedisCache)(nil)
