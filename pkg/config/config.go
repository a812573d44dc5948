// Package config loads the service configuration from an optional YAML file
// and CASAFACIL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/mcclellann/casafacil/pkg/simulation"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultConfigFile = "config.yaml"
	envPrefix         = "CASAFACIL"
)

// Configuration holds all configuration for the service.
type Configuration struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// CacheConfig selects Redis when RedisAddr is set and an in-process cache
// otherwise.
type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	StatsTTL  time.Duration `mapstructure:"stats_ttl"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	CookieSecure  bool          `mapstructure:"cookie_secure"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	AdminEmail    string        `mapstructure:"admin_email"`
	AdminPassword string        `mapstructure:"admin_password"`
}

// SimulationConfig holds the financing rules. Money and ratios are strings so
// they reach the engine without passing through float64.
type SimulationConfig struct {
	MinPropertyValue    string `mapstructure:"min_property_value"`
	MaxPropertyValue    string `mapstructure:"max_property_value"`
	MinDownPaymentRatio string `mapstructure:"min_down_payment_ratio"`
	MinTermYears        int    `mapstructure:"min_term_years"`
	MaxTermYears        int    `mapstructure:"max_term_years"`
	AnnualRate          string `mapstructure:"annual_rate"`
}

type RateLimitConfig struct {
	Capacity int           `mapstructure:"capacity"`
	Refill   time.Duration `mapstructure:"refill"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("database.path", "casafacil.db")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.stats_ttl", 5*time.Minute)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.cookie_secure", false)
	v.SetDefault("auth.token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.admin_email", "admin@casafacil.com.br")
	v.SetDefault("auth.admin_password", "")
	v.SetDefault("simulation.min_property_value", "50000")
	v.SetDefault("simulation.max_property_value", "1000000000000")
	v.SetDefault("simulation.min_down_payment_ratio", "0.20")
	v.SetDefault("simulation.min_term_years", 5)
	v.SetDefault("simulation.max_term_years", 35)
	v.SetDefault("simulation.annual_rate", "0.12")
	v.SetDefault("ratelimit.capacity", 30)
	v.SetDefault("ratelimit.refill", time.Minute)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// LoadConfiguration reads the YAML file at configPath, if it exists, and
// overlays CASAFACIL_* environment variables (server.address is read from
// CASAFACIL_SERVER_ADDRESS).
func LoadConfiguration(configPath string) (*Configuration, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
		}
	}

	var conf Configuration
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Configuration) validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.RateLimit.Capacity < 1 {
		errs = append(errs, errors.New("ratelimit.capacity must be positive"))
	}
	if c.RateLimit.Refill <= 0 {
		errs = append(errs, errors.New("ratelimit.refill must be positive"))
	}
	if _, err := c.Simulation.Rules(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Rules converts the simulation section into engine rules.
func (s SimulationConfig) Rules() (simulation.Rules, error) {
	minValue, err := decimal.NewFromString(s.MinPropertyValue)
	if err != nil {
		return simulation.Rules{}, fmt.Errorf("simulation.min_property_value: %w", err)
	}
	maxValue, err := decimal.NewFromString(s.MaxPropertyValue)
	if err != nil {
		return simulation.Rules{}, fmt.Errorf("simulation.max_property_value: %w", err)
	}
	ratio, err := decimal.NewFromString(s.MinDownPaymentRatio)
	if err != nil {
		return simulation.Rules{}, fmt.Errorf("simulation.min_down_payment_ratio: %w", err)
	}
	rate, err := decimal.NewFromString(s.AnnualRate)
	if err != nil {
		return simulation.Rules{}, fmt.Errorf("simulation.annual_rate: %w", err)
	}
	return simulation.Rules{
		MinPropertyValue:    minValue,
		MaxPropertyValue:    maxValue,
		MinDownPaymentRatio: ratio,
		MinTermYears:        s.MinTermYears,
		MaxTermYears:        s.MaxTermYears,
		AnnualRate:          rate,
	}, nil
}

// NewLogger builds a zap logger: JSON for "json", the development console
// encoder for "console".
func NewLogger(conf LoggingConfig) (*zap.Logger, error) {
	level := conf.Level
	if level == "" {
		level = "info"
	}

	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var zc zap.Config
	switch conf.Format {
	case "", "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format: %s", conf.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(zapLevel)
	return zc.Build()
}
