// Package config loads daemon settings from defaults, an optional YAML file and
// RUNTIMED_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all configuration values for the daemon.
type Config struct {
	// HTTP server port
	HTTPPort int `mapstructure:"http_port"`

	// Base URL kernel adapters use to reach this daemon (e.g. "http://10.0.0.5:12397").
	// Defaults to localhost on HTTPPort.
	AdvertiseURL string `mapstructure:"advertise_url"`

	Store          string `mapstructure:"store"`
	DatabaseURL    string `mapstructure:"database_url"`
	MigrateOnStart bool   `mapstructure:"migrate"`

	KeepaliveTimeout  time.Duration `mapstructure:"keepalive_timeout"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`

	// Per-subscriber buffer of the transition event bus
	EventBuffer int `mapstructure:"event_buffer"`

	// Requests per second and burst allowed per client
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// Shared bearer token kernel adapters present on /internal endpoints; empty disables the check
	InternalToken string `mapstructure:"internal_token"`

	// OTLP gRPC collector endpoint; empty disables tracing
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	LogLevel string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 12397)
	v.SetDefault("advertise_url", "")
	v.SetDefault("store", StoreMemory)
	v.SetDefault("database_url", "")
	v.SetDefault("migrate", true)
	v.SetDefault("keepalive_timeout", 30*time.Second)
	v.SetDefault("keepalive_interval", 5*time.Second)
	v.SetDefault("sweep_interval", 5*time.Second)
	v.SetDefault("event_buffer", 256)
	v.SetDefault("rate_limit", 50.0)
	v.SetDefault("rate_burst", 100)
	v.SetDefault("internal_token", "")
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("log_level", "info")
}

// Load reads configuration. An empty path looks for runtimed.yaml in the working
// directory and carries on without it; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RUNTIMED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("runtimed")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if cfg.AdvertiseURL == "" {
		cfg.AdvertiseURL = fmt.Sprintf("http://localhost:%d", cfg.HTTPPort)
	}
	cfg.AdvertiseURL = strings.TrimRight(cfg.AdvertiseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that defaults cannot make safe.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required for the postgres store (env: RUNTIMED_DATABASE_URL)")
		}
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StoreMemory, StorePostgres)
	}

	if c.KeepaliveTimeout <= 0 || c.KeepaliveInterval <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("keepalive_timeout, keepalive_interval and sweep_interval must be positive")
	}
	if c.KeepaliveInterval >= c.KeepaliveTimeout {
		return fmt.Errorf("keepalive_interval (%v) must be shorter than keepalive_timeout (%v)", c.KeepaliveInterval, c.KeepaliveTimeout)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer)
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("rate_limit and rate_burst must be positive")
	}
	return nil
}
