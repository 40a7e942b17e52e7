package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AdapterConfig holds configuration for kerneld, the http transport adapter.
type AdapterConfig struct {
	ListenPort int `mapstructure:"listen_port"`

	// URL the daemon uses to reach this adapter. Defaults to localhost on ListenPort.
	AdvertiseURL string `mapstructure:"advertise_url"`

	DaemonURL string `mapstructure:"daemon_url"`
	// Register the adapter with the daemon on start and keep it alive with heartbeats
	Register bool `mapstructure:"register"`
	// Bearer token presented on the daemon's /internal endpoints
	InternalToken string `mapstructure:"internal_token"`

	Interpreter       []string      `mapstructure:"interpreter"`
	WorkDir           string        `mapstructure:"work_dir"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	OTELEndpoint string `mapstructure:"otel_endpoint"`
	LogLevel     string `mapstructure:"log_level"`
}

func setAdapterDefaults(v *viper.Viper) {
	v.SetDefault("listen_port", 9100)
	v.SetDefault("advertise_url", "")
	v.SetDefault("daemon_url", "http://localhost:12397")
	v.SetDefault("register", false)
	v.SetDefault("internal_token", "")
	v.SetDefault("interpreter", []string{"python3", "-c"})
	v.SetDefault("work_dir", "")
	v.SetDefault("heartbeat_interval", 5*time.Second)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("log_level", "info")
}

// LoadAdapter reads kerneld configuration from defaults, an optional kerneld.yaml and
// KERNELD_* environment variables. KERNELD_INTERPRETER is split on spaces.
func LoadAdapter(path string) (*AdapterConfig, error) {
	v := viper.New()
	setAdapterDefaults(v)

	v.SetEnvPrefix("KERNELD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("kerneld")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &AdapterConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.AdvertiseURL == "" {
		cfg.AdvertiseURL = fmt.Sprintf("http://localhost:%d", cfg.ListenPort)
	}
	cfg.AdvertiseURL = strings.TrimRight(cfg.AdvertiseURL, "/")
	cfg.DaemonURL = strings.TrimRight(cfg.DaemonURL, "/")
	if len(cfg.Interpreter) == 1 {
		cfg.Interpreter = strings.Fields(cfg.Interpreter[0])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that defaults cannot make safe.
func (c *AdapterConfig) Validate() error {
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port must be between 1 and 65535, got %d", c.ListenPort)
	}
	if len(c.Interpreter) == 0 || c.Interpreter[0] == "" {
		return fmt.Errorf("interpreter must name a program")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if c.Register && c.DaemonURL == "" {
		return fmt.Errorf("daemon_url is required when register is set (env: KERNELD_DAEMON_URL)")
	}
	return nil
}
