package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runtimed.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_DefaultValues(t *testing.T) {

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 12397 {
		t.Errorf("expected HTTPPort 12397, got %d", cfg.HTTPPort)
	}
	if cfg.AdvertiseURL != "http://localhost:12397" {
		t.Errorf("expected AdvertiseURL http://localhost:12397, got %s", cfg.AdvertiseURL)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("expected Store memory, got %s", cfg.Store)
	}
	if !cfg.MigrateOnStart {
		t.Error("expected MigrateOnStart true")
	}
	if cfg.KeepaliveTimeout != 30*time.Second {
		t.Errorf("expected KeepaliveTimeout 30s, got %v", cfg.KeepaliveTimeout)
	}
	if cfg.KeepaliveInterval != 5*time.Second {
		t.Errorf("expected KeepaliveInterval 5s, got %v", cfg.KeepaliveInterval)
	}
	if cfg.SweepInterval != 5*time.Second {
		t.Errorf("expected SweepInterval 5s, got %v", cfg.SweepInterval)
	}
	if cfg.EventBuffer != 256 {
		t.Errorf("expected EventBuffer 256, got %d", cfg.EventBuffer)
	}
	if cfg.OTELEndpoint != "" {
		t.Errorf("expected tracing disabled by default, got %s", cfg.OTELEndpoint)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel info, got %s", cfg.LogLevel)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	t.Setenv("RUNTIMED_HTTP_PORT", "9999")
	t.Setenv("RUNTIMED_STORE", "Postgres")
	t.Setenv("RUNTIMED_DATABASE_URL", "postgres://custom/db")
	t.Setenv("RUNTIMED_KEEPALIVE_TIMEOUT", "1m")
	t.Setenv("RUNTIMED_KEEPALIVE_INTERVAL", "10s")
	t.Setenv("RUNTIMED_ADVERTISE_URL", "http://daemon:9999/")
	t.Setenv("RUNTIMED_OTEL_ENDPOINT", "otel-collector:4317")
	t.Setenv("RUNTIMED_INTERNAL_TOKEN", "s3cret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9999 {
		t.Errorf("expected HTTPPort 9999, got %d", cfg.HTTPPort)
	}
	if cfg.Store != StorePostgres {
		t.Errorf("expected Store postgres, got %s", cfg.Store)
	}
	if cfg.DatabaseURL != "postgres://custom/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.KeepaliveTimeout != time.Minute {
		t.Errorf("expected KeepaliveTimeout 1m, got %v", cfg.KeepaliveTimeout)
	}
	if cfg.KeepaliveInterval != 10*time.Second {
		t.Errorf("expected KeepaliveInterval 10s, got %v", cfg.KeepaliveInterval)
	}
	if cfg.AdvertiseURL != "http://daemon:9999" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.AdvertiseURL)
	}
	if cfg.OTELEndpoint != "otel-collector:4317" {
		t.Errorf("expected OTELEndpoint otel-collector:4317, got %s", cfg.OTELEndpoint)
	}
	if cfg.InternalToken != "s3cret" {
		t.Errorf("expected InternalToken from env, got %q", cfg.InternalToken)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfig(t, `
http_port: 7777
store: postgres
database_url: "postgres://config-file/db"
sweep_interval: 2s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 7777 {
		t.Errorf("expected HTTPPort 7777, got %d", cfg.HTTPPort)
	}
	if cfg.DatabaseURL != "postgres://config-file/db" {
		t.Errorf("expected DatabaseURL from config file, got %s", cfg.DatabaseURL)
	}
	if cfg.SweepInterval != 2*time.Second {
		t.Errorf("expected SweepInterval 2s, got %v", cfg.SweepInterval)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	path := writeConfig(t, `
http_port: 7777
log_level: debug
`)
	t.Setenv("RUNTIMED_HTTP_PORT", "8888")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 8888 {
		t.Errorf("expected HTTPPort 8888 from env, got %d", cfg.HTTPPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel debug from file, got %s", cfg.LogLevel)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/to/config.yaml"); err == nil {
		t.Error("expected error for nonexistent config file")
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "postgres without database url",
			env:     map[string]string{"RUNTIMED_STORE": "postgres"},
			wantErr: "database_url is required",
		},
		{
			name:    "unknown store",
			env:     map[string]string{"RUNTIMED_STORE": "sqlite"},
			wantErr: "unknown store",
		},
		{
			name:    "interval not shorter than timeout",
			env:     map[string]string{"RUNTIMED_KEEPALIVE_INTERVAL": "30s"},
			wantErr: "must be shorter",
		},
		{
			name:    "non-positive sweep",
			env:     map[string]string{"RUNTIMED_SWEEP_INTERVAL": "0s"},
			wantErr: "must be positive",
		},
		{
			name:    "port out of range",
			env:     map[string]string{"RUNTIMED_HTTP_PORT": "70000"},
			wantErr: "http_port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
