package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadAdapter_DefaultValues(t *testing.T) {
	cfg, err := LoadAdapter("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ListenPort != 9100 {
		t.Errorf("expected ListenPort 9100, got %d", cfg.ListenPort)
	}
	if cfg.AdvertiseURL != "http://localhost:9100" {
		t.Errorf("expected AdvertiseURL http://localhost:9100, got %s", cfg.AdvertiseURL)
	}
	if cfg.DaemonURL != "http://localhost:12397" {
		t.Errorf("expected DaemonURL http://localhost:12397, got %s", cfg.DaemonURL)
	}
	if cfg.Register {
		t.Error("expected Register false")
	}
	if !reflect.DeepEqual(cfg.Interpreter, []string{"python3", "-c"}) {
		t.Errorf("expected python3 -c, got %v", cfg.Interpreter)
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Errorf("expected HeartbeatInterval 5s, got %v", cfg.HeartbeatInterval)
	}
}

func TestLoadAdapter_EnvVarOverrides(t *testing.T) {
	t.Setenv("KERNELD_LISTEN_PORT", "9200")
	t.Setenv("KERNELD_REGISTER", "true")
	t.Setenv("KERNELD_DAEMON_URL", "http://daemon:12397/")
	t.Setenv("KERNELD_INTERNAL_TOKEN", "s3cret")
	t.Setenv("KERNELD_INTERPRETER", "sh -c")
	t.Setenv("KERNELD_HEARTBEAT_INTERVAL", "2s")

	cfg, err := LoadAdapter("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ListenPort != 9200 || cfg.AdvertiseURL != "http://localhost:9200" {
		t.Errorf("unexpected listen settings: %d %s", cfg.ListenPort, cfg.AdvertiseURL)
	}
	if !cfg.Register {
		t.Error("expected Register true")
	}
	if cfg.DaemonURL != "http://daemon:12397" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.DaemonURL)
	}
	if cfg.InternalToken != "s3cret" {
		t.Errorf("expected InternalToken from env, got %q", cfg.InternalToken)
	}
	if !reflect.DeepEqual(cfg.Interpreter, []string{"sh", "-c"}) {
		t.Errorf("expected interpreter split on spaces, got %v", cfg.Interpreter)
	}
	if cfg.HeartbeatInterval != 2*time.Second {
		t.Errorf("expected HeartbeatInterval 2s, got %v", cfg.HeartbeatInterval)
	}
}

func TestLoadAdapter_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kerneld.yaml")
	content := `
listen_port: 9300
advertise_url: "http://10.0.0.7:9300"
interpreter: ["bash", "-c"]
work_dir: /tmp
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadAdapter(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AdvertiseURL != "http://10.0.0.7:9300" {
		t.Errorf("expected AdvertiseURL from file, got %s", cfg.AdvertiseURL)
	}
	if !reflect.DeepEqual(cfg.Interpreter, []string{"bash", "-c"}) {
		t.Errorf("expected bash -c, got %v", cfg.Interpreter)
	}
	if cfg.WorkDir != "/tmp" {
		t.Errorf("expected WorkDir /tmp, got %s", cfg.WorkDir)
	}
}

func TestLoadAdapter_Validation(t *testing.T) {
	t.Setenv("KERNELD_HEARTBEAT_INTERVAL", "0s")
	if _, err := LoadAdapter(""); err == nil || !strings.Contains(err.Error(), "heartbeat_interval") {
		t.Errorf("expected heartbeat_interval error, got %v", err)
	}
}
