package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AMAP_API_KEY", "")
	t.Setenv("GAODE_API_KEY", "")

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:8000" {
		t.Errorf("BindAddr = %q, want 127.0.0.1:8000", cfg.BindAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if got := cfg.HeartbeatInterval(); got != 5*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 5s", got)
	}
	if got := cfg.CallTimeout(); got != 60*time.Second {
		t.Errorf("CallTimeout = %v, want 60s", got)
	}
	if got := cfg.QueueSize(); got != 256 {
		t.Errorf("QueueSize = %d, want 256", got)
	}
	if got := cfg.AmapTimeout(); got != 10*time.Second {
		t.Errorf("AmapTimeout = %v, want 10s", got)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
bind_addr: "0.0.0.0:9001"
log_level: debug
heartbeat_interval_seconds: 2
call_timeout_seconds: 30
channel_queue_size: 8
api_keys:
  amap: abc123
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AMAP_API_KEY", "")
	t.Setenv("GAODE_API_KEY", "")

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}
	if cfg.BindAddr != "0.0.0.0:9001" {
		t.Errorf("BindAddr = %q", cfg.BindAddr)
	}
	if got := cfg.HeartbeatInterval(); got != 2*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 2s", got)
	}
	if got := cfg.CallTimeout(); got != 30*time.Second {
		t.Errorf("CallTimeout = %v, want 30s", got)
	}
	if got := cfg.QueueSize(); got != 8 {
		t.Errorf("QueueSize = %d, want 8", got)
	}
	if cfg.APIKeys["amap"] != "abc123" {
		t.Errorf("APIKeys[amap] = %q, want abc123", cfg.APIKeys["amap"])
	}
}

func TestEnvOverridesAPIKey(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AMAP_API_KEY", "envkey999")

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}
	if cfg.APIKeys["amap"] != "envkey999" {
		t.Errorf("APIKeys[amap] = %q, want envkey999", cfg.APIKeys["amap"])
	}
}

func TestFingerprintChangesWithConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AMAP_API_KEY", "")
	t.Setenv("GAODE_API_KEY", "")

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	fp1 := cfg.Fingerprint()
	if fp1 == "" {
		t.Fatal("empty fingerprint")
	}
	cfg.BindAddr = "0.0.0.0:9999"
	if fp2 := cfg.Fingerprint(); fp2 == fp1 {
		t.Error("fingerprint unchanged after config change")
	}
}

func TestSetAPIKeyPreservesOtherSettings(t *testing.T) {
	dir := t.TempDir()
	yaml := "bind_addr: \"0.0.0.0:9001\"\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := SetAPIKey(dir, "amap", "newkey"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}
	t.Setenv("AMAP_API_KEY", "")
	t.Setenv("GAODE_API_KEY", "")

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKeys["amap"] != "newkey" {
		t.Errorf("APIKeys[amap] = %q, want newkey", cfg.APIKeys["amap"])
	}
	if cfg.BindAddr != "0.0.0.0:9001" {
		t.Errorf("BindAddr = %q, existing setting lost", cfg.BindAddr)
	}
}
