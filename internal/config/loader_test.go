package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("default config not written: %v", statErr)
	}
	if cfg.Addr != ":8080" || cfg.SendBuffer != 64 || cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "addr: \":9000\"\nsend_buffer: 8\nmetrics_interval: 10s\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("WIRERELAY_ADDR", ":9100")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("env should override file, got addr %q", cfg.Addr)
	}
	if cfg.SendBuffer != 8 {
		t.Fatalf("send_buffer = %d, want 8", cfg.SendBuffer)
	}
	if cfg.MetricsInterval != 10*time.Second {
		t.Fatalf("metrics_interval = %s, want 10s", cfg.MetricsInterval)
	}
	if cfg.DatabasePath != "wirerelay.db" {
		t.Fatalf("database_path default lost: %q", cfg.DatabasePath)
	}
}

func TestLoadRejectsInvalidSendBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("send_buffer: 0\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, err := Load(nil, path); err == nil {
		t.Fatal("expected validation error for send_buffer 0")
	}
}

func TestUpdateFromKeepsZeroValues(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":1234", LogLevel: "debug"})

	if cfg.Addr != ":1234" || cfg.LogLevel != "debug" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.DatabasePath != "wirerelay.db" {
		t.Fatalf("zero override should keep database_path, got %q", cfg.DatabasePath)
	}
}
