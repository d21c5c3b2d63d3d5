package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("QUORUM_THRESHOLD", "")
	t.Setenv("HTTP_PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	if cfg.Quorum.Threshold != DefaultQuorumThreshold {
		t.Errorf("expected default threshold %d, got %d", DefaultQuorumThreshold, cfg.Quorum.Threshold)
	}
	if cfg.Addr() != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Addr())
	}
	if cfg.Reconcile.Interval != time.Minute {
		t.Errorf("unexpected reconcile interval %s", cfg.Reconcile.Interval)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "http_port: 9000\nquorum:\n  threshold: 3\ngateway:\n  base_url: https://file.example.com\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_PORT", "")
	t.Setenv("QUORUM_THRESHOLD", "4")
	t.Setenv("GATEWAY_BASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTPPort != 9000 {
		t.Errorf("expected file port 9000, got %d", cfg.HTTPPort)
	}
	if cfg.Quorum.Threshold != 4 {
		t.Errorf("expected env threshold 4, got %d", cfg.Quorum.Threshold)
	}
	if cfg.Gateway.BaseURL != "https://file.example.com" {
		t.Errorf("unexpected gateway base url %s", cfg.Gateway.BaseURL)
	}
}

func TestLoad_RejectsZeroThreshold(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("QUORUM_THRESHOLD", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero quorum threshold")
	}
}
