package internal

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadConfigDefaults tests that default values are applied when loading
// an empty config.
func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Webhook.Path != "/webhook" || cfg.Webhook.AliasPath != "/webhook/github" {
		t.Fatalf("unexpected webhook paths: %q %q", cfg.Webhook.Path, cfg.Webhook.AliasPath)
	}
	if cfg.Webhook.AllowUnsigned {
		t.Fatalf("expected fail-closed default")
	}
	if cfg.Store.Path != "repo-monitor-events.jsonl" {
		t.Fatalf("unexpected default store path: %q", cfg.Store.Path)
	}
	if cfg.Queue.Driver != "gochannel" || cfg.Queue.Topic != "reviews" {
		t.Fatalf("unexpected queue defaults: %q %q", cfg.Queue.Driver, cfg.Queue.Topic)
	}
	if !cfg.Review.Enabled {
		t.Fatalf("expected review enabled by default")
	}
	if cfg.Review.TimeoutMS != 60000 {
		t.Fatalf("unexpected review timeout: %d", cfg.Review.TimeoutMS)
	}
}

// TestLoadConfigMissingFile tests that a missing file falls back to defaults
// plus environment.
func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("GITHUB_WEBHOOK_SECRET", "env-secret")
	t.Setenv("PORT", "9999")
	t.Setenv("MONITOR_EVENTS_PATH", "/tmp/events.jsonl")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Webhook.Secret != "env-secret" {
		t.Fatalf("expected secret from environment, got %q", cfg.Webhook.Secret)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("expected port from environment, got %d", cfg.Server.Port)
	}
	if cfg.Store.Path != "/tmp/events.jsonl" {
		t.Fatalf("expected store path from environment, got %q", cfg.Store.Path)
	}
}

// TestLoadConfigExpandsEnv tests ${VAR} expansion inside the YAML file.
func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_SECRET", "expanded")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "webhook:\n  secret: ${TEST_WEBHOOK_SECRET}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Webhook.Secret != "expanded" {
		t.Fatalf("expected expanded secret, got %q", cfg.Webhook.Secret)
	}
}

// TestLoadConfigInvalidRule tests that an empty rule fails loading.
func TestLoadConfigInvalidRule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "rules:\n  - annotate:\n      title: $.pull_request.title\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for rule missing when")
	}
}
