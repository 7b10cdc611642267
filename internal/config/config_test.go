package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPathOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
bus:
  visibility_timeout: 10s
  max_attempts: 3
agent:
  heartbeat_interval: 2s
orchestrator:
  capacity_threshold: 0.35
fallback:
  quota_budget: 50000
  primary_command: ollama
state:
  db_path: /tmp/convoy-test.db
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Bus.VisibilityTimeout != 10*time.Second {
		t.Errorf("expected 10s visibility timeout, got %v", cfg.Bus.VisibilityTimeout)
	}
	if cfg.Bus.MaxAttempts != 3 {
		t.Errorf("expected 3 max attempts, got %d", cfg.Bus.MaxAttempts)
	}
	if cfg.Agent.HeartbeatInterval != 2*time.Second {
		t.Errorf("expected 2s heartbeat, got %v", cfg.Agent.HeartbeatInterval)
	}
	if cfg.Orchestrator.CapacityThreshold != 0.35 {
		t.Errorf("expected 0.35 threshold, got %v", cfg.Orchestrator.CapacityThreshold)
	}
	if cfg.Fallback.QuotaBudget != 50000 {
		t.Errorf("expected quota budget 50000, got %v", cfg.Fallback.QuotaBudget)
	}
	if cfg.Fallback.PrimaryCommand != "ollama" {
		t.Errorf("expected primary command ollama, got %q", cfg.Fallback.PrimaryCommand)
	}
	if cfg.State.DBPath != "/tmp/convoy-test.db" {
		t.Errorf("expected overridden db path, got %q", cfg.State.DBPath)
	}

	// Untouched sections keep their defaults.
	if cfg.Bus.DeadLetterCap != 1000 {
		t.Errorf("expected default dead letter cap, got %d", cfg.Bus.DeadLetterCap)
	}
	if cfg.Orchestrator.RetryBound != 10 {
		t.Errorf("expected default retry bound, got %d", cfg.Orchestrator.RetryBound)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadFromPathExpandsAPIKeyEnv(t *testing.T) {
	t.Setenv("CONVOY_TEST_KEY", "sk-ant-from-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "anthropic:\n  api_key: ${CONVOY_TEST_KEY}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-ant-from-env" {
		t.Errorf("expected expanded key, got %q", cfg.Anthropic.APIKey)
	}
}

func TestDefaultMatchesSetDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Bus.VisibilityTimeout != 30*time.Second {
		t.Errorf("expected 30s visibility timeout, got %v", cfg.Bus.VisibilityTimeout)
	}
	if cfg.Agent.CacheSize != 256 {
		t.Errorf("expected cache size 256, got %d", cfg.Agent.CacheSize)
	}
	if cfg.Fallback.QuotaThreshold != 0.20 {
		t.Errorf("expected quota threshold 0.20, got %v", cfg.Fallback.QuotaThreshold)
	}
	if cfg.State.DBPath == "" {
		t.Error("expected a default db path")
	}
}
