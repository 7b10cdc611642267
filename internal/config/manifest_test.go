package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
agent_id: worker-7
agent_type: general
capabilities:
  - shell
  - reasoning
executors:
  - work_type: shell
    command: /bin/sh
    args: ["-c"]
`)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.AgentID != "worker-7" {
		t.Errorf("expected worker-7, got %q", m.AgentID)
	}
	if len(m.Capabilities) != 2 {
		t.Errorf("expected 2 capabilities, got %v", m.Capabilities)
	}
	if len(m.Executors) != 1 || m.Executors[0].Command != "/bin/sh" {
		t.Errorf("unexpected executors %v", m.Executors)
	}
}

func TestLoadManifestRejectsUndeclaredExecutor(t *testing.T) {
	path := writeManifest(t, `
agent_type: general
capabilities:
  - shell
executors:
  - work_type: gpu
    command: run-gpu
`)

	_, err := LoadManifest(path)
	if err == nil || !strings.Contains(err.Error(), "not in capabilities") {
		t.Errorf("expected undeclared executor error, got %v", err)
	}
}

func TestLoadManifestRequiresCapabilities(t *testing.T) {
	path := writeManifest(t, "agent_type: general\n")

	_, err := LoadManifest(path)
	if err == nil || !strings.Contains(err.Error(), "capability") {
		t.Errorf("expected capability error, got %v", err)
	}
}

func TestDefaultManifestValid(t *testing.T) {
	if err := DefaultManifest().Validate(); err != nil {
		t.Errorf("default manifest invalid: %v", err)
	}
}
