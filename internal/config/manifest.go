package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExecutorSpec declares one executor an agent offers: the work type it
// serves and, for shell-style executors, the command template it runs.
type ExecutorSpec struct {
	// WorkType is the work type this executor serves.
	WorkType string `yaml:"work_type"`
	// Command is the program to run for command-backed executors.
	Command string `yaml:"command"`
	// Args are fixed arguments passed before the task parameters.
	Args []string `yaml:"args"`
}

// AgentManifest declares an agent's identity and what it can do. Agents
// load a manifest at startup and announce its capabilities when registering.
type AgentManifest struct {
	// AgentID is the stable identity. Empty means derive one at startup.
	AgentID string `yaml:"agent_id"`
	// AgentType groups agents for display (general, gpu, edge).
	AgentType string `yaml:"agent_type"`
	// Capabilities lists the work types this agent accepts.
	Capabilities []string `yaml:"capabilities"`
	// Executors binds work types to local commands.
	Executors []ExecutorSpec `yaml:"executors"`
}

// LoadManifest reads an agent manifest from a YAML file.
func LoadManifest(path string) (*AgentManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	m := &AgentManifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Validate checks the manifest for internal consistency.
func (m *AgentManifest) Validate() error {
	if m.AgentType == "" {
		return fmt.Errorf("agent_type is required")
	}
	if len(m.Capabilities) == 0 {
		return fmt.Errorf("at least one capability is required")
	}

	declared := make(map[string]bool, len(m.Capabilities))
	for _, c := range m.Capabilities {
		declared[c] = true
	}
	for _, e := range m.Executors {
		if e.WorkType == "" {
			return fmt.Errorf("executor missing work_type")
		}
		if !declared[e.WorkType] {
			return fmt.Errorf("executor for %q is not in capabilities", e.WorkType)
		}
	}
	return nil
}

// DefaultManifest returns the manifest used when no file is given: a
// general-purpose agent serving shell and reasoning work.
func DefaultManifest() *AgentManifest {
	return &AgentManifest{
		AgentType:    "general",
		Capabilities: []string{"shell", "reasoning"},
	}
}
