// Package fallback selects a reasoning backend per task based on remaining
// quota and task complexity, and records every routing decision for audit.
package fallback

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Completion is one backend response with its usage accounting.
type Completion struct {
	// Text is the completion text.
	Text string
	// InputTokens and OutputTokens are the usage reported by the backend,
	// zero when the backend does not meter.
	InputTokens  int64
	OutputTokens int64
	// Cost is the estimated cost in USD, zero for local backends.
	Cost float64
}

// Backend produces completions for prompts. Implementations must respect
// context cancellation; the engine applies per-tier timeouts.
type Backend interface {
	// Name identifies the backend in FallbackDecision records.
	Name() string
	// Complete returns the completion for a prompt.
	Complete(ctx context.Context, prompt string) (Completion, error)
}

// CommandBackend runs a local inference command, passing the prompt on
// stdin and reading the completion from stdout. It covers local model
// servers fronted by a CLI.
type CommandBackend struct {
	// BackendName identifies this backend in decisions.
	BackendName string
	// Command is the program to run.
	Command string
	// Args are the program arguments.
	Args []string
}

// Name implements Backend.
func (c *CommandBackend) Name() string { return c.BackendName }

// Complete implements Backend.
func (c *CommandBackend) Complete(ctx context.Context, prompt string) (Completion, error) {
	if c.Command == "" {
		return Completion{}, fmt.Errorf("backend %s has no command configured", c.BackendName)
	}

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Stdin = strings.NewReader(prompt)
	out, err := cmd.Output()
	if err != nil {
		return Completion{}, fmt.Errorf("backend %s: %w", c.BackendName, err)
	}
	return Completion{Text: strings.TrimSpace(string(out))}, nil
}
