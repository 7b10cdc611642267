package agent

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// ErrTransient marks an execution failure worth retrying: temporary
// unavailability of a downstream, not a wrong request. Executors wrap such
// errors with %w; everything else is treated as permanent.
var ErrTransient = errors.New("transient failure")

// Executor runs one kind of work. Executors are registered in a fixed table
// keyed by work type; there is no free-form dispatch.
type Executor interface {
	// WorkType returns the work type this executor handles.
	WorkType() string
	// Execute runs the work described by the parameters and returns an
	// output summary. Execution must respect context cancellation.
	Execute(ctx context.Context, params map[string]string) (string, error)
}

// ExecutorTable is the fixed work-type to executor mapping for one agent.
// Its keys double as the agent's capability set.
type ExecutorTable struct {
	executors map[string]Executor
}

// NewExecutorTable builds a table from the given executors.
// Duplicate work types are an error.
func NewExecutorTable(executors ...Executor) (*ExecutorTable, error) {
	table := &ExecutorTable{executors: make(map[string]Executor, len(executors))}
	for _, e := range executors {
		if _, exists := table.executors[e.WorkType()]; exists {
			return nil, fmt.Errorf("duplicate executor for work type %q", e.WorkType())
		}
		table.executors[e.WorkType()] = e
	}
	return table, nil
}

// Lookup returns the executor for a work type, or nil.
func (t *ExecutorTable) Lookup(workType string) Executor {
	return t.executors[workType]
}

// Capabilities returns the sorted-insensitive capability set of this table.
func (t *ExecutorTable) Capabilities() []string {
	caps := make([]string, 0, len(t.executors))
	for workType := range t.executors {
		caps = append(caps, workType)
	}
	return caps
}

// EchoExecutor returns its msg parameter. It exists for smoke tests and
// fleet health checks.
type EchoExecutor struct{}

// WorkType implements Executor.
func (EchoExecutor) WorkType() string { return "echo" }

// Execute implements Executor.
func (EchoExecutor) Execute(ctx context.Context, params map[string]string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return params["msg"], nil
}

// ShellExecutor runs a named command as a subprocess so slow work never
// blocks the consuming loop inline.
type ShellExecutor struct {
	// Timeout bounds a single command when the request carries none.
	Timeout time.Duration
}

// WorkType implements Executor.
func (ShellExecutor) WorkType() string { return "shell" }

// Execute implements Executor.
func (s ShellExecutor) Execute(ctx context.Context, params map[string]string) (string, error) {
	command := params["command"]
	if command == "" {
		return "", fmt.Errorf("shell executor requires a command parameter")
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	summary := truncate(strings.TrimSpace(string(out)), 4096)
	if err != nil {
		return summary, fmt.Errorf("command failed: %w", err)
	}
	return summary, nil
}

// CommandExecutor adapts an arbitrary local command to a work type, for
// agents whose manifest binds extra work types to site-specific programs.
// Task parameters are appended as KEY=VALUE arguments after the fixed args.
type CommandExecutor struct {
	// Name is the work type this executor serves.
	Name string
	// Command is the program to run.
	Command string
	// Args are fixed arguments passed before the parameters.
	Args []string
}

// WorkType implements Executor.
func (c CommandExecutor) WorkType() string { return c.Name }

// Execute implements Executor.
func (c CommandExecutor) Execute(ctx context.Context, params map[string]string) (string, error) {
	args := append([]string(nil), c.Args...)
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k+"="+params[k])
	}

	cmd := exec.CommandContext(ctx, c.Command, args...)
	out, err := cmd.CombinedOutput()
	summary := truncate(strings.TrimSpace(string(out)), 4096)
	if err != nil {
		return summary, fmt.Errorf("command failed: %w", err)
	}
	return summary, nil
}

// Reasoner produces a completion for a prompt. The fallback engine
// implements this on the orchestrator side; agents that carry the
// "reasoning" capability receive an implementation at construction.
type Reasoner interface {
	// Complete returns the completion for a prompt.
	Complete(ctx context.Context, taskID, prompt string) (string, error)
}

// ReasoningExecutor delegates reasoning-heavy work to a Reasoner.
type ReasoningExecutor struct {
	// Reasoner is the backing reasoning implementation.
	Reasoner Reasoner
}

// WorkType implements Executor.
func (ReasoningExecutor) WorkType() string { return "reasoning" }

// Execute implements Executor.
func (r ReasoningExecutor) Execute(ctx context.Context, params map[string]string) (string, error) {
	prompt := params["prompt"]
	if prompt == "" {
		return "", fmt.Errorf("reasoning executor requires a prompt parameter")
	}
	return r.Reasoner.Complete(ctx, params["task_id"], prompt)
}

// truncate shortens s to at most n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
