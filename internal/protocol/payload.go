package protocol

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/convoy/pkg/models"
)

// Payload is implemented by every typed message body.
type Payload interface {
	// MessageType returns the envelope type for this payload.
	MessageType() MessageType
	// Validate checks the payload's field invariants.
	Validate() error
}

// WorkRequest asks an agent to execute one task.
type WorkRequest struct {
	// TaskID is the task being dispatched.
	TaskID string `json:"task_id"`
	// WorkType selects the executor on the agent.
	WorkType string `json:"work_type"`
	// Parameters holds executor-specific arguments.
	Parameters map[string]string `json:"parameters,omitempty"`
	// TimeoutSec bounds execution time; zero means the agent default.
	TimeoutSec int `json:"timeout_seconds,omitempty"`
}

// MessageType implements Payload.
func (w *WorkRequest) MessageType() MessageType { return TypeWorkRequest }

// Validate implements Payload.
func (w *WorkRequest) Validate() error {
	if w.TaskID == "" {
		return fmt.Errorf("missing task_id")
	}
	if w.WorkType == "" {
		return fmt.Errorf("missing work_type")
	}
	if w.TimeoutSec < 0 {
		return fmt.Errorf("negative timeout")
	}
	return nil
}

// ResultStatus is the outcome of a work request.
type ResultStatus string

const (
	// ResultCompleted indicates successful execution.
	ResultCompleted ResultStatus = "completed"
	// ResultFailed indicates execution failed.
	ResultFailed ResultStatus = "failed"
	// ResultCancelled indicates execution was cancelled.
	ResultCancelled ResultStatus = "cancelled"
)

// Valid returns true if the result status is a known value.
func (s ResultStatus) Valid() bool {
	switch s {
	case ResultCompleted, ResultFailed, ResultCancelled:
		return true
	default:
		return false
	}
}

// WorkResult reports the outcome of one task execution.
type WorkResult struct {
	// TaskID is the task the result belongs to.
	TaskID string `json:"task_id"`
	// AgentID is the agent that executed the task.
	AgentID string `json:"agent_id"`
	// Status is the execution outcome.
	Status ResultStatus `json:"status"`
	// Output is a summary of the execution output.
	Output string `json:"output,omitempty"`
	// ErrorMessage describes the failure; required when Status is failed.
	ErrorMessage string `json:"error_message,omitempty"`
	// Resources is the usage measured during execution, if available.
	Resources *models.ResourceEstimate `json:"resources,omitempty"`
	// DurationMS is the execution wall time in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// MessageType implements Payload.
func (w *WorkResult) MessageType() MessageType { return TypeWorkResult }

// Validate implements Payload.
func (w *WorkResult) Validate() error {
	if w.TaskID == "" {
		return fmt.Errorf("missing task_id")
	}
	if w.AgentID == "" {
		return fmt.Errorf("missing agent_id")
	}
	if !w.Status.Valid() {
		return fmt.Errorf("unknown result status %q", w.Status)
	}
	if w.Status == ResultFailed && w.ErrorMessage == "" {
		return fmt.Errorf("failed result requires error_message")
	}
	return nil
}

// StatusUpdate is the heartbeat an agent publishes at a fixed interval.
type StatusUpdate struct {
	// AgentID is the reporting agent.
	AgentID string `json:"agent_id"`
	// AgentType describes the kind of worker.
	AgentType string `json:"agent_type"`
	// Resources is the sampled metric snapshot. A metrics-collection
	// failure degrades to zero values rather than suppressing the beat.
	Resources models.ResourceSnapshot `json:"resources"`
	// CurrentTaskID is the task being executed, empty when idle.
	CurrentTaskID string `json:"current_task_id,omitempty"`
}

// MessageType implements Payload.
func (s *StatusUpdate) MessageType() MessageType { return TypeStatusUpdate }

// Validate implements Payload.
func (s *StatusUpdate) Validate() error {
	if s.AgentID == "" {
		return fmt.Errorf("missing agent_id")
	}
	if s.AgentType == "" {
		return fmt.Errorf("missing agent_type")
	}
	return nil
}

// Registration announces an agent and its capability set on connect.
// Re-registration is an upsert, not an error.
type Registration struct {
	// AgentID is the registering agent.
	AgentID string `json:"agent_id"`
	// AgentType describes the kind of worker.
	AgentType string `json:"agent_type"`
	// Capabilities is the set of work types the agent supports.
	Capabilities []string `json:"capabilities"`
}

// MessageType implements Payload.
func (r *Registration) MessageType() MessageType { return TypeRegistration }

// Validate implements Payload.
func (r *Registration) Validate() error {
	if r.AgentID == "" {
		return fmt.Errorf("missing agent_id")
	}
	if r.AgentType == "" {
		return fmt.Errorf("missing agent_type")
	}
	if len(r.Capabilities) == 0 {
		return fmt.Errorf("empty capability set")
	}
	return nil
}

// Cancel asks the executing agent to stop a task. The protocol tolerates a
// short race where the agent completes anyway; the orchestrator drops late
// results for tasks no longer executing.
type Cancel struct {
	// TaskID is the task to stop.
	TaskID string `json:"task_id"`
	// Reason is a human-readable cancellation reason.
	Reason string `json:"reason,omitempty"`
}

// MessageType implements Payload.
func (c *Cancel) MessageType() MessageType { return TypeCancel }

// Validate implements Payload.
func (c *Cancel) Validate() error {
	if c.TaskID == "" {
		return fmt.Errorf("missing task_id")
	}
	return nil
}

// ErrorMessage reports a subsystem error as data.
type ErrorMessage struct {
	// Code is a numeric error code in the owning subsystem's reserved range.
	Code int `json:"code"`
	// Message is a human-readable description.
	Message string `json:"message"`
	// TaskID is the related task, if any.
	TaskID string `json:"task_id,omitempty"`
	// OccurredAt is when the error happened.
	OccurredAt time.Time `json:"occurred_at"`
}

// MessageType implements Payload.
func (e *ErrorMessage) MessageType() MessageType { return TypeError }

// Validate implements Payload.
func (e *ErrorMessage) Validate() error {
	if !ValidErrorCode(e.Code) {
		return fmt.Errorf("error code %d outside reserved ranges", e.Code)
	}
	if e.Message == "" {
		return fmt.Errorf("missing message")
	}
	return nil
}
