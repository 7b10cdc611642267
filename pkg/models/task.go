package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not been approved or dispatched.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusApproved indicates the task's plan was approved and it is awaiting dispatch.
	TaskStatusApproved TaskStatus = "approved"
	// TaskStatusExecuting indicates the task has been dispatched to an agent.
	TaskStatusExecuting TaskStatus = "executing"
	// TaskStatusPaused indicates the task was parked for lack of fleet capacity.
	TaskStatusPaused TaskStatus = "paused"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled by the user.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusApproved, TaskStatusExecuting,
		TaskStatusPaused, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from this status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal
// task state machine transition.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case TaskStatusPending:
		return next == TaskStatusApproved || next == TaskStatusFailed || next == TaskStatusCancelled
	case TaskStatusApproved:
		return next == TaskStatusExecuting || next == TaskStatusPaused ||
			next == TaskStatusFailed || next == TaskStatusCancelled
	case TaskStatusExecuting:
		return next == TaskStatusCompleted || next == TaskStatusFailed ||
			next == TaskStatusCancelled || next == TaskStatusPaused
	case TaskStatusPaused:
		return next == TaskStatusApproved || next == TaskStatusExecuting ||
			next == TaskStatusFailed || next == TaskStatusCancelled
	default:
		return false
	}
}

// ResourceEstimate describes the resources a task is expected to need.
type ResourceEstimate struct {
	// CPUPct is the estimated CPU share in percent.
	CPUPct float64 `json:"cpu_pct"`
	// MemPct is the estimated memory share in percent.
	MemPct float64 `json:"mem_pct"`
	// GPUVRAMMB is the estimated GPU memory in megabytes, zero if none.
	GPUVRAMMB int64 `json:"gpu_vram_mb"`
}

// Task represents a unit of work derived from a user request.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// PlanID is the ID of the work plan this task belongs to.
	PlanID string `json:"plan_id"`
	// RequestID is the idempotency key shared with the originating request.
	RequestID string `json:"request_id"`
	// TraceID correlates every message produced for this task.
	TraceID string `json:"trace_id"`
	// WorkType identifies which executor handles this task.
	WorkType string `json:"work_type"`
	// Parameters holds executor-specific arguments.
	Parameters map[string]string `json:"parameters,omitempty"`
	// Priority is the dispatch priority, 1 (lowest) to 5 (highest).
	Priority int `json:"priority"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Dependencies lists task IDs that must complete before this task.
	Dependencies []string `json:"dependencies,omitempty"`
	// AssignedTo is the ID of the agent the task was dispatched to.
	AssignedTo string `json:"assigned_to,omitempty"`
	// Estimated is the planner's resource estimate for this task.
	Estimated ResourceEstimate `json:"estimated_resources"`
	// Actual is the resource usage reported after execution, if any.
	Actual *ResourceEstimate `json:"actual_resources,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// RetryCount is the number of routing retries performed so far.
	RetryCount int `json:"retry_count,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the task was dispatched, if it was.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state, if it did.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
