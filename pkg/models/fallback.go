package models

import "time"

// FallbackDecision is the audit record written for every reasoning backend
// choice, at every tier, whether the attempt succeeded or failed.
type FallbackDecision struct {
	// TaskID is the task the decision was made for.
	TaskID string `json:"task_id"`
	// Backend is the name of the backend that was chosen or attempted.
	Backend string `json:"chosen_backend"`
	// Reason explains why this backend was selected or skipped.
	Reason string `json:"reason"`
	// QuotaRemaining is the primary backend's remaining quota fraction
	// at decision time, in [0.0, 1.0].
	QuotaRemaining float64 `json:"quota_remaining"`
	// Tokens is the number of tokens consumed by the attempt, if any.
	Tokens int64 `json:"tokens"`
	// Cost is the dollar cost of the attempt, if any.
	Cost float64 `json:"cost"`
	// Succeeded reports whether the attempt produced a result.
	Succeeded bool `json:"succeeded"`
	// Timestamp is when the decision was made.
	Timestamp time.Time `json:"timestamp"`
}

// PauseQueueEntry records a task parked by the pause manager.
// Entries are durable and survive orchestrator restart.
type PauseQueueEntry struct {
	// TaskID is the parked task.
	TaskID string `json:"task_id"`
	// PausedAt is when the task was parked.
	PausedAt time.Time `json:"paused_at"`
	// Reason explains why dispatch was withheld.
	Reason string `json:"reason"`
	// ResumedAt is when the task was resumed, if it was.
	ResumedAt *time.Time `json:"resumed_at,omitempty"`
}
