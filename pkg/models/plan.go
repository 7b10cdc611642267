package models

import "time"

// Complexity classifies a work plan for the fallback engine.
type Complexity string

const (
	// ComplexitySimple is a plan of one or two routine tasks.
	ComplexitySimple Complexity = "simple"
	// ComplexityMedium is a plan of several tasks or one reasoning task.
	ComplexityMedium Complexity = "medium"
	// ComplexityComplex is a large or reasoning-heavy plan.
	ComplexityComplex Complexity = "complex"
)

// Valid returns true if the complexity is a known value.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexitySimple, ComplexityMedium, ComplexityComplex:
		return true
	default:
		return false
	}
}

// AtMost reports whether c is no more complex than limit.
func (c Complexity) AtMost(limit Complexity) bool {
	rank := map[Complexity]int{ComplexitySimple: 0, ComplexityMedium: 1, ComplexityComplex: 2}
	return rank[c] <= rank[limit]
}

// PlanStatus represents the approval state of a work plan.
type PlanStatus string

const (
	// PlanStatusDraft indicates the plan is awaiting user approval.
	PlanStatusDraft PlanStatus = "draft"
	// PlanStatusApproved indicates the plan was approved for execution.
	PlanStatusApproved PlanStatus = "approved"
	// PlanStatusRejected indicates the plan was rejected by the user.
	PlanStatusRejected PlanStatus = "rejected"
)

// WorkPlan is the dependency-ordered task graph derived from one user request.
// A task is dispatched only once all of its dependencies have completed.
type WorkPlan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`
	// RequestID is the idempotency key of the originating request.
	RequestID string `json:"request_id"`
	// TraceID correlates every message produced for this plan.
	TraceID string `json:"trace_id"`
	// RequestText is the original natural-language request.
	RequestText string `json:"request_text"`
	// Status is the approval state of the plan.
	Status PlanStatus `json:"status"`
	// Complexity is the planner's complexity classification.
	Complexity Complexity `json:"complexity"`
	// Tasks are the plan's tasks in planner order.
	Tasks []*Task `json:"tasks"`
	// CreatedAt is when the plan was built.
	CreatedAt time.Time `json:"created_at"`
}

// TaskByID returns the plan task with the given ID, or nil.
func (p *WorkPlan) TaskByID(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}
