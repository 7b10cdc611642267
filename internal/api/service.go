// Package api is the control surface of the orchestrator: a thin service
// over the pipeline that maps internal failures onto the reserved error-code
// ranges, plus the file-based signal channel operators use to stop or pause
// a running node.
package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/convoy/internal/orchestrator"
	"github.com/ShayCichocki/convoy/internal/protocol"
	"github.com/ShayCichocki/convoy/internal/state"
	"github.com/ShayCichocki/convoy/pkg/models"
)

// APIError carries a subsystem error code alongside the message. TraceID is
// set when the failure is tied to a specific plan's trace.
type APIError struct {
	Code    int
	Message string
	TraceID string
}

func (e *APIError) Error() string {
	if e.TraceID != "" {
		return fmt.Sprintf("[%d] %s (trace %s)", e.Code, e.Message, e.TraceID)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Service exposes the pipeline's control operations.
type Service struct {
	pipeline *orchestrator.Pipeline
}

// NewService wraps a pipeline.
func NewService(pipeline *orchestrator.Pipeline) *Service {
	return &Service{pipeline: pipeline}
}

// Submit decomposes a natural-language request into a draft plan and returns
// the request ID used to fetch it.
func (s *Service) Submit(ctx context.Context, requestText string) (string, error) {
	requestID, err := s.pipeline.Submit(ctx, requestText)
	if err != nil {
		return "", wrapError(err, "")
	}
	return requestID, nil
}

// GetPlan returns the plan derived from a request.
func (s *Service) GetPlan(requestID string) (*models.WorkPlan, error) {
	plan, err := s.pipeline.GetPlan(requestID)
	if err != nil {
		return nil, wrapError(err, "")
	}
	return plan, nil
}

// Approve releases a draft plan for execution.
func (s *Service) Approve(planID string) error {
	if err := s.pipeline.Approve(planID); err != nil {
		return wrapError(err, "")
	}
	return nil
}

// Reject discards a draft plan.
func (s *Service) Reject(planID string) error {
	if err := s.pipeline.Reject(planID); err != nil {
		return wrapError(err, "")
	}
	return nil
}

// Modify edits tasks of a plan still in draft.
func (s *Service) Modify(planID string, mods []orchestrator.TaskModification) error {
	if err := s.pipeline.Modify(planID, mods); err != nil {
		return wrapError(err, "")
	}
	return nil
}

// GetStatus returns a task's current status.
func (s *Service) GetStatus(taskID string) (models.TaskStatus, error) {
	status, err := s.pipeline.GetStatus(taskID)
	if err != nil {
		return "", wrapError(err, "")
	}
	return status, nil
}

// ListAgents returns the fleet, optionally filtered by status.
func (s *Service) ListAgents(statusFilter models.AgentStatus) ([]*models.AgentRecord, error) {
	agents, err := s.pipeline.ListAgents(statusFilter)
	if err != nil {
		return nil, wrapError(err, "")
	}
	return agents, nil
}

// Cancel cancels a task. Executing tasks get a broadcast cancel first.
func (s *Service) Cancel(taskID string) error {
	if err := s.pipeline.Cancel(taskID); err != nil {
		return wrapError(err, "")
	}
	return nil
}

// wrapError classifies a pipeline failure into the reserved code ranges.
// Already-classified errors pass through untouched.
func wrapError(err error, traceID string) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}

	code := protocol.CodeOrchestratorBase
	switch {
	case errors.Is(err, orchestrator.ErrUnparseable):
		code = protocol.CodeUnparseableRequest
	case errors.Is(err, orchestrator.ErrNoEligibleAgent):
		code = protocol.CodeNoEligibleAgent
	case errors.Is(err, state.ErrTaskNotFound):
		code = protocol.CodeUnknownTask
	case errors.Is(err, state.ErrPlanNotFound):
		code = protocol.CodeUnknownPlan
	case errors.Is(err, state.ErrStatusConflict):
		code = protocol.CodeStatusConflict
	case errors.Is(err, protocol.ErrMalformedEnvelope):
		code = protocol.CodeValidationFailed
	}

	return &APIError{Code: code, Message: err.Error(), TraceID: traceID}
}
