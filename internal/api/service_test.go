package api

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ShayCichocki/convoy/internal/bus"
	"github.com/ShayCichocki/convoy/internal/orchestrator"
	"github.com/ShayCichocki/convoy/internal/protocol"
	"github.com/ShayCichocki/convoy/internal/state"
	"github.com/ShayCichocki/convoy/pkg/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	db, err := state.Open(filepath.Join(t.TempDir(), "convoy.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	broker, err := bus.NewBroker(bus.DefaultOptions())
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	t.Cleanup(broker.Close)

	pipeline, err := orchestrator.NewPipeline(db, broker, nil, orchestrator.DefaultOptions())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return NewService(pipeline)
}

func TestSubmitApproveLifecycle(t *testing.T) {
	svc := newTestService(t)

	requestID, err := svc.Submit(context.Background(), "restart nginx then check the logs")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	plan, err := svc.GetPlan(requestID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if plan.Status != models.PlanStatusDraft {
		t.Errorf("expected draft plan, got %q", plan.Status)
	}
	if len(plan.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(plan.Tasks))
	}

	if err := svc.Approve(plan.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	status, err := svc.GetStatus(plan.Tasks[0].ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status != models.TaskStatusApproved {
		t.Errorf("expected approved, got %q", status)
	}
}

func TestSubmitUnparseableMapsCode(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Submit(context.Background(), "make it nicer please")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != protocol.CodeUnparseableRequest {
		t.Errorf("expected code %d, got %d", protocol.CodeUnparseableRequest, apiErr.Code)
	}
}

func TestUnknownTaskMapsCode(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetStatus("no-such-task")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != protocol.CodeUnknownTask {
		t.Errorf("expected code %d, got %d", protocol.CodeUnknownTask, apiErr.Code)
	}

	err = svc.Cancel("no-such-task")
	if !errors.As(err, &apiErr) || apiErr.Code != protocol.CodeUnknownTask {
		t.Errorf("expected unknown-task cancel error, got %v", err)
	}
}

func TestUnknownPlanMapsCode(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetPlan("no-such-request")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != protocol.CodeUnknownPlan {
		t.Errorf("expected code %d, got %d", protocol.CodeUnknownPlan, apiErr.Code)
	}
}

func TestRejectCancelsPendingTasks(t *testing.T) {
	svc := newTestService(t)

	requestID, err := svc.Submit(context.Background(), "restart nginx")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	plan, err := svc.GetPlan(requestID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}

	if err := svc.Reject(plan.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	status, err := svc.GetStatus(plan.Tasks[0].ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status != models.TaskStatusCancelled {
		t.Errorf("expected cancelled after reject, got %q", status)
	}

	// A rejected plan cannot be approved afterwards.
	err = svc.Approve(plan.ID)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != protocol.CodeStatusConflict {
		t.Errorf("expected status-conflict approve error, got %v", err)
	}
}

func TestModifyDraftTask(t *testing.T) {
	svc := newTestService(t)

	requestID, err := svc.Submit(context.Background(), "restart nginx")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	plan, err := svc.GetPlan(requestID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}

	err = svc.Modify(plan.ID, []orchestrator.TaskModification{
		{TaskID: plan.Tasks[0].ID, Priority: 5},
	})
	if err != nil {
		t.Fatalf("modify: %v", err)
	}

	plan, err = svc.GetPlan(requestID)
	if err != nil {
		t.Fatalf("get plan after modify: %v", err)
	}
	if plan.Tasks[0].Priority != 5 {
		t.Errorf("expected priority 5 after modify, got %d", plan.Tasks[0].Priority)
	}
}
