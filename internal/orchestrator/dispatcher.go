package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/convoy/internal/bus"
	"github.com/ShayCichocki/convoy/internal/protocol"
	"github.com/ShayCichocki/convoy/internal/state"
	"github.com/ShayCichocki/convoy/pkg/models"
)

// Dispatcher moves approved tasks onto the work channel. Each pass it takes
// the ready set (approved, dependencies completed), consults the pause
// manager, routes through the agent registry, and publishes WorkRequests at
// task priority. Routing misses are retried across passes up to the bound.
type Dispatcher struct {
	db       *state.DB
	broker   *bus.Broker
	registry *AgentRegistry
	router   Router
	pause    *PauseManager
	// retryBound is the number of scheduling passes a task may miss
	// routing before it is failed.
	retryBound int
	logger     *DebugLogger

	mu   sync.Mutex
	held bool
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(db *state.DB, broker *bus.Broker, registry *AgentRegistry, pause *PauseManager, retryBound int, logger *DebugLogger) *Dispatcher {
	if retryBound <= 0 {
		retryBound = 10
	}
	return &Dispatcher{
		db:         db,
		broker:     broker,
		registry:   registry,
		pause:      pause,
		retryBound: retryBound,
		logger:     logger,
	}
}

// SetHold suspends (true) or resumes (false) dispatch passes. A held
// dispatcher leaves approved tasks queued; work already in flight is not
// recalled.
func (d *Dispatcher) SetHold(held bool) {
	d.mu.Lock()
	d.held = held
	d.mu.Unlock()
}

func (d *Dispatcher) onHold() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

// DispatchReady runs one scheduling pass and returns the number of tasks
// dispatched.
func (d *Dispatcher) DispatchReady(ctx context.Context) (int, error) {
	if d.onHold() {
		return 0, nil
	}

	approved, err := d.db.ListTasksByStatus(models.TaskStatusApproved)
	if err != nil {
		return 0, fmt.Errorf("list approved tasks: %w", err)
	}

	dispatched := 0
	for _, task := range approved {
		ready, err := d.dependenciesSettled(task)
		if err != nil {
			return dispatched, err
		}
		if !ready {
			continue
		}

		ok, err := d.dispatchOne(ctx, task)
		if err != nil {
			return dispatched, err
		}
		if ok {
			dispatched++
		}
	}
	return dispatched, nil
}

// dependenciesSettled reports whether every dependency completed. A failed
// or cancelled dependency fails the task immediately.
func (d *Dispatcher) dependenciesSettled(task *models.Task) (bool, error) {
	for _, depID := range task.Dependencies {
		dep, err := d.db.GetTask(depID)
		if err != nil {
			return false, fmt.Errorf("load dependency %s of task %s: %w", depID, task.ID, err)
		}
		switch dep.Status {
		case models.TaskStatusCompleted:
		case models.TaskStatusFailed, models.TaskStatusCancelled:
			d.logger.Log("dispatch: task %s fails, dependency %s is %s", task.ID, depID, dep.Status)
			if err := d.db.MarkTaskFailed(task.ID, fmt.Sprintf("dependency %s %s", depID, dep.Status)); err != nil && !errors.Is(err, state.ErrStatusConflict) {
				return false, err
			}
			return false, nil
		default:
			return false, nil
		}
	}
	return true, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, task *models.Task) (bool, error) {
	paused, reason, err := d.pause.ShouldPause(task)
	if err != nil {
		return false, err
	}
	if paused {
		if err := d.pause.Pause(task, reason); err != nil {
			return false, err
		}
		d.audit(task, nil, "pause", "ok", reason, 0)
		return false, nil
	}

	eligible, err := d.registry.Eligible(task.WorkType)
	if err != nil {
		return false, err
	}
	agent, err := d.router.Route(task.WorkType, eligible)
	if errors.Is(err, ErrNoEligibleAgent) {
		return false, d.recordRoutingMiss(task)
	}
	if err != nil {
		return false, err
	}

	// Claim the task before publishing so a concurrent cancel cannot race
	// an in-flight dispatch. Losing the claim means someone else moved the
	// task; skip it.
	if err := d.db.UpdateTaskStatus(task.ID, models.TaskStatusApproved, models.TaskStatusExecuting); err != nil {
		if errors.Is(err, state.ErrStatusConflict) {
			return false, nil
		}
		return false, err
	}

	start := time.Now()
	if err := d.publishWorkRequest(ctx, task, agent.AgentID); err != nil {
		d.logger.Log("dispatch: publishing task %s failed: %v", task.ID, err)
		if markErr := d.db.MarkTaskFailed(task.ID, fmt.Sprintf("dispatch failed: %v", err)); markErr != nil && !errors.Is(markErr, state.ErrStatusConflict) {
			return false, markErr
		}
		return false, nil
	}

	if err := d.db.AssignTask(task.ID, agent.AgentID); err != nil {
		return false, err
	}
	if err := d.registry.RecordAssignment(agent.AgentID); err != nil {
		return false, err
	}

	d.logger.Log("dispatch: task %s -> agent %s at priority %d", task.ID, agent.AgentID, task.Priority)
	d.audit(task, agent, "dispatch", "ok", fmt.Sprintf("routed to %s", agent.AgentID), time.Since(start))
	return true, nil
}

func (d *Dispatcher) recordRoutingMiss(task *models.Task) error {
	retries, err := d.db.IncrementTaskRetry(task.ID)
	if err != nil {
		return err
	}
	if retries < d.retryBound {
		d.logger.Log("dispatch: no eligible agent for task %s (attempt %d/%d)", task.ID, retries, d.retryBound)
		return nil
	}

	d.logger.Log("dispatch: task %s exhausted routing retries", task.ID)
	d.audit(task, nil, "dispatch", "failed", "no eligible agent", 0)
	if err := d.db.MarkTaskFailed(task.ID, "no eligible agent after retries"); err != nil && !errors.Is(err, state.ErrStatusConflict) {
		return err
	}
	return nil
}

func (d *Dispatcher) publishWorkRequest(ctx context.Context, task *models.Task, agentID string) error {
	env, err := protocol.NewEnvelope(
		protocol.EndpointOrchestrator,
		protocol.AgentEndpoint(agentID),
		task.TraceID,
		task.RequestID,
		task.Priority,
		&protocol.WorkRequest{
			TaskID:     task.ID,
			WorkType:   task.WorkType,
			Parameters: task.Parameters,
		},
	)
	if err != nil {
		return err
	}
	return d.broker.PublishWork(ctx, env)
}

// audit appends an execution log entry; audit writes never fail dispatch.
// agent is the routed agent, nil when the step had none.
func (d *Dispatcher) audit(task *models.Task, agent *models.AgentRecord, action, status, summary string, duration time.Duration) {
	entry := state.ExecutionLogEntry{
		TaskID:        task.ID,
		Action:        action,
		Status:        status,
		OutputSummary: summary,
		ServiceTag:    task.WorkType,
		Duration:      duration,
	}
	if agent != nil {
		entry.AgentID = agent.AgentID
		entry.AgentType = agent.AgentType
	}
	if err := d.db.AppendExecutionLog(entry); err != nil {
		d.logger.Log("dispatch: audit write for task %s failed: %v", task.ID, err)
	}
}
