package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/convoy/internal/bus"
	"github.com/ShayCichocki/convoy/internal/protocol"
	"github.com/ShayCichocki/convoy/internal/state"
	"github.com/ShayCichocki/convoy/pkg/models"
)

// Options configures the pipeline.
type Options struct {
	// ScheduleInterval is the period between dispatch passes.
	ScheduleInterval time.Duration
	// ResumePollInterval is the period between pause queue re-evaluations.
	ResumePollInterval time.Duration
	// HeartbeatWindow is how long an agent may go silent before offline.
	HeartbeatWindow time.Duration
	// RetryBound caps routing retries per task.
	RetryBound int
	// CapacityThreshold is the pause manager's free-capacity floor.
	CapacityThreshold float64
	// LedgerPath is the append-only ledger location; empty disables it.
	LedgerPath string
	// LogPath is the debug log location; empty disables file logging.
	LogPath string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		ScheduleInterval:   2 * time.Second,
		ResumePollInterval: 10 * time.Second,
		HeartbeatWindow:    15 * time.Second,
		RetryBound:         10,
		CapacityThreshold:  0.20,
	}
}

// Pipeline is the orchestrator: it turns requests into plans, plans into
// dispatched work, and results into task outcomes. Heartbeat ingestion,
// result ingestion, and dispatch scheduling run as concurrent loops sharing
// only the state store's row-atomic operations.
type Pipeline struct {
	db       *state.DB
	broker   *bus.Broker
	parser   IntentParser
	planner  *Planner
	registry *AgentRegistry
	pause    *PauseManager
	dispatch *Dispatcher
	results  *ResultHandler
	logger   *DebugLogger
	opts     Options

	running bool
	mu      sync.Mutex
}

// NewPipeline wires the pipeline. parser may be nil, selecting the keyword
// parser.
func NewPipeline(db *state.DB, broker *bus.Broker, parser IntentParser, opts Options) (*Pipeline, error) {
	if parser == nil {
		parser = KeywordParser{}
	}
	if opts.ScheduleInterval <= 0 {
		opts.ScheduleInterval = 2 * time.Second
	}
	if opts.ResumePollInterval <= 0 {
		opts.ResumePollInterval = 10 * time.Second
	}

	logger, err := NewDebugLogger(opts.LogPath)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	var ledger *state.Ledger
	if opts.LedgerPath != "" {
		ledger, err = state.NewLedger(opts.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("create ledger: %w", err)
		}
	}

	registry := NewAgentRegistry(db, opts.HeartbeatWindow, logger)
	pause := NewPauseManager(db, registry, opts.CapacityThreshold, logger)

	return &Pipeline{
		db:       db,
		broker:   broker,
		parser:   parser,
		planner:  NewPlanner(),
		registry: registry,
		pause:    pause,
		dispatch: NewDispatcher(db, broker, registry, pause, opts.RetryBound, logger),
		results:  NewResultHandler(db, broker, registry, ledger, logger),
		logger:   logger,
		opts:     opts,
	}, nil
}

// Registry exposes the agent registry for the control API.
func (p *Pipeline) Registry() *AgentRegistry {
	return p.registry
}

// Logger exposes the debug logger.
func (p *Pipeline) Logger() *DebugLogger {
	return p.logger
}

// SetDispatchHold suspends or resumes the dispatch loop while result and
// resume processing keep running. Operator pause signals drive this.
func (p *Pipeline) SetDispatchHold(held bool) {
	p.dispatch.SetHold(held)
	if held {
		p.logger.Log("pipeline: dispatch held")
	} else {
		p.logger.Log("pipeline: dispatch released")
	}
}

// Run starts the pipeline loops and blocks until ctx is cancelled.
// Topology declaration is idempotent and safe to repeat across processes.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pipeline already running")
	}
	p.running = true
	p.mu.Unlock()

	if err := p.broker.DeclareTopology(); err != nil {
		return fmt.Errorf("declare topology: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		p.results.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		p.scheduleLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		p.resumeLoop(ctx)
	}()
	wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) scheduleLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.ScheduleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.registry.MarkStaleOffline(); err != nil {
				p.logger.Log("schedule: offline sweep failed: %v", err)
			}
			if _, err := p.dispatch.DispatchReady(ctx); err != nil {
				p.logger.Log("schedule: dispatch pass failed: %v", err)
			}
		}
	}
}

func (p *Pipeline) resumeLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.ResumePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resumed, err := p.pause.ResumeEligible()
			if err != nil {
				p.logger.Log("resume: poll failed: %v", err)
				continue
			}
			if len(resumed) > 0 {
				p.logger.Log("resume: %d task(s) back in the dispatch queue", len(resumed))
			}
		}
	}
}

// Submit decomposes and plans a request, stores the draft plan, and
// returns the request ID the caller polls with. An unparseable request is
// surfaced for clarification, never retried blindly.
func (p *Pipeline) Submit(ctx context.Context, requestText string) (string, error) {
	requestID := uuid.NewString()

	intents, err := p.parser.Parse(ctx, requestText)
	if err != nil {
		return "", fmt.Errorf("decompose request: %w", err)
	}

	plan, err := p.planner.BuildPlan(requestID, requestText, intents)
	if err != nil {
		return "", fmt.Errorf("build plan: %w", err)
	}

	if err := p.db.SavePlan(plan); err != nil {
		return "", fmt.Errorf("store plan: %w", err)
	}

	p.logger.Log("submit: request %s planned as %s (%d tasks, %s)",
		requestID, plan.ID, len(plan.Tasks), plan.Complexity)
	return requestID, nil
}

// GetPlan returns the plan derived from a request.
func (p *Pipeline) GetPlan(requestID string) (*models.WorkPlan, error) {
	return p.db.GetPlanByRequestID(requestID)
}

// Approve releases a draft plan for execution: the plan moves to approved
// and every pending task becomes dispatchable.
func (p *Pipeline) Approve(planID string) error {
	if err := p.db.UpdatePlanStatus(planID, models.PlanStatusDraft, models.PlanStatusApproved); err != nil {
		return err
	}

	tasks, err := p.db.ListTasksByPlan(planID)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.Status != models.TaskStatusPending {
			continue
		}
		if err := p.db.UpdateTaskStatus(task.ID, models.TaskStatusPending, models.TaskStatusApproved); err != nil && !errors.Is(err, state.ErrStatusConflict) {
			return err
		}
	}
	p.logger.Log("plan %s approved", planID)
	return nil
}

// Reject discards a draft plan and cancels its tasks.
func (p *Pipeline) Reject(planID string) error {
	if err := p.db.UpdatePlanStatus(planID, models.PlanStatusDraft, models.PlanStatusRejected); err != nil {
		return err
	}

	tasks, err := p.db.ListTasksByPlan(planID)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.Status != models.TaskStatusPending {
			continue
		}
		if err := p.db.UpdateTaskStatus(task.ID, models.TaskStatusPending, models.TaskStatusCancelled); err != nil && !errors.Is(err, state.ErrStatusConflict) {
			return err
		}
	}
	p.logger.Log("plan %s rejected", planID)
	return nil
}

// TaskModification edits one task of a draft plan.
type TaskModification struct {
	// TaskID selects the task.
	TaskID string
	// Parameters replaces the task parameters when non-nil.
	Parameters map[string]string
	// Priority replaces the dispatch priority when in 1..5.
	Priority int
}

// Modify edits tasks of a plan still in draft.
func (p *Pipeline) Modify(planID string, mods []TaskModification) error {
	plan, err := p.db.GetPlan(planID)
	if err != nil {
		return err
	}
	if plan.Status != models.PlanStatusDraft {
		return fmt.Errorf("plan %s is %s, only draft plans can be modified", planID, plan.Status)
	}

	for _, mod := range mods {
		task := plan.TaskByID(mod.TaskID)
		if task == nil {
			return fmt.Errorf("task %s is not part of plan %s", mod.TaskID, planID)
		}
		if mod.Parameters != nil {
			task.Parameters = mod.Parameters
		}
		if mod.Priority >= 1 && mod.Priority <= 5 {
			task.Priority = mod.Priority
		}
		if err := p.db.SaveTask(task); err != nil {
			return err
		}
	}
	p.logger.Log("plan %s modified (%d task edits)", planID, len(mods))
	return nil
}

// GetStatus returns a task's current status.
func (p *Pipeline) GetStatus(taskID string) (models.TaskStatus, error) {
	task, err := p.db.GetTask(taskID)
	if err != nil {
		return "", err
	}
	return task.Status, nil
}

// ListAgents returns the fleet, optionally filtered by status.
func (p *Pipeline) ListAgents(statusFilter models.AgentStatus) ([]*models.AgentRecord, error) {
	agents, err := p.db.ListAgents()
	if err != nil {
		return nil, err
	}
	if statusFilter == "" {
		return agents, nil
	}

	var filtered []*models.AgentRecord
	for _, rec := range agents {
		if rec.Status == statusFilter {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

// Cancel moves a task to cancelled. An executing task additionally gets a
// broadcast cancel so its agent stops; the protocol tolerates the race
// where the agent completes anyway, because late results are dropped.
func (p *Pipeline) Cancel(taskID string) error {
	task, err := p.db.GetTask(taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %s is already %s", taskID, task.Status)
	}

	if task.Status == models.TaskStatusExecuting {
		if err := p.broadcastCancel(task); err != nil {
			p.logger.Log("cancel: broadcast for task %s failed: %v", taskID, err)
		}
	}

	if err := p.db.UpdateTaskStatus(taskID, task.Status, models.TaskStatusCancelled); err != nil {
		return err
	}
	if task.Status == models.TaskStatusPaused {
		if err := p.db.MarkResumed(taskID); err != nil {
			p.logger.Log("cancel: clearing pause entry for task %s failed: %v", taskID, err)
		}
	}
	p.logger.Log("cancel: task %s cancelled (was %s)", taskID, task.Status)
	return nil
}

func (p *Pipeline) broadcastCancel(task *models.Task) error {
	env, err := protocol.NewEnvelope(
		protocol.EndpointOrchestrator,
		protocol.EndpointBroadcast,
		task.TraceID,
		uuid.NewString(),
		5,
		&protocol.Cancel{TaskID: task.ID, Reason: "cancelled by user"},
	)
	if err != nil {
		return err
	}
	return p.broker.Broadcast(env)
}
