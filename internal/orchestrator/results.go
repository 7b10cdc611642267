package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/ShayCichocki/convoy/internal/bus"
	"github.com/ShayCichocki/convoy/internal/protocol"
	"github.com/ShayCichocki/convoy/internal/state"
	"github.com/ShayCichocki/convoy/pkg/models"
)

// ResultHandler is the single consumer of the reply channel. It folds
// registrations and heartbeats into the agent registry, applies work
// results to task rows, and mirrors terminal outcomes to the ledger.
// Results for tasks no longer executing are dropped silently; that is the
// tolerated cancellation race, not an error.
type ResultHandler struct {
	db       *state.DB
	broker   *bus.Broker
	codec    *protocol.Codec
	registry *AgentRegistry
	ledger   *state.Ledger
	logger   *DebugLogger
}

// NewResultHandler creates a result handler. ledger may be nil.
func NewResultHandler(db *state.DB, broker *bus.Broker, registry *AgentRegistry, ledger *state.Ledger, logger *DebugLogger) *ResultHandler {
	return &ResultHandler{
		db:       db,
		broker:   broker,
		codec:    protocol.NewCodec(),
		registry: registry,
		ledger:   ledger,
		logger:   logger,
	}
}

// Run consumes replies until the context is cancelled or the bus shuts
// down. Agent failures arrive here as data and are logged and stored,
// never raised as faults.
func (h *ResultHandler) Run(ctx context.Context) {
	for {
		d, err := h.broker.ConsumeReply(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrStopped) || ctx.Err() != nil {
				return
			}
			h.logger.Log("results: consume failed: %v", err)
			continue
		}
		h.handle(ctx, d)
	}
}

func (h *ResultHandler) handle(ctx context.Context, d *bus.Delivery) {
	payload, err := h.codec.DecodePayload(d.Envelope)
	if err != nil {
		h.logger.Log("results: dead-lettering malformed reply %s: %v", d.Envelope.MessageID, err)
		if err := h.broker.Nack(ctx, d, false, err.Error()); err != nil {
			h.logger.Log("results: nack failed: %v", err)
		}
		return
	}

	if err := h.broker.Ack(ctx, d); err != nil {
		h.logger.Log("results: ack failed: %v", err)
		return
	}

	switch msg := payload.(type) {
	case *protocol.Registration:
		if err := h.registry.ApplyRegistration(msg); err != nil {
			h.logger.Log("results: registration of %s failed: %v", msg.AgentID, err)
		}
	case *protocol.StatusUpdate:
		if err := h.registry.ApplyHeartbeat(msg); err != nil {
			h.logger.Log("results: heartbeat from %s failed: %v", msg.AgentID, err)
		}
	case *protocol.WorkResult:
		h.applyResult(msg)
	case *protocol.ErrorMessage:
		h.logger.Log("results: error %d from %s: %s", msg.Code, d.Envelope.From, msg.Message)
		if msg.TaskID != "" {
			h.audit(msg.TaskID, "", "error", "failed", msg.Message, 0)
		}
	default:
		h.logger.Log("results: ignoring unexpected %s on reply channel", d.Envelope.Type)
	}
}

// applyResult moves the task row to its terminal status. The guarded
// update drops late results: if the task is no longer executing (cancelled,
// or already settled from a duplicate result) nothing changes.
func (h *ResultHandler) applyResult(result *protocol.WorkResult) {
	var next models.TaskStatus
	switch result.Status {
	case protocol.ResultCompleted:
		next = models.TaskStatusCompleted
	case protocol.ResultCancelled:
		next = models.TaskStatusCancelled
	default:
		next = models.TaskStatusFailed
	}

	var err error
	if next == models.TaskStatusFailed {
		err = h.db.MarkTaskFailed(result.TaskID, result.ErrorMessage)
	} else {
		err = h.db.UpdateTaskStatus(result.TaskID, models.TaskStatusExecuting, next)
	}
	if errors.Is(err, state.ErrStatusConflict) {
		h.logger.Log("results: dropping late result for task %s", result.TaskID)
		return
	}
	if errors.Is(err, state.ErrTaskNotFound) {
		h.logger.Log("results: dropping result for unknown task %s", result.TaskID)
		return
	}
	if err != nil {
		h.logger.Log("results: applying result for task %s failed: %v", result.TaskID, err)
		return
	}

	if result.Resources != nil {
		task, err := h.db.GetTask(result.TaskID)
		if err == nil {
			task.Actual = result.Resources
			if err := h.db.SaveTask(task); err != nil {
				h.logger.Log("results: saving usage for task %s failed: %v", result.TaskID, err)
			}
		}
	}

	if err := h.registry.RecordOutcome(result.AgentID, next == models.TaskStatusCompleted); err != nil {
		h.logger.Log("results: recording outcome for agent %s failed: %v", result.AgentID, err)
	}

	h.audit(result.TaskID, result.AgentID, "result", string(next), summarize(result),
		time.Duration(result.DurationMS)*time.Millisecond)
	h.mirror(result, next)
	h.logger.Log("results: task %s %s by agent %s", result.TaskID, next, result.AgentID)
}

// mirror writes the terminal outcome to the append-only ledger. Ledger
// writes are best-effort: a failure is logged and never rolls back the
// task outcome.
func (h *ResultHandler) mirror(result *protocol.WorkResult, status models.TaskStatus) {
	if h.ledger == nil {
		return
	}

	task, err := h.db.GetTask(result.TaskID)
	if err != nil {
		h.logger.Log("results: ledger mirror skipped, task %s unavailable: %v", result.TaskID, err)
		return
	}

	err = h.ledger.Append(state.LedgerRecord{
		TaskID:     task.ID,
		PlanID:     task.PlanID,
		WorkType:   task.WorkType,
		Status:     status,
		AgentID:    result.AgentID,
		Error:      result.ErrorMessage,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Log("results: ledger write for task %s failed: %v", task.ID, err)
	}
}

func (h *ResultHandler) audit(taskID, agentID, action, status, summary string, duration time.Duration) {
	entry := state.ExecutionLogEntry{
		TaskID:        taskID,
		AgentID:       agentID,
		Action:        action,
		Status:        status,
		OutputSummary: summary,
		Duration:      duration,
	}
	if agentID != "" {
		if rec, err := h.db.GetAgent(agentID); err == nil {
			entry.AgentType = rec.AgentType
		}
	}
	if err := h.db.AppendExecutionLog(entry); err != nil {
		h.logger.Log("results: audit write for task %s failed: %v", taskID, err)
	}
}

func summarize(result *protocol.WorkResult) string {
	s := result.Output
	if result.ErrorMessage != "" {
		s = result.ErrorMessage
	}
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}
