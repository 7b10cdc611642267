package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/convoy/internal/bus"
	"github.com/ShayCichocki/convoy/internal/protocol"
)

// workLoop consumes WorkRequests addressed to this agent until the context
// is cancelled or the bus shuts down. One request is processed at a time;
// the heartbeat loop keeps running independently.
func (r *Runtime) workLoop(ctx context.Context) {
	endpoint := protocol.AgentEndpoint(r.opts.AgentID)
	for {
		d, err := r.broker.ConsumeWork(ctx, endpoint)
		if err != nil {
			if errors.Is(err, bus.ErrStopped) || ctx.Err() != nil {
				return
			}
			log.Printf("[agent %s] consume failed: %v", r.opts.AgentID, err)
			continue
		}
		r.handleDelivery(ctx, d)
	}
}

// handleDelivery runs one delivery end to end. Malformed requests are
// dead-lettered without requeue. A request ID already answered is served
// from the idempotency cache without re-executing. Everything else is
// acknowledged once responsibility is accepted, then executed; a crash
// before the ack leaves the message for redelivery.
func (r *Runtime) handleDelivery(ctx context.Context, d *bus.Delivery) {
	payload, err := r.codec.DecodePayload(d.Envelope)
	if err != nil {
		r.rejectDelivery(ctx, d, fmt.Sprintf("malformed payload: %v", err))
		return
	}
	req, ok := payload.(*protocol.WorkRequest)
	if !ok {
		r.rejectDelivery(ctx, d, fmt.Sprintf("unexpected message type %s on work channel", d.Envelope.Type))
		return
	}

	requestID := d.Envelope.RequestID
	if cached := r.cache.Get(requestID); cached != nil {
		log.Printf("[agent %s] duplicate request %s for task %s, replaying cached result", r.opts.AgentID, requestID, req.TaskID)
		if err := r.broker.Ack(ctx, d); err != nil {
			log.Printf("[agent %s] ack failed: %v", r.opts.AgentID, err)
		}
		if err := r.publishResult(ctx, d.Envelope, cached); err != nil {
			log.Printf("[agent %s] replaying result failed: %v", r.opts.AgentID, err)
		}
		return
	}

	executor := r.table.Lookup(req.WorkType)
	if executor == nil {
		r.rejectDelivery(ctx, d, fmt.Sprintf("no executor for work type %q", req.WorkType))
		return
	}

	// Accepting responsibility: the ack happens before execution, not
	// after. Redelivery protects requests that crash before this point;
	// the idempotency cache protects completed ones.
	if err := r.broker.Ack(ctx, d); err != nil {
		log.Printf("[agent %s] ack failed, skipping execution: %v", r.opts.AgentID, err)
		return
	}

	result := r.execute(ctx, executor, req)
	r.cache.Put(requestID, result)
	if err := r.publishResult(ctx, d.Envelope, result); err != nil {
		log.Printf("[agent %s] publishing result for task %s failed: %v", r.opts.AgentID, req.TaskID, err)
	}
}

// execute runs the executor under the request's timeout and translates the
// outcome into a WorkResult. The running task is registered so a broadcast
// Cancel can abort it. Transient failures (timeouts, ErrTransient) are
// retried with exponential backoff up to the attempt bound; everything else
// fails on the first attempt.
func (r *Runtime) execute(ctx context.Context, executor Executor, req *protocol.WorkRequest) *protocol.WorkResult {
	timeout := r.opts.DefaultWorkTimeout
	if req.TimeoutSec > 0 {
		timeout = time.Duration(req.TimeoutSec) * time.Second
	}

	// The task ID rides along as a parameter so executors that audit their
	// work per task (reasoning) can attribute it.
	params := make(map[string]string, len(req.Parameters)+1)
	for k, v := range req.Parameters {
		params[k] = v
	}
	params["task_id"] = req.TaskID

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.currentTaskID = req.TaskID
	r.cancelCurrent = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.currentTaskID = ""
		r.cancelCurrent = nil
		r.mu.Unlock()
	}()

	start := time.Now()
	var output string
	var err error
	var timedOut bool
	delay := r.opts.RetryBaseDelay
	for attempt := 1; ; attempt++ {
		attemptCtx, cancelAttempt := context.WithTimeout(taskCtx, timeout)
		output, err = executor.Execute(attemptCtx, params)
		timedOut = errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		cancelAttempt()

		if err == nil || taskCtx.Err() != nil || attempt >= r.opts.MaxExecAttempts {
			break
		}
		if !timedOut && !errors.Is(err, ErrTransient) {
			break
		}

		log.Printf("[agent %s] task %s attempt %d failed (%v), retrying in %s",
			r.opts.AgentID, req.TaskID, attempt, err, delay)
		select {
		case <-taskCtx.Done():
		case <-time.After(delay):
		}
		delay *= 2
	}
	elapsed := time.Since(start)

	result := &protocol.WorkResult{
		TaskID:     req.TaskID,
		AgentID:    r.opts.AgentID,
		Output:     output,
		DurationMS: elapsed.Milliseconds(),
	}
	switch {
	case err == nil:
		result.Status = protocol.ResultCompleted
	case taskCtx.Err() != nil && ctx.Err() == nil:
		result.Status = protocol.ResultCancelled
	case timedOut:
		result.Status = protocol.ResultFailed
		result.ErrorMessage = fmt.Sprintf("execution timed out after %s", timeout)
	default:
		result.Status = protocol.ResultFailed
		result.ErrorMessage = err.Error()
	}
	return result
}

// publishResult sends a WorkResult on the reply channel, correlated to the
// originating request by trace and request ID.
func (r *Runtime) publishResult(ctx context.Context, req *protocol.Envelope, result *protocol.WorkResult) error {
	env, err := protocol.NewEnvelope(
		protocol.AgentEndpoint(r.opts.AgentID),
		protocol.EndpointOrchestrator,
		req.TraceID,
		req.RequestID,
		req.Priority,
		result,
	)
	if err != nil {
		return err
	}
	return r.broker.PublishReply(ctx, env)
}

// rejectDelivery dead-letters a delivery without requeue and reports the
// failure to the orchestrator as an ErrorMessage.
func (r *Runtime) rejectDelivery(ctx context.Context, d *bus.Delivery, reason string) {
	log.Printf("[agent %s] rejecting message %s: %s", r.opts.AgentID, d.Envelope.MessageID, reason)
	if err := r.broker.Nack(ctx, d, false, reason); err != nil {
		log.Printf("[agent %s] nack failed: %v", r.opts.AgentID, err)
	}

	env, err := protocol.NewEnvelope(
		protocol.AgentEndpoint(r.opts.AgentID),
		protocol.EndpointOrchestrator,
		d.Envelope.TraceID,
		uuid.NewString(),
		2,
		&protocol.ErrorMessage{
			Code:       protocol.CodeValidationFailed,
			Message:    reason,
			OccurredAt: time.Now().UTC(),
		},
	)
	if err != nil {
		return
	}
	if err := r.broker.PublishReply(ctx, env); err != nil {
		log.Printf("[agent %s] reporting rejection failed: %v", r.opts.AgentID, err)
	}
}
