package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/convoy/internal/bus"
	"github.com/ShayCichocki/convoy/internal/protocol"
	"github.com/ShayCichocki/convoy/pkg/models"
)

// countingExecutor counts executions so duplicate suppression is observable.
type countingExecutor struct {
	executions atomic.Int64
}

func (c *countingExecutor) WorkType() string { return "count" }

func (c *countingExecutor) Execute(ctx context.Context, params map[string]string) (string, error) {
	c.executions.Add(1)
	return "done " + params["n"], nil
}

// blockingExecutor blocks until its context is cancelled.
type blockingExecutor struct {
	started chan struct{}
}

func (b *blockingExecutor) WorkType() string { return "block" }

func (b *blockingExecutor) Execute(ctx context.Context, params map[string]string) (string, error) {
	close(b.started)
	<-ctx.Done()
	return "", ctx.Err()
}

func testBroker(t *testing.T) *bus.Broker {
	t.Helper()

	opts := bus.DefaultOptions()
	opts.VisibilityTimeout = 100 * time.Millisecond
	broker, err := bus.NewBroker(opts)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	t.Cleanup(broker.Close)
	return broker
}

func startRuntime(t *testing.T, broker *bus.Broker, executors ...Executor) (*Runtime, context.CancelFunc) {
	t.Helper()

	table, err := NewExecutorTable(executors...)
	if err != nil {
		t.Fatalf("executor table: %v", err)
	}
	rt, err := NewRuntime(Options{
		AgentID:           "w1",
		AgentType:         "general",
		HeartbeatInterval: time.Hour,
		RetryBaseDelay:    5 * time.Millisecond,
	}, broker, table, &StaticSampler{Snapshot: models.ResourceSnapshot{CPUPct: 10}})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return rt, cancel
}

// consumeReply claims and acknowledges the next reply, failing the test if
// none arrives in time.
func consumeReply(t *testing.T, broker *bus.Broker) *protocol.Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d, err := broker.ConsumeReply(ctx)
	if err != nil {
		t.Fatalf("consume reply: %v", err)
	}
	if err := broker.Ack(ctx, d); err != nil {
		t.Fatalf("ack reply: %v", err)
	}
	return d.Envelope
}

func decodePayload(t *testing.T, env *protocol.Envelope) protocol.Payload {
	t.Helper()

	payload, err := protocol.NewCodec().DecodePayload(env)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return payload
}

func publishWork(t *testing.T, broker *bus.Broker, requestID string, req *protocol.WorkRequest) {
	t.Helper()

	env, err := protocol.NewEnvelope(
		protocol.EndpointOrchestrator,
		protocol.AgentEndpoint("w1"),
		uuid.NewString(),
		requestID,
		3,
		req,
	)
	if err != nil {
		t.Fatalf("build work envelope: %v", err)
	}
	if err := broker.PublishWork(context.Background(), env); err != nil {
		t.Fatalf("publish work: %v", err)
	}
}

func TestRuntimeRegistersOnConnect(t *testing.T) {
	broker := testBroker(t)
	startRuntime(t, broker, &countingExecutor{})

	env := consumeReply(t, broker)
	reg, ok := decodePayload(t, env).(*protocol.Registration)
	if !ok {
		t.Fatalf("expected registration first, got %s", env.Type)
	}
	if reg.AgentID != "w1" {
		t.Errorf("expected agent w1, got %q", reg.AgentID)
	}
	if len(reg.Capabilities) != 1 || reg.Capabilities[0] != "count" {
		t.Errorf("expected capabilities [count], got %v", reg.Capabilities)
	}
}

func TestDuplicateRequestExecutesOnce(t *testing.T) {
	broker := testBroker(t)
	exec := &countingExecutor{}
	startRuntime(t, broker, exec)

	// Drain the registration.
	consumeReply(t, broker)

	requestID := uuid.NewString()
	req := &protocol.WorkRequest{TaskID: "t1", WorkType: "count", Parameters: map[string]string{"n": "1"}}
	publishWork(t, broker, requestID, req)
	publishWork(t, broker, requestID, req)

	var outputs []string
	for i := 0; i < 2; i++ {
		env := consumeReply(t, broker)
		result, ok := decodePayload(t, env).(*protocol.WorkResult)
		if !ok {
			t.Fatalf("expected work result, got %s", env.Type)
		}
		if result.Status != protocol.ResultCompleted {
			t.Fatalf("expected completed, got %q (%s)", result.Status, result.ErrorMessage)
		}
		if env.RequestID != requestID {
			t.Errorf("expected result correlated to %s, got %s", requestID, env.RequestID)
		}
		outputs = append(outputs, result.Output)
	}

	if got := exec.executions.Load(); got != 1 {
		t.Errorf("expected exactly one execution, got %d", got)
	}
	if outputs[0] != outputs[1] {
		t.Errorf("expected identical results, got %q and %q", outputs[0], outputs[1])
	}
}

func TestUnknownWorkTypeIsDeadLettered(t *testing.T) {
	broker := testBroker(t)
	startRuntime(t, broker, &countingExecutor{})
	consumeReply(t, broker)

	publishWork(t, broker, uuid.NewString(), &protocol.WorkRequest{TaskID: "t1", WorkType: "nope"})

	env := consumeReply(t, broker)
	errMsg, ok := decodePayload(t, env).(*protocol.ErrorMessage)
	if !ok {
		t.Fatalf("expected error message, got %s", env.Type)
	}
	if errMsg.Code != protocol.CodeValidationFailed {
		t.Errorf("expected code %d, got %d", protocol.CodeValidationFailed, errMsg.Code)
	}

	deadline := time.Now().Add(time.Second)
	for len(broker.DeadLetters()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(broker.DeadLetters()); got != 1 {
		t.Fatalf("expected 1 dead letter, got %d", got)
	}
}

func TestBroadcastCancelAbortsRunningTask(t *testing.T) {
	broker := testBroker(t)
	exec := &blockingExecutor{started: make(chan struct{})}
	startRuntime(t, broker, exec)
	consumeReply(t, broker)

	publishWork(t, broker, uuid.NewString(), &protocol.WorkRequest{TaskID: "t-block", WorkType: "block"})

	select {
	case <-exec.started:
	case <-time.After(2 * time.Second):
		t.Fatal("executor never started")
	}

	cancelEnv, err := protocol.NewEnvelope(
		protocol.EndpointOrchestrator,
		protocol.EndpointBroadcast,
		uuid.NewString(),
		uuid.NewString(),
		5,
		&protocol.Cancel{TaskID: "t-block", Reason: "operator request"},
	)
	if err != nil {
		t.Fatalf("build cancel: %v", err)
	}
	if err := broker.Broadcast(cancelEnv); err != nil {
		t.Fatalf("broadcast cancel: %v", err)
	}

	env := consumeReply(t, broker)
	result, ok := decodePayload(t, env).(*protocol.WorkResult)
	if !ok {
		t.Fatalf("expected work result, got %s", env.Type)
	}
	if result.Status != protocol.ResultCancelled {
		t.Errorf("expected cancelled, got %q", result.Status)
	}
}

// flakyExecutor fails transiently a fixed number of times before succeeding.
type flakyExecutor struct {
	failures   int
	executions atomic.Int64
}

func (f *flakyExecutor) WorkType() string { return "flaky" }

func (f *flakyExecutor) Execute(ctx context.Context, params map[string]string) (string, error) {
	n := f.executions.Add(1)
	if int(n) <= f.failures {
		return "", fmt.Errorf("%w: upstream busy", ErrTransient)
	}
	return "ok", nil
}

// failingExecutor always fails permanently.
type failingExecutor struct {
	executions atomic.Int64
}

func (f *failingExecutor) WorkType() string { return "fail" }

func (f *failingExecutor) Execute(ctx context.Context, params map[string]string) (string, error) {
	f.executions.Add(1)
	return "", fmt.Errorf("bad parameters")
}

func TestTransientFailureRetriedWithBackoff(t *testing.T) {
	broker := testBroker(t)
	exec := &flakyExecutor{failures: 2}
	startRuntime(t, broker, exec)
	consumeReply(t, broker)

	publishWork(t, broker, uuid.NewString(), &protocol.WorkRequest{TaskID: "t1", WorkType: "flaky"})

	env := consumeReply(t, broker)
	result, ok := decodePayload(t, env).(*protocol.WorkResult)
	if !ok {
		t.Fatalf("expected work result, got %s", env.Type)
	}
	if result.Status != protocol.ResultCompleted {
		t.Fatalf("expected completed after retries, got %q (%s)", result.Status, result.ErrorMessage)
	}
	if got := exec.executions.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestPermanentFailureNotRetried(t *testing.T) {
	broker := testBroker(t)
	exec := &failingExecutor{}
	startRuntime(t, broker, exec)
	consumeReply(t, broker)

	publishWork(t, broker, uuid.NewString(), &protocol.WorkRequest{TaskID: "t1", WorkType: "fail"})

	env := consumeReply(t, broker)
	result, ok := decodePayload(t, env).(*protocol.WorkResult)
	if !ok {
		t.Fatalf("expected work result, got %s", env.Type)
	}
	if result.Status != protocol.ResultFailed {
		t.Fatalf("expected failed, got %q", result.Status)
	}
	if got := exec.executions.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

// recordingReasoner remembers the task ID it was asked to complete for.
type recordingReasoner struct {
	mu     sync.Mutex
	taskID string
}

func (r *recordingReasoner) Complete(ctx context.Context, taskID, prompt string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taskID = taskID
	return "analysis of " + prompt, nil
}

func TestReasoningWorkCarriesTaskID(t *testing.T) {
	broker := testBroker(t)
	reasoner := &recordingReasoner{}
	startRuntime(t, broker, ReasoningExecutor{Reasoner: reasoner})
	consumeReply(t, broker)

	// Dispatched reasoning work carries only intent and prompt parameters;
	// the runtime supplies the task ID so decision audit rows stay
	// attributable.
	publishWork(t, broker, uuid.NewString(), &protocol.WorkRequest{
		TaskID:   "t-audit",
		WorkType: "reasoning",
		Parameters: map[string]string{
			"intent": "diagnose",
			"prompt": "why is the disk full",
		},
	})

	env := consumeReply(t, broker)
	result, ok := decodePayload(t, env).(*protocol.WorkResult)
	if !ok {
		t.Fatalf("expected work result, got %s", env.Type)
	}
	if result.Status != protocol.ResultCompleted {
		t.Fatalf("expected completed, got %q (%s)", result.Status, result.ErrorMessage)
	}

	reasoner.mu.Lock()
	defer reasoner.mu.Unlock()
	if reasoner.taskID != "t-audit" {
		t.Errorf("expected reasoner to receive task t-audit, got %q", reasoner.taskID)
	}
}

func TestHeartbeatReportsCurrentTask(t *testing.T) {
	broker := testBroker(t)

	table, err := NewExecutorTable(&countingExecutor{})
	if err != nil {
		t.Fatalf("executor table: %v", err)
	}
	rt, err := NewRuntime(Options{
		AgentID:           "w1",
		AgentType:         "general",
		HeartbeatInterval: 20 * time.Millisecond,
	}, broker, table, &StaticSampler{Snapshot: models.ResourceSnapshot{CPUPct: 42, MemPct: 17}})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	consumeReply(t, broker)

	for {
		env := consumeReply(t, broker)
		status, ok := decodePayload(t, env).(*protocol.StatusUpdate)
		if !ok {
			continue
		}
		if status.Resources.CPUPct != 42 {
			t.Errorf("expected sampled cpu 42, got %v", status.Resources.CPUPct)
		}
		if status.CurrentTaskID != "" {
			t.Errorf("expected idle agent, got current task %q", status.CurrentTaskID)
		}
		return
	}
}
