package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/convoy/internal/bus"
	"github.com/ShayCichocki/convoy/internal/protocol"
	"github.com/ShayCichocki/convoy/pkg/models"
)

// State is the agent runtime lifecycle state.
type State string

const (
	// StateDisconnected is the initial state before Run.
	StateDisconnected State = "disconnected"
	// StateConnecting is the state while topology and registration are set up.
	StateConnecting State = "connecting"
	// StateConnected is the state once both loops are running.
	StateConnected State = "connected"
)

// Options configures a Runtime.
type Options struct {
	// AgentID is this agent's unique identifier.
	AgentID string
	// AgentType describes the kind of worker.
	AgentType string
	// HeartbeatInterval is the fixed heartbeat period.
	HeartbeatInterval time.Duration
	// CacheSize bounds the idempotency cache.
	CacheSize int
	// CacheTTL is the idempotency cache entry lifetime.
	CacheTTL time.Duration
	// DefaultWorkTimeout bounds execution when a request carries no timeout.
	DefaultWorkTimeout time.Duration
	// MaxExecAttempts bounds transient-error retries of one request.
	MaxExecAttempts int
	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration
}

// Runtime is one fleet agent: it connects to the bus, emits heartbeats with
// resource metrics, and consumes work idempotently. The heartbeat and work
// loops run concurrently and never block each other; the only state they
// share is the internally synchronized idempotency cache and current-task
// marker.
type Runtime struct {
	opts    Options
	broker  *bus.Broker
	codec   *protocol.Codec
	table   *ExecutorTable
	sampler MetricsSampler
	cache   *IdempotencyCache

	// state is the lifecycle state.
	state State
	// currentTaskID is the task being executed, empty when idle.
	currentTaskID string
	// cancelCurrent aborts the running executor, nil when idle.
	cancelCurrent context.CancelFunc
	// mu protects state, currentTaskID, and cancelCurrent.
	mu sync.Mutex
}

// NewRuntime creates an agent runtime.
func NewRuntime(opts Options, broker *bus.Broker, table *ExecutorTable, sampler MetricsSampler) (*Runtime, error) {
	if opts.AgentID == "" {
		opts.AgentID = uuid.NewString()
	}
	if opts.AgentType == "" {
		return nil, fmt.Errorf("agent type is required")
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	if opts.DefaultWorkTimeout <= 0 {
		opts.DefaultWorkTimeout = 5 * time.Minute
	}
	if opts.MaxExecAttempts <= 0 {
		opts.MaxExecAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}
	if sampler == nil {
		sampler = &HostSampler{}
	}

	return &Runtime{
		opts:    opts,
		broker:  broker,
		codec:   protocol.NewCodec(),
		table:   table,
		sampler: sampler,
		cache:   NewIdempotencyCache(opts.CacheSize, opts.CacheTTL),
		state:   StateDisconnected,
	}, nil
}

// ID returns the agent's identifier.
func (r *Runtime) ID() string {
	return r.opts.AgentID
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run connects the agent and blocks until the context is cancelled or the
// bus shuts down. Topology declaration and registration are idempotent, so
// Run is safe to call again after a reconnect.
func (r *Runtime) Run(ctx context.Context) error {
	r.setState(StateConnecting)

	if err := r.broker.DeclareTopology(); err != nil {
		r.setState(StateDisconnected)
		return fmt.Errorf("declare topology: %w", err)
	}

	// Broadcast subscriptions are rebuilt on every connect; the bus keeps
	// no broadcast history for us.
	signals := r.broker.SubscribeBroadcast(r.opts.AgentID)
	defer r.broker.UnsubscribeBroadcast(r.opts.AgentID)

	if err := r.register(ctx); err != nil {
		r.setState(StateDisconnected)
		return fmt.Errorf("register agent: %w", err)
	}

	r.setState(StateConnected)
	log.Printf("[agent %s] connected, capabilities %v", r.opts.AgentID, r.table.Capabilities())

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		r.heartbeatLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		r.workLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		r.signalLoop(ctx, signals)
	}()
	wg.Wait()

	r.setState(StateDisconnected)
	return nil
}

// register announces the agent and its capability set to the orchestrator.
// Re-registration after a reconnect is an upsert on the orchestrator side.
func (r *Runtime) register(ctx context.Context) error {
	env, err := protocol.NewEnvelope(
		protocol.AgentEndpoint(r.opts.AgentID),
		protocol.EndpointOrchestrator,
		uuid.NewString(),
		uuid.NewString(),
		4,
		&protocol.Registration{
			AgentID:      r.opts.AgentID,
			AgentType:    r.opts.AgentType,
			Capabilities: r.table.Capabilities(),
		},
	)
	if err != nil {
		return err
	}
	return r.broker.PublishReply(ctx, env)
}

// heartbeatLoop publishes a StatusUpdate at a fixed interval. A sampler
// failure degrades to zero-valued metrics; the beat is never skipped.
func (r *Runtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.publishHeartbeat(ctx); err != nil {
				log.Printf("[agent %s] heartbeat failed: %v", r.opts.AgentID, err)
			}
		}
	}
}

func (r *Runtime) publishHeartbeat(ctx context.Context) error {
	snap, err := r.sampler.Sample()
	if err != nil {
		log.Printf("[agent %s] metrics sampling failed, reporting zeros: %v", r.opts.AgentID, err)
		snap = models.ResourceSnapshot{}
	}

	r.mu.Lock()
	currentTask := r.currentTaskID
	r.mu.Unlock()

	env, err := protocol.NewEnvelope(
		protocol.AgentEndpoint(r.opts.AgentID),
		protocol.EndpointOrchestrator,
		uuid.NewString(),
		uuid.NewString(),
		2,
		&protocol.StatusUpdate{
			AgentID:       r.opts.AgentID,
			AgentType:     r.opts.AgentType,
			Resources:     snap,
			CurrentTaskID: currentTask,
		},
	)
	if err != nil {
		return err
	}
	return r.broker.PublishReply(ctx, env)
}

// signalLoop handles broadcast control messages, currently cancellation.
func (r *Runtime) signalLoop(ctx context.Context, signals <-chan *protocol.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-signals:
			if !ok {
				return
			}
			payload, err := r.codec.DecodePayload(env)
			if err != nil {
				log.Printf("[agent %s] ignoring malformed broadcast: %v", r.opts.AgentID, err)
				continue
			}
			if cancel, ok := payload.(*protocol.Cancel); ok {
				r.cancelTask(cancel.TaskID)
			}
		}
	}
}

// cancelTask aborts the running executor if it is working on taskID.
func (r *Runtime) cancelTask(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentTaskID == taskID && r.cancelCurrent != nil {
		log.Printf("[agent %s] cancelling task %s", r.opts.AgentID, taskID)
		r.cancelCurrent()
	}
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}
