package bus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ShayCichocki/convoy/internal/protocol"
)

// entry is one queued message with its delivery bookkeeping.
type entry struct {
	env       *protocol.Envelope
	channel   string
	attempts  int
	inflight  bool
	claimedAt time.Time
}

// Broker is the in-process message broker. Topology is declared idempotently;
// any number of processes may re-declare it at startup.
type Broker struct {
	opts Options

	// queue holds pending and in-flight work/reply entries by message ID.
	queue map[string]*entry
	// subscribers maps subscriber IDs to broadcast channels.
	subscribers map[string]chan *protocol.Envelope
	// dead is the bounded dead-letter ring, oldest first.
	dead []DeadLetter
	// notify wakes blocked consumers when a message arrives.
	notify chan struct{}
	// done is closed when the broker shuts down.
	done chan struct{}
	// stopped indicates Close was called.
	stopped bool
	// mu protects all fields.
	mu sync.Mutex
}

// NewBroker creates a broker and recovers any persisted messages.
func NewBroker(opts Options) (*Broker, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = DefaultOptions().VisibilityTimeout
	}
	if opts.DeadLetterCap <= 0 {
		opts.DeadLetterCap = DefaultOptions().DeadLetterCap
	}

	b := &Broker{
		opts:        opts,
		queue:       make(map[string]*entry),
		subscribers: make(map[string]chan *protocol.Envelope),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	if opts.Persister != nil {
		for _, channel := range []string{ChannelWork, ChannelReply} {
			envs, err := opts.Persister.LoadMessages(context.Background(), channel)
			if err != nil {
				return nil, fmt.Errorf("recover %s channel: %w", channel, err)
			}
			for _, env := range envs {
				b.queue[env.MessageID] = &entry{env: env, channel: channel}
			}
			if len(envs) > 0 {
				log.Printf("[bus] recovered %d persisted %s messages", len(envs), channel)
			}
		}
	}

	return b, nil
}

// DeclareTopology validates that the broker's channels exist. It is
// idempotent and safe to call from every connecting process.
func (b *Broker) DeclareTopology() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return ErrStopped
	}
	return nil
}

// PublishWork places a message on the work channel at its envelope priority.
// Priority 4-5 messages are persisted before they become visible.
func (b *Broker) PublishWork(ctx context.Context, env *protocol.Envelope) error {
	return b.publish(ctx, ChannelWork, env)
}

// PublishReply places a message on the reply channel.
func (b *Broker) PublishReply(ctx context.Context, env *protocol.Envelope) error {
	return b.publish(ctx, ChannelReply, env)
}

func (b *Broker) publish(ctx context.Context, channel string, env *protocol.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	if b.opts.Persister != nil && env.Priority >= persistPriorityMin {
		if err := b.opts.Persister.SaveMessage(ctx, channel, env); err != nil {
			return fmt.Errorf("persist message %s: %w", env.MessageID, err)
		}
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrStopped
	}
	b.queue[env.MessageID] = &entry{env: env, channel: channel}
	b.mu.Unlock()

	b.wake()
	return nil
}

// ConsumeWork blocks until a work message addressed to endpoint is available,
// then claims it. Priority biases selection among ready messages; there is no
// cross-message FIFO guarantee.
func (b *Broker) ConsumeWork(ctx context.Context, endpoint string) (*Delivery, error) {
	return b.consume(ctx, ChannelWork, endpoint)
}

// ConsumeReply blocks until a reply message is available, then claims it.
// The reply channel has a single logical consumer, the orchestrator.
func (b *Broker) ConsumeReply(ctx context.Context) (*Delivery, error) {
	return b.consume(ctx, ChannelReply, protocol.EndpointOrchestrator)
}

func (b *Broker) consume(ctx context.Context, channel, endpoint string) (*Delivery, error) {
	for {
		d, stopped := b.tryClaim(channel, endpoint)
		if stopped {
			return nil, ErrStopped
		}
		if d != nil {
			return d, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.done:
			return nil, ErrStopped
		case <-b.notify:
		case <-time.After(b.opts.VisibilityTimeout / 2):
			// Periodic pass so expired claims are swept even when idle.
		}
		b.sweepExpired()
	}
}

// tryClaim claims the highest-priority pending message for the endpoint.
func (b *Broker) tryClaim(channel, endpoint string) (*Delivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return nil, true
	}

	var best *entry
	for _, e := range b.queue {
		if e.channel != channel || e.inflight || e.env.To != endpoint {
			continue
		}
		if best == nil || e.env.Priority > best.env.Priority ||
			(e.env.Priority == best.env.Priority && e.env.Timestamp.Before(best.env.Timestamp)) {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}

	best.inflight = true
	best.claimedAt = time.Now()
	best.attempts++

	return &Delivery{Envelope: best.env, Attempt: best.attempts, Channel: channel}, false
}

// Ack acknowledges a delivery. Consumers ack after accepting responsibility
// for a message, not after completing the work; a crash mid-task leaves the
// message unacked so it is redelivered.
func (b *Broker) Ack(ctx context.Context, d *Delivery) error {
	b.mu.Lock()
	e, ok := b.queue[d.Envelope.MessageID]
	if ok {
		delete(b.queue, d.Envelope.MessageID)
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("ack unknown message %s", d.Envelope.MessageID)
	}

	if b.opts.Persister != nil && e.env.Priority >= persistPriorityMin {
		if err := b.opts.Persister.DeleteMessage(ctx, e.env.MessageID); err != nil {
			// The message was delivered; a persistence cleanup failure
			// must not fail the consumer.
			log.Printf("[bus] delete persisted message %s: %v", e.env.MessageID, err)
		}
	}
	return nil
}

// Nack rejects a delivery. With requeue the message becomes visible again
// until MaxAttempts is exhausted, then it is dead-lettered. Without requeue
// it is dead-lettered immediately; validation failures take this path.
func (b *Broker) Nack(ctx context.Context, d *Delivery, requeue bool, reason string) error {
	b.mu.Lock()
	e, ok := b.queue[d.Envelope.MessageID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("nack unknown message %s", d.Envelope.MessageID)
	}

	if requeue && e.attempts < b.opts.MaxAttempts {
		e.inflight = false
		b.mu.Unlock()
		b.wake()
		return nil
	}

	delete(b.queue, d.Envelope.MessageID)
	if requeue {
		reason = fmt.Sprintf("delivery attempts exhausted (%d): %s", e.attempts, reason)
	}
	b.deadLetterLocked(DeadLetter{Envelope: e.env, Reason: reason, Attempts: e.attempts, At: time.Now()})
	b.mu.Unlock()

	if b.opts.Persister != nil && e.env.Priority >= persistPriorityMin {
		if err := b.opts.Persister.DeleteMessage(ctx, e.env.MessageID); err != nil {
			log.Printf("[bus] delete persisted message %s: %v", e.env.MessageID, err)
		}
	}
	return nil
}

// DeadLetterRaw records wire bytes that never decoded into an envelope.
func (b *Broker) DeadLetterRaw(raw []byte, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadLetterLocked(DeadLetter{Raw: raw, Reason: reason, At: time.Now()})
}

// deadLetterLocked appends to the bounded dead-letter ring.
// Caller must hold b.mu.
func (b *Broker) deadLetterLocked(dl DeadLetter) {
	b.dead = append(b.dead, dl)
	if len(b.dead) > b.opts.DeadLetterCap {
		b.dead = b.dead[len(b.dead)-b.opts.DeadLetterCap:]
	}
}

// DeadLetters returns a copy of the dead-letter channel contents.
func (b *Broker) DeadLetters() []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DeadLetter, len(b.dead))
	copy(out, b.dead)
	return out
}

// Broadcast fans the envelope out to every subscriber. Delivery is
// best-effort: slow subscribers miss messages, and there is no redelivery.
func (b *Broker) Broadcast(env *protocol.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return ErrStopped
	}

	for id, ch := range b.subscribers {
		select {
		case ch <- env:
		default:
			log.Printf("[bus] broadcast dropped for slow subscriber %s", id)
		}
	}
	return nil
}

// SubscribeBroadcast registers a broadcast subscriber. Re-subscribing with
// the same ID replaces the previous subscription, so reconnecting agents
// rebuild their subscription safely.
func (b *Broker) SubscribeBroadcast(id string) <-chan *protocol.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subscribers[id]; ok {
		close(old)
	}
	ch := make(chan *protocol.Envelope, 16)
	b.subscribers[id] = ch
	return ch
}

// UnsubscribeBroadcast removes a broadcast subscription.
func (b *Broker) UnsubscribeBroadcast(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// sweepExpired returns in-flight messages whose visibility timeout lapsed to
// the pending state so another consumer can claim them.
func (b *Broker) sweepExpired() {
	now := time.Now()
	requeued := 0

	b.mu.Lock()
	for _, e := range b.queue {
		if e.inflight && now.Sub(e.claimedAt) > b.opts.VisibilityTimeout {
			if e.attempts >= b.opts.MaxAttempts {
				delete(b.queue, e.env.MessageID)
				b.deadLetterLocked(DeadLetter{
					Envelope: e.env,
					Reason:   fmt.Sprintf("delivery attempts exhausted (%d): visibility timeout", e.attempts),
					Attempts: e.attempts,
					At:       now,
				})
				continue
			}
			e.inflight = false
			requeued++
		}
	}
	b.mu.Unlock()

	if requeued > 0 {
		log.Printf("[bus] requeued %d expired claims", requeued)
		b.wake()
	}
}

// wake nudges one blocked consumer.
func (b *Broker) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Depth returns the number of pending and in-flight messages on a channel.
func (b *Broker) Depth(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, e := range b.queue {
		if e.channel == channel {
			n++
		}
	}
	return n
}

// Close stops the broker and wakes all blocked consumers.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	close(b.done)
}
