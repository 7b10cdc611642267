// Package bus implements the in-process message bus connecting the
// orchestrator and fleet agents: a durable priority work channel, a reply
// channel, a non-durable broadcast channel, and a bounded dead-letter channel.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/ShayCichocki/convoy/internal/protocol"
)

// ErrStopped indicates the broker has been shut down.
var ErrStopped = errors.New("bus stopped")

// Channel names used for routing and persistence.
const (
	// ChannelWork is the durable priority work queue.
	ChannelWork = "work"
	// ChannelReply is the durable reply queue consumed by the orchestrator.
	ChannelReply = "reply"
	// ChannelBroadcast is the non-durable fan-out channel.
	ChannelBroadcast = "broadcast"
	// ChannelDeadLetter holds unprocessable messages for inspection.
	ChannelDeadLetter = "dead_letter"
)

// persistPriorityMin is the lowest priority whose messages are persisted
// before delivery. Priorities below it stay memory-resident.
const persistPriorityMin = 4

// Delivery is one claimed message. The consumer must Ack after accepting
// responsibility for the message, or Nack it. Unacked deliveries are
// redelivered once the visibility timeout expires.
type Delivery struct {
	// Envelope is the delivered message.
	Envelope *protocol.Envelope
	// Attempt is the 1-based delivery attempt counter.
	Attempt int
	// Channel is the logical channel the message was claimed from.
	Channel string
}

// DeadLetter is an entry on the dead-letter channel.
type DeadLetter struct {
	// Envelope is the failed message, nil when the raw bytes never parsed.
	Envelope *protocol.Envelope
	// Raw preserves undecodable wire bytes.
	Raw []byte
	// Reason explains why the message was dead-lettered.
	Reason string
	// Attempts is the number of delivery attempts made.
	Attempts int
	// At is when the message was dead-lettered.
	At time.Time
}

// Persister stores high-priority messages so the work and reply channels
// survive a restart. Implementations must be safe for concurrent use.
type Persister interface {
	// SaveMessage persists a message on the given channel.
	SaveMessage(ctx context.Context, channel string, env *protocol.Envelope) error
	// DeleteMessage removes a persisted message after ack or dead-letter.
	DeleteMessage(ctx context.Context, messageID string) error
	// LoadMessages returns all persisted messages for a channel.
	LoadMessages(ctx context.Context, channel string) ([]*protocol.Envelope, error)
}

// Options configures a Broker.
type Options struct {
	// MaxAttempts is the delivery attempt bound before dead-lettering.
	MaxAttempts int
	// VisibilityTimeout is how long a claimed message may stay unacked
	// before it is redelivered.
	VisibilityTimeout time.Duration
	// DeadLetterCap bounds the dead-letter channel; oldest entries are
	// evicted past the cap.
	DeadLetterCap int
	// Persister persists priority 4-5 messages. Optional.
	Persister Persister
}

// DefaultOptions returns the broker defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:       3,
		VisibilityTimeout: 30 * time.Second,
		DeadLetterCap:     256,
	}
}
