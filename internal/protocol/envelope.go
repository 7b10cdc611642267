// Package protocol defines the wire envelope and typed payloads exchanged
// between the orchestrator and fleet agents, and the codec that validates them.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the protocol version stamped on every envelope.
const Version = "1.0"

// MessageType identifies the payload carried by an envelope.
type MessageType string

const (
	// TypeWorkRequest carries a WorkRequest payload.
	TypeWorkRequest MessageType = "work_request"
	// TypeWorkResult carries a WorkResult payload.
	TypeWorkResult MessageType = "work_result"
	// TypeStatusUpdate carries a StatusUpdate payload.
	TypeStatusUpdate MessageType = "status_update"
	// TypeError carries an ErrorMessage payload.
	TypeError MessageType = "error"
	// TypeRegistration carries a Registration payload.
	TypeRegistration MessageType = "registration"
	// TypeCancel carries a Cancel payload.
	TypeCancel MessageType = "cancel"
)

// Valid returns true if the message type is a known value.
func (t MessageType) Valid() bool {
	switch t {
	case TypeWorkRequest, TypeWorkResult, TypeStatusUpdate, TypeError, TypeRegistration, TypeCancel:
		return true
	default:
		return false
	}
}

// Endpoint prefixes for envelope from/to fields.
const (
	// EndpointOrchestrator addresses the control plane.
	EndpointOrchestrator = "orchestrator"
	// EndpointBroadcast addresses all connected agents.
	EndpointBroadcast = "broadcast"
	// AgentEndpointPrefix prefixes per-agent endpoints, e.g. "agent:worker-1".
	AgentEndpointPrefix = "agent:"
)

// ValidEndpoint returns true if the endpoint names a known destination kind.
func ValidEndpoint(ep string) bool {
	if ep == EndpointOrchestrator || ep == EndpointBroadcast {
		return true
	}
	return strings.HasPrefix(ep, AgentEndpointPrefix) && len(ep) > len(AgentEndpointPrefix)
}

// Envelope is the outer wire message wrapping a typed payload with routing
// and correlation metadata. TraceID is shared by every message in one
// request/response cycle; RequestID is the idempotency key. Both are
// generated once at entry and immutable thereafter.
type Envelope struct {
	// ProtocolVersion is the protocol version of the sender.
	ProtocolVersion string `json:"protocol_version"`
	// MessageID uniquely identifies this message.
	MessageID string `json:"message_id"`
	// From is the sending endpoint.
	From string `json:"from"`
	// To is the destination endpoint.
	To string `json:"to"`
	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`
	// TraceID correlates all messages of one request/response cycle.
	TraceID string `json:"trace_id"`
	// RequestID is the idempotency key; identical RequestIDs must never
	// cause two executions.
	RequestID string `json:"request_id"`
	// Type identifies the payload.
	Type MessageType `json:"type"`
	// Priority is the delivery priority, 1 (lowest) to 5 (highest).
	Priority int `json:"priority"`
	// Payload is the typed payload, encoded as JSON.
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope constructs an envelope around the given payload. It generates
// a fresh message ID, stamps the protocol version and timestamp, and encodes
// the payload. The payload's own invariants are checked before encoding.
func NewEnvelope(from, to, traceID, requestID string, priority int, payload Payload) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	env := &Envelope{
		ProtocolVersion: Version,
		MessageID:       uuid.NewString(),
		From:            from,
		To:              to,
		Timestamp:       time.Now().UTC(),
		TraceID:         traceID,
		RequestID:       requestID,
		Type:            payload.MessageType(),
		Priority:        priority,
		Payload:         raw,
	}

	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", payload.MessageType(), err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Validate checks the envelope's structural invariants. A validation failure
// is permanent: callers must dead-letter the message, never retry it.
func (e *Envelope) Validate() error {
	if e.ProtocolVersion == "" {
		return fmt.Errorf("%w: missing protocol_version", ErrMalformedEnvelope)
	}
	if e.MessageID == "" {
		return fmt.Errorf("%w: missing message_id", ErrMalformedEnvelope)
	}
	if !ValidEndpoint(e.From) {
		return fmt.Errorf("%w: unknown from endpoint %q", ErrMalformedEnvelope, e.From)
	}
	if !ValidEndpoint(e.To) {
		return fmt.Errorf("%w: unknown to endpoint %q", ErrMalformedEnvelope, e.To)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformedEnvelope)
	}
	if e.TraceID == "" {
		return fmt.Errorf("%w: missing trace_id", ErrMalformedEnvelope)
	}
	if e.RequestID == "" {
		return fmt.Errorf("%w: missing request_id", ErrMalformedEnvelope)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown message type %q", ErrMalformedEnvelope, e.Type)
	}
	if e.Priority < 1 || e.Priority > 5 {
		return fmt.Errorf("%w: priority %d outside 1-5", ErrMalformedEnvelope, e.Priority)
	}
	return nil
}

// AgentEndpoint returns the endpoint string for the given agent ID.
func AgentEndpoint(agentID string) string {
	return AgentEndpointPrefix + agentID
}
