package protocol

import "errors"

// ErrMalformedEnvelope marks permanent validation failures. Messages failing
// validation are dead-lettered and never retried.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// ErrUnknownPayload indicates a decode of an unregistered message type.
var ErrUnknownPayload = errors.New("unknown payload type")

// Reserved error-code ranges, one non-overlapping block per subsystem.
const (
	// CodeProtocolBase starts the protocol subsystem range (1000-1999).
	CodeProtocolBase = 1000
	// CodeBusBase starts the message bus range (2000-2999).
	CodeBusBase = 2000
	// CodeAgentBase starts the agent runtime range (3000-3999).
	CodeAgentBase = 3000
	// CodeOrchestratorBase starts the orchestrator range (4000-4999).
	CodeOrchestratorBase = 4000
	// CodeFallbackBase starts the fallback engine range (5000-5999).
	CodeFallbackBase = 5000
	// codeMax is the exclusive upper bound of all ranges.
	codeMax = 10000
)

// Well-known error codes.
const (
	// CodeValidationFailed is a permanent envelope or payload validation error.
	CodeValidationFailed = CodeProtocolBase + 1
	// CodeDeliveryExhausted is a message that ran out of delivery attempts.
	CodeDeliveryExhausted = CodeBusBase + 1
	// CodeExecutionFailed is a task execution failure on an agent.
	CodeExecutionFailed = CodeAgentBase + 1
	// CodeExecutionTimeout is a task that exceeded its execution timeout.
	CodeExecutionTimeout = CodeAgentBase + 2
	// CodeNoEligibleAgent is a routing pass that found no capable agent.
	CodeNoEligibleAgent = CodeOrchestratorBase + 1
	// CodeUnknownTask is a reference to a task the orchestrator does not know.
	CodeUnknownTask = CodeOrchestratorBase + 2
	// CodeUnparseableRequest is a request the decomposer could not parse.
	CodeUnparseableRequest = CodeOrchestratorBase + 3
	// CodeUnknownPlan is a reference to a plan the orchestrator does not know.
	CodeUnknownPlan = CodeOrchestratorBase + 4
	// CodeStatusConflict is a plan or task operation that lost a status race.
	CodeStatusConflict = CodeOrchestratorBase + 5
	// CodeFallbackExhausted is a reasoning request that failed at every tier.
	CodeFallbackExhausted = CodeFallbackBase + 1
)

// ValidErrorCode returns true if code falls inside a reserved subsystem range.
func ValidErrorCode(code int) bool {
	return code >= CodeProtocolBase && code < codeMax
}
