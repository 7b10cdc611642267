package fallback

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/convoy/pkg/models"
)

// Reasons recorded on FallbackDecisions. Each names why a tier was chosen,
// not what happened there; the Succeeded flag carries the outcome.
const (
	ReasonPrimaryOK            = "primary-ok"
	ReasonQuotaBelowThreshold  = "quota-below-threshold"
	ReasonComplexityAboveLimit = "complexity-above-medium"
	ReasonPrimaryFailed        = "primary-failed"
	ReasonSecondaryUnavailable = "secondary-unavailable"
	ReasonSecondaryFailed      = "secondary-failed"
)

// DecisionSink persists FallbackDecision records. The state store satisfies
// this; decision writes are best-effort audit and never fail the task.
type DecisionSink interface {
	SaveFallbackDecision(d models.FallbackDecision) error
}

// Options configures an Engine.
type Options struct {
	// QuotaThreshold is the minimum remaining primary quota fraction for
	// the primary tier to stay eligible.
	QuotaThreshold float64
	// LocalTimeout bounds one attempt on a local tier.
	LocalTimeout time.Duration
	// RemoteTimeout bounds one attempt on the remote tier.
	RemoteTimeout time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		QuotaThreshold: 0.20,
		LocalTimeout:   15 * time.Second,
		RemoteTimeout:  2 * time.Minute,
	}
}

// ExhaustedError reports that every eligible backend failed. It carries the
// full decision trail so the task failure can reference it.
type ExhaustedError struct {
	TaskID    string
	Decisions []models.FallbackDecision
}

// Error implements error.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all reasoning backends failed for task %s after %d attempts", e.TaskID, len(e.Decisions))
}

// Engine routes reasoning work across three tiers: a cheap local primary,
// a secondary local backend, and a costly remote backend. The primary is
// used while its remaining quota fraction is at or above the threshold and
// the task complexity is at most medium; otherwise work cascades down.
type Engine struct {
	primary   Backend
	secondary Backend
	remote    Backend
	quota     *QuotaTracker
	sink      DecisionSink
	opts      Options
}

// NewEngine creates an engine. Any tier may be nil; a nil tier is skipped
// with a recorded decision. A nil sink drops decisions.
func NewEngine(primary, secondary, remote Backend, quota *QuotaTracker, sink DecisionSink, opts Options) *Engine {
	if opts.QuotaThreshold <= 0 {
		opts.QuotaThreshold = 0.20
	}
	if opts.LocalTimeout <= 0 {
		opts.LocalTimeout = 15 * time.Second
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = 2 * time.Minute
	}
	if quota == nil {
		quota = NewQuotaTracker(0)
	}
	return &Engine{
		primary:   primary,
		secondary: secondary,
		remote:    remote,
		quota:     quota,
		sink:      sink,
		opts:      opts,
	}
}

// Quota returns the primary tier's quota tracker.
func (e *Engine) Quota() *QuotaTracker {
	return e.quota
}

// Execute routes one prompt through the tiers and returns the completion
// text. Every attempt at every tier writes one FallbackDecision. When all
// tiers fail the returned error is an *ExhaustedError carrying the trail.
func (e *Engine) Execute(ctx context.Context, taskID string, complexity models.Complexity, prompt string) (string, error) {
	var decisions []models.FallbackDecision

	attempt := func(b Backend, reason string, timeout time.Duration) (Completion, bool) {
		tierCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		completion, err := b.Complete(tierCtx, prompt)
		d := models.FallbackDecision{
			TaskID:         taskID,
			Backend:        b.Name(),
			Reason:         reason,
			QuotaRemaining: e.quota.Remaining(),
			Tokens:         completion.InputTokens + completion.OutputTokens,
			Cost:           completion.Cost,
			Succeeded:      err == nil,
			Timestamp:      time.Now().UTC(),
		}
		decisions = append(decisions, d)
		e.record(d)

		if err != nil {
			log.Printf("[fallback] task %s: backend %s failed: %v", taskID, b.Name(), err)
			return Completion{}, false
		}
		return completion, true
	}

	// The reason carried to the next tier explains why this tier is being
	// used instead of the one above it.
	nextReason := ReasonPrimaryOK
	if e.primary != nil {
		switch {
		case e.quota.Remaining() < e.opts.QuotaThreshold:
			nextReason = ReasonQuotaBelowThreshold
		case !complexity.AtMost(models.ComplexityMedium):
			nextReason = ReasonComplexityAboveLimit
		default:
			completion, ok := attempt(e.primary, ReasonPrimaryOK, e.opts.LocalTimeout)
			if ok {
				e.quota.Consume(completion.InputTokens + completion.OutputTokens)
				return completion.Text, nil
			}
			nextReason = ReasonPrimaryFailed
		}
	}

	if e.secondary != nil {
		completion, ok := attempt(e.secondary, nextReason, e.opts.LocalTimeout)
		if ok {
			return completion.Text, nil
		}
		nextReason = ReasonSecondaryFailed
	} else {
		nextReason = ReasonSecondaryUnavailable
	}

	if e.remote != nil {
		completion, ok := attempt(e.remote, nextReason, e.opts.RemoteTimeout)
		if ok {
			return completion.Text, nil
		}
	}

	return "", &ExhaustedError{TaskID: taskID, Decisions: decisions}
}

// Complete routes a prompt at medium complexity. It satisfies the agent
// runtime's Reasoner interface for agents carrying the reasoning capability.
func (e *Engine) Complete(ctx context.Context, taskID, prompt string) (string, error) {
	return e.Execute(ctx, taskID, models.ComplexityMedium, prompt)
}

func (e *Engine) record(d models.FallbackDecision) {
	if e.sink == nil {
		return
	}
	if err := e.sink.SaveFallbackDecision(d); err != nil {
		log.Printf("[fallback] recording decision for task %s failed: %v", d.TaskID, err)
	}
}
