package fallback

import "sync"

// QuotaTracker tracks token consumption against a fixed budget for one
// backend. Remaining reports the unused fraction in [0,1], which the engine
// compares against its threshold.
type QuotaTracker struct {
	mu     sync.Mutex
	budget int64
	used   int64
}

// NewQuotaTracker creates a tracker with the given token budget.
// A non-positive budget means unmetered; Remaining always reports 1.
func NewQuotaTracker(budget int64) *QuotaTracker {
	return &QuotaTracker{budget: budget}
}

// Consume records token usage.
func (q *QuotaTracker) Consume(tokens int64) {
	if tokens <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.used += tokens
}

// Remaining returns the unused budget fraction in [0,1].
func (q *QuotaTracker) Remaining() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.budget <= 0 {
		return 1
	}
	frac := 1 - float64(q.used)/float64(q.budget)
	if frac < 0 {
		return 0
	}
	return frac
}

// Used returns the tokens consumed so far.
func (q *QuotaTracker) Used() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}
