// Package agent implements the per-agent runtime: connection lifecycle,
// heartbeat emission, idempotent work consumption, and the executor table.
package agent

import (
	"sync"
	"time"

	"github.com/ShayCichocki/convoy/internal/protocol"
)

// IdempotencyCache is a bounded, time-boxed mapping from request ID to the
// WorkResult already produced for it. A cache hit re-publishes the cached
// result instead of executing again, so redelivery of the same request_id
// never causes two executions. It is safe for concurrent use by the work
// and heartbeat loops.
type IdempotencyCache struct {
	// entries maps request IDs to cached results.
	entries map[string]cacheEntry
	// maxSize bounds the cache; the oldest entry is evicted past it.
	maxSize int
	// ttl is how long an entry stays valid.
	ttl time.Duration
	// mu protects all fields.
	mu sync.Mutex
}

type cacheEntry struct {
	result   *protocol.WorkResult
	storedAt time.Time
}

// NewIdempotencyCache creates a cache with the given bounds.
func NewIdempotencyCache(maxSize int, ttl time.Duration) *IdempotencyCache {
	if maxSize <= 0 {
		maxSize = 128
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &IdempotencyCache{
		entries: make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the cached result for a request ID, or nil on a miss.
// Expired entries are treated as misses and dropped.
func (c *IdempotencyCache) Get(requestID string) *protocol.WorkResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[requestID]
	if !ok {
		return nil
	}
	if time.Since(e.storedAt) > c.ttl {
		delete(c.entries, requestID)
		return nil
	}
	return e.result
}

// Put stores a result for a request ID, evicting expired entries first and
// then the oldest entry if the cache is still full.
func (c *IdempotencyCache) Put(requestID string, result *protocol.WorkResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, e := range c.entries {
		if now.Sub(e.storedAt) > c.ttl {
			delete(c.entries, id)
		}
	}

	if len(c.entries) >= c.maxSize {
		var oldestID string
		var oldestAt time.Time
		for id, e := range c.entries {
			if oldestID == "" || e.storedAt.Before(oldestAt) {
				oldestID = id
				oldestAt = e.storedAt
			}
		}
		delete(c.entries, oldestID)
	}

	c.entries[requestID] = cacheEntry{result: result, storedAt: now}
}

// Len returns the number of cached entries, including not-yet-swept
// expired ones.
func (c *IdempotencyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
