package statuscache

import (
	"context"
	"sync"
	"time"

	"github.com/flowctl/workflowrouter/internal/submission"
)

// MemoryCache is an in-process Cache used in tests and as a standalone
// fallback when no Redis is configured. It honours the same TTL policy
// as the Redis implementation, checked lazily on read.
type MemoryCache struct {
	mu             sync.RWMutex
	entries        map[string]memoryEntry
	terminalTTL    time.Duration
	nonTerminalTTL time.Duration
}

type memoryEntry struct {
	sub       *submission.Submission
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries:        make(map[string]memoryEntry),
		terminalTTL:    DefaultTerminalTTL,
		nonTerminalTTL: DefaultNonTerminalTTL,
	}
}

func (c *MemoryCache) Put(ctx context.Context, sub *submission.Submission, routeThreshold time.Duration) error {
	ttl := c.nonTerminalTTL
	if sub.Status.Terminal() {
		ttl = c.terminalTTL
	} else if routeThreshold > 0 && routeThreshold < ttl {
		ttl = routeThreshold
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[SubKey(sub.SubmissionID)] = memoryEntry{sub: sub.Clone(), expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Get(ctx context.Context, submissionID string) *submission.Submission {
	c.mu.RLock()
	e, ok := c.entries[SubKey(submissionID)]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil
	}
	return e.sub.Clone()
}

func (c *MemoryCache) Evict(ctx context.Context, sub *submission.Submission) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, SubKey(sub.SubmissionID))
	return nil
}
