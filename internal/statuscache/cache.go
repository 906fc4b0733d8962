// Package statuscache is the response cache: a short-lived,
// Redis-backed key/value store keyed by submission id, with a secondary
// index by route+status. Cache failures are always treated as misses —
// the Submission Store is the source of truth and a cache outage never
// surfaces to the caller.
package statuscache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowctl/workflowrouter/internal/observability"
	"github.com/flowctl/workflowrouter/internal/submission"
)

// TTL policy, overridable at construction: 24h for terminal entries, a
// 1h ceiling for non-terminal ones.
const (
	DefaultTerminalTTL    = 24 * time.Hour
	DefaultNonTerminalTTL = time.Hour
)

// Cache is the Response Cache contract. Both the Redis-backed production
// implementation and the in-memory test/standalone implementation
// satisfy it; a nil cache handle is never passed to the router.
type Cache interface {
	// Put replaces the cached entry for sub; routeThreshold caps the
	// non-terminal TTL.
	Put(ctx context.Context, sub *submission.Submission, routeThreshold time.Duration) error

	// Get returns the cached submission, or nil on a miss or any
	// cache-side failure.
	Get(ctx context.Context, submissionID string) *submission.Submission

	// Evict removes the primary entry plus its secondary index entry.
	Evict(ctx context.Context, sub *submission.Submission) error
}

// RedisCache is the production Cache backed by Redis.
type RedisCache struct {
	client         *redis.Client
	terminalTTL    time.Duration
	nonTerminalTTL time.Duration
}

func New(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:         client,
		terminalTTL:    DefaultTerminalTTL,
		nonTerminalTTL: DefaultNonTerminalTTL,
	}
}

// WithTTLs overrides the default TTL policy, e.g. from router-wide
// configuration.
func (c *RedisCache) WithTTLs(terminal, nonTerminal time.Duration) *RedisCache {
	c.terminalTTL = terminal
	c.nonTerminalTTL = nonTerminal
	return c
}

// Put atomically replaces the cached entry for sub, writing the body once
// to the primary key and an index marker for cheap route+status listing.
// routeThreshold is the route's statusThresholdSeconds, used to cap the
// non-terminal TTL.
func (c *RedisCache) Put(ctx context.Context, sub *submission.Submission, routeThreshold time.Duration) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshaling submission for cache: %w", err)
	}

	ttl := c.ttlFor(sub, routeThreshold)

	start := time.Now()
	defer func() { observability.RedisLatency.Observe(time.Since(start).Seconds()) }()

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, SubKey(sub.SubmissionID), body, ttl)
	pipe.Set(ctx, IndexKey(sub.RouteID, string(sub.Status), sub.SubmissionID), "1", ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing cache entry for %s: %w", sub.SubmissionID, err)
	}
	return nil
}

func (c *RedisCache) ttlFor(sub *submission.Submission, routeThreshold time.Duration) time.Duration {
	if sub.Status.Terminal() {
		return c.terminalTTL
	}
	if routeThreshold > 0 && routeThreshold < c.nonTerminalTTL {
		return routeThreshold
	}
	return c.nonTerminalTTL
}

// Get returns the cached submission, or nil on a miss or any Redis-side
// failure — callers fall through to the Store on both.
func (c *RedisCache) Get(ctx context.Context, submissionID string) *submission.Submission {
	start := time.Now()
	defer func() { observability.RedisLatency.Observe(time.Since(start).Seconds()) }()

	body, err := c.client.Get(ctx, SubKey(submissionID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("statuscache: get %s failed, treating as miss: %v", submissionID, err)
		}
		return nil
	}

	var sub submission.Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		log.Printf("statuscache: corrupt cache entry for %s, treating as miss: %v", submissionID, err)
		return nil
	}
	return &sub
}

// Evict removes the primary entry plus its secondary index entry.
func (c *RedisCache) Evict(ctx context.Context, sub *submission.Submission) error {
	start := time.Now()
	defer func() { observability.RedisLatency.Observe(time.Since(start).Seconds()) }()

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, SubKey(sub.SubmissionID))
	pipe.Del(ctx, IndexKey(sub.RouteID, string(sub.Status), sub.SubmissionID))
	_, err := pipe.Exec(ctx)
	return err
}
