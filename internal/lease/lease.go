// Package lease implements the refresh lease: the one cross-process
// mutex in the system, guaranteeing at-most-one concurrent driver poll
// per submission across all callers (API, poller, callback). No fencing
// epoch, no renewal loop: acquire/release scoped to the lifetime of a
// single refresh.
package lease

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// Lease is an acquired refresh lease; it must be released exactly once.
type Lease interface {
	Release(ctx context.Context) error
}

// Leaser hands out per-submission refresh leases. The production
// implementation is Redis-backed so the lease holds across service
// instances; an in-memory implementation backs tests and standalone runs.
type Leaser interface {
	// Acquire attempts to take the lease for key. ok is false if another
	// caller currently holds it — the caller should read the stored
	// value without polling (LeaseLost semantics).
	Acquire(ctx context.Context, key string) (Lease, bool, error)
}

// RedisLeaser acquires leases via Redis SETNX and releases them with an
// owner-checked Lua delete, so an expired lease can never be released by
// a holder that lost it.
type RedisLeaser struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *RedisLeaser {
	return &RedisLeaser{client: client, ttl: ttl}
}

// Held is a lease acquired from a RedisLeaser.
type Held struct {
	key    string
	owner  string
	client *redis.Client
}

func (l *RedisLeaser) Acquire(ctx context.Context, key string) (Lease, bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Held{key: key, owner: owner, client: l.client}, true, nil
}

// Release drops the lease if it is still owned by this Held handle. It
// is always called, including on the failure paths of a refresh, so a
// held lease never outlives the refresh attempt that acquired it.
func (h *Held) Release(ctx context.Context) error {
	if h == nil {
		return nil
	}
	return h.client.Eval(ctx, releaseScript, []string{h.key}, h.owner).Err()
}
