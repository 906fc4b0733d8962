package lease

import (
	"context"
	"sync"
	"time"
)

// MemoryLeaser is an in-process Leaser for tests and single-instance
// standalone runs. Expiry is checked lazily on the next Acquire, which
// is enough for the at-most-once guarantee within one process.
type MemoryLeaser struct {
	mu   sync.Mutex
	held map[string]time.Time
	ttl  time.Duration
}

func NewMemoryLeaser(ttl time.Duration) *MemoryLeaser {
	return &MemoryLeaser{held: make(map[string]time.Time), ttl: ttl}
}

func (l *MemoryLeaser) Acquire(ctx context.Context, key string) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, ok := l.held[key]; ok && time.Now().Before(expiry) {
		return nil, false, nil
	}
	l.held[key] = time.Now().Add(l.ttl)
	return &memoryLease{leaser: l, key: key}, true, nil
}

type memoryLease struct {
	leaser *MemoryLeaser
	key    string
}

func (m *memoryLease) Release(ctx context.Context) error {
	m.leaser.mu.Lock()
	defer m.leaser.mu.Unlock()
	delete(m.leaser.held, m.key)
	return nil
}
