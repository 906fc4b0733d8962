package lease

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLeaserMutualExclusion(t *testing.T) {
	l := NewMemoryLeaser(time.Minute)
	ctx := context.Background()

	held, ok, err := l.Acquire(ctx, "refresh:s-1")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	if _, ok, _ := l.Acquire(ctx, "refresh:s-1"); ok {
		t.Fatal("second acquire should lose while lease is held")
	}

	// A different key is independent.
	if _, ok, _ := l.Acquire(ctx, "refresh:s-2"); !ok {
		t.Fatal("unrelated key should acquire")
	}

	if err := held.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := l.Acquire(ctx, "refresh:s-1"); !ok {
		t.Fatal("acquire after release should win")
	}
}

func TestMemoryLeaserExpiry(t *testing.T) {
	l := NewMemoryLeaser(10 * time.Millisecond)
	ctx := context.Background()

	if _, ok, _ := l.Acquire(ctx, "refresh:s-1"); !ok {
		t.Fatal("first acquire should win")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := l.Acquire(ctx, "refresh:s-1"); !ok {
		t.Fatal("expired lease should be reacquirable")
	}
}
