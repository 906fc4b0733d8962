package statuscache

import (
	"context"
	"testing"
	"time"

	"github.com/flowctl/workflowrouter/internal/submission"
)

func cachedSubmission(status submission.Status) *submission.Submission {
	now := time.Now().UTC()
	return &submission.Submission{
		SubmissionID:  "s-1",
		RouteID:       "R1",
		Status:        status,
		SubmittedAt:   now,
		LastUpdatedAt: now,
		Version:       2,
	}
}

func TestMemoryCachePutGetEvict(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	sub := cachedSubmission(submission.StatusQueued)

	if got := c.Get(ctx, "s-1"); got != nil {
		t.Fatal("expected miss on empty cache")
	}

	if err := c.Put(ctx, sub, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	got := c.Get(ctx, "s-1")
	if got == nil {
		t.Fatal("expected hit")
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}

	// The cached copy is independent of the caller's.
	got.Status = submission.StatusFailed
	if again := c.Get(ctx, "s-1"); again.Status != submission.StatusQueued {
		t.Error("cache entry mutated through a returned copy")
	}

	if err := c.Evict(ctx, sub); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if got := c.Get(ctx, "s-1"); got != nil {
		t.Fatal("expected miss after evict")
	}
}

func TestMemoryCacheThresholdBoundsTTL(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	sub := cachedSubmission(submission.StatusRunning)

	// A tiny route threshold caps the entry's lifetime.
	if err := c.Put(ctx, sub, 10*time.Millisecond); err != nil {
		t.Fatalf("put: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := c.Get(ctx, "s-1"); got != nil {
		t.Error("non-terminal entry outlived its route threshold")
	}

	// Terminal entries ignore the route threshold.
	done := cachedSubmission(submission.StatusCompleted)
	if err := c.Put(ctx, done, 10*time.Millisecond); err != nil {
		t.Fatalf("put terminal: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := c.Get(ctx, "s-1"); got == nil {
		t.Error("terminal entry should use the long terminal TTL")
	}
}

func TestKeyShapes(t *testing.T) {
	if got := SubKey("abc"); got != "sub:abc" {
		t.Errorf("SubKey = %q", got)
	}
	if got := IndexKey("R1", "RUNNING", "abc"); got != "idx:R1:RUNNING:abc" {
		t.Errorf("IndexKey = %q", got)
	}
	if got := RefreshLeaseKey("abc"); got != "refresh:abc" {
		t.Errorf("RefreshLeaseKey = %q", got)
	}
}
