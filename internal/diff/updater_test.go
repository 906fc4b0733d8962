package diff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowctl/workflowrouter/internal/routererr"
	"github.com/flowctl/workflowrouter/internal/submission"
	"github.com/flowctl/workflowrouter/internal/submissionstore"
)

// conflictingStore wraps the memory store and forces the first n
// ApplyDiff calls to conflict, simulating a concurrent writer.
type conflictingStore struct {
	submissionstore.Store
	conflictsLeft int
}

func (s *conflictingStore) ApplyDiff(ctx context.Context, submissionID string, expectedVersion int, d *submission.Diff) (int, error) {
	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		return 0, routererr.ErrConflict
	}
	return s.Store.ApplyDiff(ctx, submissionID, expectedVersion, d)
}

func seeded(t *testing.T) (*submissionstore.MemoryStore, *submission.Submission) {
	t.Helper()
	store := submissionstore.NewMemoryStore()
	now := time.Now().UTC()
	sub := &submission.Submission{
		SubmissionID:  "s-1",
		RouteID:       "R1",
		WorkflowID:    "W",
		Status:        submission.StatusQueued,
		ExternalID:    "X-1",
		SubmittedAt:   now,
		LastUpdatedAt: now,
		Version:       1,
	}
	if err := store.Create(context.Background(), sub); err != nil {
		t.Fatalf("create: %v", err)
	}
	return store, sub
}

func TestUpdaterAppliesChange(t *testing.T) {
	store, sub := seeded(t)
	u := NewUpdater(store)

	incoming := sub.Clone()
	incoming.Status = submission.StatusRunning
	incoming.LastUpdatedAt = sub.LastUpdatedAt.Add(time.Second)

	final, changed, err := u.Apply(context.Background(), sub, incoming)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !changed {
		t.Fatal("expected a change")
	}
	if final.Status != submission.StatusRunning {
		t.Errorf("status = %s, want RUNNING", final.Status)
	}
	if final.Version != 2 {
		t.Errorf("version = %d, want 2", final.Version)
	}
}

func TestUpdaterNoopOnEmptyDiff(t *testing.T) {
	store, sub := seeded(t)
	u := NewUpdater(store)

	incoming := sub.Clone()
	incoming.LastUpdatedAt = sub.LastUpdatedAt.Add(time.Second)

	final, changed, err := u.Apply(context.Background(), sub, incoming)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if changed {
		t.Error("no fields changed, expected changed=false")
	}
	if final.Version != 1 {
		t.Errorf("version = %d, want unchanged 1", final.Version)
	}
}

func TestUpdaterRetriesOnConflict(t *testing.T) {
	store, sub := seeded(t)
	wrapped := &conflictingStore{Store: store, conflictsLeft: 2}
	u := NewUpdater(wrapped)

	incoming := sub.Clone()
	incoming.Status = submission.StatusRunning
	incoming.LastUpdatedAt = sub.LastUpdatedAt.Add(time.Second)

	final, changed, err := u.Apply(context.Background(), sub, incoming)
	if err != nil {
		t.Fatalf("apply after retries: %v", err)
	}
	if !changed {
		t.Fatal("expected change on third attempt")
	}
	if final.Status != submission.StatusRunning {
		t.Errorf("status = %s, want RUNNING", final.Status)
	}
}

func TestUpdaterContendedAfterExhaustion(t *testing.T) {
	store, sub := seeded(t)
	wrapped := &conflictingStore{Store: store, conflictsLeft: 100}
	u := NewUpdater(wrapped)

	incoming := sub.Clone()
	incoming.Status = submission.StatusRunning
	incoming.LastUpdatedAt = sub.LastUpdatedAt.Add(time.Second)

	_, _, err := u.Apply(context.Background(), sub, incoming)
	if !errors.Is(err, routererr.ErrContended) {
		t.Fatalf("err = %v, want Contended", err)
	}
}
