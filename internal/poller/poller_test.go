package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flowctl/workflowrouter/internal/registry"
	"github.com/flowctl/workflowrouter/internal/submission"
	"github.com/flowctl/workflowrouter/internal/submissionstore"
)

type fakeRefresher struct {
	mu        sync.Mutex
	refreshed []string
	recovered []string
}

func (f *fakeRefresher) Refresh(ctx context.Context, submissionID string) (*submission.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, submissionID)
	return nil, nil
}

func (f *fakeRefresher) RecoverStuck(ctx context.Context, submissionID string) (*submission.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered = append(f.recovered, submissionID)
	return nil, nil
}

func (f *fakeRefresher) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refreshed), len(f.recovered)
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	err := reg.Reload([]registry.RouteConfig{
		{RouteID: "fast", EndpointType: "REST", EndpointURL: "http://a", StatusThresholdSeconds: 30},
		{RouteID: "slow", EndpointType: "REST", EndpointURL: "http://b", StatusThresholdSeconds: 600},
	})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	return reg
}

func seed(t *testing.T, store *submissionstore.MemoryStore, id, routeID string, status submission.Status, externalID string, updatedAt time.Time) {
	t.Helper()
	err := store.Create(context.Background(), &submission.Submission{
		SubmissionID:  id,
		RouteID:       routeID,
		WorkflowID:    "W",
		ExternalID:    externalID,
		Status:        status,
		SubmittedAt:   updatedAt,
		LastUpdatedAt: updatedAt,
		Version:       1,
	})
	if err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func TestSweepRefreshesOnlyStale(t *testing.T) {
	store := submissionstore.NewMemoryStore()
	now := time.Now().UTC()

	// Stale against its 30s threshold.
	seed(t, store, "stale-fast", "fast", submission.StatusRunning, "X-1", now.Add(-time.Minute))
	// Same age but the slow route's 600s threshold tolerates it.
	seed(t, store, "fresh-slow", "slow", submission.StatusRunning, "X-2", now.Add(-time.Minute))
	// Terminal rows never appear in the sweep.
	seed(t, store, "done", "fast", submission.StatusCompleted, "X-3", now.Add(-time.Hour))

	ref := &fakeRefresher{}
	p := New(store, testRegistry(t), ref)
	p.Sweep(context.Background())

	refreshed, recovered := ref.counts()
	if refreshed != 1 {
		t.Fatalf("refreshed = %d, want 1", refreshed)
	}
	if ref.refreshed[0] != "stale-fast" {
		t.Errorf("refreshed %s, want stale-fast", ref.refreshed[0])
	}
	if recovered != 0 {
		t.Errorf("recovered = %d, want 0", recovered)
	}
}

func TestSweepRecoversStuckSubmitted(t *testing.T) {
	store := submissionstore.NewMemoryStore()
	now := time.Now().UTC()

	// SUBMITTED with no externalId: crashed between create and dispatch.
	seed(t, store, "stuck", "fast", submission.StatusSubmitted, "", now.Add(-time.Minute))
	// SUBMITTED with an externalId refreshes normally.
	seed(t, store, "dispatched", "fast", submission.StatusSubmitted, "X-1", now.Add(-time.Minute))

	ref := &fakeRefresher{}
	p := New(store, testRegistry(t), ref)
	p.Sweep(context.Background())

	refreshed, recovered := ref.counts()
	if recovered != 1 || ref.recovered[0] != "stuck" {
		t.Errorf("recovered = %v, want [stuck]", ref.recovered)
	}
	if refreshed != 1 || ref.refreshed[0] != "dispatched" {
		t.Errorf("refreshed = %v, want [dispatched]", ref.refreshed)
	}
}

func TestSweepSkipsUnknownRoute(t *testing.T) {
	store := submissionstore.NewMemoryStore()
	now := time.Now().UTC()
	seed(t, store, "orphan", "gone", submission.StatusRunning, "X-1", now.Add(-time.Hour))

	ref := &fakeRefresher{}
	p := New(store, testRegistry(t), ref)
	p.Sweep(context.Background())

	refreshed, recovered := ref.counts()
	if refreshed != 0 || recovered != 0 {
		t.Errorf("orphaned submission was processed (refreshed=%d recovered=%d)", refreshed, recovered)
	}
}

func TestStartStop(t *testing.T) {
	store := submissionstore.NewMemoryStore()
	ref := &fakeRefresher{}
	p := New(store, testRegistry(t), ref)
	p.SetInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	p.Stop()
	// Stop is idempotent.
	p.Stop()
}
