package callback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowctl/workflowrouter/internal/driver"
	"github.com/flowctl/workflowrouter/internal/registry"
	"github.com/flowctl/workflowrouter/internal/routererr"
	"github.com/flowctl/workflowrouter/internal/submission"
	"github.com/flowctl/workflowrouter/internal/submissionstore"
)

type fakeDriver struct {
	rs  driver.RemoteStatus
	err error
}

func (d *fakeDriver) Submit(ctx context.Context, route driver.Route, workflowID string, parameters map[string]interface{}) (string, error) {
	return "", nil
}

func (d *fakeDriver) PollStatus(ctx context.Context, route driver.Route, externalID string) (driver.RemoteStatus, error) {
	return driver.RemoteStatus{}, nil
}

func (d *fakeDriver) VerifyCallback(ctx context.Context, route driver.Route, payload []byte) (driver.RemoteStatus, error) {
	return d.rs, d.err
}

func (d *fakeDriver) Kind() string { return "REST" }

type fakeApplier struct {
	applied   []string
	returnSub *submission.Submission
}

func (a *fakeApplier) ApplyRemoteStatus(ctx context.Context, submissionID string, rs driver.RemoteStatus) (*submission.Submission, error) {
	a.applied = append(a.applied, submissionID)
	return a.returnSub, nil
}

func newSink(t *testing.T, drv *fakeDriver, store *submissionstore.MemoryStore, applier *fakeApplier) *Sink {
	t.Helper()
	reg := registry.New()
	err := reg.Reload([]registry.RouteConfig{
		{RouteID: "R1", EndpointType: "REST", EndpointURL: "http://a"},
	})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	selector := driver.NewSelector()
	selector.Register(drv)
	return New(reg, selector, store, applier)
}

func seedSubmission(t *testing.T, store *submissionstore.MemoryStore, externalID string) *submission.Submission {
	t.Helper()
	now := time.Now().UTC()
	sub := &submission.Submission{
		SubmissionID:  "s-1",
		RouteID:       "R1",
		WorkflowID:    "W",
		ExternalID:    externalID,
		Status:        submission.StatusRunning,
		SubmittedAt:   now,
		LastUpdatedAt: now,
		Version:       2,
	}
	if err := store.Create(context.Background(), sub); err != nil {
		t.Fatalf("create: %v", err)
	}
	return sub
}

func TestHandleAppliesVerifiedCallback(t *testing.T) {
	store := submissionstore.NewMemoryStore()
	sub := seedSubmission(t, store, "X-1")

	updated := sub.Clone()
	updated.Status = submission.StatusCompleted
	updated.Version = 3

	drv := &fakeDriver{rs: driver.RemoteStatus{
		Status:     submission.StatusCompleted,
		Result:     map[string]interface{}{"externalId": "X-1"},
		ReportedAt: time.Now().UTC(),
	}}
	applier := &fakeApplier{returnSub: updated}
	sink := newSink(t, drv, store, applier)

	final, err := sink.Handle(context.Background(), "R1", []byte(`{}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(applier.applied) != 1 || applier.applied[0] != "s-1" {
		t.Errorf("applied = %v, want [s-1]", applier.applied)
	}
	if final.Status != submission.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", final.Status)
	}
}

func TestHandleUnknownRoute(t *testing.T) {
	sink := newSink(t, &fakeDriver{}, submissionstore.NewMemoryStore(), &fakeApplier{})

	_, err := sink.Handle(context.Background(), "nope", []byte(`{}`))
	if !errors.Is(err, routererr.ErrUnknownRoute) {
		t.Fatalf("err = %v, want UnknownRoute", err)
	}
}

func TestHandleVerificationFailure(t *testing.T) {
	drv := &fakeDriver{err: routererr.New(routererr.KindInvalidCallback, "bad signature")}
	sink := newSink(t, drv, submissionstore.NewMemoryStore(), &fakeApplier{})

	_, err := sink.Handle(context.Background(), "R1", []byte(`garbage`))
	if !errors.Is(err, routererr.ErrInvalidCallback) {
		t.Fatalf("err = %v, want InvalidCallback", err)
	}
}

func TestHandleMissingExternalID(t *testing.T) {
	drv := &fakeDriver{rs: driver.RemoteStatus{Status: submission.StatusRunning}}
	sink := newSink(t, drv, submissionstore.NewMemoryStore(), &fakeApplier{})

	_, err := sink.Handle(context.Background(), "R1", []byte(`{}`))
	if !errors.Is(err, routererr.ErrInvalidCallback) {
		t.Fatalf("err = %v, want InvalidCallback", err)
	}
}

func TestHandleUnknownExternalID(t *testing.T) {
	store := submissionstore.NewMemoryStore()
	seedSubmission(t, store, "X-1")

	drv := &fakeDriver{rs: driver.RemoteStatus{
		Status: submission.StatusRunning,
		Result: map[string]interface{}{"externalId": "X-unknown"},
	}}
	sink := newSink(t, drv, store, &fakeApplier{})

	_, err := sink.Handle(context.Background(), "R1", []byte(`{}`))
	if !errors.Is(err, routererr.ErrNotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}
