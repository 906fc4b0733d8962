// Package router is the routing core: it orchestrates submit,
// status lookup and by-period queries, arbitrates cache/store/endpoint
// freshness, and owns the per-submission refresh lease. The poller and
// the callback sink both terminate in this package's refresh path, so
// every status source goes through the same change-detection and
// selective-update pipeline.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/flowctl/workflowrouter/internal/diff"
	"github.com/flowctl/workflowrouter/internal/driver"
	"github.com/flowctl/workflowrouter/internal/lease"
	"github.com/flowctl/workflowrouter/internal/observability"
	"github.com/flowctl/workflowrouter/internal/registry"
	"github.com/flowctl/workflowrouter/internal/routererr"
	"github.com/flowctl/workflowrouter/internal/statuscache"
	"github.com/flowctl/workflowrouter/internal/submission"
	"github.com/flowctl/workflowrouter/internal/submissionstore"
)

const (
	DefaultDriverTimeout = 2 * time.Second
	DefaultCacheTimeout  = 500 * time.Millisecond
)

// TransitionListener is notified after a submission's persisted state
// changed. Delivery is asynchronous and best-effort: listeners are for
// observability (the status stream), not control flow.
type TransitionListener interface {
	SubmissionUpdated(sub *submission.Submission)
}

// Router wires the registry, store, cache, lease, driver selector and
// updater together. All collaborators are constructed once at startup
// and passed in explicitly; the Router holds no process-global state.
type Router struct {
	registry  *registry.Registry
	store     submissionstore.Store
	cache     statuscache.Cache
	leaser    lease.Leaser
	selector  *driver.Selector
	updater   *diff.Updater
	coalescer *lease.Coalescer

	listeners []TransitionListener

	driverTimeout time.Duration
	cacheTimeout  time.Duration
	now           func() time.Time
}

func New(reg *registry.Registry, store submissionstore.Store, cache statuscache.Cache, leaser lease.Leaser, selector *driver.Selector) *Router {
	return &Router{
		registry:      reg,
		store:         store,
		cache:         cache,
		leaser:        leaser,
		selector:      selector,
		updater:       diff.NewUpdater(store),
		coalescer:     lease.NewCoalescer(),
		driverTimeout: DefaultDriverTimeout,
		cacheTimeout:  DefaultCacheTimeout,
		now:           time.Now,
	}
}

// SetDriverTimeout overrides the per-driver-call deadline budget.
func (r *Router) SetDriverTimeout(d time.Duration) {
	r.driverTimeout = d
}

// SetCacheTimeout overrides the per-cache-call deadline budget.
func (r *Router) SetCacheTimeout(d time.Duration) {
	r.cacheTimeout = d
}

// SetClock overrides the router's clock. Test hook only.
func (r *Router) SetClock(now func() time.Time) {
	r.now = now
}

// AddListener registers a state-transition listener. Intended to be
// called only during startup wiring, before the Router serves traffic.
func (r *Router) AddListener(l TransitionListener) {
	r.listeners = append(r.listeners, l)
}

// SubmitWorkflow resolves the route, persists a new SUBMITTED row,
// dispatches to the endpoint driver, and records the outcome: QUEUED
// with the endpoint's externalId on success, FAILED with the reason on
// failure. The submissionId is returned in both cases so the caller can
// always track what was created; a driver failure additionally surfaces
// as SubmitFailed.
func (r *Router) SubmitWorkflow(ctx context.Context, routeID, workflowID string, parameters map[string]interface{}) (string, error) {
	if workflowID == "" {
		return "", routererr.New(routererr.KindInvalidParams, "workflowId is required")
	}

	route, err := r.registry.Lookup(routeID)
	if err != nil {
		observability.SubmissionsTotal.WithLabelValues(routeID, "unknown_route").Inc()
		return "", err
	}
	drv, err := r.selector.Resolve(route.EndpointType)
	if err != nil {
		return "", err
	}

	now := r.now().UTC()
	sub := &submission.Submission{
		SubmissionID:  uuid.NewString(),
		RouteID:       routeID,
		WorkflowID:    workflowID,
		Parameters:    parameters,
		Status:        submission.StatusSubmitted,
		SubmittedAt:   now,
		LastUpdatedAt: now,
		Version:       1,
	}

	if err := r.store.Create(ctx, sub); err != nil {
		return "", fmt.Errorf("creating submission: %w", err)
	}

	driverCtx, cancel := context.WithTimeout(ctx, r.driverTimeout)
	defer cancel()

	start := time.Now()
	externalID, submitErr := drv.Submit(driverCtx, driverRoute(route), workflowID, parameters)
	observability.DriverCallDuration.WithLabelValues(drv.Kind(), "submit").Observe(time.Since(start).Seconds())

	incoming := sub.Clone()
	incoming.LastUpdatedAt = r.now().UTC()
	if submitErr != nil {
		incoming.Status = submission.StatusFailed
		incoming.ErrorMessage = submitErr.Error()
	} else {
		incoming.Status = submission.StatusQueued
		incoming.ExternalID = externalID
	}

	final, _, applyErr := r.updater.Apply(ctx, sub, incoming)
	if applyErr != nil {
		// The row exists and the poller will reconcile it; surface the
		// durability problem rather than the driver outcome.
		return sub.SubmissionID, fmt.Errorf("recording submit outcome for %s: %w", sub.SubmissionID, applyErr)
	}

	r.putCache(ctx, final, route)
	r.notify(final)

	if submitErr != nil {
		observability.SubmissionsTotal.WithLabelValues(routeID, "failed").Inc()
		log.Printf("Router: submit %s to route %s failed: %v", sub.SubmissionID, routeID, submitErr)
		return sub.SubmissionID, routererr.Wrap(routererr.KindSubmitFailed, "endpoint rejected submission", submitErr)
	}

	observability.SubmissionsTotal.WithLabelValues(routeID, "queued").Inc()
	return sub.SubmissionID, nil
}

// GetSubmissionStatus serves a submission with the freshness arbitration
// of the three-layer lookup: cache first, then store, then — only for a
// stale non-terminal row — a lease-guarded endpoint poll. A refresh that
// cannot complete (endpoint down, lease held elsewhere) degrades to the
// stored value rather than failing the query.
func (r *Router) GetSubmissionStatus(ctx context.Context, submissionID string) (*submission.Submission, error) {
	cached := r.cache.Get(ctx, submissionID)
	if cached != nil {
		if cached.Status.Terminal() {
			observability.StatusLookups.WithLabelValues("cache").Inc()
			return cached, nil
		}
		if route, err := r.registry.Lookup(cached.RouteID); err == nil && r.fresh(cached, route) {
			observability.StatusLookups.WithLabelValues("cache").Inc()
			return cached, nil
		}
	}

	stored, err := r.store.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		observability.StatusLookups.WithLabelValues("not_found").Inc()
		return nil, routererr.New(routererr.KindNotFound, submissionID)
	}

	route, routeErr := r.registry.Lookup(stored.RouteID)
	if stored.Status.Terminal() || routeErr != nil || r.fresh(stored, route) {
		// Unknown route (removed from config) means there is nothing to
		// poll; the stored row is the best answer available.
		r.putCache(ctx, stored, route)
		observability.StatusLookups.WithLabelValues("store").Inc()
		return stored, nil
	}

	observability.StatusLookups.WithLabelValues("refresh").Inc()
	return r.coalescer.Do(ctx, submissionID, func() (*submission.Submission, error) {
		return r.refresh(ctx, stored, route)
	})
}

// GetSubmissionsByPeriod is the bulk view: it delegates straight to the
// store and never refreshes individual rows.
func (r *Router) GetSubmissionsByPeriod(ctx context.Context, from, to time.Time, filter submissionstore.PeriodFilter) ([]submission.Submission, error) {
	return r.store.FindByPeriod(ctx, from, to, filter)
}

// Refresh re-reads the submission and, if it is still non-terminal, runs
// the lease-guarded poll-and-update path. Used by the status poller.
func (r *Router) Refresh(ctx context.Context, submissionID string) (*submission.Submission, error) {
	stored, err := r.store.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, routererr.New(routererr.KindNotFound, submissionID)
	}
	if stored.Status.Terminal() {
		return stored, nil
	}
	route, err := r.registry.Lookup(stored.RouteID)
	if err != nil {
		return stored, nil
	}
	return r.coalescer.Do(ctx, submissionID, func() (*submission.Submission, error) {
		return r.refresh(ctx, stored, route)
	})
}

// RecoverStuck handles a submission stuck in SUBMITTED with no
// externalId — the process died between the store insert and the driver
// dispatch. The driver submit is retried once; if the endpoint still
// rejects it the submission is marked FAILED so it stops haunting the
// poller's sweep.
func (r *Router) RecoverStuck(ctx context.Context, submissionID string) (*submission.Submission, error) {
	stored, err := r.store.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, routererr.New(routererr.KindNotFound, submissionID)
	}
	if stored.Status != submission.StatusSubmitted || stored.ExternalID != "" {
		return stored, nil
	}

	route, err := r.registry.Lookup(stored.RouteID)
	if err != nil {
		return stored, nil
	}
	drv, err := r.selector.Resolve(route.EndpointType)
	if err != nil {
		return stored, nil
	}

	held, ok, err := r.leaser.Acquire(ctx, statuscache.RefreshLeaseKey(submissionID))
	if err != nil || !ok {
		return stored, nil
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("Router: releasing lease for %s: %v", submissionID, err)
		}
	}()

	driverCtx, cancel := context.WithTimeout(ctx, r.driverTimeout)
	defer cancel()

	externalID, submitErr := drv.Submit(driverCtx, driverRoute(route), stored.WorkflowID, stored.Parameters)

	incoming := stored.Clone()
	incoming.LastUpdatedAt = r.now().UTC()
	if submitErr != nil {
		incoming.Status = submission.StatusFailed
		incoming.ErrorMessage = fmt.Sprintf("submit retry failed: %v", submitErr)
		log.Printf("Router: stuck submission %s failed its retry: %v", submissionID, submitErr)
	} else {
		incoming.Status = submission.StatusQueued
		incoming.ExternalID = externalID
		log.Printf("Router: recovered stuck submission %s with external id %s", submissionID, externalID)
	}

	final, changed, applyErr := r.updater.Apply(ctx, stored, incoming)
	if applyErr != nil {
		return stored, applyErr
	}
	if changed {
		r.putCache(ctx, final, route)
		r.notify(final)
	}
	return final, nil
}

// ApplyRemoteStatus feeds an already-verified endpoint report (a
// callback) into the refresh path under the same per-submission lease,
// so callback and poller races deduplicate on the lease instead of
// double-writing.
func (r *Router) ApplyRemoteStatus(ctx context.Context, submissionID string, rs driver.RemoteStatus) (*submission.Submission, error) {
	stored, err := r.store.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, routererr.New(routererr.KindNotFound, submissionID)
	}
	if stored.Status.Terminal() {
		return stored, nil
	}

	held, ok, err := r.leaser.Acquire(ctx, statuscache.RefreshLeaseKey(submissionID))
	if err != nil {
		log.Printf("Router: lease acquire for %s failed, applying callback without cross-process guard: %v", submissionID, err)
	} else if !ok {
		// Another worker is refreshing this submission right now; its
		// poll result supersedes this callback.
		observability.RefreshAttempts.WithLabelValues("lease_lost").Inc()
		return stored, nil
	}
	if held != nil {
		defer func() {
			if err := held.Release(context.WithoutCancel(ctx)); err != nil {
				log.Printf("Router: releasing lease for %s: %v", submissionID, err)
			}
		}()
	}

	route, routeErr := r.registry.Lookup(stored.RouteID)
	return r.applyRemote(ctx, stored, route, routeErr == nil, rs)
}

// refresh runs under the caller-side coalescer: acquire the distributed
// lease, poll the driver, and apply whatever came back. Losing the lease
// or losing the endpoint both degrade to the stored value.
func (r *Router) refresh(ctx context.Context, stored *submission.Submission, route registry.RouteConfig) (*submission.Submission, error) {
	held, ok, err := r.leaser.Acquire(ctx, statuscache.RefreshLeaseKey(stored.SubmissionID))
	if err != nil {
		log.Printf("Router: lease acquire for %s failed, serving stored value: %v", stored.SubmissionID, err)
		return stored, nil
	}
	if !ok {
		observability.RefreshAttempts.WithLabelValues("lease_lost").Inc()
		return stored, nil
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("Router: releasing lease for %s: %v", stored.SubmissionID, err)
		}
	}()

	// Re-check under the lease: a refresh that completed while we raced
	// for it makes this one redundant.
	if current, err := r.store.Get(ctx, stored.SubmissionID); err == nil && current != nil {
		stored = current
	}
	if stored.Status.Terminal() || r.fresh(stored, route) {
		return stored, nil
	}

	drv, err := r.selector.Resolve(route.EndpointType)
	if err != nil {
		return stored, nil
	}

	driverCtx, cancel := context.WithTimeout(ctx, r.driverTimeout)
	defer cancel()

	start := time.Now()
	rs, pollErr := drv.PollStatus(driverCtx, driverRoute(route), stored.ExternalID)
	observability.DriverCallDuration.WithLabelValues(drv.Kind(), "poll").Observe(time.Since(start).Seconds())

	if pollErr != nil {
		return r.handlePollError(ctx, stored, route, pollErr)
	}
	return r.applyRemote(ctx, stored, route, true, rs)
}

func (r *Router) handlePollError(ctx context.Context, stored *submission.Submission, route registry.RouteConfig, pollErr error) (*submission.Submission, error) {
	if errors.Is(pollErr, routererr.ErrNotFound) {
		// The endpoint no longer knows this externalId; the run is gone.
		incoming := stored.Clone()
		incoming.Status = submission.StatusFailed
		incoming.ErrorMessage = fmt.Sprintf("endpoint no longer recognizes external id %s", stored.ExternalID)
		incoming.LastUpdatedAt = r.now().UTC()

		final, changed, err := r.updater.Apply(ctx, stored, incoming)
		if err != nil {
			log.Printf("Router: recording endpoint loss for %s: %v", stored.SubmissionID, err)
			return stored, nil
		}
		if changed {
			r.putCache(ctx, final, route)
			r.notify(final)
		}
		observability.RefreshAttempts.WithLabelValues("driver_not_found").Inc()
		return final, nil
	}

	// Unavailable/Transport (and anything else transient): state stays
	// unchanged, the stored value is served, the poller retries later.
	observability.RefreshAttempts.WithLabelValues("driver_unavailable").Inc()
	log.Printf("Router: poll for %s failed, serving stored value: %v", stored.SubmissionID, pollErr)
	return stored, nil
}

// applyRemote converts a RemoteStatus into an incoming snapshot, runs
// change detection, and persists/caches/broadcasts the result. Must be
// called with the refresh lease held (or knowingly without one when the
// lease backend itself is down).
func (r *Router) applyRemote(ctx context.Context, stored *submission.Submission, route registry.RouteConfig, routeKnown bool, rs driver.RemoteStatus) (*submission.Submission, error) {
	incoming := remoteToSnapshot(stored, rs)

	final, changed, err := r.updater.Apply(ctx, stored, incoming)
	if err != nil {
		return nil, err
	}
	if !changed {
		observability.RefreshAttempts.WithLabelValues("unchanged").Inc()
		return final, nil
	}

	observability.RefreshAttempts.WithLabelValues("updated").Inc()
	if routeKnown {
		r.putCache(ctx, final, route)
	}
	r.notify(final)
	return final, nil
}

// remoteToSnapshot builds the incoming snapshot the change detector
// diffs against the stored one. ReportedAt becomes the snapshot's
// lastUpdatedAt, which is what the detector's out-of-order guard keys on.
func remoteToSnapshot(stored *submission.Submission, rs driver.RemoteStatus) *submission.Submission {
	incoming := stored.Clone()
	incoming.Status = rs.Status
	incoming.Result = rs.Result
	incoming.LastUpdatedAt = rs.ReportedAt

	incoming.Tasks = make([]submission.Task, len(rs.Tasks))
	copy(incoming.Tasks, rs.Tasks)
	for i := range incoming.Tasks {
		incoming.Tasks[i].SubmissionID = stored.SubmissionID
	}
	return incoming
}

func (r *Router) fresh(sub *submission.Submission, route registry.RouteConfig) bool {
	return r.now().Sub(sub.LastUpdatedAt) <= threshold(route)
}

func threshold(route registry.RouteConfig) time.Duration {
	return time.Duration(route.StatusThresholdSeconds) * time.Second
}

func (r *Router) putCache(ctx context.Context, sub *submission.Submission, route registry.RouteConfig) {
	// The write survives caller cancellation but stays bounded; a slow
	// cache must not hold up the response path.
	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cacheTimeout)
	defer cancel()
	if err := r.cache.Put(cacheCtx, sub, threshold(route)); err != nil {
		// Cache failures never surface; the store remains authoritative.
		log.Printf("Router: caching %s failed: %v", sub.SubmissionID, err)
	}
}

// notify fans a changed submission out to the registered listeners,
// asynchronously and best-effort.
func (r *Router) notify(sub *submission.Submission) {
	for _, l := range r.listeners {
		go l.SubmissionUpdated(sub.Clone())
	}
}

func driverRoute(rc registry.RouteConfig) driver.Route {
	return driver.Route{
		RouteID:                rc.RouteID,
		EndpointType:           rc.EndpointType,
		EndpointURL:            rc.EndpointURL,
		UserID:                 rc.UserID,
		Password:               rc.Password,
		Properties:             rc.Properties,
		StatusThresholdSeconds: rc.StatusThresholdSeconds,
	}
}
