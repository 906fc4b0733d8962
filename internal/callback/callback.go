// Package callback is the callback sink: it accepts opaque
// endpoint-initiated payloads, passes them to the route driver's
// VerifyCallback, and feeds the resulting status into the Router Core's refresh
// path. Callbacks and poller refreshes deduplicate on the same
// per-submission lease.
package callback

import (
	"context"
	"fmt"
	"log"

	"github.com/flowctl/workflowrouter/internal/driver"
	"github.com/flowctl/workflowrouter/internal/observability"
	"github.com/flowctl/workflowrouter/internal/registry"
	"github.com/flowctl/workflowrouter/internal/routererr"
	"github.com/flowctl/workflowrouter/internal/submission"
)

// StatusApplier is the slice of the Router Core the sink feeds.
type StatusApplier interface {
	ApplyRemoteStatus(ctx context.Context, submissionID string, rs driver.RemoteStatus) (*submission.Submission, error)
}

// Locator finds the submission a callback refers to. Endpoints report
// their own externalId, not our submissionId, so the sink resolves one
// to the other through the store.
type Locator interface {
	FindByExternalID(ctx context.Context, routeID, externalID string) (*submission.Submission, error)
}

// Sink verifies and routes inbound callbacks.
type Sink struct {
	registry *registry.Registry
	selector *driver.Selector
	locator  Locator
	applier  StatusApplier
}

func New(reg *registry.Registry, selector *driver.Selector, locator Locator, applier StatusApplier) *Sink {
	return &Sink{registry: reg, selector: selector, locator: locator, applier: applier}
}

// Handle processes one callback payload for the given route. The payload
// must carry the endpoint's externalId so the submission can be located;
// drivers surface it in the RemoteStatus result under "externalId".
func (s *Sink) Handle(ctx context.Context, routeID string, payload []byte) (*submission.Submission, error) {
	route, err := s.registry.Lookup(routeID)
	if err != nil {
		observability.CallbacksTotal.WithLabelValues(routeID, "rejected").Inc()
		return nil, err
	}
	drv, err := s.selector.Resolve(route.EndpointType)
	if err != nil {
		observability.CallbacksTotal.WithLabelValues(routeID, "rejected").Inc()
		return nil, err
	}

	rs, err := drv.VerifyCallback(ctx, driverRoute(route), payload)
	if err != nil {
		observability.CallbacksTotal.WithLabelValues(routeID, "rejected").Inc()
		return nil, routererr.Wrap(routererr.KindInvalidCallback, "callback verification failed", err)
	}

	externalID := externalIDOf(rs)
	if externalID == "" {
		observability.CallbacksTotal.WithLabelValues(routeID, "rejected").Inc()
		return nil, routererr.New(routererr.KindInvalidCallback, "callback carries no externalId")
	}

	sub, err := s.locator.FindByExternalID(ctx, routeID, externalID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		observability.CallbacksTotal.WithLabelValues(routeID, "rejected").Inc()
		return nil, routererr.New(routererr.KindNotFound, fmt.Sprintf("no submission for external id %s", externalID))
	}

	final, err := s.applier.ApplyRemoteStatus(ctx, sub.SubmissionID, rs)
	if err != nil {
		return nil, err
	}

	if final.Version == sub.Version {
		// Out-of-order or duplicate delivery; the guard dropped it.
		observability.CallbacksTotal.WithLabelValues(routeID, "stale").Inc()
		log.Printf("Callback: report for %s (external %s) carried nothing new", sub.SubmissionID, externalID)
	} else {
		observability.CallbacksTotal.WithLabelValues(routeID, "applied").Inc()
	}
	return final, nil
}

// externalIDOf pulls the endpoint's externalId out of the verified
// report's result mapping.
func externalIDOf(rs driver.RemoteStatus) string {
	if rs.Result == nil {
		return ""
	}
	if v, ok := rs.Result["externalId"]; ok {
		return fmt.Sprint(v)
	}
	return ""
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
