// Package driver defines the uniform endpoint-driver contract that
// hides SOAP/REST transport differences behind submit/poll/callback
// operations, plus the Selector that resolves an endpointType to a
// driver instance.
package driver

import (
	"context"
	"time"

	"github.com/flowctl/workflowrouter/internal/routererr"
	"github.com/flowctl/workflowrouter/internal/submission"
)

// Route is the immutable configuration a driver needs to reach one
// endpoint. It mirrors the Route Registry's RouteConfig but only the
// fields drivers actually consume, to keep the driver package decoupled
// from the registry package.
type Route struct {
	RouteID                string
	EndpointType           string
	EndpointURL            string
	UserID                 string
	Password               string
	Properties             map[string]interface{}
	StatusThresholdSeconds int
}

// RemoteStatus is what a driver reports back from a poll or callback.
type RemoteStatus struct {
	Status     submission.Status
	Result     map[string]interface{}
	Tasks      []submission.Task
	ReportedAt time.Time
}

// Driver is the uniform per-endpoint-kind contract. Implementations must
// be stateless with respect to individual submissions: any per-submission
// state lives in the Submission Store, not in the driver. Drivers may
// hold pooled transport state (HTTP clients, auth tokens) and are
// expected to be safe for concurrent use.
type Driver interface {
	// Submit dispatches a new workflow run and returns the endpoint's
	// externalId.
	Submit(ctx context.Context, route Route, workflowID string, parameters map[string]interface{}) (string, error)

	// PollStatus fetches the current remote status for an already
	// submitted externalId.
	PollStatus(ctx context.Context, route Route, externalID string) (RemoteStatus, error)

	// VerifyCallback parses an inbound callback payload for the route
	// and returns the report it carries. The REST and SOAP drivers only
	// check that the payload parses; they do not authenticate it against
	// the route's credentials.
	VerifyCallback(ctx context.Context, route Route, payload []byte) (RemoteStatus, error)

	// Kind returns the endpointType this driver handles.
	Kind() string
}

// Selector resolves endpointType to a Driver, built once at startup.
type Selector struct {
	drivers map[string]Driver
}

func NewSelector() *Selector {
	return &Selector{drivers: make(map[string]Driver)}
}

// Register adds d under its own Kind(). Intended to be called only
// during startup wiring, before the Selector is shared across goroutines.
func (s *Selector) Register(d Driver) {
	s.drivers[d.Kind()] = d
}

// Resolve returns the driver for endpointType, or ErrUnknownEndpoint.
func (s *Selector) Resolve(endpointType string) (Driver, error) {
	d, ok := s.drivers[endpointType]
	if !ok {
		return nil, routererr.New(routererr.KindUnknownEndpoint, endpointType)
	}
	return d, nil
}
