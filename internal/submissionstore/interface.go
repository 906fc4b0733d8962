// Package submissionstore is the durable record of every submission.
// It exposes create/get/applyDiff/findByPeriod; applyDiff is the only
// path that mutates a submission after creation, and is version-checked
// so concurrent writers detect and surface conflicts instead of silently
// clobbering each other.
package submissionstore

import (
	"context"
	"time"

	"github.com/flowctl/workflowrouter/internal/submission"
)

// PeriodFilter restricts FindByPeriod to the explicit set of predicates
// named in the data model: routeId, workflowId, status, and a bounded
// set of key/value predicates over parameters. Extending to arbitrary
// parameter predicates was deliberately deferred rather than guessed.
type PeriodFilter struct {
	RouteID    string
	WorkflowID string
	Status     submission.Status
	Parameters map[string]interface{}
}

// Store is the submission store contract.
type Store interface {
	// Create inserts a new submission. Requires SubmissionID set,
	// Version == 1, Status == SUBMITTED.
	Create(ctx context.Context, s *submission.Submission) error

	// Get returns the submission by id, or (nil, nil) if not found.
	Get(ctx context.Context, submissionID string) (*submission.Submission, error)

	// ApplyDiff atomically applies d to the submission at expectedVersion,
	// returning the new version. Returns routererr.ErrConflict if the
	// stored version doesn't match expectedVersion, routererr.ErrNotFound
	// if the submission doesn't exist.
	ApplyDiff(ctx context.Context, submissionID string, expectedVersion int, d *submission.Diff) (int, error)

	// FindByPeriod returns submissions with submittedAt in [from, to),
	// ordered by (submittedAt, submissionId) ascending, matching filter.
	FindByPeriod(ctx context.Context, from, to time.Time, filter PeriodFilter) ([]submission.Submission, error)

	// FindByExternalID returns the submission the endpoint knows by
	// externalID on the given route, or (nil, nil) if none matches.
	// Callbacks carry the endpoint's identifier, not ours.
	FindByExternalID(ctx context.Context, routeID, externalID string) (*submission.Submission, error)

	// ListNonTerminal returns every submission not yet in a terminal
	// status, oldest lastUpdatedAt first. The poller's staleness sweep
	// filters these against each route's own threshold.
	ListNonTerminal(ctx context.Context) ([]submission.Submission, error)
}
