package diff

import (
	"context"
	"errors"
	"log"

	"github.com/flowctl/workflowrouter/internal/observability"
	"github.com/flowctl/workflowrouter/internal/routererr"
	"github.com/flowctl/workflowrouter/internal/submission"
	"github.com/flowctl/workflowrouter/internal/submissionstore"
)

const maxApplyAttempts = 3

// Updater wraps Store.ApplyDiff with retry-on-Conflict: on a version
// conflict it re-reads the submission, re-runs Detect against the fresh
// stored snapshot, and re-applies. After maxApplyAttempts it surfaces
// Contended to the caller.
type Updater struct {
	Store submissionstore.Store
}

func NewUpdater(store submissionstore.Store) *Updater {
	return &Updater{Store: store}
}

// Apply diffs "stored" against "incoming" and persists the result,
// retrying on conflicting concurrent writers. It returns the submission
// as read back after the write (so callers get a consistent version),
// and whether anything actually changed.
func (u *Updater) Apply(ctx context.Context, stored, incoming *submission.Submission) (*submission.Submission, bool, error) {
	current := stored
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		d := Detect(current, incoming)
		if d.Empty() {
			return current, false, nil
		}

		newVersion, err := u.Store.ApplyDiff(ctx, current.SubmissionID, current.Version, d)
		if err == nil {
			fresh, getErr := u.Store.Get(ctx, current.SubmissionID)
			if getErr != nil {
				return nil, false, getErr
			}
			if fresh == nil {
				return nil, false, routererr.ErrNotFound
			}
			_ = newVersion
			observability.DiffApplySuccess.Inc()
			return fresh, true, nil
		}

		if !errors.Is(err, routererr.ErrConflict) {
			return nil, false, err
		}

		observability.DiffApplyConflicts.Inc()
		log.Printf("diff: conflict applying to submission %s, attempt %d/%d", current.SubmissionID, attempt+1, maxApplyAttempts)
		fresh, getErr := u.Store.Get(ctx, current.SubmissionID)
		if getErr != nil {
			return nil, false, getErr
		}
		if fresh == nil {
			return nil, false, routererr.ErrNotFound
		}
		current = fresh
	}

	return nil, false, routererr.New(routererr.KindContended, "exhausted retries applying diff to "+current.SubmissionID)
}
