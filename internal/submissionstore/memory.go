package submissionstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowctl/workflowrouter/internal/routererr"
	"github.com/flowctl/workflowrouter/internal/submission"
)

// MemoryStore is an in-process Store used in tests and as a standalone
// fallback. It implements the same version-checked apply semantics as
// the Postgres-backed store.
type MemoryStore struct {
	mu          sync.RWMutex
	submissions map[string]*submission.Submission
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		submissions: make(map[string]*submission.Submission),
		now:         time.Now,
	}
}

// SetClock overrides the store's clock. Test hook only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *MemoryStore) Create(ctx context.Context, sub *submission.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[sub.SubmissionID] = sub.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, submissionID string) (*submission.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[submissionID]
	if !ok {
		return nil, nil
	}
	return sub.Clone(), nil
}

func (s *MemoryStore) ApplyDiff(ctx context.Context, submissionID string, expectedVersion int, d *submission.Diff) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[submissionID]
	if !ok {
		return 0, routererr.ErrNotFound
	}
	if sub.Version != expectedVersion {
		return 0, routererr.ErrConflict
	}
	if sub.Status.Terminal() {
		// Terminal rows never change; treat as a silent no-op success.
		return sub.Version, nil
	}

	applyRootChanges(sub, d.RootChanges)
	applyTaskChanges(sub, d, s.now)

	sub.LastUpdatedAt = s.now().UTC()
	sub.Version++
	return sub.Version, nil
}

func applyRootChanges(sub *submission.Submission, changes map[string]interface{}) {
	for field, v := range changes {
		switch field {
		case submission.FieldStatus:
			if st, ok := v.(submission.Status); ok {
				sub.Status = st
			}
		case submission.FieldExternalID:
			if sub.ExternalID == "" {
				if id, ok := v.(string); ok {
					sub.ExternalID = id
				}
			}
		case submission.FieldErrorMessage:
			if msg, ok := v.(string); ok {
				sub.ErrorMessage = msg
			}
		case submission.FieldResult:
			if res, ok := v.(map[string]interface{}); ok {
				sub.Result = res
			}
		}
	}
}

func applyTaskChanges(sub *submission.Submission, d *submission.Diff, now func() time.Time) {
	if len(d.RemovedTaskIDs) > 0 {
		removed := make(map[string]bool, len(d.RemovedTaskIDs))
		for _, id := range d.RemovedTaskIDs {
			removed[id] = true
		}
		kept := sub.Tasks[:0]
		for _, t := range sub.Tasks {
			if !removed[t.TaskID] {
				kept = append(kept, t)
			}
		}
		sub.Tasks = kept
	}

	for _, td := range d.TaskDiffs {
		t := sub.TaskByID(td.TaskID)
		if t == nil {
			continue
		}
		for field, v := range td.Changes {
			switch field {
			case "status":
				if st, ok := v.(submission.Status); ok {
					t.Status = st
				}
			case "externalTaskId":
				if id, ok := v.(string); ok {
					t.ExternalTaskID = id
				}
			case "startedAt":
				if ts, ok := v.(time.Time); ok {
					t.StartedAt = ts
				}
			case "endedAt":
				if ts, ok := v.(time.Time); ok {
					t.EndedAt = ts
				}
			}
		}
		t.UpdatedAt = now().UTC()
	}

	sub.Tasks = append(sub.Tasks, d.InsertedTasks...)
}

func (s *MemoryStore) FindByPeriod(ctx context.Context, from, to time.Time, filter PeriodFilter) ([]submission.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []submission.Submission
	for _, sub := range s.submissions {
		if sub.SubmittedAt.Before(from) || !sub.SubmittedAt.Before(to) {
			continue
		}
		if !matchesFilter(sub, filter) {
			continue
		}
		out = append(out, *sub.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].SubmissionID < out[j].SubmissionID
	})
	return out, nil
}

func (s *MemoryStore) FindByExternalID(ctx context.Context, routeID, externalID string) (*submission.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.submissions {
		if sub.RouteID == routeID && sub.ExternalID == externalID {
			return sub.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListNonTerminal(ctx context.Context) ([]submission.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []submission.Submission
	for _, sub := range s.submissions {
		if sub.Status.Terminal() {
			continue
		}
		out = append(out, *sub.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUpdatedAt.Before(out[j].LastUpdatedAt)
	})
	return out, nil
}

func matchesFilter(sub *submission.Submission, filter PeriodFilter) bool {
	if filter.RouteID != "" && sub.RouteID != filter.RouteID {
		return false
	}
	if filter.WorkflowID != "" && sub.WorkflowID != filter.WorkflowID {
		return false
	}
	if filter.Status != "" && sub.Status != filter.Status {
		return false
	}
	for k, v := range filter.Parameters {
		pv, ok := sub.Parameters[k]
		if !ok || pv != v {
			return false
		}
	}
	return true
}
