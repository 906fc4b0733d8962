// Package diff implements the field-level change detector and the
// selective updater that wraps it with conflict retry. Detection is by
// explicit per-entity comparison functions declared alongside the data
// model they compare; no reflection.
package diff

import (
	"fmt"

	"github.com/flowctl/workflowrouter/internal/submission"
)

// Detect compares a stored Submission snapshot against an incoming one
// and returns the diff to apply. If incoming.LastUpdatedAt predates
// stored.LastUpdatedAt the incoming record is discarded as out-of-order
// and an empty diff is returned — this guards against late callbacks
// racing an already-newer poll result.
func Detect(stored, incoming *submission.Submission) *submission.Diff {
	d := &submission.Diff{SubmissionID: stored.SubmissionID, RootChanges: map[string]interface{}{}}

	if truncSecond(incoming.LastUpdatedAt).Before(truncSecond(stored.LastUpdatedAt)) {
		return d
	}

	if stored.Status.Terminal() {
		// Terminal submissions never change again; discard silently.
		return d
	}

	diffRootFields(stored, incoming, d)
	diffTasks(stored, incoming, d)

	return d
}

// diffRootFields compares root fields by semantic equality, ignoring
// version, submittedAt, submissionId and routeId. null and absent are
// treated as equal for Result since both arrive as nil or empty maps
// depending on the endpoint.
func diffRootFields(stored, incoming *submission.Submission, d *submission.Diff) {
	if incoming.Status != stored.Status && submission.CanTransition(stored.Status, incoming.Status) {
		d.RootChanges[submission.FieldStatus] = incoming.Status
	}

	if incoming.ExternalID != "" && stored.ExternalID == "" {
		d.RootChanges[submission.FieldExternalID] = incoming.ExternalID
	}

	if incoming.ErrorMessage != stored.ErrorMessage {
		d.RootChanges[submission.FieldErrorMessage] = incoming.ErrorMessage
	}

	if !mapsEqual(stored.Result, incoming.Result) {
		d.RootChanges[submission.FieldResult] = incoming.Result
	}
}

// diffTasks matches tasks by taskId: tasks present in incoming but not
// stored are inserted, tasks present in stored but not incoming are
// removed, and common tasks are compared field by field.
func diffTasks(stored, incoming *submission.Submission, d *submission.Diff) {
	storedByID := make(map[string]*submission.Task, len(stored.Tasks))
	for i := range stored.Tasks {
		storedByID[stored.Tasks[i].TaskID] = &stored.Tasks[i]
	}
	incomingByID := make(map[string]bool, len(incoming.Tasks))

	for i := range incoming.Tasks {
		t := incoming.Tasks[i]
		incomingByID[t.TaskID] = true
		prior, existed := storedByID[t.TaskID]
		if !existed {
			d.InsertedTasks = append(d.InsertedTasks, t)
			continue
		}
		if td, changed := diffOneTask(prior, &t); changed {
			d.TaskDiffs = append(d.TaskDiffs, td)
		}
	}

	for id := range storedByID {
		if !incomingByID[id] {
			d.RemovedTaskIDs = append(d.RemovedTaskIDs, id)
		}
	}
}

func diffOneTask(stored, incoming *submission.Task) (submission.TaskDiff, bool) {
	td := submission.TaskDiff{TaskID: stored.TaskID, Changes: map[string]interface{}{}}

	if incoming.Status != stored.Status {
		td.Changes["status"] = incoming.Status
	}
	if incoming.ExternalTaskID != "" && incoming.ExternalTaskID != stored.ExternalTaskID {
		td.Changes["externalTaskId"] = incoming.ExternalTaskID
	}
	if !truncSecond(incoming.StartedAt).Equal(truncSecond(stored.StartedAt)) && !incoming.StartedAt.IsZero() {
		td.Changes["startedAt"] = incoming.StartedAt
	}
	if !truncSecond(incoming.EndedAt).Equal(truncSecond(stored.EndedAt)) && !incoming.EndedAt.IsZero() {
		td.Changes["endedAt"] = incoming.EndedAt
	}

	return td, len(td.Changes) > 0
}

// mapsEqual compares two result maps by value, not by reflection: each
// entry is stringified and compared, which is sufficient for the
// endpoint-reported scalar/string output this field carries.
func mapsEqual(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}

func truncSecond(t interface {
	Unix() int64
}) secondStamp {
	return secondStamp(t.Unix())
}

type secondStamp int64

func (s secondStamp) Before(o secondStamp) bool { return s < o }
func (s secondStamp) Equal(o secondStamp) bool  { return s == o }
