package diff

import (
	"testing"
	"time"

	"github.com/flowctl/workflowrouter/internal/submission"
)

func baseSubmission(now time.Time) *submission.Submission {
	return &submission.Submission{
		SubmissionID:  "s-1",
		RouteID:       "R1",
		WorkflowID:    "W",
		ExternalID:    "X-1",
		Status:        submission.StatusQueued,
		SubmittedAt:   now.Add(-time.Minute),
		LastUpdatedAt: now,
		Version:       2,
	}
}

func TestDetectStatusChange(t *testing.T) {
	now := time.Now().UTC()
	stored := baseSubmission(now)

	incoming := stored.Clone()
	incoming.Status = submission.StatusRunning
	incoming.LastUpdatedAt = now.Add(10 * time.Second)

	d := Detect(stored, incoming)
	if d.Empty() {
		t.Fatal("expected a diff")
	}
	if got := d.RootChanges[submission.FieldStatus]; got != submission.StatusRunning {
		t.Errorf("status change = %v, want RUNNING", got)
	}
	if len(d.RootChanges) != 1 {
		t.Errorf("root changes = %d, want only status", len(d.RootChanges))
	}
}

func TestDetectOutOfOrderDiscarded(t *testing.T) {
	now := time.Now().UTC()
	stored := baseSubmission(now)

	incoming := stored.Clone()
	incoming.Status = submission.StatusRunning
	incoming.LastUpdatedAt = now.Add(-time.Minute)

	if d := Detect(stored, incoming); !d.Empty() {
		t.Errorf("out-of-order report produced a diff: %+v", d)
	}
}

func TestDetectSameSecondTolerated(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second).Add(500 * time.Millisecond)
	stored := baseSubmission(now)

	// Sub-second jitter backwards within the same second still applies.
	incoming := stored.Clone()
	incoming.Status = submission.StatusRunning
	incoming.LastUpdatedAt = now.Add(-300 * time.Millisecond)

	if d := Detect(stored, incoming); d.Empty() {
		t.Error("same-second report should not be treated as out-of-order")
	}
}

func TestDetectTerminalStoredFrozen(t *testing.T) {
	now := time.Now().UTC()
	stored := baseSubmission(now)
	stored.Status = submission.StatusCompleted

	incoming := stored.Clone()
	incoming.Status = submission.StatusRunning
	incoming.LastUpdatedAt = now.Add(time.Minute)

	if d := Detect(stored, incoming); !d.Empty() {
		t.Errorf("terminal submission produced a diff: %+v", d)
	}
}

func TestDetectIllegalTransitionIgnored(t *testing.T) {
	now := time.Now().UTC()
	stored := baseSubmission(now)
	stored.Status = submission.StatusQueued

	// QUEUED → COMPLETED skips RUNNING; not a legal edge.
	incoming := stored.Clone()
	incoming.Status = submission.StatusCompleted
	incoming.LastUpdatedAt = now.Add(time.Minute)

	d := Detect(stored, incoming)
	if _, ok := d.RootChanges[submission.FieldStatus]; ok {
		t.Error("illegal status transition should not be diffed")
	}
}

func TestDetectExternalIDSetOnce(t *testing.T) {
	now := time.Now().UTC()
	stored := baseSubmission(now)
	stored.ExternalID = ""

	incoming := stored.Clone()
	incoming.ExternalID = "X-9"
	incoming.LastUpdatedAt = now.Add(time.Second)

	d := Detect(stored, incoming)
	if got := d.RootChanges[submission.FieldExternalID]; got != "X-9" {
		t.Errorf("externalId change = %v, want X-9", got)
	}

	// Once set it never changes, even if the endpoint reports another.
	stored.ExternalID = "X-9"
	incoming2 := stored.Clone()
	incoming2.ExternalID = "X-10"
	incoming2.LastUpdatedAt = now.Add(2 * time.Second)
	d2 := Detect(stored, incoming2)
	if _, ok := d2.RootChanges[submission.FieldExternalID]; ok {
		t.Error("externalId must not change once set")
	}
}

func TestDetectResultChange(t *testing.T) {
	now := time.Now().UTC()
	stored := baseSubmission(now)
	stored.Result = map[string]interface{}{"a": "1"}

	incoming := stored.Clone()
	incoming.Result = map[string]interface{}{"a": "1", "b": "2"}
	incoming.LastUpdatedAt = now.Add(time.Second)

	d := Detect(stored, incoming)
	if _, ok := d.RootChanges[submission.FieldResult]; !ok {
		t.Error("expected result change")
	}

	// Equal-by-value maps produce no change.
	incoming2 := stored.Clone()
	incoming2.Result = map[string]interface{}{"a": "1"}
	incoming2.LastUpdatedAt = now.Add(2 * time.Second)
	if d2 := Detect(stored, incoming2); !d2.Empty() {
		t.Errorf("semantically equal result produced a diff: %+v", d2.RootChanges)
	}
}

func TestDetectTaskAddRemoveModify(t *testing.T) {
	now := time.Now().UTC()
	stored := baseSubmission(now)
	stored.Tasks = []submission.Task{
		{TaskID: "t1", Status: submission.StatusRunning, OrderIndex: 0},
		{TaskID: "t2", Status: submission.StatusQueued, OrderIndex: 1},
	}

	incoming := stored.Clone()
	incoming.LastUpdatedAt = now.Add(time.Second)
	incoming.Tasks = []submission.Task{
		{TaskID: "t1", Status: submission.StatusCompleted, OrderIndex: 0},
		{TaskID: "t3", Status: submission.StatusQueued, OrderIndex: 2},
	}

	d := Detect(stored, incoming)

	if len(d.InsertedTasks) != 1 || d.InsertedTasks[0].TaskID != "t3" {
		t.Errorf("inserted = %+v, want [t3]", d.InsertedTasks)
	}
	if len(d.RemovedTaskIDs) != 1 || d.RemovedTaskIDs[0] != "t2" {
		t.Errorf("removed = %v, want [t2]", d.RemovedTaskIDs)
	}
	if len(d.TaskDiffs) != 1 || d.TaskDiffs[0].TaskID != "t1" {
		t.Fatalf("task diffs = %+v, want one for t1", d.TaskDiffs)
	}
	if got := d.TaskDiffs[0].Changes["status"]; got != submission.StatusCompleted {
		t.Errorf("t1 status change = %v, want COMPLETED", got)
	}
}

func TestDetectNoChanges(t *testing.T) {
	now := time.Now().UTC()
	stored := baseSubmission(now)
	stored.Tasks = []submission.Task{{TaskID: "t1", Status: submission.StatusRunning}}

	incoming := stored.Clone()
	incoming.LastUpdatedAt = now.Add(time.Second)

	if d := Detect(stored, incoming); !d.Empty() {
		t.Errorf("identical snapshots produced a diff: %+v", d)
	}
}
