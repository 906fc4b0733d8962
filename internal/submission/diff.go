package submission

// Diff is the structured description of what changed between a stored
// Submission snapshot and an incoming one. The Selective Updater turns
// this into column-scoped updates and child row inserts/deletes/updates;
// it never overwrites a full row.
type Diff struct {
	SubmissionID  string
	RootChanges   map[string]interface{} // field name -> new value
	InsertedTasks []Task
	RemovedTaskIDs []string
	TaskDiffs     []TaskDiff
}

// TaskDiff describes a field-level change to one existing task.
type TaskDiff struct {
	TaskID  string
	Changes map[string]interface{}
}

// Empty reports whether the diff carries no changes at all.
func (d *Diff) Empty() bool {
	if d == nil {
		return true
	}
	return len(d.RootChanges) == 0 &&
		len(d.InsertedTasks) == 0 &&
		len(d.RemovedTaskIDs) == 0 &&
		len(d.TaskDiffs) == 0
}

// Root field names used as RootChanges keys. Kept as constants so the
// store and the detector agree on spelling.
const (
	FieldStatus       = "status"
	FieldExternalID   = "externalId"
	FieldErrorMessage = "errorMessage"
	FieldResult       = "result"
	FieldLastUpdated  = "lastUpdatedAt"
)
