// Package submission defines the core data model tracked by the router:
// Submissions and their child Tasks, the status state machine, and the
// diff structure the change detector and selective updater exchange.
package submission

import "time"

// Status is the lifecycle state of a Submission.
type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether s is one of the terminal statuses. Terminal
// submissions never transition again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// validTransitions encodes the submission state machine: any transition
// not listed here (including any transition out of a terminal status) is
// rejected as a no-op.
var validTransitions = map[Status]map[Status]bool{
	StatusSubmitted: {StatusQueued: true, StatusFailed: true},
	StatusQueued:    {StatusRunning: true, StatusFailed: true, StatusCancelled: true},
	StatusRunning:   {StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
}

// CanTransition reports whether moving from "from" to "to" is legal.
// Same-status "transitions" are always allowed (no-op write guard lives
// in the diff layer, not here).
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	return validTransitions[from][to]
}

// Task is a child execution unit of a Submission, as reported by the
// endpoint driver. Identity equality is by TaskID.
type Task struct {
	TaskID         string    `json:"taskId" db:"task_id"`
	SubmissionID   string    `json:"submissionId" db:"submission_id"`
	ExternalTaskID string    `json:"externalTaskId" db:"external_task_id"`
	Status         Status    `json:"status" db:"status"`
	StartedAt      time.Time `json:"startedAt,omitempty" db:"started_at"`
	EndedAt        time.Time `json:"endedAt,omitempty" db:"ended_at"`
	OrderIndex     int       `json:"orderIndex" db:"order_index"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
}

// Submission is the central tracked entity.
type Submission struct {
	SubmissionID  string                 `json:"submissionId" db:"submission_id"`
	RouteID       string                 `json:"routeId" db:"route_id"`
	WorkflowID    string                 `json:"workflowId" db:"workflow_id"`
	ExternalID    string                 `json:"externalId,omitempty" db:"external_id"`
	Parameters    map[string]interface{} `json:"parameters" db:"parameters"`
	Status        Status                 `json:"status" db:"status"`
	SubmittedAt   time.Time              `json:"submittedAt" db:"submitted_at"`
	LastUpdatedAt time.Time              `json:"lastUpdatedAt" db:"last_updated_at"`
	ErrorMessage  string                 `json:"errorMessage,omitempty" db:"error_message"`
	Result        map[string]interface{} `json:"result,omitempty" db:"result"`
	Tasks         []Task                 `json:"tasks"`
	Version       int                    `json:"version" db:"version"`
}

// Clone returns an independent deep copy of s. Used to take a snapshot
// before a mutation so the change detector can diff against a stable
// prior state (an explicit clone, not a serializer round-trip).
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	c := *s
	c.Parameters = cloneMap(s.Parameters)
	c.Result = cloneMap(s.Result)
	if s.Tasks != nil {
		c.Tasks = make([]Task, len(s.Tasks))
		copy(c.Tasks, s.Tasks)
	}
	return &c
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// TaskByID returns a pointer to the task with the given id, or nil.
func (s *Submission) TaskByID(taskID string) *Task {
	for i := range s.Tasks {
		if s.Tasks[i].TaskID == taskID {
			return &s.Tasks[i]
		}
	}
	return nil
}
