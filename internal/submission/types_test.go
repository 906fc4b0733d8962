package submission

import (
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusSubmitted, StatusQueued, true},
		{StatusSubmitted, StatusFailed, true},
		{StatusSubmitted, StatusRunning, false},
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusQueued, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusQueued, false},
		{StatusCancelled, StatusRunning, false},
		{StatusRunning, StatusRunning, true},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, st := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !st.Terminal() {
			t.Errorf("%s should be terminal", st)
		}
	}
	for _, st := range []Status{StatusSubmitted, StatusQueued, StatusRunning} {
		if st.Terminal() {
			t.Errorf("%s should not be terminal", st)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	now := time.Now().UTC()
	orig := &Submission{
		SubmissionID: "s-1",
		Parameters:   map[string]interface{}{"a": 1},
		Result:       map[string]interface{}{"out": "x"},
		Tasks:        []Task{{TaskID: "t1", Status: StatusRunning, UpdatedAt: now}},
	}

	c := orig.Clone()
	c.Parameters["a"] = 2
	c.Result["out"] = "y"
	c.Tasks[0].Status = StatusCompleted

	if orig.Parameters["a"] != 1 {
		t.Error("clone shares parameters map")
	}
	if orig.Result["out"] != "x" {
		t.Error("clone shares result map")
	}
	if orig.Tasks[0].Status != StatusRunning {
		t.Error("clone shares tasks slice")
	}
}

func TestTaskByID(t *testing.T) {
	sub := &Submission{Tasks: []Task{{TaskID: "t1"}, {TaskID: "t2"}}}
	if got := sub.TaskByID("t2"); got == nil || got.TaskID != "t2" {
		t.Errorf("TaskByID(t2) = %+v", got)
	}
	if got := sub.TaskByID("t9"); got != nil {
		t.Errorf("TaskByID(t9) = %+v, want nil", got)
	}
}
