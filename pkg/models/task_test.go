package models

import "testing"

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{
		TaskStatusPending, TaskStatusApproved, TaskStatusExecuting,
		TaskStatusPaused, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}

	if TaskStatus("running").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %q to be terminal", s)
		}
	}

	nonTerminal := []TaskStatus{TaskStatusPending, TaskStatusApproved, TaskStatusExecuting, TaskStatusPaused}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("expected %q to be non-terminal", s)
		}
	}
}

func TestTaskStatusCanTransition(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskStatusPending, TaskStatusApproved, true},
		{TaskStatusPending, TaskStatusExecuting, false},
		{TaskStatusApproved, TaskStatusExecuting, true},
		{TaskStatusApproved, TaskStatusPaused, true},
		{TaskStatusExecuting, TaskStatusCompleted, true},
		{TaskStatusExecuting, TaskStatusPaused, true},
		{TaskStatusPaused, TaskStatusExecuting, true},
		{TaskStatusCompleted, TaskStatusPending, false},
		{TaskStatusFailed, TaskStatusExecuting, false},
		{TaskStatusCancelled, TaskStatusApproved, false},
	}

	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("CanTransition(%q -> %q) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCapacityFraction(t *testing.T) {
	cases := []struct {
		name string
		snap ResourceSnapshot
		want float64
	}{
		{"idle", ResourceSnapshot{CPUPct: 0, MemPct: 0}, 1.0},
		{"cpu bound", ResourceSnapshot{CPUPct: 90, MemPct: 40}, 0.1},
		{"mem bound", ResourceSnapshot{CPUPct: 20, MemPct: 75}, 0.25},
		{"saturated", ResourceSnapshot{CPUPct: 100, MemPct: 100}, 0.0},
		{"over-reported", ResourceSnapshot{CPUPct: 130, MemPct: 10}, 0.0},
	}

	for _, c := range cases {
		got := c.snap.CapacityFraction()
		if diff := got - c.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("%s: CapacityFraction() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestAgentCanExecute(t *testing.T) {
	a := &AgentRecord{
		AgentID:      "agent-1",
		Capabilities: []string{"echo", "shell"},
	}

	if !a.CanExecute("shell") {
		t.Error("expected agent to execute shell")
	}
	if a.CanExecute("reasoning") {
		t.Error("expected agent to lack reasoning capability")
	}
}

func TestComplexityAtMost(t *testing.T) {
	if !ComplexitySimple.AtMost(ComplexityMedium) {
		t.Error("simple should be at most medium")
	}
	if !ComplexityMedium.AtMost(ComplexityMedium) {
		t.Error("medium should be at most medium")
	}
	if ComplexityComplex.AtMost(ComplexityMedium) {
		t.Error("complex should not be at most medium")
	}
}

func TestWorkPlanTaskByID(t *testing.T) {
	plan := &WorkPlan{
		Tasks: []*Task{
			{ID: "t1"},
			{ID: "t2"},
		},
	}

	if got := plan.TaskByID("t2"); got == nil || got.ID != "t2" {
		t.Errorf("expected task t2, got %v", got)
	}
	if got := plan.TaskByID("t9"); got != nil {
		t.Errorf("expected nil for unknown task, got %v", got)
	}
}
