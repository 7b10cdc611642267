package orchestrator

import (
	"strings"
	"testing"

	"github.com/ShayCichocki/convoy/pkg/models"
)

func TestBuildPlanMapsIntentsToWorkTypes(t *testing.T) {
	plan, err := NewPlanner().BuildPlan("req-1", "restart nginx then check logs", []Intent{
		{Intent: "restart-service", Parameters: map[string]string{"request": "restart nginx"}},
		{Intent: "check-logs", DependsOn: []int{0}},
	})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}

	if plan.Status != models.PlanStatusDraft {
		t.Errorf("expected draft plan, got %q", plan.Status)
	}
	if len(plan.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(plan.Tasks))
	}
	if plan.Tasks[0].WorkType != "shell" {
		t.Errorf("expected shell work type, got %q", plan.Tasks[0].WorkType)
	}
	if plan.Tasks[0].Priority != 4 {
		t.Errorf("expected restart priority 4, got %d", plan.Tasks[0].Priority)
	}
	if len(plan.Tasks[1].Dependencies) != 1 || plan.Tasks[1].Dependencies[0] != plan.Tasks[0].ID {
		t.Errorf("expected dependency on first task, got %v", plan.Tasks[1].Dependencies)
	}
	if plan.Tasks[0].TraceID != plan.TraceID {
		t.Error("expected tasks to share the plan trace id")
	}
	if plan.Tasks[0].RequestID == plan.Tasks[1].RequestID {
		t.Error("expected distinct per-task request ids")
	}
}

func TestBuildPlanUnknownIntentUsesSafeDefault(t *testing.T) {
	plan, err := NewPlanner().BuildPlan("req-1", "frobnicate the flux capacitor", []Intent{
		{Intent: "frobnicate"},
	})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if plan.Tasks[0].WorkType != "reasoning" {
		t.Errorf("unknown intent must route to reasoning, got %q", plan.Tasks[0].WorkType)
	}
}

func TestBuildPlanDetectsCycles(t *testing.T) {
	_, err := NewPlanner().BuildPlan("req-1", "a then b", []Intent{
		{Intent: "restart-service", DependsOn: []int{1}},
		{Intent: "check-logs", DependsOn: []int{0}},
	})
	if err == nil || !strings.Contains(err.Error(), "circular") {
		t.Errorf("expected circular dependency error, got %v", err)
	}
}

func TestBuildPlanReordersSatisfiableFirst(t *testing.T) {
	planner := NewPlanner()
	planner.Capacity = models.ResourceEstimate{CPUPct: 20, MemPct: 20}

	plan, err := planner.BuildPlan("req-1", "migrate then check", []Intent{
		{Intent: "migrate-data"}, // estimate above the 20% envelope
		{Intent: "check-status"},
	})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if plan.Tasks[0].Parameters["intent"] != "check-status" {
		t.Errorf("expected satisfiable task first, got %q", plan.Tasks[0].Parameters["intent"])
	}
}

func TestDeriveComplexity(t *testing.T) {
	cases := []struct {
		name     string
		intents  []Intent
		expected models.Complexity
	}{
		{"two routine tasks", []Intent{{Intent: "check-logs"}, {Intent: "check-status"}}, models.ComplexitySimple},
		{"one reasoning task", []Intent{{Intent: "diagnose"}}, models.ComplexityMedium},
		{"four tasks", []Intent{{Intent: "check-logs"}, {Intent: "check-status"}, {Intent: "cleanup"}, {Intent: "backup-data"}}, models.ComplexityMedium},
		{"five tasks", []Intent{{Intent: "check-logs"}, {Intent: "check-status"}, {Intent: "cleanup"}, {Intent: "backup-data"}, {Intent: "restart-service"}}, models.ComplexityComplex},
		{"two reasoning tasks", []Intent{{Intent: "diagnose"}, {Intent: "diagnose"}}, models.ComplexityComplex},
	}

	for _, tc := range cases {
		plan, err := NewPlanner().BuildPlan("req-1", tc.name, tc.intents)
		if err != nil {
			t.Fatalf("%s: build plan: %v", tc.name, err)
		}
		if plan.Complexity != tc.expected {
			t.Errorf("%s: expected %q, got %q", tc.name, tc.expected, plan.Complexity)
		}
	}
}
