package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/convoy/pkg/models"
)

// workTypeSpec is one row of the fixed intent-to-work-type lookup.
type workTypeSpec struct {
	workType string
	priority int
	estimate models.ResourceEstimate
}

// workTypeTable maps intent names to work types, dispatch priority, and a
// resource estimate. Unknown intents fall through to the safe default:
// reasoning work, which analyzes instead of acting.
var workTypeTable = map[string]workTypeSpec{
	"restart-service":  {workType: "shell", priority: 4, estimate: models.ResourceEstimate{CPUPct: 10, MemPct: 5}},
	"deploy-service":   {workType: "shell", priority: 3, estimate: models.ResourceEstimate{CPUPct: 30, MemPct: 20}},
	"rollback-service": {workType: "shell", priority: 4, estimate: models.ResourceEstimate{CPUPct: 20, MemPct: 10}},
	"scale-service":    {workType: "shell", priority: 3, estimate: models.ResourceEstimate{CPUPct: 15, MemPct: 10}},
	"check-logs":       {workType: "shell", priority: 2, estimate: models.ResourceEstimate{CPUPct: 5, MemPct: 5}},
	"check-status":     {workType: "shell", priority: 2, estimate: models.ResourceEstimate{CPUPct: 5, MemPct: 5}},
	"backup-data":      {workType: "shell", priority: 3, estimate: models.ResourceEstimate{CPUPct: 25, MemPct: 15}},
	"migrate-data":     {workType: "shell", priority: 3, estimate: models.ResourceEstimate{CPUPct: 40, MemPct: 30}},
	"cleanup":          {workType: "shell", priority: 1, estimate: models.ResourceEstimate{CPUPct: 10, MemPct: 5}},
	"diagnose":         {workType: "reasoning", priority: 3, estimate: models.ResourceEstimate{CPUPct: 5, MemPct: 10}},
}

// defaultWorkTypeSpec handles intents outside the table. It routes to
// reasoning so an unrecognized intent never triggers a side-effecting
// executor.
var defaultWorkTypeSpec = workTypeSpec{
	workType: "reasoning",
	priority: 2,
	estimate: models.ResourceEstimate{CPUPct: 5, MemPct: 10},
}

// Planner maps parsed intents onto an ordered, dependency-checked WorkPlan.
type Planner struct {
	// Capacity is the per-agent resource envelope used to classify tasks
	// as satisfiable during reordering.
	Capacity models.ResourceEstimate
}

// NewPlanner creates a planner with the default capacity envelope.
func NewPlanner() *Planner {
	return &Planner{Capacity: models.ResourceEstimate{CPUPct: 80, MemPct: 80, GPUVRAMMB: 0}}
}

// BuildPlan turns intents into a draft WorkPlan: each intent becomes one
// task via the fixed lookup, dependencies are resolved and cycle-checked,
// satisfiable tasks are ordered ahead of unsatisfiable ones, and the plan
// complexity is derived for the fallback engine.
func (p *Planner) BuildPlan(requestID, requestText string, intents []Intent) (*models.WorkPlan, error) {
	if len(intents) == 0 {
		return nil, fmt.Errorf("no intents to plan")
	}

	plan := &models.WorkPlan{
		ID:          uuid.NewString(),
		RequestID:   requestID,
		TraceID:     uuid.NewString(),
		RequestText: requestText,
		Status:      models.PlanStatusDraft,
		CreatedAt:   time.Now().UTC(),
	}

	tasks := make([]*models.Task, len(intents))
	for i, intent := range intents {
		spec, ok := workTypeTable[intent.Intent]
		if !ok {
			spec = defaultWorkTypeSpec
		}

		params := map[string]string{"intent": intent.Intent}
		for k, v := range intent.Parameters {
			params[k] = v
		}
		if spec.workType == "reasoning" {
			params["prompt"] = reasoningPrompt(intent, requestText)
		}

		tasks[i] = &models.Task{
			ID:         uuid.NewString(),
			PlanID:     plan.ID,
			RequestID:  uuid.NewString(),
			TraceID:    plan.TraceID,
			WorkType:   spec.workType,
			Parameters: params,
			Priority:   spec.priority,
			Status:     models.TaskStatusPending,
			Estimated:  spec.estimate,
			CreatedAt:  plan.CreatedAt,
		}
	}

	// Resolve intent indices to task IDs.
	for i, intent := range intents {
		for _, dep := range intent.DependsOn {
			if dep < 0 || dep >= len(tasks) {
				return nil, fmt.Errorf("intent %d depends on unknown intent %d", i, dep)
			}
			tasks[i].Dependencies = append(tasks[i].Dependencies, tasks[dep].ID)
		}
	}

	if err := validateNoCycles(tasks); err != nil {
		return nil, fmt.Errorf("validate dependencies: %w", err)
	}

	plan.Tasks = p.reorder(tasks)
	plan.Complexity = deriveComplexity(plan.Tasks)
	return plan, nil
}

// reorder partitions tasks so resource-satisfiable ones come first, keeping
// relative order within each partition. Dependency edges still gate
// dispatch, so this only biases scheduling.
func (p *Planner) reorder(tasks []*models.Task) []*models.Task {
	ordered := make([]*models.Task, 0, len(tasks))
	var unsatisfiable []*models.Task
	for _, t := range tasks {
		if p.satisfiable(t.Estimated) {
			ordered = append(ordered, t)
		} else {
			unsatisfiable = append(unsatisfiable, t)
		}
	}
	return append(ordered, unsatisfiable...)
}

func (p *Planner) satisfiable(est models.ResourceEstimate) bool {
	return est.CPUPct <= p.Capacity.CPUPct &&
		est.MemPct <= p.Capacity.MemPct &&
		(p.Capacity.GPUVRAMMB == 0 || est.GPUVRAMMB <= p.Capacity.GPUVRAMMB)
}

// deriveComplexity classifies a plan from its task count and work types.
func deriveComplexity(tasks []*models.Task) models.Complexity {
	reasoning := 0
	for _, t := range tasks {
		if t.WorkType == "reasoning" {
			reasoning++
		}
	}
	switch {
	case len(tasks) >= 5 || reasoning >= 2:
		return models.ComplexityComplex
	case len(tasks) >= 3 || reasoning == 1:
		return models.ComplexityMedium
	default:
		return models.ComplexitySimple
	}
}

func reasoningPrompt(intent Intent, requestText string) string {
	if req := intent.Parameters["request"]; req != "" {
		return req
	}
	return requestText
}

// validateNoCycles checks that there are no circular dependencies among
// tasks. Returns an error naming the cycle when one is found.
func validateNoCycles(tasks []*models.Task) error {
	idToTask := make(map[string]*models.Task)
	for _, task := range tasks {
		idToTask[task.ID] = task
	}

	// Visit state: 0=unvisited, 1=visiting, 2=visited.
	state := make(map[string]int)

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		if state[id] == 2 {
			return nil
		}
		if state[id] == 1 {
			cycleStart := 0
			for i, p := range path {
				if p == id {
					cycleStart = i
					break
				}
			}
			cycle := append(path[cycleStart:], id)
			return fmt.Errorf("circular dependency detected: %s", strings.Join(cycle, " -> "))
		}

		state[id] = 1
		task := idToTask[id]
		if task != nil {
			for _, depID := range task.Dependencies {
				if err := visit(depID, append(path, id)); err != nil {
					return err
				}
			}
		}
		state[id] = 2
		return nil
	}

	for _, task := range tasks {
		if state[task.ID] == 0 {
			if err := visit(task.ID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
