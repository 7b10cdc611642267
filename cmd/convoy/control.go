package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/ShayCichocki/convoy/internal/api"
	"github.com/ShayCichocki/convoy/internal/bus"
	"github.com/ShayCichocki/convoy/internal/config"
	"github.com/ShayCichocki/convoy/internal/orchestrator"
	"github.com/ShayCichocki/convoy/internal/state"
	"github.com/ShayCichocki/convoy/pkg/models"
)

// openControl opens the control service against the shared state database.
// Control commands never start the scheduling loops; they read and write
// plan and task state that a running node picks up.
func openControl() (*api.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if _, err := os.Stat(cfg.State.DBPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("no state database at %s, is a node running? (convoy orchestrate)", cfg.State.DBPath)
	}

	db, err := state.Open(cfg.State.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}

	broker, err := bus.NewBroker(bus.DefaultOptions())
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("start broker: %w", err)
	}

	pipeline, err := orchestrator.NewPipeline(db, broker, nil, orchestrator.DefaultOptions())
	if err != nil {
		broker.Close()
		db.Close()
		return nil, nil, fmt.Errorf("build pipeline: %w", err)
	}

	cleanup := func() {
		broker.Close()
		db.Close()
	}
	return api.NewService(pipeline), cleanup, nil
}

// statusColor renders a task status in the conventional palette.
func statusColor(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusCompleted:
		return color.GreenString(string(status))
	case models.TaskStatusFailed:
		return color.RedString(string(status))
	case models.TaskStatusExecuting:
		return color.CyanString(string(status))
	case models.TaskStatusPaused:
		return color.YellowString(string(status))
	case models.TaskStatusCancelled:
		return color.HiBlackString(string(status))
	default:
		return string(status)
	}
}

func agentStatusColor(status models.AgentStatus) string {
	switch status {
	case models.AgentStatusOnline:
		return color.GreenString(string(status))
	case models.AgentStatusBusy:
		return color.CyanString(string(status))
	case models.AgentStatusOffline:
		return color.HiBlackString(string(status))
	default:
		return string(status)
	}
}

// printPlan renders a plan and its tasks.
func printPlan(plan *models.WorkPlan) {
	fmt.Printf("Plan %s (%s)\n", plan.ID, plan.Status)
	fmt.Printf("  Request: %s\n", plan.RequestText)
	fmt.Printf("  Complexity: %s\n", plan.Complexity)
	fmt.Printf("  Trace: %s\n", plan.TraceID)
	fmt.Printf("  Tasks (%d):\n", len(plan.Tasks))
	for _, task := range plan.Tasks {
		deps := ""
		if len(task.Dependencies) > 0 {
			deps = fmt.Sprintf(" after %v", task.Dependencies)
		}
		fmt.Printf("    %s  [p%d %s] %s%s\n",
			task.ID, task.Priority, task.WorkType, statusColor(task.Status), deps)
		if intent := task.Parameters["intent"]; intent != "" {
			fmt.Printf("      intent: %s\n", intent)
		}
	}
}
