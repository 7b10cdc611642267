package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/convoy/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show a task's current status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openControl()
		if err != nil {
			return err
		}
		defer cleanup()

		status, err := svc.GetStatus(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", args[0], statusColor(status))
		return nil
	},
}

var agentsAll bool

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agent fleet",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openControl()
		if err != nil {
			return err
		}
		defer cleanup()

		filter := models.AgentStatusOnline
		if agentsAll {
			filter = ""
		}
		agents, err := svc.ListAgents(filter)
		if err != nil {
			return err
		}
		if len(agents) == 0 {
			fmt.Println("No agents registered.")
			return nil
		}

		for _, a := range agents {
			task := ""
			if a.CurrentTaskID != "" {
				task = fmt.Sprintf("  task %s", a.CurrentTaskID)
			}
			fmt.Printf("%-20s %-8s %s  cpu %.0f%%  mem %.0f%%  score %.2f  seen %s%s\n",
				a.AgentID, a.AgentType, agentStatusColor(a.Status),
				a.Resources.CPUPct, a.Resources.MemPct,
				a.PerformanceScore, formatAge(a.LastHeartbeatAt), task)
		}
		return nil
	},
}

func init() {
	agentsCmd.Flags().BoolVar(&agentsAll, "all", false, "Include offline agents")
}

// formatAge formats how long ago a timestamp was.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
