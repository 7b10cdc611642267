package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "convoy",
	Short: "Fleet orchestration over a priority message bus",
	Long: `Convoy turns natural-language operational requests into reviewed work
plans and dispatches the resulting tasks to a fleet of agents over a
priority message bus.

Typical flow:
  convoy orchestrate --agents 2     # start a node with two local agents
  convoy submit "restart nginx then check the logs"
  convoy plan <request-id>          # review the draft plan
  convoy approve <plan-id>          # release it for execution
  convoy status <task-id>           # follow a task`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(orchestrateCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
