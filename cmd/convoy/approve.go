package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/convoy/internal/orchestrator"
)

var approveCmd = &cobra.Command{
	Use:   "approve <plan-id>",
	Short: "Approve a draft plan for execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openControl()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := svc.Approve(args[0]); err != nil {
			return err
		}
		fmt.Printf("%s plan %s approved, tasks queued for dispatch\n", color.GreenString("✓"), args[0])
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <plan-id>",
	Short: "Reject a draft plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openControl()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := svc.Reject(args[0]); err != nil {
			return err
		}
		fmt.Printf("plan %s rejected\n", args[0])
		return nil
	},
}

var (
	modifyPriority int
)

var modifyCmd = &cobra.Command{
	Use:   "modify <plan-id> <task-id>",
	Short: "Modify a task of a draft plan",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openControl()
		if err != nil {
			return err
		}
		defer cleanup()

		err = svc.Modify(args[0], []orchestrator.TaskModification{
			{TaskID: args[1], Priority: modifyPriority},
		})
		if err != nil {
			return err
		}
		fmt.Printf("task %s updated\n", args[1])
		return nil
	},
}

func init() {
	modifyCmd.Flags().IntVar(&modifyPriority, "priority", 0, "New dispatch priority (1-5)")
	rootCmd.AddCommand(modifyCmd)
}
