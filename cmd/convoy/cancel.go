package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task",
	Long: `Cancel a task that has not finished. An executing task receives a
broadcast cancel; if its agent completes anyway, the late result is
dropped and the task stays cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openControl()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := svc.Cancel(args[0]); err != nil {
			return err
		}
		fmt.Printf("task %s cancelled\n", args[0])
		return nil
	},
}
