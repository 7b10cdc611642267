package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <request>",
	Short: "Submit a natural-language request",
	Long: `Decompose a request into a draft work plan.

The plan is not executed until approved:
  convoy submit "backup the database then restart postgres"
  convoy plan <request-id>
  convoy approve <plan-id>`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := openControl()
	if err != nil {
		return err
	}
	defer cleanup()

	requestText := strings.Join(args, " ")
	requestID, err := svc.Submit(context.Background(), requestText)
	if err != nil {
		return err
	}

	plan, err := svc.GetPlan(requestID)
	if err != nil {
		return err
	}

	fmt.Printf("%s request accepted: %s\n\n", color.GreenString("✓"), requestID)
	printPlan(plan)
	fmt.Printf("\nApprove with: convoy approve %s\n", plan.ID)
	return nil
}

var planCmd = &cobra.Command{
	Use:   "plan <request-id>",
	Short: "Show the plan derived from a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openControl()
		if err != nil {
			return err
		}
		defer cleanup()

		plan, err := svc.GetPlan(args[0])
		if err != nil {
			return err
		}
		printPlan(plan)
		return nil
	},
}
