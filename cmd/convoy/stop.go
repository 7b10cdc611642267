package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal the running node to shut down",
	Long: `Write a kill signal file that the running node (started with
'convoy orchestrate' in this directory) picks up within a second.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sw, err := signalWatcherHere()
		if err != nil {
			return err
		}
		defer sw.Close()

		if err := sw.SendKill(); err != nil {
			return fmt.Errorf("send kill signal: %w", err)
		}
		fmt.Printf("%s stop signal sent\n", color.YellowString("⚠"))
		return nil
	},
}
