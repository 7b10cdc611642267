package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/convoy/internal/api"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Suspend dispatch on the running node",
	Long: `Write a pause signal file. The running node stops dispatching new work
until 'convoy resume'; tasks already executing run to completion.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sw, err := signalWatcherHere()
		if err != nil {
			return err
		}
		defer sw.Close()

		if err := sw.SendPause(); err != nil {
			return fmt.Errorf("send pause signal: %w", err)
		}
		fmt.Printf("%s pause signal sent\n", color.YellowString("⚠"))
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume dispatch on a paused node",
	RunE: func(cmd *cobra.Command, args []string) error {
		sw, err := signalWatcherHere()
		if err != nil {
			return err
		}
		defer sw.Close()

		if err := sw.ClearPause(); err != nil {
			return fmt.Errorf("clear pause signal: %w", err)
		}
		fmt.Printf("%s pause signal cleared\n", color.GreenString("✓"))
		return nil
	},
}

func signalWatcherHere() (*api.SignalWatcher, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	return api.NewSignalWatcher(cwd)
}
