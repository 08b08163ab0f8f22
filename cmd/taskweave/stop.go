package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/taskweave/internal/orchestrator"
)

var stopCmd = &cobra.Command{
	Use:   "stop <run-id>",
	Short: "Ask a running run to stop admitting tasks",
	Long: `Ask the process executing a run to stop. Tasks already running finish
and are recorded; the rest stay pending for taskweave resume.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := orchestrator.RequestStop(cfg.SignalsDir, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Stop requested for run %s\n", okMark(), args[0])
		return nil
	},
}
