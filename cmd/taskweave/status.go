package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/aristath/taskweave/internal/persistence"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show a run, or list all runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		if len(args) == 0 {
			runs, err := a.store.ListRuns(ctx)
			if err != nil {
				return err
			}
			renderRunList(out, runs)
			return nil
		}

		st, err := a.store.LoadRunState(ctx, args[0])
		if err != nil {
			return err
		}
		renderRun(out, st)
		return nil
	},
}

func renderRunList(w io.Writer, runs []persistence.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs yet. Start one with: taskweave run <tasks.yaml>")
		return
	}
	fmt.Fprintf(w, "%s %s %s %s %s %s\n",
		pad(styleHeader, "RUN", 10), pad(styleHeader, "STATUS", 11), pad(styleHeader, "PROJECT", 16),
		pad(styleHeader, "STARTED", 17), pad(styleHeader, "TASKS", 6), styleHeader.Render("COST"))
	for _, r := range runs {
		started := ""
		if !r.StartTime.IsZero() {
			started = r.StartTime.Local().Format(time.DateOnly + " 15:04")
		}
		fmt.Fprintf(w, "%s %s %s %s %s $%.4f\n",
			pad(lipgloss.NewStyle(), r.ID, 10), pad(runStatusStyle(r.Status), string(r.Status), 11),
			pad(styleHelp, truncate(r.Project, 16), 16), pad(styleHelp, started, 17),
			pad(lipgloss.NewStyle(), fmt.Sprint(r.TaskCount), 6), r.CostUSD)
	}
}
