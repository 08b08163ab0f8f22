package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskweave/internal/adapter"
	"github.com/aristath/taskweave/internal/git"
	"github.com/aristath/taskweave/internal/orchestrator"
	"github.com/aristath/taskweave/internal/scheduler"
	"github.com/aristath/taskweave/internal/taskfile"
)

var resolveNote string

var approveCmd = &cobra.Command{
	Use:   "approve <run-id> <task-id>",
	Short: "Accept a task that is waiting for review or a human",
	Long: `Accept a waiting task. An auto-merge task is rebased and merged first;
if that conflicts, the task stays waiting. Resume the run afterwards to
start the tasks that depend on it.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveTask(cmd, args[0], args[1], true)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <run-id> <task-id>",
	Short: "Fail a task that is waiting for review or a human",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveTask(cmd, args[0], args[1], false)
	},
}

func init() {
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().StringVarP(&resolveNote, "note", "m", "", "Reason recorded on the task")
	}
}

func resolveTask(cmd *cobra.Command, runID, taskID string, approved bool) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.store.LoadRunState(ctx, runID)
	if err != nil {
		return err
	}
	t, ok := st.Task(taskID)
	if !ok {
		return fmt.Errorf("%w: %q in run %s", scheduler.ErrTaskNotFound, taskID, runID)
	}
	if !t.State.Waiting() {
		return &scheduler.TransitionError{TaskID: taskID, From: t.State, To: scheduler.StateSucceeded}
	}

	if approved && t.MergePolicy == taskfile.MergeAutoMerge {
		if err := a.land(ctx, t); err != nil {
			return fmt.Errorf("task %s could not be merged: %w", taskID, err)
		}
	}

	note := resolveNote
	if note == "" && !approved {
		note = "rejected"
	}
	if err := scheduler.Resolve(&st, taskID, approved, note, time.Now()); err != nil {
		return err
	}
	if err := a.store.SaveRunState(ctx, st); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if approved {
		fmt.Fprintf(out, "%s %s approved\n", okMark(), taskID)
	} else {
		fmt.Fprintf(out, "%s %s rejected\n", failMark(), taskID)
	}
	if st.Status == scheduler.RunRunning {
		fmt.Fprintln(out, styleHelp.Render("Continue the run with: taskweave resume "+runID))
	}
	return nil
}

// land merges an approved task branch with a runner that only does git work.
func (a *app) land(ctx context.Context, t scheduler.Task) error {
	r := orchestrator.NewRunner(orchestrator.RunnerConfig{
		Registry:      adapter.NewRegistry(),
		BaseBranch:    a.cfg.Git.DefaultBranch,
		BranchPrefix:  a.cfg.Git.BranchPrefix,
		WorktreeDir:   a.cfg.Git.WorktreeDir,
		MergeStrategy: git.ParseMergeStrategy(a.cfg.Git.MergeStrategy),
	})
	if err := r.Land(ctx, t); err != nil {
		return err
	}
	if a.cfg.Git.AutoCleanupWorktrees {
		return r.Cleanup(ctx)
	}
	return nil
}
