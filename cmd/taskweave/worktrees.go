package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/taskweave/internal/git"
)

var (
	worktreesRepo   string
	worktreesRemove bool
)

var worktreesCmd = &cobra.Command{
	Use:   "worktrees",
	Short: "Inspect and clean up task worktrees",
}

var worktreesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the task worktrees of a repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		namer := git.NewBranchNamer(cfg.Git.BranchPrefix)
		wts, err := git.NewWorktreeManager(worktreesRepo, "").List(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		n := 0
		for _, wt := range wts {
			if !namer.IsAIBranch(wt.Branch) {
				continue
			}
			n++
			head := wt.Head
			if len(head) > 8 {
				head = head[:8]
			}
			fmt.Fprintf(out, "%s %s %s\n", pad(stylePending, wt.Branch, 32), pad(styleHelp, head, 9), wt.Path)
		}
		if n == 0 {
			fmt.Fprintln(out, "No task worktrees.")
		}
		return nil
	},
}

var worktreesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop stale worktree records, and with --remove every task worktree",
	Long: `Prune worktree records whose directories are gone. With --remove, also
delete every task worktree directory. Task branches are always kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		namer := git.NewBranchNamer(cfg.Git.BranchPrefix)
		mgr := git.NewWorktreeManager(worktreesRepo, "")
		out := cmd.OutOrStdout()

		if worktreesRemove {
			wts, err := mgr.List(ctx)
			if err != nil {
				return err
			}
			for _, wt := range wts {
				if !namer.IsAIBranch(wt.Branch) {
					continue
				}
				if err := mgr.Remove(ctx, wt.Path, true); err != nil {
					fmt.Fprintf(out, "%s %s: %v\n", failMark(), wt.Path, err)
					continue
				}
				fmt.Fprintf(out, "%s removed %s\n", okMark(), wt.Path)
			}
		}
		if err := mgr.Prune(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s Worktrees pruned\n", okMark())
		return nil
	},
}

func init() {
	worktreesCmd.PersistentFlags().StringVar(&worktreesRepo, "repo", ".", "Repository to inspect")
	worktreesPruneCmd.Flags().BoolVar(&worktreesRemove, "remove", false, "Also remove every task worktree")
	worktreesCmd.AddCommand(worktreesListCmd)
	worktreesCmd.AddCommand(worktreesPruneCmd)
}
