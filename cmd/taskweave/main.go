// Command taskweave runs dependency-ordered coding tasks through AI tools in
// isolated git worktrees.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aristath/taskweave/internal/config"
	"github.com/aristath/taskweave/internal/errcode"
	"github.com/aristath/taskweave/internal/persistence"
	"github.com/aristath/taskweave/internal/policy"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "taskweave",
	Short: "Dependency-aware task runner for AI coding tools",
	Long: `taskweave reads a task file, orders the tasks by their dependencies and
runs each one with a coding tool in its own git worktree.

Runs are persisted, so an interrupted run can be resumed, and every token
spent is charged against the monthly and daily budget.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "project config file (default .taskweave/config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(worktreesCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", failMark(), errcode.Format(err))
		os.Exit(1)
	}
}

// loadConfig reads the global config and the project config, the latter
// from --config when given.
func loadConfig() (*config.Config, error) {
	global, err := config.GlobalPath()
	if err != nil {
		return nil, err
	}
	project := configPath
	if project == "" {
		project = config.ProjectPath()
	}
	return config.Load(global, project)
}

// app is what most commands need: the config, the state database and the
// model catalog.
type app struct {
	cfg    *config.Config
	store  *persistence.SQLiteStore
	models []policy.ModelProfile
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	models, err := loadModels(cfg.ModelsFile)
	if err != nil {
		return nil, err
	}
	store, err := persistence.NewSQLiteStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, store: store, models: models}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// loadModels reads the model catalog. Without one, tasks run on each tool's
// default model and the budget is charged from adapter estimates only.
func loadModels(path string) ([]policy.ModelProfile, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return policy.LoadModelProfiles(filepath.Clean(path))
}
