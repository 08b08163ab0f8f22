package config

import "github.com/spf13/viper"

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Parallelism: ParallelismConfig{
			MaxConcurrentTasks:   5,
			MaxConcurrentPerRepo: 2,
		},
		Budget: BudgetConfig{
			MonthlyLimitUSD: 100,
			DailyTokenLimit: 500000,
			WarnAtPercent:   80,
		},
		Git: GitConfig{
			DefaultBranch:        "main",
			BranchPrefix:         "feature/ai-",
			WorktreeDir:          ".worktrees",
			AutoCleanupWorktrees: true,
			MergeStrategy:        "ort",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			OutputDir: ".taskweave/logs",
		},
		DefaultTool: "claude",
		ModelsFile:  ".taskweave/models.yaml",
		Database:    ".taskweave/state.db",
		SignalsDir:  ".taskweave/signals",
		Providers: map[string]ProviderConfig{
			"claude":    {Type: "claude", Command: "claude"},
			"codex":     {Type: "codex", Command: "codex"},
			"anthropic": {Type: "anthropic"},
			"mock":      {Type: "mock"},
		},
	}
}

// setDefaults registers every default with v so file values and environment
// variables override them key by key.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("parallelism.max_concurrent_tasks", d.Parallelism.MaxConcurrentTasks)
	v.SetDefault("parallelism.max_concurrent_per_repo", d.Parallelism.MaxConcurrentPerRepo)

	v.SetDefault("budget.monthly_limit_usd", d.Budget.MonthlyLimitUSD)
	v.SetDefault("budget.daily_token_limit", d.Budget.DailyTokenLimit)
	v.SetDefault("budget.warn_at_percent", d.Budget.WarnAtPercent)

	v.SetDefault("git.default_branch", d.Git.DefaultBranch)
	v.SetDefault("git.branch_prefix", d.Git.BranchPrefix)
	v.SetDefault("git.worktree_dir", d.Git.WorktreeDir)
	v.SetDefault("git.auto_cleanup_worktrees", d.Git.AutoCleanupWorktrees)
	v.SetDefault("git.merge_strategy", d.Git.MergeStrategy)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output_dir", d.Logging.OutputDir)

	v.SetDefault("default_tool", d.DefaultTool)
	v.SetDefault("models_file", d.ModelsFile)
	v.SetDefault("database", d.Database)
	v.SetDefault("signals_dir", d.SignalsDir)

	for name, p := range d.Providers {
		v.SetDefault("providers."+name+".type", p.Type)
		if p.Command != "" {
			v.SetDefault("providers."+name+".command", p.Command)
		}
	}
}
