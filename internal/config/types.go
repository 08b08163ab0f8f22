// Package config loads taskweave settings from layered YAML files and the
// environment.
package config

// ProviderConfig describes how to reach one execution tool. The map key in
// Config.Providers is the tool name tasks refer to.
type ProviderConfig struct {
	Type       string `mapstructure:"type" yaml:"type"`                                   // claude, codex, anthropic or mock
	Command    string `mapstructure:"command" yaml:"command,omitempty"`                   // CLI binary for claude and codex
	Model      string `mapstructure:"model" yaml:"model,omitempty"`                       // default model
	APIKey     string `mapstructure:"api_key" yaml:"api_key,omitempty"`                   // anthropic only, falls back to ANTHROPIC_API_KEY
	Bedrock    bool   `mapstructure:"bedrock" yaml:"bedrock,omitempty"`                   // anthropic through AWS Bedrock
	AWSRegion  string `mapstructure:"aws_region" yaml:"aws_region,omitempty"`
	AWSProfile string `mapstructure:"aws_profile" yaml:"aws_profile,omitempty"`
}

type ParallelismConfig struct {
	MaxConcurrentTasks   int `mapstructure:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	MaxConcurrentPerRepo int `mapstructure:"max_concurrent_per_repo" yaml:"max_concurrent_per_repo"`
}

// BudgetConfig sets spending limits. A negative limit disables that check.
type BudgetConfig struct {
	MonthlyLimitUSD float64 `mapstructure:"monthly_limit_usd" yaml:"monthly_limit_usd"`
	DailyTokenLimit int64   `mapstructure:"daily_token_limit" yaml:"daily_token_limit"`
	WarnAtPercent   float64 `mapstructure:"warn_at_percent" yaml:"warn_at_percent"`
}

type GitConfig struct {
	DefaultBranch        string `mapstructure:"default_branch" yaml:"default_branch"`
	BranchPrefix         string `mapstructure:"branch_prefix" yaml:"branch_prefix"`
	WorktreeDir          string `mapstructure:"worktree_dir" yaml:"worktree_dir"`
	AutoCleanupWorktrees bool   `mapstructure:"auto_cleanup_worktrees" yaml:"auto_cleanup_worktrees"`
	MergeStrategy        string `mapstructure:"merge_strategy" yaml:"merge_strategy"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`   // debug, info, warn or error
	Format    string `mapstructure:"format" yaml:"format"` // text or json
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
}

// Config is the top-level configuration.
type Config struct {
	Parallelism ParallelismConfig         `mapstructure:"parallelism" yaml:"parallelism"`
	Budget      BudgetConfig              `mapstructure:"budget" yaml:"budget"`
	Git         GitConfig                 `mapstructure:"git" yaml:"git"`
	Logging     LoggingConfig             `mapstructure:"logging" yaml:"logging"`
	DefaultTool string                    `mapstructure:"default_tool" yaml:"default_tool"`
	ModelsFile  string                    `mapstructure:"models_file" yaml:"models_file"`
	Database    string                    `mapstructure:"database" yaml:"database"`
	SignalsDir  string                    `mapstructure:"signals_dir" yaml:"signals_dir"`
	Providers   map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
}
