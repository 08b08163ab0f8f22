package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: TASKWEAVE_BUDGET_MONTHLY_LIMIT_USD
// sets budget.monthly_limit_usd.
const EnvPrefix = "TASKWEAVE"

// Load reads and merges configuration from global and project paths.
// Precedence, highest first: environment, project file, global file, defaults.
// Missing files are not errors; malformed YAML is.
func Load(globalPath, projectPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := mergeConfigFile(v, globalPath); err != nil {
		return nil, fmt.Errorf("loading global config: %w", err)
	}
	if err := mergeConfigFile(v, projectPath); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GlobalPath is ~/.taskweave/config.yaml.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".taskweave", "config.yaml"), nil
}

// ProjectPath is .taskweave/config.yaml relative to the working directory.
func ProjectPath() string {
	return filepath.Join(".taskweave", "config.yaml")
}

// LoadDefault loads configuration from the conventional paths.
func LoadDefault() (*Config, error) {
	global, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return Load(global, ProjectPath())
}

// mergeConfigFile merges a YAML file into v. An empty path or a missing
// file is skipped.
func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	fv := viper.New()
	fv.SetConfigFile(path)
	fv.SetConfigType("yaml")
	if err := fv.ReadInConfig(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := v.MergeConfigMap(fv.AllSettings()); err != nil {
		return fmt.Errorf("merging %s: %w", path, err)
	}
	return nil
}

var (
	validLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats = map[string]bool{"text": true, "json": true}
	validTypes   = map[string]bool{"claude": true, "codex": true, "anthropic": true, "mock": true}
)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Parallelism.MaxConcurrentTasks <= 0 {
		errs = append(errs, fmt.Errorf("parallelism.max_concurrent_tasks must be positive, got %d", c.Parallelism.MaxConcurrentTasks))
	}
	if c.Parallelism.MaxConcurrentPerRepo <= 0 {
		errs = append(errs, fmt.Errorf("parallelism.max_concurrent_per_repo must be positive, got %d", c.Parallelism.MaxConcurrentPerRepo))
	}
	if c.Budget.WarnAtPercent < 0 || c.Budget.WarnAtPercent > 100 {
		errs = append(errs, fmt.Errorf("budget.warn_at_percent must be between 0 and 100, got %g", c.Budget.WarnAtPercent))
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format))
	}
	if c.Git.DefaultBranch == "" {
		errs = append(errs, errors.New("git.default_branch must not be empty"))
	}
	for name, p := range c.Providers {
		if !validTypes[p.Type] {
			errs = append(errs, fmt.Errorf("providers.%s.type %q is not one of claude, codex, anthropic, mock", name, p.Type))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
