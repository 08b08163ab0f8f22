// Package git gives each task an isolated branch and worktree and wraps the
// git operations the run driver needs: commit, diff, rebase and merge.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig controls retries of git commands that fail on lock contention.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns the retry policy used when none is given.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsedTime:  10 * time.Second,
	}
}

// CommandError is a failed git invocation.
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, strings.TrimSpace(e.Output))
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExitCode returns the process exit code, or -1 if git did not exit normally.
func (e *CommandError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Runner executes git in a fixed directory.
type Runner struct {
	Dir   string
	Retry RetryConfig
}

// NewRunner creates a runner for dir with the default retry policy.
func NewRunner(dir string) *Runner {
	return &Runner{Dir: dir, Retry: DefaultRetryConfig()}
}

// Run executes git with args and returns its combined output. Failures caused
// by another process holding a repository lock are retried with exponential
// backoff; every other failure is returned immediately as a *CommandError.
func (r *Runner) Run(ctx context.Context, args ...string) (string, error) {
	var out string
	operation := func() error {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = r.Dir
		b, err := cmd.CombinedOutput()
		out = string(b)
		if err == nil {
			return nil
		}
		cmdErr := &CommandError{Args: args, Output: out, Err: err}
		if ctx.Err() != nil || !isLockContention(out) {
			return backoff.Permanent(cmdErr)
		}
		return cmdErr
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.Retry.InitialInterval
	policy.MaxInterval = r.Retry.MaxInterval
	policy.MaxElapsedTime = r.Retry.MaxElapsedTime

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return out, err
}

// isLockContention reports whether git failed because a lock file was held.
func isLockContention(output string) bool {
	return strings.Contains(output, ".lock': File exists") ||
		(strings.Contains(output, "Unable to create") && strings.Contains(output, ".lock")) ||
		strings.Contains(output, "could not lock config file")
}

// lines splits git output into non-empty trimmed lines.
func lines(output string) []string {
	var out []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
