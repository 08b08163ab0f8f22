package orchestrator

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/aristath/taskweave/internal/adapter"
	"github.com/aristath/taskweave/internal/scheduler"
	"github.com/aristath/taskweave/internal/taskfile"
)

// maxValidationOutput caps how much command output is fed back to the tool.
const maxValidationOutput = 4000

// validate runs the task's validation commands and, while they fail, asks
// the adapter to fix the worktree for up to MaxValidationRetries rounds.
// Token use of every fix round is added to the returned result.
func (r *Runner) validate(ctx context.Context, a adapter.Adapter, t scheduler.Task, tc adapter.TaskContext, res adapter.ExecutionResult) (adapter.ExecutionResult, error) {
	v := t.Validation
	for round := 0; ; round++ {
		failure := runValidation(ctx, v, tc.WorktreePath)
		if failure == "" {
			return res, nil
		}
		if round >= v.MaxValidationRetries {
			return failWith(res, "validation failed:\n"+failure), nil
		}

		r.log.Info("Validation failed, requesting fix", "task", t.ID, "round", round+1)
		fix := tc
		fix.AdditionalPrompt = "The validation commands failed. Fix the problems they report.\n\n" + failure
		next, err := r.execute(ctx, a, t, fix)
		next.InputTokens += res.InputTokens
		next.OutputTokens += res.OutputTokens
		next.DurationMs += res.DurationMs
		if err != nil || !next.Success {
			return next, err
		}
		res = next
	}
}

// runValidation runs the test and lint commands in dir and returns a report
// of the failing ones, or "" when all pass.
func runValidation(ctx context.Context, v *taskfile.Validation, dir string) string {
	var report strings.Builder
	for _, cmd := range []string{v.Cmd, v.LintCmd} {
		if cmd == "" {
			continue
		}
		c := exec.CommandContext(ctx, "sh", "-c", cmd)
		c.Dir = dir
		out, err := c.CombinedOutput()
		if err == nil {
			continue
		}
		if report.Len() > 0 {
			report.WriteString("\n")
		}
		fmt.Fprintf(&report, "$ %s\n%s(%v)\n", cmd, tail(string(out), maxValidationOutput), err)
		if v.StopOnFailure {
			break
		}
	}
	return report.String()
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "...\n" + s[len(s)-n:]
}
