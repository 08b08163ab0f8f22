// Package orchestrator is the run driver: it gives each task a worktree,
// calls the task's adapter, validates, commits, reviews and lands the result.
// The scheduler decides when a task runs; the Runner decides how.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/taskweave/internal/adapter"
	"github.com/aristath/taskweave/internal/git"
	"github.com/aristath/taskweave/internal/policy"
	"github.com/aristath/taskweave/internal/scheduler"
	"github.com/aristath/taskweave/internal/taskfile"
)

// DefaultWorktreeDir holds task worktrees, relative to each repository.
const DefaultWorktreeDir = ".worktrees"

// RunnerConfig configures the run driver.
type RunnerConfig struct {
	Registry      *adapter.Registry
	Models        []policy.ModelProfile
	DefaultTool   string
	BaseBranch    string // tasks branch from and land on it; the current branch when empty
	BranchPrefix  string
	WorktreeDir   string // relative to each repository unless absolute
	AutoCleanup   bool   // remove a task's worktree once the task is finished
	MergeStrategy git.MergeStrategy
	Logger        *slog.Logger
}

// Runner executes task attempts for the scheduler. It implements
// scheduler.Dispatcher, scheduler.Estimator and scheduler.Finalizer.
type Runner struct {
	cfg   RunnerConfig
	namer git.BranchNamer
	log   *slog.Logger

	mu        sync.Mutex
	repos     map[string]*repo
	worktrees map[string]*git.Worktree // by task ID, reused across retries
	results   map[string]adapter.ExecutionResult
}

// repo is the per-repository git state shared by the tasks targeting it.
type repo struct {
	path      string
	base      string
	worktrees *git.WorktreeManager
	merger    *git.Merger
}

var (
	_ scheduler.Dispatcher = (*Runner)(nil)
	_ scheduler.Estimator  = (*Runner)(nil)
	_ scheduler.Finalizer  = (*Runner)(nil)
)

// NewRunner creates a runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.WorktreeDir == "" {
		cfg.WorktreeDir = DefaultWorktreeDir
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:       cfg,
		namer:     git.NewBranchNamer(cfg.BranchPrefix),
		log:       logger,
		repos:     make(map[string]*repo),
		worktrees: make(map[string]*git.Worktree),
		results:   make(map[string]adapter.ExecutionResult),
	}
}

// Seed loads the results of already succeeded tasks, so a resumed run can
// hand them to dependents.
func (r *Runner) Seed(st scheduler.RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range st.Tasks {
		if t.State == scheduler.StateSucceeded && t.Result != nil {
			r.results[t.ID] = *t.Result
		}
	}
}

// Preflight checks a task list before a run starts: every tool must be
// registered and available, and no two tasks may map to the same branch.
// It also prunes stale worktree records left by crashed runs.
func (r *Runner) Preflight(ctx context.Context, tasks []taskfile.Task) error {
	var errs []error

	tools := make(map[string]bool)
	branches := make(map[string]string)
	for _, t := range tasks {
		tools[r.toolName(t.Tool)] = true
		if t.Review.Enabled && t.Review.ReviewerTool != "" {
			tools[t.Review.ReviewerTool] = true
		}

		branch := r.namer.Generate(t.ID)
		if other, taken := branches[branch]; taken {
			errs = append(errs, fmt.Errorf("tasks %q and %q both map to branch %s", other, t.ID, branch))
		}
		branches[branch] = t.ID

		rp, err := r.repoFor(ctx, t.Repo)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := rp.worktrees.Prune(ctx); err != nil {
			log.Printf("WARNING: failed to prune stale worktrees in %s: %v", rp.path, err)
		}
	}

	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a, err := r.cfg.Registry.Get(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !a.IsAvailable(ctx) {
			errs = append(errs, fmt.Errorf("tool %q is not available", name))
		}
	}
	return errors.Join(errs...)
}

// Dispatch runs one attempt of t in its worktree. Failures the task can
// recover from on retry are reported in the result; an error means the
// adapter itself misbehaved.
func (r *Runner) Dispatch(ctx context.Context, t scheduler.Task) (scheduler.Outcome, error) {
	a, err := r.adapterFor(t.Tool)
	if err != nil {
		return scheduler.Outcome{}, err
	}
	wt, rp, err := r.worktreeFor(ctx, t)
	if err != nil {
		return scheduler.Outcome{}, err
	}

	tc := r.taskContext(t, wt.Path)
	res, err := r.execute(ctx, a, t, tc)
	if err != nil || !res.Success {
		return scheduler.Outcome{Result: res}, err
	}

	if v := t.Validation; v != nil && v.Enabled {
		res, err = r.validate(ctx, a, t, tc, res)
		if err != nil || !res.Success {
			return scheduler.Outcome{Result: res}, err
		}
	}

	diff, err := r.commit(ctx, git.NewManager(wt.Path), t, rp.base)
	if err != nil {
		return scheduler.Outcome{Result: failWith(res, err.Error())}, nil
	}
	res.ModifiedFiles = diff.Files
	out := scheduler.Outcome{Result: res}

	if t.Review.Enabled {
		reviewer, err := r.adapterFor(t.Review.ReviewerTool)
		if err != nil {
			return out, err
		}
		if t.Review.ReviewerTool == "" {
			reviewer = a
		}
		rv, err := reviewer.Review(ctx, tc, diff.Text)
		out.ReviewInputTokens, out.ReviewOutputTokens = rv.InputTokens, rv.OutputTokens
		if err != nil {
			return out, fmt.Errorf("review of %s failed: %w", t.ID, err)
		}
		if !rv.Approved {
			if t.Review.AutoFix {
				out.Result = failWith(res, reviewFeedback(rv))
				return out, nil
			}
			out.Hold = scheduler.StateWaitingReview
			out.Summary = rv.Summary
			return out, nil
		}
	}

	if t.Review.HumanGate {
		out.Hold = scheduler.StateWaitingHuman
		out.Summary = fmt.Sprintf("%s changed %d file(s) on %s", t.ID, len(diff.Files), wt.Branch)
		return out, nil
	}

	if t.MergePolicy == taskfile.MergeAutoMerge {
		if err := r.land(ctx, rp, wt); err != nil {
			out.Result = failWith(res, err.Error())
		}
	}
	return out, nil
}

// Estimate asks the task's adapter for a token estimate with model.
func (r *Runner) Estimate(ctx context.Context, t scheduler.Task, model *policy.ModelProfile) (adapter.CostEstimate, error) {
	a, err := r.adapterFor(t.Tool)
	if err != nil {
		return adapter.CostEstimate{}, err
	}
	tc := r.taskContext(t, "")
	if model != nil {
		tc.Model = model.Model
	}
	return a.EstimateCost(ctx, tc)
}

// Finalize records a succeeded task's result for its dependents and, with
// AutoCleanup, removes the task worktree. The branch is kept.
func (r *Runner) Finalize(ctx context.Context, t scheduler.Task) {
	if t.State == scheduler.StateSucceeded && t.Result != nil {
		r.mu.Lock()
		r.results[t.ID] = *t.Result
		r.mu.Unlock()
	}
	if !r.cfg.AutoCleanup {
		return
	}
	if err := r.removeWorktree(ctx, t.ID, t.Repo); err != nil {
		log.Printf("WARNING: failed to remove worktree of task %q: %v", t.ID, err)
	}
}

// Land rebases a task branch onto the base branch and merges it. It is used
// for auto-merge tasks that were approved after waiting.
func (r *Runner) Land(ctx context.Context, t scheduler.Task) error {
	wt, rp, err := r.worktreeFor(ctx, t)
	if err != nil {
		return err
	}
	return r.land(ctx, rp, wt)
}

// Cleanup removes every worktree the runner still holds and prunes the
// repositories it touched.
func (r *Runner) Cleanup(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.worktrees))
	for id := range r.worktrees {
		ids = append(ids, id)
	}
	repos := make([]*repo, 0, len(r.repos))
	for _, rp := range r.repos {
		repos = append(repos, rp)
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := r.removeWorktree(ctx, id, ""); err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", id, err))
		}
	}
	for _, rp := range repos {
		if err := rp.worktrees.Prune(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WorktreePath returns where the worktree of task id lives in repoPath.
func (r *Runner) WorktreePath(repoPath, id string) string {
	dir := r.cfg.WorktreeDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(repoPath, dir)
	}
	name := strings.TrimPrefix(r.namer.Generate(id), r.namer.Prefix)
	if name == "" {
		name = "task"
	}
	return filepath.Join(dir, name)
}

func (r *Runner) toolName(name string) string {
	if name == "" {
		return r.cfg.DefaultTool
	}
	return name
}

func (r *Runner) adapterFor(name string) (adapter.Adapter, error) {
	return r.cfg.Registry.Get(r.toolName(name))
}

func (r *Runner) repoFor(ctx context.Context, path string) (*repo, error) {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repo path %s: %w", path, err)
	}

	r.mu.Lock()
	rp, ok := r.repos[abs]
	r.mu.Unlock()
	if ok {
		return rp, nil
	}

	// git runs without r.mu held; the first repo stored wins.
	base := r.cfg.BaseBranch
	if base == "" {
		if base, err = git.NewManager(abs).CurrentBranch(ctx); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rp, ok := r.repos[abs]; ok {
		return rp, nil
	}
	rp = &repo{
		path:      abs,
		base:      base,
		worktrees: git.NewWorktreeManager(abs, base),
		merger:    git.NewMerger(abs, base, r.cfg.MergeStrategy),
	}
	r.repos[abs] = rp
	return rp, nil
}

// worktreeFor returns the task's worktree, creating it on first use. A
// directory left behind by an earlier process is replaced by a fresh
// worktree on the same branch, so committed work survives.
func (r *Runner) worktreeFor(ctx context.Context, t scheduler.Task) (*git.Worktree, *repo, error) {
	rp, err := r.repoFor(ctx, t.Repo)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	wt, ok := r.worktrees[t.ID]
	r.mu.Unlock()
	if ok {
		return wt, rp, nil
	}

	branch := r.namer.Generate(t.ID)
	path := r.WorktreePath(rp.path, t.ID)
	if _, err := os.Stat(path); err == nil {
		if err := rp.worktrees.Remove(ctx, path, true); err != nil {
			if err := os.RemoveAll(path); err != nil {
				return nil, nil, fmt.Errorf("failed to clear stale worktree %s: %w", path, err)
			}
			if err := rp.worktrees.Prune(ctx); err != nil {
				return nil, nil, err
			}
		}
	}

	wt, err = rp.worktrees.Add(ctx, branch, path)
	if err != nil {
		return nil, nil, err
	}
	r.mu.Lock()
	r.worktrees[t.ID] = wt
	r.mu.Unlock()
	r.log.Debug("Worktree ready", "task", t.ID, "branch", wt.Branch, "path", wt.Path)
	return wt, rp, nil
}

func (r *Runner) removeWorktree(ctx context.Context, id, repoPath string) error {
	r.mu.Lock()
	wt, ok := r.worktrees[id]
	delete(r.worktrees, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	rp, err := r.repoOf(ctx, wt.Path, repoPath)
	if err != nil {
		return err
	}
	return rp.worktrees.Remove(ctx, wt.Path, true)
}

// repoOf finds the repository a worktree was created in.
func (r *Runner) repoOf(ctx context.Context, wtPath, repoPath string) (*repo, error) {
	if repoPath != "" {
		return r.repoFor(ctx, repoPath)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rp := range r.repos {
		if _, ok := rp.worktrees.Lookup(wtPath); ok {
			return rp, nil
		}
	}
	return nil, fmt.Errorf("no repository owns worktree %s", wtPath)
}

func (r *Runner) taskContext(t scheduler.Task, worktree string) adapter.TaskContext {
	tc := adapter.TaskContext{
		Task:         t.Task,
		WorktreePath: worktree,
		ContextFiles: t.ContextFiles,
		RetryAttempt: t.RetryCount,
	}
	if m, ok := policy.FindModel(r.cfg.Models, t.AssignedModel); ok {
		tc.Model = m.Model
	}
	if t.RetryCount > 0 {
		tc.AdditionalPrompt = t.Error
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range t.DependsOn {
		if res, ok := r.results[dep]; ok {
			if tc.DependencyResults == nil {
				tc.DependencyResults = make(map[string]adapter.ExecutionResult)
			}
			tc.DependencyResults[dep] = res
		}
	}
	return tc
}

// execute calls the adapter under the task timeout. Running out of time is
// a failed attempt, not an adapter failure.
func (r *Runner) execute(ctx context.Context, a adapter.Adapter, t scheduler.Task, tc adapter.TaskContext) (adapter.ExecutionResult, error) {
	timeout := t.Timeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := a.Execute(ctx, tc)
	if timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return adapter.Failed(fmt.Sprintf("timed out after %s", timeout), res.InputTokens, res.OutputTokens, time.Since(start)), nil
	}
	return res, err
}

// commit records the worktree changes on the task branch and returns the
// diff of the branch against base.
func (r *Runner) commit(ctx context.Context, mgr *git.Manager, t scheduler.Task, base string) (*git.Diff, error) {
	changed, err := mgr.HasChanges(ctx)
	if err != nil {
		return nil, err
	}
	if changed {
		if _, err := mgr.Commit(ctx, fmt.Sprintf("%s: %s", t.ID, t.Title)); err != nil {
			return nil, err
		}
	}
	return mgr.GetDiff(ctx, base, "HEAD")
}

// land rebases the worktree branch onto base and merges it. A conflicting
// rebase is aborted and reported as a *git.ConflictError.
func (r *Runner) land(ctx context.Context, rp *repo, wt *git.Worktree) error {
	mgr := git.NewManager(wt.Path)
	rb, err := mgr.Rebase(ctx, rp.base)
	if err != nil {
		return err
	}
	if !rb.Success {
		if err := mgr.AbortRebase(ctx); err != nil {
			log.Printf("WARNING: failed to abort rebase of %s: %v", wt.Branch, err)
		}
		return &git.ConflictError{Files: rb.Conflicts}
	}
	if _, err := rp.merger.Merge(ctx, wt.Branch); err != nil {
		return err
	}
	r.log.Info("Branch merged", "branch", wt.Branch, "base", rp.base)
	return nil
}

func failWith(res adapter.ExecutionResult, msg string) adapter.ExecutionResult {
	res.Success = false
	res.Error = msg
	return res
}

// reviewFeedback turns a rejected review into the error text the next
// attempt sees as its additional prompt.
func reviewFeedback(rv adapter.ReviewResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review rejected: %s", rv.Summary)
	for _, c := range rv.Comments {
		b.WriteString("\n- ")
		if c.File != "" {
			b.WriteString(c.File)
			if c.Line > 0 {
				fmt.Fprintf(&b, ":%d", c.Line)
			}
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "[%s] %s", c.Severity, c.Message)
		if c.Suggestion != "" {
			fmt.Fprintf(&b, " (suggestion: %s)", c.Suggestion)
		}
	}
	return b.String()
}
