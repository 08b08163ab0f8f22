package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aristath/taskweave/internal/adapter"
	"github.com/aristath/taskweave/internal/events"
	"github.com/aristath/taskweave/internal/git"
	"github.com/aristath/taskweave/internal/logging"
	"github.com/aristath/taskweave/internal/orchestrator"
	"github.com/aristath/taskweave/internal/persistence"
	"github.com/aristath/taskweave/internal/policy"
	"github.com/aristath/taskweave/internal/scheduler"
	"github.com/aristath/taskweave/internal/taskfile"
)

var (
	runDryRun        bool
	runMaxConcurrent int
	resumeMax        int
)

var runCmd = &cobra.Command{
	Use:   "run <tasks.yaml>",
	Short: "Run the tasks of a task file",
	Long: `Run every task of a task file in dependency order.

Each task runs in its own worktree on its own branch. Tasks with merge
policy auto-merge are rebased onto the base branch and merged as soon as
they succeed; pr-only tasks leave their branch for you.

Examples:
  taskweave run tasks.yaml
  taskweave run tasks.yaml --max-concurrent 2
  taskweave run tasks.yaml --dry-run   # mock tools, no git changes`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Continue an interrupted or waiting run",
	Long: `Continue a persisted run. Tasks that were running when the previous
process stopped are queued again without using up a retry.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Schedule with mock tools and an in-memory store, touching no repository")
	runCmd.Flags().IntVar(&runMaxConcurrent, "max-concurrent", 0, "Override parallelism.max_concurrent_tasks")
	resumeCmd.Flags().IntVar(&resumeMax, "max-concurrent", 0, "Override parallelism.max_concurrent_tasks")
}

func runRun(cmd *cobra.Command, args []string) error {
	file, err := taskfile.Load(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if runDryRun {
		mem, err := persistence.NewMemoryStore(ctx)
		if err != nil {
			return err
		}
		a.store.Close()
		a.store = mem
	}

	runID := uuid.New().String()[:8]
	return a.drive(ctx, cmd.OutOrStdout(), driveOptions{
		runID:         runID,
		project:       file.Project,
		tasks:         file.Tasks,
		dryRun:        runDryRun,
		maxConcurrent: runMaxConcurrent,
	})
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.store.LoadRunState(ctx, args[0])
	if err != nil {
		return err
	}
	if st.Status == scheduler.RunCompleted {
		fmt.Fprintf(cmd.OutOrStdout(), "%s Run %s already completed\n", okMark(), st.ID)
		return nil
	}
	return a.drive(ctx, cmd.OutOrStdout(), driveOptions{
		runID:         st.ID,
		project:       st.Project,
		restore:       &st,
		maxConcurrent: resumeMax,
	})
}

type driveOptions struct {
	runID         string
	project       string
	tasks         []taskfile.Task
	restore       *scheduler.RunState
	dryRun        bool
	maxConcurrent int
}

// drive wires the adapters, runner, budget, event bus and stop watcher
// around a scheduler and runs it to the end.
func (a *app) drive(ctx context.Context, out io.Writer, o driveOptions) error {
	logger, err := logging.Setup(a.cfg.Logging, o.runID)
	if err != nil {
		return err
	}
	defer logger.Close()

	pm := adapter.NewProcessManager()
	go func() {
		<-ctx.Done()
		if err := pm.KillAll(); err != nil {
			logger.Warn("Failed to kill tool processes", "error", err)
		}
	}()

	var (
		dispatcher scheduler.Dispatcher
		estimator  scheduler.Estimator
		finalizer  scheduler.Finalizer
		runner     *orchestrator.Runner
	)
	if o.dryRun {
		d := &dryRunDispatcher{reg: adapter.MockRegistry(a.cfg.Providers, adapter.MockConfig{}), defaultTool: a.cfg.DefaultTool, models: a.models}
		dispatcher, estimator = d, d
	} else {
		reg, skipped := adapter.BuildRegistry(ctx, a.cfg.Providers, pm, adapter.NewBreakers(adapter.DefaultBreakerSettings))
		for name, err := range skipped {
			logger.Warn("Provider unavailable", "tool", name, "error", err)
		}
		runner = orchestrator.NewRunner(orchestrator.RunnerConfig{
			Registry:      reg,
			Models:        a.models,
			DefaultTool:   a.cfg.DefaultTool,
			BaseBranch:    a.cfg.Git.DefaultBranch,
			BranchPrefix:  a.cfg.Git.BranchPrefix,
			WorktreeDir:   a.cfg.Git.WorktreeDir,
			AutoCleanup:   a.cfg.Git.AutoCleanupWorktrees,
			MergeStrategy: git.ParseMergeStrategy(a.cfg.Git.MergeStrategy),
			Logger:        logger.Logger,
		})
		dispatcher, estimator, finalizer = runner, runner, runner
	}

	defs := o.tasks
	if o.restore != nil {
		defs = make([]taskfile.Task, len(o.restore.Tasks))
		for i, t := range o.restore.Tasks {
			defs[i] = t.Task
		}
	}
	if runner != nil {
		if err := runner.Preflight(ctx, defs); err != nil {
			return fmt.Errorf("preflight failed: %w", err)
		}
		if o.restore != nil {
			runner.Seed(*o.restore)
		}
	}

	state, err := persistence.BudgetState(ctx, a.store, time.Now(), a.cfg.Budget.MonthlyLimitUSD, a.cfg.Budget.DailyTokenLimit)
	if err != nil {
		return err
	}
	budget := policy.NewBudgetManager(state, a.cfg.Budget.WarnAtPercent)

	bus := events.NewBus()
	defer bus.Close()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(out, bus.SubscribeAll(0))
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !o.dryRun {
		watcher, err := orchestrator.WatchSignals(a.cfg.SignalsDir, o.runID, cancel)
		if err != nil {
			logger.Warn("Stop signals disabled", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	maxConcurrent := a.cfg.Parallelism.MaxConcurrentTasks
	if o.maxConcurrent > 0 {
		maxConcurrent = o.maxConcurrent
	}
	opts := scheduler.Options{
		RunID:         o.runID,
		Project:       o.project,
		MaxConcurrent: maxConcurrent,
		MaxPerRepo:    a.cfg.Parallelism.MaxConcurrentPerRepo,
		Priority:      scheduler.TaskPriority,
		Models:        a.models,
		Budget:        budget,
		Estimator:     estimator,
		Finalizer:     finalizer,
		Saver:         a.store,
		Ledger:        a.store,
		Bus:           bus,
		Logger:        logger.Logger,
	}

	var s *scheduler.Scheduler
	if o.restore != nil {
		s, err = scheduler.Restore(*o.restore, dispatcher, opts)
	} else {
		s, err = scheduler.New(defs, dispatcher, opts)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s Run %s started with %d task(s)\n", infoMark(), o.runID, len(defs))
	st, runErr := s.Run(runCtx)
	bus.Close()
	<-printed

	fmt.Fprintln(out)
	renderRun(out, st)
	if logger.Path() != "" {
		fmt.Fprintln(out, styleHelp.Render("log: "+logger.Path()))
	}
	return runResult(out, st, runErr)
}

// runResult turns the final state into the command's outcome. A stopped or
// waiting run is not an error. A run that ended with failed tasks, or with
// tasks the budget never admitted, is.
func runResult(out io.Writer, st scheduler.RunState, runErr error) error {
	if errors.Is(runErr, context.Canceled) {
		fmt.Fprintf(out, "%s Run stopped. Continue with: taskweave resume %s\n", warnMark(), st.ID)
		return nil
	}
	if runErr != nil {
		return runErr
	}
	switch st.Status {
	case scheduler.RunRunning:
		fmt.Fprintf(out, "%s Tasks are waiting for approval: taskweave approve %s <task-id>\n", warnMark(), st.ID)
		return nil
	case scheduler.RunFailed:
		failed := st.Counts()[scheduler.StateFailed]
		if held := st.Held(); failed == 0 && len(held) > 0 {
			fmt.Fprintf(out, "%s Raise the budget limits, then continue with: taskweave resume %s\n", warnMark(), st.ID)
			return fmt.Errorf("%w: %s held in run %s", policy.ErrBudgetExceeded, strings.Join(held, ", "), st.ID)
		}
		return fmt.Errorf("%w: %d task(s) failed in run %s", scheduler.ErrRetriesExceeded, failed, st.ID)
	}
	return nil
}

// printEvents writes one line per task lifecycle event until events closes.
func printEvents(w io.Writer, ch <-chan events.Event) {
	for e := range ch {
		switch e := e.(type) {
		case events.TaskStarted:
			line := fmt.Sprintf("%s %s started with %s", infoMark(), e.ID, e.Tool)
			if e.Model != "" {
				line += " (" + e.Model + ")"
			}
			if e.Attempt > 1 {
				line += fmt.Sprintf(", attempt %d", e.Attempt)
			}
			fmt.Fprintln(w, line)
		case events.TaskSucceeded:
			fmt.Fprintf(w, "%s %s succeeded in %s ($%.4f)\n", okMark(), e.ID, e.Duration.Round(time.Second), e.CostUSD)
		case events.TaskRetrying:
			fmt.Fprintf(w, "%s %s failed, retry %d/%d: %s\n", warnMark(), e.ID, e.RetryCount, e.MaxRetries, truncate(e.Reason, 80))
		case events.TaskFailed:
			fmt.Fprintf(w, "%s %s failed: %s\n", failMark(), e.ID, truncate(e.Reason, 80))
		case events.TaskWaiting:
			fmt.Fprintf(w, "%s %s is %s: %s\n", warnMark(), e.ID, e.State, truncate(e.Summary, 80))
		case events.BudgetDenied:
			fmt.Fprintf(w, "%s %s held back: %s\n", warnMark(), e.ID, e.Reason)
		case events.BudgetWarning:
			fmt.Fprintf(w, "%s Budget at %.0f%% of the monthly limit, %.0f%% of the daily tokens\n", warnMark(), e.MonthlyUtilization, e.DailyUtilization)
		case events.DAGProgress:
			fmt.Fprintln(w, styleHelp.Render(fmt.Sprintf("  %d/%d done, %d running, %d failed, %d waiting",
				e.Succeeded, e.Total, e.Running, e.Failed, e.Waiting)))
		}
	}
}

// dryRunDispatcher executes tasks with mock adapters outside any worktree,
// so a task file can be checked end to end without touching a repository.
type dryRunDispatcher struct {
	reg         *adapter.Registry
	defaultTool string
	models      []policy.ModelProfile
}

func (d *dryRunDispatcher) context(t scheduler.Task) (adapter.Adapter, adapter.TaskContext, error) {
	name := t.Tool
	if name == "" {
		name = d.defaultTool
	}
	a, err := d.reg.Get(name)
	if err != nil {
		return nil, adapter.TaskContext{}, err
	}
	tc := adapter.TaskContext{Task: t.Task, ContextFiles: t.ContextFiles, RetryAttempt: t.RetryCount}
	if m, ok := policy.FindModel(d.models, t.AssignedModel); ok {
		tc.Model = m.Model
	}
	return a, tc, nil
}

func (d *dryRunDispatcher) Dispatch(ctx context.Context, t scheduler.Task) (scheduler.Outcome, error) {
	a, tc, err := d.context(t)
	if err != nil {
		return scheduler.Outcome{}, err
	}
	res, err := a.Execute(ctx, tc)
	return scheduler.Outcome{Result: res}, err
}

func (d *dryRunDispatcher) Estimate(ctx context.Context, t scheduler.Task, model *policy.ModelProfile) (adapter.CostEstimate, error) {
	a, tc, err := d.context(t)
	if err != nil {
		return adapter.CostEstimate{}, err
	}
	if model != nil {
		tc.Model = model.Model
	}
	return a.EstimateCost(ctx, tc)
}
