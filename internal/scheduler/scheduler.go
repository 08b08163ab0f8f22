// Package scheduler owns the task state machine of a run. It computes ready
// tasks from the dependency graph, queues them by priority, admits them
// through the concurrency, per-repo and budget gates, dispatches them and
// applies the retry rules to what comes back.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskweave/internal/adapter"
	"github.com/aristath/taskweave/internal/dag"
	"github.com/aristath/taskweave/internal/errcode"
	"github.com/aristath/taskweave/internal/events"
	"github.com/aristath/taskweave/internal/policy"
	"github.com/aristath/taskweave/internal/taskfile"
)

// Outcome is what a dispatcher reports for one attempt.
type Outcome struct {
	Result adapter.ExecutionResult

	// Hold, when set to a waiting state, suspends a successful task there
	// instead of completing it.
	Hold    TaskState
	Summary string

	// Tokens spent reviewing the attempt, billed with the execution.
	ReviewInputTokens  int64
	ReviewOutputTokens int64
}

// Dispatcher runs one attempt of a task. A returned error counts as an
// adapter failure and goes through the same retry path as a failed result.
type Dispatcher interface {
	Dispatch(ctx context.Context, t Task) (Outcome, error)
}

// Estimator predicts the tokens a task will use with model.
type Estimator interface {
	Estimate(ctx context.Context, t Task, model *policy.ModelProfile) (adapter.CostEstimate, error)
}

// Finalizer is told when a task reaches a terminal state.
type Finalizer interface {
	Finalize(ctx context.Context, t Task)
}

// StateSaver persists run snapshots.
type StateSaver interface {
	SaveRunState(ctx context.Context, st RunState) error
}

// SpendRecord is one settled attempt's spend.
type SpendRecord struct {
	RunID        string
	TaskID       string
	Model        string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	At           time.Time
}

// SpendRecorder appends to the spend ledger.
type SpendRecorder interface {
	RecordSpend(ctx context.Context, rec SpendRecord) error
}

// Options configures a Scheduler. Only RunID is required.
type Options struct {
	RunID         string
	Project       string
	MaxConcurrent int
	MaxPerRepo    int
	Priority      PriorityFunc
	Models        []policy.ModelProfile
	Budget        *policy.BudgetManager
	Estimator     Estimator
	Finalizer     Finalizer
	Saver         StateSaver
	Ledger        SpendRecorder
	Bus           *events.Bus
	Logger        *slog.Logger
	Now           func() time.Time
}

// Scheduler drives one run to completion.
type Scheduler struct {
	opts       Options
	dispatcher Dispatcher
	graph      *dag.Graph
	store      *Store
	queue      *Queue
	repos      *RepoLimiter
	log        *slog.Logger

	// Touched only by the loop goroutine.
	denied map[string]bool
	warned bool

	mu        sync.Mutex
	startTime time.Time
	endTime   time.Time
	status    RunStatus
	costUSD   float64
	inTokens  int64
	outTokens int64
}

type settlement struct {
	id      string
	outcome Outcome
	err     error
}

// New prepares a run over defs. Graph errors are returned before anything
// executes.
func New(defs []taskfile.Task, d Dispatcher, opts Options) (*Scheduler, error) {
	tasks := make([]Task, len(defs))
	for i, def := range defs {
		tasks[i] = NewTask(def)
	}
	s, err := newScheduler(tasks, d, opts)
	if err != nil {
		return nil, err
	}
	s.startTime = s.now()
	return s, nil
}

// Restore continues a persisted run. Tasks that were running when the
// previous process stopped go back to pending without spending a retry.
func Restore(st RunState, d Dispatcher, opts Options) (*Scheduler, error) {
	if opts.RunID == "" {
		opts.RunID = st.ID
	}
	if opts.Project == "" {
		opts.Project = st.Project
	}
	s, err := newScheduler(st.Tasks, d, opts)
	if err != nil {
		return nil, err
	}
	for _, t := range st.Tasks {
		if t.State == StateRunning {
			if err := s.store.Requeue(t.ID); err != nil {
				return nil, err
			}
		}
	}
	s.startTime = st.StartTime
	s.costUSD = st.CostUSD
	s.inTokens = st.InputTokens
	s.outTokens = st.OutputTokens
	return s, nil
}

func newScheduler(tasks []Task, d Dispatcher, opts Options) (*Scheduler, error) {
	specs := make([]dag.Spec, len(tasks))
	for i, t := range tasks {
		specs[i] = dag.Spec{ID: t.ID, DependsOn: t.DependsOn}
	}
	g, err := dag.Build(specs)
	if err != nil {
		return nil, err
	}

	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.Priority == nil {
		opts.Priority = ConstantPriority
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		opts:       opts,
		dispatcher: d,
		graph:      g,
		store:      NewStore(tasks),
		queue:      NewQueue(),
		repos:      NewRepoLimiter(opts.MaxPerRepo),
		log:        logger.With("run", opts.RunID),
		denied:     make(map[string]bool),
		status:     RunRunning,
	}, nil
}

// Graph returns the dependency graph of the run.
func (s *Scheduler) Graph() *dag.Graph { return s.graph }

// Snapshot returns the current run state. It is safe to call while Run is
// in progress.
func (s *Scheduler) Snapshot() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RunState{
		ID:           s.opts.RunID,
		Project:      s.opts.Project,
		Tasks:        s.store.Tasks(),
		StartTime:    s.startTime,
		EndTime:      s.endTime,
		Status:       s.status,
		CostUSD:      s.costUSD,
		InputTokens:  s.inTokens,
		OutputTokens: s.outTokens,
	}
}

// Run ticks until nothing is running and nothing more can be admitted.
// Cancelling ctx stops admission; tasks already dispatched run to the end
// and are settled before Run returns. The error is ctx.Err() when the run
// was cancelled.
func (s *Scheduler) Run(ctx context.Context) (RunState, error) {
	s.log.Info("Run started", "tasks", s.graph.Len(), "max_concurrent", s.opts.MaxConcurrent)
	s.save(ctx)

	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrent)
	results := make(chan settlement, s.opts.MaxConcurrent)
	running := make(map[string]bool)

	done := ctx.Done()
	cancelled := false

	for {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
			done = nil
		}
		if !cancelled {
			s.enqueueReady(running)
			admitted := s.admit(ctx, s.opts.MaxConcurrent-len(running))
			for _, t := range admitted {
				running[t.ID] = true
				s.opts.Bus.Publish(events.TaskStarted{
					RunID: s.opts.RunID, ID: t.ID, Title: t.Title, Tool: t.Tool,
					Model: t.AssignedModel, Attempt: t.RetryCount + 1, Timestamp: t.StartTime,
				})
				s.log.Info("Task started", "task", t.ID, "model", t.AssignedModel, "attempt", t.RetryCount+1)
				g.Go(func() error {
					out, err := s.dispatch(ctx, t)
					results <- settlement{id: t.ID, outcome: out, err: err}
					return nil
				})
			}
			if len(admitted) > 0 {
				s.progress()
			}
		}

		if len(running) == 0 {
			break
		}

		select {
		case r := <-results:
			delete(running, r.id)
			s.settle(ctx, r)
		case <-done:
			cancelled = true
			done = nil
			s.log.Warn("Run cancelled, waiting for running tasks", "running", len(running))
		}
	}
	_ = g.Wait()

	st := s.finish(cancelled)
	s.opts.Bus.Publish(events.RunFinished{
		RunID: st.ID, Status: string(st.Status), Duration: st.EndTime.Sub(st.StartTime), Timestamp: st.EndTime,
	})
	s.log.Info("Run finished", "status", st.Status, "cost_usd", st.CostUSD)
	s.save(context.WithoutCancel(ctx))

	if cancelled {
		return st, ctx.Err()
	}
	return st, nil
}

// enqueueReady queues every ready pending task not already queued or running.
func (s *Scheduler) enqueueReady(running map[string]bool) {
	now := s.now()
	for _, id := range dag.ReadyTasks(s.graph, s.store.Succeeded()) {
		if running[id] || s.queue.Contains(id) {
			continue
		}
		t, err := s.store.Get(id)
		if err != nil || t.State != StatePending {
			continue
		}
		s.queue.Push(id, s.opts.Priority(t), now)
	}
}

// admit pops queued tasks into at most free slots. Tasks held back by the
// per-repo limit or the budget keep their place in the queue.
func (s *Scheduler) admit(ctx context.Context, free int) []Task {
	var admitted []Task
	var deferred []QueueItem
	defer func() {
		for _, item := range deferred {
			s.queue.restore(item)
		}
	}()

	for len(admitted) < free {
		item, ok := s.queue.Pop()
		if !ok {
			break
		}
		t, err := s.store.Get(item.TaskID)
		if err != nil {
			s.log.Warn("Dropping queued task", "task", item.TaskID, "error", err)
			continue
		}
		if !s.repos.TryAcquire(t.Repo) {
			deferred = append(deferred, item)
			continue
		}

		model := s.chooseModel(t)
		if err := s.checkBudget(ctx, t, model); err != nil {
			s.repos.Release(t.Repo)
			deferred = append(deferred, item)
			continue
		}

		modelID := ""
		if model != nil {
			modelID = model.ID
		}
		if err := s.store.Start(t.ID, modelID, s.now()); err != nil {
			s.repos.Release(t.Repo)
			s.log.Error("Cannot start task", "task", t.ID, "error", err)
			continue
		}
		delete(s.denied, t.ID)
		t, _ = s.store.Get(t.ID)
		admitted = append(admitted, t)
	}
	return admitted
}

// chooseModel selects a model for the next attempt, moving up one tier per
// retry when the task asks for escalation.
func (s *Scheduler) chooseModel(t Task) *policy.ModelProfile {
	if len(s.opts.Models) == 0 {
		return nil
	}
	if t.Execution.EscalateOnRetry && t.RetryCount > 0 {
		return policy.Escalate(s.opts.Models, t.Attributes(), t.RetryCount)
	}
	return policy.SelectModel(s.opts.Models, t.Attributes())
}

func (s *Scheduler) checkBudget(ctx context.Context, t Task, model *policy.ModelProfile) error {
	if s.opts.Budget == nil {
		return nil
	}

	var est adapter.CostEstimate
	if s.opts.Estimator != nil {
		var err error
		est, err = s.opts.Estimator.Estimate(ctx, t, model)
		if err != nil {
			s.log.Warn("Cost estimate failed, assuming zero", "task", t.ID, "error", err)
			est = adapter.CostEstimate{}
		}
	}
	tokens := est.EstimatedInputTokens + est.EstimatedOutputTokens
	cost := est.EstimatedCostUSD
	if model != nil {
		cost = policy.CalculateCost(*model, est.EstimatedInputTokens, est.EstimatedOutputTokens).TotalCost
	}

	err := s.opts.Budget.Allow(cost, tokens)
	if err == nil {
		return nil
	}
	_ = s.store.Annotate(t.ID, err.Error())
	if !s.denied[t.ID] {
		s.denied[t.ID] = true
		s.opts.Bus.Publish(events.BudgetDenied{
			RunID: s.opts.RunID, ID: t.ID, EstimatedCost: cost, Tokens: tokens,
			Reason: err.Error(), Timestamp: s.now(),
		})
		s.log.Warn("Task held by budget", "task", t.ID, "estimated_cost", cost, "tokens", tokens, "error", err)
	}
	return err
}

// dispatch runs one attempt. It never lets a panic escape, so the slot the
// task holds is always released by settle.
func (s *Scheduler) dispatch(ctx context.Context, t Task) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{}
			err = fmt.Errorf("%w: panic: %v", adapter.ErrAdapterFailure, r)
		}
	}()
	out, err = s.dispatcher.Dispatch(context.WithoutCancel(ctx), t)
	if err != nil && !errors.Is(err, adapter.ErrAdapterFailure) {
		err = fmt.Errorf("%w: %w", adapter.ErrAdapterFailure, err)
	}
	return out, err
}

func (s *Scheduler) settle(ctx context.Context, r settlement) {
	ctx = context.WithoutCancel(ctx)
	now := s.now()

	t, err := s.store.Get(r.id)
	if err != nil {
		s.log.Error("Settled unknown task", "task", r.id, "error", err)
		return
	}
	defer s.repos.Release(t.Repo)

	res := r.outcome.Result
	if r.err != nil {
		res = adapter.Failed(r.err.Error(), res.InputTokens, res.OutputTokens, now.Sub(t.StartTime))
	}

	cost := s.recordSpend(ctx, t, res.InputTokens+r.outcome.ReviewInputTokens, res.OutputTokens+r.outcome.ReviewOutputTokens, now)
	_ = s.store.SetResult(t.ID, res)
	duration := now.Sub(t.StartTime)

	switch {
	case res.Success && r.outcome.Hold.Waiting():
		err = s.store.Hold(t.ID, r.outcome.Hold, r.outcome.Summary, now)
		s.opts.Bus.Publish(events.TaskWaiting{
			RunID: s.opts.RunID, ID: t.ID, State: string(r.outcome.Hold), Summary: r.outcome.Summary, Timestamp: now,
		})
		s.log.Info("Task waiting", "task", t.ID, "state", r.outcome.Hold)

	case res.Success:
		err = s.store.Succeed(t.ID, now)
		s.opts.Bus.Publish(events.TaskSucceeded{RunID: s.opts.RunID, ID: t.ID, Duration: duration, CostUSD: cost, Timestamp: now})
		s.log.Info("Task succeeded", "task", t.ID, "duration", duration)

	case t.RetryCount < t.MaxRetries():
		err = s.store.Retry(t.ID, res.Error, now)
		s.opts.Bus.Publish(events.TaskRetrying{
			RunID: s.opts.RunID, ID: t.ID, RetryCount: t.RetryCount + 1, MaxRetries: t.MaxRetries(),
			Reason: res.Error, Timestamp: now,
		})
		s.log.Warn("Task failed, retrying", "task", t.ID, "retry", t.RetryCount+1, "max_retries", t.MaxRetries(), "error", res.Error)

	default:
		err = s.store.Fail(t.ID, res.Error, now)
		s.opts.Bus.Publish(events.TaskFailed{
			RunID: s.opts.RunID, ID: t.ID, Reason: res.Error, Code: errcode.Of(ErrRetriesExceeded),
			Duration: duration, Timestamp: now,
		})
		s.log.Error("Task failed", "task", t.ID, "retries", t.RetryCount, "error", res.Error)
	}
	if err != nil {
		s.log.Error("Transition rejected", "task", t.ID, "error", err)
	}

	if updated, err := s.store.Get(t.ID); err == nil && updated.State.Terminal() && s.opts.Finalizer != nil {
		s.opts.Finalizer.Finalize(ctx, updated)
	}
	s.save(ctx)
	s.progress()
}

// recordSpend charges actual tokens to the budget and the ledger and returns
// the priced cost.
func (s *Scheduler) recordSpend(ctx context.Context, t Task, in, out int64, now time.Time) float64 {
	var cost float64
	if model, ok := policy.FindModel(s.opts.Models, t.AssignedModel); ok {
		cost = policy.CalculateCost(model, in, out).TotalCost
	}

	s.mu.Lock()
	s.costUSD += cost
	s.inTokens += in
	s.outTokens += out
	s.mu.Unlock()

	if s.opts.Budget != nil {
		s.opts.Budget.AddSpending(cost, in+out)
		if !s.warned && s.opts.Budget.IsWarningThresholdExceeded() {
			s.warned = true
			monthly, daily := s.opts.Budget.UtilizationPercentage()
			s.opts.Bus.Publish(events.BudgetWarning{
				RunID: s.opts.RunID, MonthlyUtilization: monthly, DailyUtilization: daily, Timestamp: now,
			})
			s.log.Warn("Budget warning threshold reached", "monthly_pct", monthly, "daily_pct", daily)
		}
	}

	if s.opts.Ledger != nil {
		rec := SpendRecord{
			RunID: s.opts.RunID, TaskID: t.ID, Model: t.AssignedModel,
			InputTokens: in, OutputTokens: out, CostUSD: cost, At: now,
		}
		if err := s.opts.Ledger.RecordSpend(ctx, rec); err != nil {
			s.log.Warn("Failed to record spend", "task", t.ID, "error", err)
		}
	}
	return cost
}

func (s *Scheduler) finish(cancelled bool) RunState {
	s.mu.Lock()
	s.status = finalStatus(s.store.Tasks(), cancelled)
	if s.status != RunRunning {
		s.endTime = s.now()
	}
	s.mu.Unlock()
	return s.Snapshot()
}

func (s *Scheduler) save(ctx context.Context) {
	if s.opts.Saver == nil {
		return
	}
	if err := s.opts.Saver.SaveRunState(ctx, s.Snapshot()); err != nil {
		s.log.Warn("Failed to save run state", "error", err)
	}
}

func (s *Scheduler) progress() {
	counts := s.store.Counts()
	s.opts.Bus.Publish(events.DAGProgress{
		RunID:     s.opts.RunID,
		Total:     s.graph.Len(),
		Succeeded: counts[StateSucceeded],
		Running:   counts[StateRunning],
		Failed:    counts[StateFailed],
		Waiting:   counts[StateWaitingReview] + counts[StateWaitingHuman],
		Pending:   counts[StatePending],
		Timestamp: s.now(),
	})
}

func (s *Scheduler) now() time.Time {
	return s.opts.Now()
}

// Resolve applies a reviewer or human decision to a waiting task of st.
// The run completes when the decision leaves every task succeeded, and fails
// when it leaves nothing waiting and nothing a resume could admit.
func Resolve(st *RunState, taskID string, approved bool, note string, now time.Time) error {
	store := NewStore(st.Tasks)
	if err := store.Resolve(taskID, approved, note, now); err != nil {
		return err
	}
	st.Tasks = store.Tasks()
	switch status := finalStatus(st.Tasks, false); {
	case status == RunCompleted, status == RunFailed && !runnable(st.Tasks):
		st.Status = status
		st.EndTime = now
	}
	return nil
}
