package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/aristath/taskweave/internal/adapter"
	"github.com/aristath/taskweave/internal/errcode"
	"github.com/aristath/taskweave/internal/policy"
	"github.com/aristath/taskweave/internal/scheduler"
	"github.com/aristath/taskweave/internal/taskfile"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func sampleRun() scheduler.RunState {
	start := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.FixedZone("CET", 3600))
	validation := &taskfile.Validation{Enabled: true, Cmd: "go test ./...", MaxValidationRetries: 2}
	return scheduler.RunState{
		ID:           "run-abc",
		Project:      "demo",
		StartTime:    start,
		Status:       scheduler.RunRunning,
		CostUSD:      0.125,
		InputTokens:  1200,
		OutputTokens: 340,
		Tasks: []scheduler.Task{
			{
				Task: taskfile.Task{
					ID:          "schema",
					Title:       "Add schema",
					Description: "Create the tables",
					Repo:        "/src/app",
					Tool:        "claude",
					MergePolicy: taskfile.MergeAutoMerge,
					CostTier:    policy.CostTierHigh,
					Priority:    3,
					Execution:   taskfile.Execution{MaxRetries: 2, EscalateOnRetry: true, TimeoutMinutes: 30},
					Validation:  validation,
					Review:      taskfile.Review{Enabled: true, Strictness: taskfile.StrictnessStrict},
				},
				State:         scheduler.StateSucceeded,
				RetryCount:    1,
				AssignedModel: "sonnet",
				StartTime:     start.Add(time.Second),
				EndTime:       start.Add(time.Minute),
				Result: &adapter.ExecutionResult{
					Success:       true,
					Output:        "done",
					InputTokens:   1200,
					OutputTokens:  340,
					ModifiedFiles: []string{"schema.sql"},
					DurationMs:    59000,
				},
			},
			{
				Task: taskfile.Task{
					ID:          "api",
					Title:       "Add API",
					Repo:        "/src/app",
					DependsOn:   []string{"schema"},
					MergePolicy: taskfile.MergePRonly,
					Execution:   taskfile.Execution{MaxRetries: 3},
				},
				State:      scheduler.StatePending,
				RetryCount: 1,
				Error:      "go test ./... failed",
				Note:       "budget exceeded: monthly cost 10.0000 + 0.5000 exceeds limit 10.00",
			},
		},
	}
}

func TestSaveAndLoadRunState(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	want := sampleRun()

	if err := store.SaveRunState(ctx, want); err != nil {
		t.Fatalf("SaveRunState: %v", err)
	}
	got, err := store.LoadRunState(ctx, want.ID)
	if err != nil {
		t.Fatalf("LoadRunState: %v", err)
	}

	if got.ID != want.ID || got.Project != want.Project || got.Status != want.Status {
		t.Errorf("run header = %+v", got)
	}
	if !got.StartTime.Equal(want.StartTime) {
		t.Errorf("StartTime = %v, want %v", got.StartTime, want.StartTime)
	}
	if !got.EndTime.IsZero() {
		t.Errorf("EndTime = %v, want zero", got.EndTime)
	}
	if got.CostUSD != want.CostUSD || got.InputTokens != want.InputTokens || got.OutputTokens != want.OutputTokens {
		t.Errorf("totals = %v/%d/%d", got.CostUSD, got.InputTokens, got.OutputTokens)
	}
	if len(got.Tasks) != len(want.Tasks) {
		t.Fatalf("got %d tasks, want %d", len(got.Tasks), len(want.Tasks))
	}

	for i := range want.Tasks {
		w, g := want.Tasks[i], got.Tasks[i]
		if !reflect.DeepEqual(g.Task, w.Task) {
			t.Errorf("task %d definition:\n got %+v\nwant %+v", i, g.Task, w.Task)
		}
		if g.State != w.State || g.RetryCount != w.RetryCount || g.AssignedModel != w.AssignedModel || g.Error != w.Error || g.Note != w.Note {
			t.Errorf("task %d state = %s/%d/%q/%q/%q", i, g.State, g.RetryCount, g.AssignedModel, g.Error, g.Note)
		}
		if !g.StartTime.Equal(w.StartTime) || !g.EndTime.Equal(w.EndTime) {
			t.Errorf("task %d times = %v..%v, want %v..%v", i, g.StartTime, g.EndTime, w.StartTime, w.EndTime)
		}
		if !reflect.DeepEqual(g.Result, w.Result) {
			t.Errorf("task %d result = %+v, want %+v", i, g.Result, w.Result)
		}
	}
}

func TestSaveRunStateReplacesSnapshot(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	st := sampleRun()

	if err := store.SaveRunState(ctx, st); err != nil {
		t.Fatalf("first save: %v", err)
	}

	end := st.StartTime.Add(time.Hour)
	st.Tasks = st.Tasks[:1]
	st.Status = scheduler.RunCompleted
	st.EndTime = end
	if err := store.SaveRunState(ctx, st); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := store.LoadRunState(ctx, st.ID)
	if err != nil {
		t.Fatalf("LoadRunState: %v", err)
	}
	if len(got.Tasks) != 1 {
		t.Errorf("got %d tasks, want 1 after replace", len(got.Tasks))
	}
	if got.Status != scheduler.RunCompleted || !got.EndTime.Equal(end) {
		t.Errorf("status %s end %v", got.Status, got.EndTime)
	}
}

func TestLoadRunStateNotFound(t *testing.T) {
	store := testStore(t)
	_, err := store.LoadRunState(context.Background(), "nope")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
	if errcode.Of(err) != "E7002" {
		t.Errorf("code = %q", errcode.Of(err))
	}
}

func TestListRuns(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	older := sampleRun()
	older.ID = "older"
	newer := sampleRun()
	newer.ID = "newer"
	newer.StartTime = older.StartTime.Add(24 * time.Hour)
	newer.Tasks = newer.Tasks[:1]

	for _, st := range []scheduler.RunState{older, newer} {
		if err := store.SaveRunState(ctx, st); err != nil {
			t.Fatalf("save %s: %v", st.ID, err)
		}
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs", len(runs))
	}
	if runs[0].ID != "newer" || runs[1].ID != "older" {
		t.Errorf("order = %s, %s", runs[0].ID, runs[1].ID)
	}
	if runs[0].TaskCount != 1 || runs[1].TaskCount != 2 {
		t.Errorf("task counts = %d, %d", runs[0].TaskCount, runs[1].TaskCount)
	}
}

func TestSpendLedger(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	loc := time.UTC
	now := time.Date(2026, 5, 20, 15, 0, 0, 0, loc)

	records := []scheduler.SpendRecord{
		{RunID: "r0", TaskID: "old", CostUSD: 7, InputTokens: 700, At: time.Date(2026, 4, 30, 23, 0, 0, 0, loc)},
		{RunID: "r1", TaskID: "a", CostUSD: 1.5, InputTokens: 100, OutputTokens: 50, At: time.Date(2026, 5, 2, 8, 0, 0, 0, loc)},
		{RunID: "r2", TaskID: "b", CostUSD: 0.25, InputTokens: 10, OutputTokens: 5, At: time.Date(2026, 5, 20, 0, 0, 0, 0, loc)},
		{RunID: "r2", TaskID: "c", CostUSD: 0.5, InputTokens: 20, OutputTokens: 10, At: time.Date(2026, 5, 20, 14, 30, 0, 0, loc)},
	}
	for _, r := range records {
		if err := store.RecordSpend(ctx, r); err != nil {
			t.Fatalf("RecordSpend: %v", err)
		}
	}

	cost, tokens, err := store.SpendSince(ctx, time.Date(2026, 5, 1, 0, 0, 0, 0, loc))
	if err != nil {
		t.Fatalf("SpendSince: %v", err)
	}
	if cost != 2.25 || tokens != 195 {
		t.Errorf("month spend = %v/%d, want 2.25/195", cost, tokens)
	}

	st, err := BudgetState(ctx, store, now, 100, 5000)
	if err != nil {
		t.Fatalf("BudgetState: %v", err)
	}
	want := policy.BudgetState{MonthlyCostSpent: 2.25, MonthlyCostLimit: 100, DailyTokenSpent: 45, DailyTokenLimit: 5000}
	if st != want {
		t.Errorf("BudgetState = %+v, want %+v", st, want)
	}
}

func TestSpendSinceEmptyLedger(t *testing.T) {
	store := testStore(t)
	cost, tokens, err := store.SpendSince(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("SpendSince: %v", err)
	}
	if cost != 0 || tokens != 0 {
		t.Errorf("empty ledger = %v/%d", cost, tokens)
	}
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	a, b := testStore(t), testStore(t)
	ctx := context.Background()
	if err := a.SaveRunState(ctx, sampleRun()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := b.LoadRunState(ctx, "run-abc"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("second store sees first store's run: %v", err)
	}
}

func TestSQLiteStoreOnDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := store.SaveRunState(ctx, sampleRun()); err != nil {
		t.Fatalf("save: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.LoadRunState(ctx, "run-abc")
	if err != nil {
		t.Fatalf("LoadRunState after reopen: %v", err)
	}
	if len(got.Tasks) != 2 {
		t.Errorf("got %d tasks", len(got.Tasks))
	}
}

func TestSchedulerPersistsThroughStore(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	d := dispatcherFunc(func(ctx context.Context, t scheduler.Task) (scheduler.Outcome, error) {
		return scheduler.Outcome{Result: adapter.ExecutionResult{Success: true, InputTokens: 10, OutputTokens: 10}}, nil
	})
	defs := []taskfile.Task{{ID: "a", Title: "A"}, {ID: "b", Title: "B", DependsOn: []string{"a"}}}
	models := []policy.ModelProfile{{ID: "m", CostPer1kInputTokens: 1, CostPer1kOutputTokens: 1, Tier: 1}}

	s, err := scheduler.New(defs, d, scheduler.Options{RunID: "live", Models: models, Saver: store, Ledger: store})
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	if _, err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := store.LoadRunState(ctx, "live")
	if err != nil {
		t.Fatalf("LoadRunState: %v", err)
	}
	if got.Status != scheduler.RunCompleted {
		t.Errorf("status = %s", got.Status)
	}
	cost, tokens, err := store.SpendSince(ctx, time.Time{})
	if err != nil {
		t.Fatalf("SpendSince: %v", err)
	}
	if tokens != 40 || cost < 0.0399 || cost > 0.0401 {
		t.Errorf("ledger = %v/%d, want 0.04/40", cost, tokens)
	}
}

type dispatcherFunc func(ctx context.Context, t scheduler.Task) (scheduler.Outcome, error)

func (f dispatcherFunc) Dispatch(ctx context.Context, t scheduler.Task) (scheduler.Outcome, error) {
	return f(ctx, t)
}
