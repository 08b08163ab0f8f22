package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aristath/taskweave/internal/config"
	"github.com/aristath/taskweave/internal/errcode"
	"github.com/aristath/taskweave/internal/taskfile"
)

func taskContext(id, title string) TaskContext {
	return TaskContext{Task: taskfile.Task{ID: id, Title: title}}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(NewMockAdapter("b", MockConfig{})); err != nil {
		t.Fatalf("Register(b): %v", err)
	}
	if err := reg.Register(NewMockAdapter("a", MockConfig{})); err != nil {
		t.Fatalf("Register(a): %v", err)
	}
	if err := reg.Register(NewMockAdapter("a", MockConfig{})); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate Register error = %v, want ErrAlreadyRegistered", err)
	}

	if got := reg.List(); strings.Join(got, ",") != "a,b" {
		t.Errorf("List() = %v, want [a b]", got)
	}
	if len(reg.All()) != 2 || !reg.Has("b") {
		t.Errorf("All/Has disagree with List")
	}
	if _, err := reg.Get("missing"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Get(missing) error = %v, want ErrNotRegistered", err)
	}

	if !reg.Unregister("a") || reg.Unregister("a") {
		t.Errorf("Unregister should report presence exactly once")
	}
	reg.Clear()
	if len(reg.List()) != 0 {
		t.Errorf("Clear left %v", reg.List())
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	r1, r2 := NewRegistry(), NewRegistry()
	r1.Register(NewMockAdapter("mock", MockConfig{}))
	if r2.Has("mock") {
		t.Error("registration leaked between registries")
	}
}

func TestBaseAdapterDefaults(t *testing.T) {
	b := BaseAdapter{AdapterName: "plain"}
	review, err := b.Review(context.Background(), TaskContext{}, "diff")
	if err != nil || !review.Approved || review.Summary != "No review performed" || len(review.Comments) != 0 {
		t.Errorf("Review() = %+v, %v", review, err)
	}
	est, err := b.EstimateCost(context.Background(), TaskContext{})
	if err != nil || est.ModelID != "plain" || est.EstimatedCostUSD != 0 || est.EstimatedInputTokens != 0 {
		t.Errorf("EstimateCost() = %+v, %v", est, err)
	}
}

func TestMockAdapterExecute(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	m := NewMockAdapter("", MockConfig{WriteOutput: true})
	if m.Name() != "mock" || !m.IsAvailable(ctx) {
		t.Fatalf("unexpected defaults: name=%s available=%v", m.Name(), m.IsAvailable(ctx))
	}

	tc := taskContext("t1", "Write things")
	tc.WorktreePath = dir
	res, err := m.Execute(ctx, tc)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !res.Success || res.InputTokens != 100 || res.OutputTokens != 50 {
		t.Errorf("Execute() = %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, "mock-output.txt")); err != nil {
		t.Errorf("mock output not written: %v", err)
	}

	failing := NewMockAdapter("f", MockConfig{Fail: true})
	res, err = failing.Execute(ctx, tc)
	if err != nil {
		t.Fatalf("failing Execute() error: %v", err)
	}
	if res.Success || res.Error != "Mock execution failed" || res.InputTokens != 100 || res.OutputTokens != 0 {
		t.Errorf("failing Execute() = %+v", res)
	}

	if m.Executions() != 1 || failing.Executions() != 1 {
		t.Errorf("execution counters = %d/%d", m.Executions(), failing.Executions())
	}
	m.Reset()
	if m.Executions() != 0 {
		t.Errorf("Reset left %d executions", m.Executions())
	}
}

func TestMockAdapterFailTimes(t *testing.T) {
	m := NewMockAdapter("m", MockConfig{FailTimes: 2})
	var got []bool
	for i := 0; i < 3; i++ {
		res, _ := m.Execute(context.Background(), taskContext("t", "x"))
		got = append(got, res.Success)
	}
	if got[0] || got[1] || !got[2] {
		t.Errorf("results = %v, want [false false true]", got)
	}
}

func TestMockAdapterDelayRespectsContext(t *testing.T) {
	m := NewMockAdapter("slow", MockConfig{Delay: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := m.Execute(ctx, taskContext("t", "x")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Execute() error = %v, want DeadlineExceeded", err)
	}
}

func TestMockAdapterReview(t *testing.T) {
	ctx := context.Background()
	diff := "+added line"

	ok, _ := NewMockAdapter("m", MockConfig{}).Review(ctx, taskContext("t", "x"), diff)
	if !ok.Approved || ok.InputTokens != int64(len(diff)) || ok.OutputTokens != 50 {
		t.Errorf("approving review = %+v", ok)
	}

	bad, _ := NewMockAdapter("m", MockConfig{Reject: true}).Review(ctx, taskContext("t", "x"), diff)
	if bad.Approved || len(bad.Comments) != 1 || bad.Comments[0].Severity != SeverityWarning {
		t.Errorf("rejecting review = %+v", bad)
	}
}

func TestMockAdapterEstimate(t *testing.T) {
	m := NewMockAdapter("m", MockConfig{})
	tests := []struct {
		title   string
		in, out int64
	}{
		{"", 50, 100},
		{"abcde", 50, 100},
		{"Add login page", 140, 280},
	}
	for _, tt := range tests {
		est, err := m.EstimateCost(context.Background(), taskContext("t", tt.title))
		if err != nil {
			t.Fatalf("EstimateCost(%q) error: %v", tt.title, err)
		}
		if est.EstimatedInputTokens != tt.in || est.EstimatedOutputTokens != tt.out {
			t.Errorf("EstimateCost(%q) = %d/%d, want %d/%d", tt.title, est.EstimatedInputTokens, est.EstimatedOutputTokens, tt.in, tt.out)
		}
		wantCost := float64(tt.in+tt.out) * 0.0001
		if est.EstimatedCostUSD != wantCost {
			t.Errorf("EstimateCost(%q) cost = %g, want %g", tt.title, est.EstimatedCostUSD, wantCost)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int64
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcdefghijklmnopq", 4},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestBuildPrompt(t *testing.T) {
	tc := taskContext("api", "Build API")
	tc.Task.Description = "REST endpoints for users."
	tc.ContextFiles = []string{"api/users.go"}
	tc.DependencyResults = map[string]ExecutionResult{
		"schema": {Success: true, ModifiedFiles: []string{"db/schema.sql"}},
	}
	tc.RetryAttempt = 2
	tc.AdditionalPrompt = "tests failed"

	p := BuildPrompt(tc)
	for _, want := range []string{"Task api: Build API", "REST endpoints", "api/users.go", "schema (changed db/schema.sql)", "Retry 2", "tests failed"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestBuildReviewPromptUsesDiffFence(t *testing.T) {
	tc := taskContext("t", "x")
	tc.Task.Review.Strictness = taskfile.StrictnessStrict
	p := BuildReviewPrompt(tc, "+line\n")
	if !strings.Contains(p, "```diff\n+line\n```") || !strings.Contains(p, "idiomatic and tested") {
		t.Errorf("review prompt = %s", p)
	}
	if !strings.Contains(BuildReviewPrompt(tc, ""), "No changes.") {
		t.Error("empty diff should render as No changes.")
	}
}

func TestParseReviewVerdict(t *testing.T) {
	reply := "Here you go:\n```json\n{\"approved\": false, \"summary\": \"needs tests\", \"comments\": [{\"file\": \"a.go\", \"line\": 3, \"severity\": \"error\", \"message\": \"nil deref\"}]}\n```"
	got, err := ParseReviewVerdict(reply)
	if err != nil {
		t.Fatalf("ParseReviewVerdict() error: %v", err)
	}
	if got.Approved || got.Summary != "needs tests" || len(got.Comments) != 1 || got.Comments[0].Severity != SeverityError {
		t.Errorf("ParseReviewVerdict() = %+v", got)
	}

	if _, err := ParseReviewVerdict("LGTM"); err == nil {
		t.Error("expected error without a JSON object")
	}
}

func TestFactory(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		provider config.ProviderConfig
		wantType string
	}{
		{config.ProviderConfig{Type: "claude"}, "*adapter.ClaudeAdapter"},
		{config.ProviderConfig{Type: "codex", Command: "codex-beta"}, "*adapter.CodexAdapter"},
		{config.ProviderConfig{Type: "anthropic", APIKey: "sk-test"}, "*adapter.AnthropicAdapter"},
		{config.ProviderConfig{Type: "mock"}, "*adapter.MockAdapter"},
	}
	for _, tt := range tests {
		a, err := New(ctx, "tool", tt.provider, nil)
		if err != nil {
			t.Fatalf("New(%s) error: %v", tt.provider.Type, err)
		}
		if a.Name() != "tool" {
			t.Errorf("New(%s).Name() = %q", tt.provider.Type, a.Name())
		}
		if got := typeName(a); got != tt.wantType {
			t.Errorf("New(%s) type = %s, want %s", tt.provider.Type, got, tt.wantType)
		}
	}

	if _, err := New(ctx, "x", config.ProviderConfig{Type: "goose"}, nil); err == nil {
		t.Error("expected error for unknown provider type")
	}
}

func TestBuildRegistrySkipsBrokenProviders(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	providers := map[string]config.ProviderConfig{
		"mock":      {Type: "mock"},
		"anthropic": {Type: "anthropic"},
	}
	reg, skipped := BuildRegistry(context.Background(), providers, nil, NewBreakers(DefaultBreakerSettings))
	if !reg.Has("mock") || reg.Has("anthropic") {
		t.Errorf("registry = %v", reg.List())
	}
	if skipped["anthropic"] == nil {
		t.Error("anthropic provider without a key should be skipped")
	}
}

func TestAdapterFailureCode(t *testing.T) {
	if code := errcode.Of(ErrAdapterFailure); code != "E4001" {
		t.Errorf("code = %q, want E4001", code)
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
