package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MockConfig controls MockAdapter behavior. The zero value succeeds,
// approves and reports itself available.
type MockConfig struct {
	Fail        bool          // every execution fails
	FailTimes   int           // the first FailTimes executions fail
	Reject      bool          // reviews do not approve
	Unavailable bool          // IsAvailable returns false
	Delay       time.Duration // added before each result
	Output      string        // execution output; defaults to a fixed message
	WriteOutput bool          // write mock-output.txt into the worktree
	Err         error         // Execute returns this error
	Panic       bool          // Execute panics
}

// MockAdapter simulates a tool without calling anything external.
type MockAdapter struct {
	BaseAdapter
	cfg MockConfig

	mu         sync.Mutex
	executions int
	reviews    int
}

// NewMockAdapter returns a mock registered under name ("mock" if empty).
func NewMockAdapter(name string, cfg MockConfig) *MockAdapter {
	if name == "" {
		name = "mock"
	}
	if cfg.Output == "" {
		cfg.Output = "Mock execution completed successfully"
	}
	return &MockAdapter{BaseAdapter: BaseAdapter{AdapterName: name}, cfg: cfg}
}

func (m *MockAdapter) IsAvailable(ctx context.Context) bool {
	return !m.cfg.Unavailable
}

func (m *MockAdapter) Execute(ctx context.Context, tc TaskContext) (ExecutionResult, error) {
	m.mu.Lock()
	m.executions++
	n := m.executions
	m.mu.Unlock()

	start := time.Now()
	if err := m.wait(ctx); err != nil {
		return ExecutionResult{}, err
	}
	if m.cfg.Panic {
		panic("mock adapter panic")
	}
	if m.cfg.Err != nil {
		return ExecutionResult{}, m.cfg.Err
	}

	if m.cfg.Fail || n <= m.cfg.FailTimes {
		return Failed("Mock execution failed", 100, 0, time.Since(start)), nil
	}

	output := filepath.Join(tc.WorktreePath, "mock-output.txt")
	if m.cfg.WriteOutput && tc.WorktreePath != "" {
		content := fmt.Sprintf("task %s attempt %d\n%s\n", tc.Task.ID, tc.RetryAttempt, tc.Task.Title)
		if err := os.WriteFile(output, []byte(content), 0644); err != nil {
			return ExecutionResult{}, fmt.Errorf("failed to write mock output: %w", err)
		}
	}

	return ExecutionResult{
		Success:       true,
		Output:        m.cfg.Output,
		InputTokens:   100,
		OutputTokens:  50,
		ModifiedFiles: []string{output},
		DurationMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (m *MockAdapter) Review(ctx context.Context, tc TaskContext, diff string) (ReviewResult, error) {
	m.mu.Lock()
	m.reviews++
	m.mu.Unlock()

	start := time.Now()
	if err := m.wait(ctx); err != nil {
		return ReviewResult{}, err
	}

	result := ReviewResult{
		Approved:     !m.cfg.Reject,
		Summary:      "Code looks good",
		Comments:     []ReviewComment{},
		InputTokens:  int64(len(diff)),
		OutputTokens: 50,
	}
	if m.cfg.Reject {
		result.Summary = "Code needs improvements"
		result.Comments = []ReviewComment{{
			File:       "mock-file.txt",
			Line:       1,
			Severity:   SeverityWarning,
			Message:    "Mock review comment",
			Suggestion: "Consider improving this code",
		}}
	}
	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// EstimateCost scales with the title length: ten input tokens per character
// (fifty for an untitled task) and twice that for output.
func (m *MockAdapter) EstimateCost(ctx context.Context, tc TaskContext) (CostEstimate, error) {
	in := int64(len(tc.Task.Title)) * 10
	if tc.Task.Title == "" {
		in = 50
	}
	out := in * 2
	return CostEstimate{
		EstimatedInputTokens:  in,
		EstimatedOutputTokens: out,
		EstimatedCostUSD:      float64(in+out) * 0.0001,
		ModelID:               m.Name(),
	}, nil
}

// Executions returns how many times Execute was called.
func (m *MockAdapter) Executions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executions
}

// Reviews returns how many times Review was called.
func (m *MockAdapter) Reviews() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reviews
}

// Reset zeroes both counters.
func (m *MockAdapter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions, m.reviews = 0, 0
}

func (m *MockAdapter) wait(ctx context.Context) error {
	if m.cfg.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(m.cfg.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
