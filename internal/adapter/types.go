package adapter

import (
	"time"

	"github.com/aristath/taskweave/internal/taskfile"
)

// TaskContext is everything an adapter gets to work on one task.
type TaskContext struct {
	Task              taskfile.Task
	WorktreePath      string
	Model             string // provider model name, empty for the adapter default
	DependencyResults map[string]ExecutionResult
	ContextFiles      []string
	AdditionalPrompt  string
	RetryAttempt      int
}

// ExecutionResult is the outcome of one Execute call.
type ExecutionResult struct {
	Success       bool     `json:"success"`
	Output        string   `json:"output,omitempty"`
	Error         string   `json:"error,omitempty"`
	InputTokens   int64    `json:"inputTokens"`
	OutputTokens  int64    `json:"outputTokens"`
	ModifiedFiles []string `json:"modifiedFiles,omitempty"`
	DurationMs    int64    `json:"durationMs"`
}

// Severity grades a review comment.
type Severity string

const (
	SeverityError      Severity = "error"
	SeverityWarning    Severity = "warning"
	SeverityInfo       Severity = "info"
	SeveritySuggestion Severity = "suggestion"
)

// ReviewComment is one remark about a changed file.
type ReviewComment struct {
	File       string   `json:"file"`
	Line       int      `json:"line,omitempty"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// ReviewResult is the outcome of one Review call.
type ReviewResult struct {
	Approved     bool            `json:"approved"`
	Summary      string          `json:"summary"`
	Comments     []ReviewComment `json:"comments"`
	InputTokens  int64           `json:"inputTokens"`
	OutputTokens int64           `json:"outputTokens"`
	DurationMs   int64           `json:"durationMs"`
}

// CostEstimate is a pre-execution guess of token use.
type CostEstimate struct {
	EstimatedInputTokens  int64   `json:"estimatedInputTokens"`
	EstimatedOutputTokens int64   `json:"estimatedOutputTokens"`
	EstimatedCostUSD      float64 `json:"estimatedCostUsd"`
	ModelID               string  `json:"modelId"`
}

// Failed builds a failed result from an error message.
func Failed(msg string, inputTokens, outputTokens int64, d time.Duration) ExecutionResult {
	return ExecutionResult{
		Success:      false,
		Error:        msg,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		DurationMs:   d.Milliseconds(),
	}
}
