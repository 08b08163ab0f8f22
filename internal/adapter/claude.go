package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// CLIConfig configures an adapter that shells out to a coding CLI.
type CLIConfig struct {
	Name    string // registry name, defaults to the tool name
	Command string // executable, defaults to the tool name
	Model   string // default model when the task context names none
}

// ClaudeAdapter runs tasks through the Claude Code CLI in print mode.
type ClaudeAdapter struct {
	BaseAdapter
	command string
	model   string
	pm      *ProcessManager
}

// claudeResult is the single JSON object printed by
// `claude -p ... --output-format json`.
type claudeResult struct {
	Type      string  `json:"type"`
	Subtype   string  `json:"subtype"`
	IsError   bool    `json:"is_error"`
	Result    string  `json:"result"`
	SessionID string  `json:"session_id"`
	CostUSD   float64 `json:"total_cost_usd"`
	Usage     struct {
		InputTokens              int64 `json:"input_tokens"`
		CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
		OutputTokens             int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (r claudeResult) inputTokens() int64 {
	return r.Usage.InputTokens + r.Usage.CacheCreationInputTokens + r.Usage.CacheReadInputTokens
}

// NewClaudeAdapter returns a Claude Code adapter. pm may be nil, in which
// case subprocesses are not tracked.
func NewClaudeAdapter(cfg CLIConfig, pm *ProcessManager) *ClaudeAdapter {
	if cfg.Name == "" {
		cfg.Name = "claude"
	}
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	return &ClaudeAdapter{
		BaseAdapter: BaseAdapter{AdapterName: cfg.Name},
		command:     cfg.Command,
		model:       cfg.Model,
		pm:          pm,
	}
}

func (a *ClaudeAdapter) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(a.command)
	return err == nil
}

func (a *ClaudeAdapter) Execute(ctx context.Context, tc TaskContext) (ExecutionResult, error) {
	start := time.Now()
	res, err := a.invoke(ctx, tc.WorktreePath, BuildPrompt(tc), tc.Model, true)
	if err != nil {
		return ExecutionResult{}, err
	}
	if res.IsError {
		return Failed(res.Result, res.inputTokens(), res.Usage.OutputTokens, time.Since(start)), nil
	}
	return ExecutionResult{
		Success:      true,
		Output:       res.Result,
		InputTokens:  res.inputTokens(),
		OutputTokens: res.Usage.OutputTokens,
		DurationMs:   time.Since(start).Milliseconds(),
	}, nil
}

func (a *ClaudeAdapter) Review(ctx context.Context, tc TaskContext, diff string) (ReviewResult, error) {
	start := time.Now()
	res, err := a.invoke(ctx, tc.WorktreePath, BuildReviewPrompt(tc, diff), tc.Model, false)
	if err != nil {
		return ReviewResult{}, err
	}
	if res.IsError {
		return ReviewResult{}, fmt.Errorf("claude review failed: %s", res.Result)
	}
	review, err := ParseReviewVerdict(res.Result)
	if err != nil {
		return ReviewResult{}, err
	}
	review.InputTokens = res.inputTokens()
	review.OutputTokens = res.Usage.OutputTokens
	review.DurationMs = time.Since(start).Milliseconds()
	return review, nil
}

func (a *ClaudeAdapter) EstimateCost(ctx context.Context, tc TaskContext) (CostEstimate, error) {
	return estimatePrompt(tc, a.modelFor(tc.Model)), nil
}

func (a *ClaudeAdapter) modelFor(model string) string {
	if model != "" {
		return model
	}
	return a.model
}

func (a *ClaudeAdapter) buildArgs(prompt, model string, edit bool) []string {
	args := []string{"-p", prompt, "--output-format", "json"}
	if m := a.modelFor(model); m != "" {
		args = append(args, "--model", m)
	}
	if edit {
		args = append(args, "--permission-mode", "acceptEdits")
	}
	return args
}

func (a *ClaudeAdapter) invoke(ctx context.Context, dir, prompt, model string, edit bool) (claudeResult, error) {
	cmd := toolCommand(ctx, dir, a.command, a.buildArgs(prompt, model, edit)...)
	stdout, stderr, err := runCommand(cmd, a.pm)
	if err != nil {
		return claudeResult{}, fmt.Errorf("claude command failed: %w", err)
	}
	res, err := parseClaudeResult(stdout)
	if err != nil {
		return claudeResult{}, fmt.Errorf("%w (stderr: %s)", err, stderr)
	}
	return res, nil
}

func parseClaudeResult(data []byte) (claudeResult, error) {
	var res claudeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return claudeResult{}, fmt.Errorf("failed to parse claude output: %w", err)
	}
	return res, nil
}
