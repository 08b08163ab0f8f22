package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CodexAdapter runs tasks through `codex exec --json`.
type CodexAdapter struct {
	BaseAdapter
	command string
	model   string
	pm      *ProcessManager
}

// codexEvent covers the fields used from each line of the codex event stream.
type codexEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Content  string `json:"content"`
	Message  string `json:"message"`
	Item     struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
	Usage struct {
		InputTokens       int64 `json:"input_tokens"`
		CachedInputTokens int64 `json:"cached_input_tokens"`
		OutputTokens      int64 `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// codexRun is what a finished codex invocation reported.
type codexRun struct {
	ThreadID     string
	Text         string
	Failure      string
	InputTokens  int64
	OutputTokens int64
}

// NewCodexAdapter returns a Codex CLI adapter. pm may be nil.
func NewCodexAdapter(cfg CLIConfig, pm *ProcessManager) *CodexAdapter {
	if cfg.Name == "" {
		cfg.Name = "codex"
	}
	if cfg.Command == "" {
		cfg.Command = "codex"
	}
	return &CodexAdapter{
		BaseAdapter: BaseAdapter{AdapterName: cfg.Name},
		command:     cfg.Command,
		model:       cfg.Model,
		pm:          pm,
	}
}

func (c *CodexAdapter) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(c.command)
	return err == nil
}

func (c *CodexAdapter) Execute(ctx context.Context, tc TaskContext) (ExecutionResult, error) {
	start := time.Now()
	run, err := c.invoke(ctx, tc.WorktreePath, BuildPrompt(tc), tc.Model, true)
	if err != nil {
		return ExecutionResult{}, err
	}
	if run.Failure != "" {
		return Failed(run.Failure, run.InputTokens, run.OutputTokens, time.Since(start)), nil
	}
	return ExecutionResult{
		Success:      true,
		Output:       run.Text,
		InputTokens:  run.InputTokens,
		OutputTokens: run.OutputTokens,
		DurationMs:   time.Since(start).Milliseconds(),
	}, nil
}

func (c *CodexAdapter) Review(ctx context.Context, tc TaskContext, diff string) (ReviewResult, error) {
	start := time.Now()
	run, err := c.invoke(ctx, tc.WorktreePath, BuildReviewPrompt(tc, diff), tc.Model, false)
	if err != nil {
		return ReviewResult{}, err
	}
	if run.Failure != "" {
		return ReviewResult{}, fmt.Errorf("codex review failed: %s", run.Failure)
	}
	review, err := ParseReviewVerdict(run.Text)
	if err != nil {
		return ReviewResult{}, err
	}
	review.InputTokens = run.InputTokens
	review.OutputTokens = run.OutputTokens
	review.DurationMs = time.Since(start).Milliseconds()
	return review, nil
}

func (c *CodexAdapter) EstimateCost(ctx context.Context, tc TaskContext) (CostEstimate, error) {
	model := tc.Model
	if model == "" {
		model = c.model
	}
	return estimatePrompt(tc, model), nil
}

// buildArgs renders `codex exec --json [--model m] [--full-auto|--sandbox read-only] prompt`.
func (c *CodexAdapter) buildArgs(prompt, model string, edit bool) []string {
	args := []string{"exec", "--json"}
	if model == "" {
		model = c.model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if edit {
		args = append(args, "--full-auto")
	} else {
		args = append(args, "--sandbox", "read-only")
	}
	return append(args, prompt)
}

func (c *CodexAdapter) invoke(ctx context.Context, dir, prompt, model string, edit bool) (codexRun, error) {
	cmd := toolCommand(ctx, dir, c.command, c.buildArgs(prompt, model, edit)...)
	stdout, _, err := runCommand(cmd, c.pm)
	if err != nil {
		return codexRun{}, fmt.Errorf("codex command failed: %w", err)
	}
	return parseCodexEvents(stdout)
}

// parseCodexEvents folds the newline-delimited event stream into one run.
// Both dotted (turn.completed) and legacy (TurnCompleted) event names are read.
func parseCodexEvents(data []byte) (codexRun, error) {
	var run codexRun
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var evt codexEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			return codexRun{}, fmt.Errorf("failed to parse codex event: %w", err)
		}

		switch evt.Type {
		case "thread.started", "ThreadStarted":
			run.ThreadID = evt.ThreadID
		case "item.completed":
			if evt.Item.Type == "agent_message" {
				run.Text = evt.Item.Text
			}
		case "turn.completed", "TurnCompleted":
			if evt.Content != "" {
				run.Text = evt.Content
			}
			run.InputTokens += evt.Usage.InputTokens + evt.Usage.CachedInputTokens
			run.OutputTokens += evt.Usage.OutputTokens
		case "turn.failed":
			run.Failure = evt.Error.Message
		case "error":
			run.Failure = evt.Message
		}
	}
	if err := scanner.Err(); err != nil {
		return codexRun{}, fmt.Errorf("error reading codex events: %w", err)
	}
	if run.Failure == "" && run.Text == "" && run.ThreadID == "" {
		return codexRun{}, errors.New("codex produced no events")
	}
	return run, nil
}
