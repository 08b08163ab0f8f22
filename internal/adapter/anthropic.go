package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

const anthropicMaxTokens = 8192

const executeSystemPrompt = `You are a coding agent working in a git worktree. You cannot run commands.
Reply with the complete new contents of every file you create or change, each in this form:

=== FILE: relative/path
<full file contents>
=== END

Text outside these blocks is treated as notes.`

// AnthropicConfig configures AnthropicAdapter.
type AnthropicConfig struct {
	Name       string // registry name, defaults to "anthropic"
	Model      string // default model
	APIKey     string // falls back to ANTHROPIC_API_KEY
	Bedrock    bool
	AWSRegion  string
	AWSProfile string
}

// messagesAPI is the part of the Messages service the adapter uses.
type messagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
	CountTokens(ctx context.Context, body anthropic.MessageCountTokensParams, opts ...option.RequestOption) (*anthropic.MessageTokensCount, error)
}

// AnthropicAdapter calls the Messages API directly, either with an API key
// or through AWS Bedrock. The model replies with whole files, which are
// written into the worktree.
type AnthropicAdapter struct {
	BaseAdapter
	api     messagesAPI
	model   anthropic.Model
	bedrock bool
}

// NewAnthropicAdapter builds the SDK client.
func NewAnthropicAdapter(ctx context.Context, cfg AnthropicConfig) (*AnthropicAdapter, error) {
	var opts []option.RequestOption
	if cfg.Bedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, errors.New("no API key configured and ANTHROPIC_API_KEY is not set")
		}
		opts = append(opts, option.WithAPIKey(key))
	}

	client := anthropic.NewClient(opts...)
	return newAnthropicAdapter(cfg, &client.Messages), nil
}

func newAnthropicAdapter(cfg AnthropicConfig, api messagesAPI) *AnthropicAdapter {
	if cfg.Name == "" {
		cfg.Name = "anthropic"
	}
	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	return &AnthropicAdapter{
		BaseAdapter: BaseAdapter{AdapterName: cfg.Name},
		api:         api,
		model:       model,
		bedrock:     cfg.Bedrock,
	}
}

func (a *AnthropicAdapter) IsAvailable(ctx context.Context) bool {
	return a.api != nil
}

func (a *AnthropicAdapter) Execute(ctx context.Context, tc TaskContext) (ExecutionResult, error) {
	start := time.Now()
	resp, err := a.api.New(ctx, anthropic.MessageNewParams{
		Model:     a.modelFor(tc.Model),
		MaxTokens: anthropicMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: executeSystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildPrompt(tc))),
		},
	})
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("messages request failed: %w", err)
	}

	in, out := resp.Usage.InputTokens, resp.Usage.OutputTokens
	text := messageText(resp)
	files, err := applyFileBlocks(tc.WorktreePath, text)
	if err != nil {
		return Failed(err.Error(), in, out, time.Since(start)), nil
	}
	if resp.StopReason == anthropic.StopReasonMaxTokens {
		return Failed("reply truncated at max tokens", in, out, time.Since(start)), nil
	}
	return ExecutionResult{
		Success:       true,
		Output:        text,
		InputTokens:   in,
		OutputTokens:  out,
		ModifiedFiles: files,
		DurationMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (a *AnthropicAdapter) Review(ctx context.Context, tc TaskContext, diff string) (ReviewResult, error) {
	start := time.Now()
	resp, err := a.api.New(ctx, anthropic.MessageNewParams{
		Model:     a.modelFor(tc.Model),
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildReviewPrompt(tc, diff))),
		},
	})
	if err != nil {
		return ReviewResult{}, fmt.Errorf("review request failed: %w", err)
	}
	review, err := ParseReviewVerdict(messageText(resp))
	if err != nil {
		return ReviewResult{}, err
	}
	review.InputTokens = resp.Usage.InputTokens
	review.OutputTokens = resp.Usage.OutputTokens
	review.DurationMs = time.Since(start).Milliseconds()
	return review, nil
}

// EstimateCost counts prompt tokens with the API. It falls back to the
// character heuristic when counting is unavailable, as on Bedrock.
func (a *AnthropicAdapter) EstimateCost(ctx context.Context, tc TaskContext) (CostEstimate, error) {
	model := a.modelFor(tc.Model)
	est := estimatePrompt(tc, string(model))
	if a.bedrock {
		return est, nil
	}

	count, err := a.api.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model: model,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(executeSystemPrompt + "\n\n" + BuildPrompt(tc))),
		},
	})
	if err != nil {
		return est, nil
	}
	est.EstimatedInputTokens = count.InputTokens
	est.EstimatedOutputTokens = count.InputTokens * outputRatio
	return est, nil
}

func (a *AnthropicAdapter) modelFor(model string) anthropic.Model {
	m := a.model
	if model != "" {
		m = anthropic.Model(model)
	}
	if a.bedrock {
		m = bedrockModel(m)
	}
	return m
}

var bedrockModels = map[anthropic.Model]string{
	anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
	anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
	anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
	anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
	anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
}

// bedrockModel maps a model name to its cross-region inference profile.
// Unknown names pass through unchanged.
func bedrockModel(m anthropic.Model) anthropic.Model {
	if id, ok := bedrockModels[m]; ok {
		return anthropic.Model(id)
	}
	return m
}

func messageText(resp *anthropic.Message) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

const (
	fileMarker = "=== FILE: "
	endMarker  = "=== END"
)

// applyFileBlocks writes every FILE block of reply below root and returns
// the relative paths written. Paths escaping root are rejected.
func applyFileBlocks(root, reply string) ([]string, error) {
	var written []string
	lines := strings.Split(reply, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		if !strings.HasPrefix(line, fileMarker) {
			continue
		}
		rel := filepath.Clean(strings.TrimSpace(strings.TrimPrefix(line, fileMarker)))
		if rel == "." || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return written, fmt.Errorf("refusing to write %q outside the worktree", rel)
		}

		var body []string
		closed := false
		for i++; i < len(lines); i++ {
			if strings.TrimRight(lines[i], "\r") == endMarker {
				closed = true
				break
			}
			body = append(body, lines[i])
		}
		if !closed {
			return written, fmt.Errorf("file block for %s is not terminated", rel)
		}

		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return written, fmt.Errorf("failed to create directory for %s: %w", rel, err)
		}
		content := strings.Join(body, "\n") + "\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", rel, err)
		}
		written = append(written, rel)
	}
	return written, nil
}
