package adapter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type fakeMessages struct {
	reply      string
	stop       anthropic.StopReason
	countErr   error
	lastParams anthropic.MessageNewParams
}

func (f *fakeMessages) New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	f.lastParams = body
	stop := f.stop
	if stop == "" {
		stop = anthropic.StopReasonEndTurn
	}
	return &anthropic.Message{
		Content:    []anthropic.ContentBlockUnion{{Type: "text", Text: f.reply}},
		StopReason: stop,
		Usage:      anthropic.Usage{InputTokens: 120, OutputTokens: 80},
	}, nil
}

func (f *fakeMessages) CountTokens(ctx context.Context, body anthropic.MessageCountTokensParams, opts ...option.RequestOption) (*anthropic.MessageTokensCount, error) {
	if f.countErr != nil {
		return nil, f.countErr
	}
	return &anthropic.MessageTokensCount{InputTokens: 42}, nil
}

func TestAnthropicAdapterExecuteWritesFiles(t *testing.T) {
	api := &fakeMessages{reply: "Plan first.\n=== FILE: pkg/hello.go\npackage pkg\n\nconst Hello = \"hi\"\n=== END\n=== FILE: README.md\n# demo\n=== END\n"}
	a := newAnthropicAdapter(AnthropicConfig{Model: "claude-haiku-4-5"}, api)

	tc := taskContext("t", "Add hello")
	tc.WorktreePath = t.TempDir()
	res, err := a.Execute(context.Background(), tc)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !res.Success || res.InputTokens != 120 || res.OutputTokens != 80 {
		t.Errorf("Execute() = %+v", res)
	}
	if strings.Join(res.ModifiedFiles, ",") != "pkg/hello.go,README.md" {
		t.Errorf("ModifiedFiles = %v", res.ModifiedFiles)
	}

	data, err := os.ReadFile(filepath.Join(tc.WorktreePath, "pkg", "hello.go"))
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if string(data) != "package pkg\n\nconst Hello = \"hi\"\n" {
		t.Errorf("file content = %q", data)
	}
	if api.lastParams.Model != "claude-haiku-4-5" {
		t.Errorf("model = %q", api.lastParams.Model)
	}
}

func TestAnthropicAdapterTruncatedReplyFails(t *testing.T) {
	api := &fakeMessages{reply: "partial", stop: anthropic.StopReasonMaxTokens}
	a := newAnthropicAdapter(AnthropicConfig{}, api)
	tc := taskContext("t", "x")
	tc.WorktreePath = t.TempDir()

	res, err := a.Execute(context.Background(), tc)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Success || res.InputTokens != 120 {
		t.Errorf("truncated reply should fail and keep usage: %+v", res)
	}
}

func TestAnthropicAdapterReview(t *testing.T) {
	api := &fakeMessages{reply: `{"approved": true, "summary": "ok", "comments": []}`}
	a := newAnthropicAdapter(AnthropicConfig{}, api)

	review, err := a.Review(context.Background(), taskContext("t", "x"), "+a")
	if err != nil {
		t.Fatalf("Review() error: %v", err)
	}
	if !review.Approved || review.OutputTokens != 80 {
		t.Errorf("Review() = %+v", review)
	}
}

func TestAnthropicAdapterEstimate(t *testing.T) {
	a := newAnthropicAdapter(AnthropicConfig{}, &fakeMessages{})
	est, err := a.EstimateCost(context.Background(), taskContext("t", "x"))
	if err != nil {
		t.Fatalf("EstimateCost() error: %v", err)
	}
	if est.EstimatedInputTokens != 42 || est.EstimatedOutputTokens != 84 {
		t.Errorf("EstimateCost() = %+v", est)
	}
	if est.ModelID != string(anthropic.ModelClaudeSonnet4_20250514) {
		t.Errorf("ModelID = %q", est.ModelID)
	}

	fallback := newAnthropicAdapter(AnthropicConfig{}, &fakeMessages{countErr: errors.New("unsupported")})
	est, err = fallback.EstimateCost(context.Background(), taskContext("t", "x"))
	if err != nil || est.EstimatedInputTokens == 0 {
		t.Errorf("fallback estimate = %+v, %v", est, err)
	}
}

func TestBedrockModelMapping(t *testing.T) {
	a := newAnthropicAdapter(AnthropicConfig{Bedrock: true}, &fakeMessages{})
	if got := a.modelFor(""); got != "us.anthropic.claude-sonnet-4-20250514-v1:0" {
		t.Errorf("modelFor() = %q", got)
	}
	if got := a.modelFor("custom-profile"); got != "custom-profile" {
		t.Errorf("unknown models should pass through, got %q", got)
	}
}

func TestApplyFileBlocksRejectsEscapes(t *testing.T) {
	root := t.TempDir()
	for _, reply := range []string{
		"=== FILE: ../outside.txt\nx\n=== END\n",
		"=== FILE: /etc/passwd\nx\n=== END\n",
		"=== FILE: ok.txt\nnever closed\n",
	} {
		if _, err := applyFileBlocks(root, reply); err == nil {
			t.Errorf("applyFileBlocks(%q) should fail", reply)
		}
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "outside.txt")); err == nil {
		t.Error("file escaped the worktree")
	}
}
