package adapter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeTool writes an executable script that records its arguments to
// args.txt and prints output.
func fakeTool(t *testing.T, output string) (path, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	path = filepath.Join(dir, "tool")
	argsFile = filepath.Join(dir, "args.txt")
	outFile := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(outFile, []byte(output), 0644); err != nil {
		t.Fatalf("write output: %v", err)
	}
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > " + argsFile + "\ncat " + outFile + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path, argsFile
}

func readArgs(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	return string(data)
}

func TestClaudeAdapterExecute(t *testing.T) {
	out := `{"type":"result","subtype":"success","is_error":false,"result":"done","session_id":"s1","usage":{"input_tokens":10,"cache_read_input_tokens":5,"output_tokens":7}}`
	tool, argsFile := fakeTool(t, out)
	a := NewClaudeAdapter(CLIConfig{Command: tool, Model: "sonnet"}, nil)

	tc := taskContext("t1", "Do it")
	tc.WorktreePath = t.TempDir()
	res, err := a.Execute(context.Background(), tc)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !res.Success || res.Output != "done" || res.InputTokens != 15 || res.OutputTokens != 7 {
		t.Errorf("Execute() = %+v", res)
	}

	args := readArgs(t, argsFile)
	for _, want := range []string{"-p", "--output-format", "json", "--model", "sonnet", "acceptEdits"} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q:\n%s", want, args)
		}
	}
}

func TestClaudeAdapterModelOverride(t *testing.T) {
	out := `{"type":"result","is_error":false,"result":"ok","usage":{}}`
	tool, argsFile := fakeTool(t, out)
	a := NewClaudeAdapter(CLIConfig{Command: tool, Model: "sonnet"}, nil)

	tc := taskContext("t1", "Do it")
	tc.Model = "opus"
	if _, err := a.Execute(context.Background(), tc); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if args := readArgs(t, argsFile); !strings.Contains(args, "opus") || strings.Contains(args, "sonnet") {
		t.Errorf("task model should override the default:\n%s", args)
	}
}

func TestClaudeAdapterReportedError(t *testing.T) {
	out := `{"type":"result","subtype":"error_max_turns","is_error":true,"result":"ran out of turns","usage":{"input_tokens":3,"output_tokens":1}}`
	tool, _ := fakeTool(t, out)
	a := NewClaudeAdapter(CLIConfig{Command: tool}, nil)

	res, err := a.Execute(context.Background(), taskContext("t", "x"))
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Success || res.Error != "ran out of turns" || res.InputTokens != 3 {
		t.Errorf("Execute() = %+v", res)
	}
}

func TestClaudeAdapterReview(t *testing.T) {
	out := `{"type":"result","is_error":false,"result":"{\"approved\":true,\"summary\":\"fine\",\"comments\":[]}","usage":{"input_tokens":20,"output_tokens":4}}`
	tool, argsFile := fakeTool(t, out)
	a := NewClaudeAdapter(CLIConfig{Command: tool}, nil)

	review, err := a.Review(context.Background(), taskContext("t", "x"), "+x")
	if err != nil {
		t.Fatalf("Review() error: %v", err)
	}
	if !review.Approved || review.Summary != "fine" || review.InputTokens != 20 {
		t.Errorf("Review() = %+v", review)
	}
	if strings.Contains(readArgs(t, argsFile), "acceptEdits") {
		t.Error("review must not run with edit permissions")
	}
}

func TestClaudeAdapterBadOutput(t *testing.T) {
	tool, _ := fakeTool(t, "not json")
	a := NewClaudeAdapter(CLIConfig{Command: tool}, nil)
	if _, err := a.Execute(context.Background(), taskContext("t", "x")); err == nil {
		t.Error("expected parse error")
	}
}

func TestCLIAdapterAvailability(t *testing.T) {
	tool, _ := fakeTool(t, "")
	ctx := context.Background()
	if !NewClaudeAdapter(CLIConfig{Command: tool}, nil).IsAvailable(ctx) {
		t.Error("existing executable should be available")
	}
	if NewCodexAdapter(CLIConfig{Command: "definitely-not-a-real-binary-xyz"}, nil).IsAvailable(ctx) {
		t.Error("missing executable should be unavailable")
	}
}

func TestCodexAdapterExecute(t *testing.T) {
	out := strings.Join([]string{
		`{"type":"thread.started","thread_id":"th_1"}`,
		`{"type":"item.completed","item":{"type":"reasoning","text":"thinking"}}`,
		`{"type":"item.completed","item":{"type":"agent_message","text":"implemented"}}`,
		`{"type":"turn.completed","usage":{"input_tokens":40,"cached_input_tokens":10,"output_tokens":12}}`,
	}, "\n")
	tool, argsFile := fakeTool(t, out)
	a := NewCodexAdapter(CLIConfig{Command: tool, Model: "o4-mini"}, nil)

	res, err := a.Execute(context.Background(), taskContext("t", "x"))
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !res.Success || res.Output != "implemented" || res.InputTokens != 50 || res.OutputTokens != 12 {
		t.Errorf("Execute() = %+v", res)
	}
	args := readArgs(t, argsFile)
	if !strings.HasPrefix(args, "exec\n--json\n--model\no4-mini\n--full-auto\n") {
		t.Errorf("unexpected args:\n%s", args)
	}
}

func TestParseCodexEvents(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    codexRun
		wantErr bool
	}{
		{
			name:  "legacy event names",
			input: `{"type":"ThreadStarted","thread_id":"abc"}` + "\n" + `{"type":"TurnCompleted","content":"hello"}`,
			want:  codexRun{ThreadID: "abc", Text: "hello"},
		},
		{
			name:  "turn failure",
			input: `{"type":"thread.started","thread_id":"t"}` + "\n" + `{"type":"turn.failed","error":{"message":"quota"}}`,
			want:  codexRun{ThreadID: "t", Failure: "quota"},
		},
		{
			name:    "malformed line",
			input:   `{"type":"thread.started"` + "\n",
			wantErr: true,
		},
		{
			name:    "empty stream",
			input:   "\n\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCodexEvents([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCodexAdapterFailureIsResult(t *testing.T) {
	tool, _ := fakeTool(t, `{"type":"error","message":"stream disconnected"}`)
	a := NewCodexAdapter(CLIConfig{Command: tool}, nil)
	res, err := a.Execute(context.Background(), taskContext("t", "x"))
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Success || res.Error != "stream disconnected" {
		t.Errorf("Execute() = %+v", res)
	}
}
