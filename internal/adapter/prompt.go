package adapter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aristath/taskweave/internal/git"
	"github.com/aristath/taskweave/internal/taskfile"
)

// BuildPrompt renders the instructions a tool receives for one task.
func BuildPrompt(tc TaskContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task %s: %s\n\n", tc.Task.ID, tc.Task.Title)
	if tc.Task.Description != "" {
		b.WriteString(tc.Task.Description)
		b.WriteString("\n\n")
	}

	if len(tc.ContextFiles) > 0 {
		b.WriteString("## Relevant files\n")
		for _, f := range tc.ContextFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}

	if len(tc.DependencyResults) > 0 {
		b.WriteString("## Completed prerequisites\n")
		ids := make([]string, 0, len(tc.DependencyResults))
		for id := range tc.DependencyResults {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			res := tc.DependencyResults[id]
			fmt.Fprintf(&b, "- %s", id)
			if len(res.ModifiedFiles) > 0 {
				fmt.Fprintf(&b, " (changed %s)", strings.Join(res.ModifiedFiles, ", "))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if tc.RetryAttempt > 0 {
		fmt.Fprintf(&b, "## Retry %d\n", tc.RetryAttempt)
		if tc.AdditionalPrompt != "" {
			fmt.Fprintf(&b, "The previous attempt failed:\n%s\n", tc.AdditionalPrompt)
		}
		b.WriteString("\n")
	} else if tc.AdditionalPrompt != "" {
		b.WriteString(tc.AdditionalPrompt)
		b.WriteString("\n\n")
	}

	b.WriteString("Work only inside the current directory. Do not commit; changes are committed for you.\n")
	return b.String()
}

var strictnessGuidance = map[taskfile.Strictness]string{
	taskfile.StrictnessLenient: "Approve unless the change is broken or clearly off-task.",
	taskfile.StrictnessNormal:  "Approve if the change is correct and reasonably clean.",
	taskfile.StrictnessStrict:  "Approve only if the change is correct, idiomatic and tested.",
}

// BuildReviewPrompt renders a review request. The reply must be the JSON
// object read by ParseReviewVerdict.
func BuildReviewPrompt(tc TaskContext, diff string) string {
	guidance, ok := strictnessGuidance[tc.Task.Review.Strictness]
	if !ok {
		guidance = strictnessGuidance[taskfile.StrictnessNormal]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Review the change made for task %s: %s\n\n", tc.Task.ID, tc.Task.Title)
	b.WriteString(guidance)
	b.WriteString("\n\n")
	b.WriteString(git.FormatDiffForLLM(diff))
	b.WriteString("\n\n")
	b.WriteString(`Reply with only a JSON object:
{"approved": bool, "summary": string, "comments": [{"file": string, "line": int, "severity": "error|warning|info|suggestion", "message": string, "suggestion": string}]}`)
	b.WriteString("\n")
	return b.String()
}

type reviewVerdict struct {
	Approved bool            `json:"approved"`
	Summary  string          `json:"summary"`
	Comments []ReviewComment `json:"comments"`
}

// ParseReviewVerdict extracts the review JSON object from a model reply,
// tolerating prose or code fences around it.
func ParseReviewVerdict(text string) (ReviewResult, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ReviewResult{}, fmt.Errorf("no review verdict in reply")
	}

	var v reviewVerdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return ReviewResult{}, fmt.Errorf("failed to parse review verdict: %w", err)
	}
	if v.Comments == nil {
		v.Comments = []ReviewComment{}
	}
	return ReviewResult{Approved: v.Approved, Summary: v.Summary, Comments: v.Comments}, nil
}
