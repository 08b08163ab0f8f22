package git

import "strings"

// FormatDiffForLLM wraps a unified diff in a fenced block for a prompt.
func FormatDiffForLLM(diff string) string {
	if strings.TrimSpace(diff) == "" {
		return "No changes."
	}
	return "```diff\n" + strings.TrimRight(diff, "\n") + "\n```"
}
