package git

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"
)

// MergeStrategy selects the git merge strategy used to land a task branch.
type MergeStrategy int

const (
	MergeOrt MergeStrategy = iota
	MergeOurs
	MergeTheirs
)

func (s MergeStrategy) String() string {
	switch s {
	case MergeOurs:
		return "ours"
	case MergeTheirs:
		return "theirs"
	default:
		return "ort"
	}
}

// ParseMergeStrategy maps a config value to a strategy, defaulting to ort.
func ParseMergeStrategy(s string) MergeStrategy {
	switch strings.ToLower(s) {
	case "ours":
		return MergeOurs
	case "theirs":
		return MergeTheirs
	default:
		return MergeOrt
	}
}

// MergeResult is the outcome of landing a branch on the base branch.
type MergeResult struct {
	Merged        bool
	ConflictFiles []string
}

// Merger lands task branches on the base branch of the main checkout.
// Merges are serialized because they all touch the main index.
type Merger struct {
	git      *Runner
	base     string
	strategy MergeStrategy
	mu       sync.Mutex
}

// NewMerger returns a merger for the repository at repoPath.
func NewMerger(repoPath, base string, strategy MergeStrategy) *Merger {
	return &Merger{git: NewRunner(repoPath), base: base, strategy: strategy}
}

// Merge checks branch against base with a dry-run merge-tree and, if clean,
// merges it with --no-ff. Conflicts are returned as a *ConflictError.
func (m *Merger) Merge(ctx context.Context, branch string) (*MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.git.Run(ctx, "checkout", m.base); err != nil {
		return nil, fmt.Errorf("failed to checkout base branch: %w", err)
	}

	out, err := m.git.Run(ctx, "merge-tree", "--write-tree", m.base, branch)
	if err != nil || strings.Contains(out, "CONFLICT") {
		files := parseConflictFiles(out)
		if len(files) == 0 && err != nil {
			return nil, fmt.Errorf("failed to check merge of %s: %w", branch, err)
		}
		return &MergeResult{ConflictFiles: files}, &ConflictError{Files: files}
	}

	strategy := "ort"
	switch m.strategy {
	case MergeOurs:
		strategy = "ours"
	case MergeTheirs:
		// "theirs" is a strategy option of ort, not a strategy.
		strategy = "ort -X theirs"
	}
	args := append([]string{"merge", "--no-ff", "-m", "Merge " + branch, "-s"}, strings.Fields(strategy)...)
	if _, err := m.git.Run(ctx, append(args, branch)...); err != nil {
		return nil, fmt.Errorf("failed to merge %s: %w", branch, err)
	}
	return &MergeResult{Merged: true}, nil
}

// parseConflictFiles extracts paths from "CONFLICT (...): Merge conflict in <file>" lines.
func parseConflictFiles(output string) []string {
	var conflicts []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "CONFLICT") {
			continue
		}
		if idx := strings.LastIndex(line, " in "); idx >= 0 {
			conflicts = append(conflicts, strings.TrimSpace(line[idx+len(" in "):]))
		}
	}
	return conflicts
}
