package git

import (
	"context"
	"fmt"
	"strings"
)

// Diff is the difference between two refs.
type Diff struct {
	Files []string
	Text  string
}

// RebaseResult is the outcome of a rebase that did not fail outright.
// Conflicts is set only when Success is false.
type RebaseResult struct {
	Success   bool
	Conflicts []string
}

// conflictStatus are the porcelain status codes of unmerged paths.
var conflictStatus = map[string]bool{
	"UU": true, "AA": true, "DD": true,
	"AU": true, "UA": true, "DU": true, "UD": true,
}

// Manager runs branch, commit, diff and rebase operations in one working
// copy, typically a task worktree.
type Manager struct {
	git *Runner
}

// NewManager returns a manager for the working copy at dir.
func NewManager(dir string) *Manager {
	return &Manager{git: NewRunner(dir)}
}

// Dir returns the working copy directory.
func (m *Manager) Dir() string {
	return m.git.Dir
}

// CreateBranch creates name from the current HEAD and switches to it.
func (m *Manager) CreateBranch(ctx context.Context, name string) error {
	if _, err := m.git.Run(ctx, "checkout", "-b", name); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", name, err)
	}
	return nil
}

// Checkout switches to ref.
func (m *Manager) Checkout(ctx context.Context, ref string) error {
	if _, err := m.git.Run(ctx, "checkout", ref); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", ref, err)
	}
	return nil
}

// BranchExists reports whether a local branch named name exists.
func (m *Manager) BranchExists(ctx context.Context, name string) (bool, error) {
	return branchExists(ctx, m.git, name)
}

// ListBranches returns local branch names.
func (m *Manager) ListBranches(ctx context.Context) ([]string, error) {
	out, err := m.git.Run(ctx, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	return lines(out), nil
}

// DeleteBranch deletes a local branch; force deletes it even if unmerged.
func (m *Manager) DeleteBranch(ctx context.Context, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if _, err := m.git.Run(ctx, "branch", flag, name); err != nil {
		return fmt.Errorf("failed to delete branch %s: %w", name, err)
	}
	return nil
}

// CurrentBranch returns the checked-out branch name.
func (m *Manager) CurrentBranch(ctx context.Context) (string, error) {
	out, err := m.git.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to read current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Head returns the commit hash of HEAD.
func (m *Manager) Head(ctx context.Context) (string, error) {
	out, err := m.git.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD commit: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// HasChanges reports whether the working copy has uncommitted changes.
func (m *Manager) HasChanges(ctx context.Context) (bool, error) {
	out, err := m.git.Run(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to read status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// Commit stages files (all changes when none are given) and commits them.
// It returns the new HEAD.
func (m *Manager) Commit(ctx context.Context, message string, files ...string) (string, error) {
	if len(files) == 0 {
		files = []string{"."}
	}
	if _, err := m.git.Run(ctx, append([]string{"add", "--"}, files...)...); err != nil {
		return "", fmt.Errorf("failed to stage files: %w", err)
	}
	if _, err := m.git.Run(ctx, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return m.Head(ctx)
}

// GetDiff returns the changed files and unified diff between from and to.
func (m *Manager) GetDiff(ctx context.Context, from, to string) (*Diff, error) {
	rng := from + ".." + to
	text, err := m.git.Run(ctx, "diff", rng)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s: %w", rng, err)
	}
	names, err := m.git.Run(ctx, "diff", "--name-only", rng)
	if err != nil {
		return nil, fmt.Errorf("failed to list changed files %s: %w", rng, err)
	}
	return &Diff{Files: lines(names), Text: text}, nil
}

// Rebase rebases the current branch onto onto. A conflicting rebase is
// reported through the result with the unmerged files and left in progress
// for an external resolution step; any other failure is returned as an error.
func (m *Manager) Rebase(ctx context.Context, onto string) (*RebaseResult, error) {
	out, err := m.git.Run(ctx, "rebase", onto)
	if err == nil {
		return &RebaseResult{Success: true}, nil
	}
	if !strings.Contains(out, "CONFLICT") {
		return nil, fmt.Errorf("failed to rebase onto %s: %w", onto, err)
	}

	files, statusErr := m.ConflictedFiles(ctx)
	if statusErr != nil {
		return nil, fmt.Errorf("rebase onto %s conflicted and status failed: %w", onto, statusErr)
	}
	return &RebaseResult{Success: false, Conflicts: files}, nil
}

// AbortRebase abandons an in-progress rebase.
func (m *Manager) AbortRebase(ctx context.Context) error {
	if _, err := m.git.Run(ctx, "rebase", "--abort"); err != nil {
		return fmt.Errorf("failed to abort rebase: %w", err)
	}
	return nil
}

// ConflictedFiles returns unmerged paths from the working-tree status.
func (m *Manager) ConflictedFiles(ctx context.Context) ([]string, error) {
	out, err := m.git.Run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}

	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) > 3 && conflictStatus[line[:2]] {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files, nil
}
