package git

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Worktree is a checked-out working copy bound to one branch.
type Worktree struct {
	Path   string
	Branch string
	Head   string
}

// WorktreeManager creates and removes worktrees of one repository. It keeps
// a claim on every path it added so two callers can never share a path.
type WorktreeManager struct {
	git  *Runner
	base string

	mu     sync.Mutex
	claims map[string]Worktree
}

// NewWorktreeManager returns a manager for the repository at repoPath. New
// branches start at base, or at the repository HEAD if base is empty.
func NewWorktreeManager(repoPath, base string) *WorktreeManager {
	return &WorktreeManager{
		git:    NewRunner(repoPath),
		base:   base,
		claims: make(map[string]Worktree),
	}
}

// RepoPath returns the repository the manager operates on.
func (m *WorktreeManager) RepoPath() string {
	return m.git.Dir
}

// Add attaches a worktree at path. An existing local branch is checked out
// as-is; otherwise the branch is created together with the worktree.
func (m *WorktreeManager) Add(ctx context.Context, branch, path string) (*Worktree, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve worktree path: %w", err)
	}

	m.mu.Lock()
	if owner, taken := m.claims[path]; taken {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is in use by branch %s", ErrWorktreeInUse, path, owner.Branch)
	}
	m.claims[path] = Worktree{Path: path, Branch: branch}
	m.mu.Unlock()

	wt, err := m.add(ctx, branch, path)
	if err != nil {
		m.release(path)
		return nil, err
	}

	m.mu.Lock()
	m.claims[path] = *wt
	m.mu.Unlock()
	return wt, nil
}

func (m *WorktreeManager) add(ctx context.Context, branch, path string) (*Worktree, error) {
	exists, err := branchExists(ctx, m.git, branch)
	if err != nil {
		return nil, err
	}

	args := []string{"worktree", "add", path, branch}
	if !exists {
		args = []string{"worktree", "add", "-b", branch, path}
		if m.base != "" {
			args = append(args, m.base)
		}
	}
	if _, err := m.git.Run(ctx, args...); err != nil {
		return nil, fmt.Errorf("failed to create worktree: %w", err)
	}

	head, err := NewRunner(path).Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD commit: %w", err)
	}

	return &Worktree{Path: path, Branch: branch, Head: strings.TrimSpace(head)}, nil
}

// Lookup returns the worktree claimed at path, if any.
func (m *WorktreeManager) Lookup(path string) (Worktree, bool) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	wt, ok := m.claims[path]
	return wt, ok
}

// Claimed returns all worktrees added through this manager and not yet removed.
func (m *WorktreeManager) Claimed() []Worktree {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Worktree, 0, len(m.claims))
	for _, wt := range m.claims {
		out = append(out, wt)
	}
	return out
}

// List parses `git worktree list --porcelain`. A record starts at each
// "worktree" line; the last record is flushed at end of input.
func (m *WorktreeManager) List(ctx context.Context) ([]Worktree, error) {
	out, err := m.git.Run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(output string) []Worktree {
	var (
		worktrees []Worktree
		current   *Worktree
	)

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				worktrees = append(worktrees, *current)
			}
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case current == nil:
			continue
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	if current != nil {
		worktrees = append(worktrees, *current)
	}
	return worktrees
}

// Remove deletes the worktree directory and its administrative entry. With
// force, uncommitted changes are discarded.
func (m *WorktreeManager) Remove(ctx context.Context, path string, force bool) error {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}
	if _, err := m.git.Run(ctx, args...); err != nil {
		return fmt.Errorf("failed to remove worktree: %w", err)
	}
	m.release(path)
	return nil
}

// Prune drops administrative records of worktrees deleted outside git.
func (m *WorktreeManager) Prune(ctx context.Context) error {
	if _, err := m.git.Run(ctx, "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	return nil
}

func (m *WorktreeManager) release(path string) {
	m.mu.Lock()
	delete(m.claims, path)
	m.mu.Unlock()
}

// branchExists reports whether a local branch exists. show-ref exits 1 for a
// missing ref, which is not an error.
func branchExists(ctx context.Context, r *Runner, name string) (bool, error) {
	_, err := r.Run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err == nil {
		return true, nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("failed to check branch %s: %w", name, err)
}
