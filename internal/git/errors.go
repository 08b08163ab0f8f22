package git

import (
	"fmt"
	"strings"

	"github.com/aristath/taskweave/internal/errcode"
)

var (
	ErrConflictDetected = errcode.New("E3003", "conflict detected")
	ErrWorktreeInUse    = errcode.New("E3002", "worktree create failed")
)

// ConflictError lists the files left in conflict by a rebase or merge.
type ConflictError struct {
	Files []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict detected in: %s", strings.Join(e.Files, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrConflictDetected }
