package dag

import (
	"fmt"
	"strings"

	"github.com/aristath/taskweave/internal/errcode"
)

var (
	ErrDependencyNotFound = errcode.New("E1003", "dependency not found")
	ErrCycleDetected      = errcode.New("E2001", "cycle detected")
	ErrDuplicateNode      = errcode.New("E1002", "duplicate task id")
)

// DependencyNotFoundError reports a dependency reference that does not
// resolve to any task in the graph.
type DependencyNotFoundError struct {
	TaskID    string
	MissingID string
}

func (e *DependencyNotFoundError) Error() string {
	return fmt.Sprintf("task %q depends on non-existent task %q", e.TaskID, e.MissingID)
}

func (e *DependencyNotFoundError) Unwrap() error { return ErrDependencyNotFound }

// CycleError reports the first cycle found while walking tasks in
// declaration order. Path starts at the re-visited node and does not repeat it.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return "cycle detected"
	}
	return "cycle detected: " + strings.Join(append(append([]string(nil), e.Path...), e.Path[0]), " -> ")
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }
