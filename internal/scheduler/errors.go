package scheduler

import (
	"errors"
	"fmt"

	"github.com/aristath/taskweave/internal/errcode"
)

var (
	ErrTaskNotFound    = errcode.New("E1001", "task not found")
	ErrRetriesExceeded = errcode.New("E1005", "retries exceeded")

	ErrInvalidTransition = errors.New("invalid state transition")
)

// TransitionError describes a rejected state change.
type TransitionError struct {
	TaskID string
	From   TaskState
	To     TaskState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %q cannot move from %s to %s", e.TaskID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func notFound(id string) error {
	return fmt.Errorf("%w: %q", ErrTaskNotFound, id)
}
