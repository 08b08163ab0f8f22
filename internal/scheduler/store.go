package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/aristath/taskweave/internal/adapter"
)

// Store owns the tasks of a run. Every mutation goes through a transition
// method that checks the current state and reports why a change was refused.
// The scheduler loop is the only writer; the mutex lets status readers take
// snapshots from other goroutines.
type Store struct {
	mu    sync.RWMutex
	order []string
	tasks map[string]*Task
}

// NewStore copies tasks into a new arena, keeping their order.
func NewStore(tasks []Task) *Store {
	s := &Store{tasks: make(map[string]*Task, len(tasks))}
	for _, t := range tasks {
		s.order = append(s.order, t.ID)
		s.tasks[t.ID] = &t
	}
	return s
}

// Get returns a copy of the task.
func (s *Store) Get(id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, notFound(id)
	}
	return *t, nil
}

// Tasks returns copies of every task in declaration order.
func (s *Store) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.tasks[id])
	}
	return out
}

// Succeeded returns the ids of succeeded tasks, the completed set readiness
// is computed against.
func (s *Store) Succeeded() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	done := make(map[string]bool)
	for id, t := range s.tasks {
		if t.State == StateSucceeded {
			done[id] = true
		}
	}
	return done
}

// Counts tallies tasks by state.
func (s *Store) Counts() map[TaskState]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[TaskState]int)
	for _, t := range s.tasks {
		counts[t.State]++
	}
	return counts
}

// Start moves a pending task to running, stamping its start time and
// clearing any end time left by an earlier attempt.
func (s *Store) Start(id, model string, now time.Time) error {
	return s.transition(id, StateRunning, func(t *Task) error {
		if t.State != StatePending {
			return &TransitionError{TaskID: id, From: t.State, To: StateRunning}
		}
		t.AssignedModel = model
		t.Note = ""
		t.StartTime = now
		t.EndTime = time.Time{}
		return nil
	})
}

// Succeed completes a running task.
func (s *Store) Succeed(id string, now time.Time) error {
	return s.transition(id, StateSucceeded, func(t *Task) error {
		if t.State != StateRunning {
			return &TransitionError{TaskID: id, From: t.State, To: StateSucceeded}
		}
		t.EndTime = now
		t.Error = ""
		return nil
	})
}

// Retry returns a failed running task to pending and spends one retry.
// It refuses once the retry budget is used up.
func (s *Store) Retry(id, reason string, now time.Time) error {
	return s.transition(id, StatePending, func(t *Task) error {
		if t.State != StateRunning {
			return &TransitionError{TaskID: id, From: t.State, To: StatePending}
		}
		if t.RetryCount >= t.MaxRetries() {
			return fmt.Errorf("%w: task %q used %d of %d", ErrRetriesExceeded, id, t.RetryCount, t.MaxRetries())
		}
		t.RetryCount++
		t.EndTime = now
		t.Error = reason
		return nil
	})
}

// Fail ends a running task for good.
func (s *Store) Fail(id, reason string, now time.Time) error {
	return s.transition(id, StateFailed, func(t *Task) error {
		if t.State != StateRunning {
			return &TransitionError{TaskID: id, From: t.State, To: StateFailed}
		}
		t.EndTime = now
		t.Error = reason
		return nil
	})
}

// Hold suspends a running task in one of the waiting states.
func (s *Store) Hold(id string, state TaskState, note string, now time.Time) error {
	if !state.Waiting() {
		return &TransitionError{TaskID: id, From: StateRunning, To: state}
	}
	return s.transition(id, state, func(t *Task) error {
		if t.State != StateRunning {
			return &TransitionError{TaskID: id, From: t.State, To: state}
		}
		t.EndTime = now
		t.Error = note
		return nil
	})
}

// Resolve settles a waiting task: approved tasks succeed, rejected ones fail.
func (s *Store) Resolve(id string, approved bool, note string, now time.Time) error {
	to := StateFailed
	if approved {
		to = StateSucceeded
	}
	return s.transition(id, to, func(t *Task) error {
		if !t.State.Waiting() {
			return &TransitionError{TaskID: id, From: t.State, To: to}
		}
		t.EndTime = now
		if approved {
			t.Error = ""
		} else {
			t.Error = note
		}
		return nil
	})
}

// Requeue puts a task that was running when the process stopped back to
// pending without spending a retry.
func (s *Store) Requeue(id string) error {
	return s.transition(id, StatePending, func(t *Task) error {
		if t.State != StateRunning {
			return &TransitionError{TaskID: id, From: t.State, To: StatePending}
		}
		t.StartTime = time.Time{}
		return nil
	})
}

// SetResult records the latest execution result of a task.
func (s *Store) SetResult(id string, res adapter.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return notFound(id)
	}
	t.Result = &res
	return nil
}

// Annotate records why a pending task is not being admitted. The error of
// the last attempt is left alone so a retry can still be told about it.
func (s *Store) Annotate(id, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return notFound(id)
	}
	t.Note = note
	return nil
}

func (s *Store) transition(id string, to TaskState, check func(*Task) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return notFound(id)
	}
	if err := check(t); err != nil {
		return err
	}
	t.State = to
	return nil
}
