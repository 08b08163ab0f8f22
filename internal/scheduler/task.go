package scheduler

import (
	"time"

	"github.com/aristath/taskweave/internal/adapter"
	"github.com/aristath/taskweave/internal/taskfile"
)

// TaskState is where a task is in its lifecycle.
type TaskState string

const (
	StatePending       TaskState = "pending"
	StateRunning       TaskState = "running"
	StateSucceeded     TaskState = "succeeded"
	StateFailed        TaskState = "failed"
	StateWaitingReview TaskState = "waiting-review"
	StateWaitingHuman  TaskState = "waiting-human"
)

// Terminal reports whether no further transition can leave s.
func (s TaskState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Waiting reports whether s is a suspend point awaiting a decision.
func (s TaskState) Waiting() bool {
	return s == StateWaitingReview || s == StateWaitingHuman
}

// RunStatus is the status of a whole run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Task is a task definition plus its execution state.
type Task struct {
	taskfile.Task
	State         TaskState                `json:"state"`
	RetryCount    int                      `json:"retryCount"`
	AssignedModel string                   `json:"assignedModel,omitempty"`
	StartTime     time.Time                `json:"startTime,omitzero"`
	EndTime       time.Time                `json:"endTime,omitzero"`
	Error         string                   `json:"error,omitempty"`
	Note          string                   `json:"note,omitempty"`
	Result        *adapter.ExecutionResult `json:"result,omitempty"`
}

// MaxRetries is the retry budget of the task.
func (t Task) MaxRetries() int {
	return t.Execution.MaxRetries
}

// NewTask wraps a definition as a pending task.
func NewTask(def taskfile.Task) Task {
	return Task{Task: def, State: StatePending}
}

// RunState is one orchestration run.
type RunState struct {
	ID           string    `json:"id"`
	Project      string    `json:"project,omitempty"`
	Tasks        []Task    `json:"tasks"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime,omitzero"`
	Status       RunStatus `json:"status"`
	CostUSD      float64   `json:"costUsd"`
	InputTokens  int64     `json:"inputTokens"`
	OutputTokens int64     `json:"outputTokens"`
}

// Task returns the task with the given id.
func (r *RunState) Task(id string) (Task, bool) {
	for _, t := range r.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Held returns the ids of pending tasks the budget kept from being admitted.
func (r *RunState) Held() []string {
	var ids []string
	for _, t := range r.Tasks {
		if t.State == StatePending && t.Note != "" {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// Counts tallies tasks by state.
func (r *RunState) Counts() map[TaskState]int {
	counts := make(map[TaskState]int)
	for _, t := range r.Tasks {
		counts[t.State]++
	}
	return counts
}

// finalStatus derives the status a run ends with once nothing is running.
// A run with tasks waiting on a decision stays running so it can be resumed.
func finalStatus(tasks []Task, cancelled bool) RunStatus {
	if cancelled {
		return RunCancelled
	}
	allSucceeded := true
	for _, t := range tasks {
		if t.State.Waiting() {
			return RunRunning
		}
		if t.State != StateSucceeded {
			allSucceeded = false
		}
	}
	if allSucceeded {
		return RunCompleted
	}
	return RunFailed
}

// runnable reports whether some pending task has every dependency
// succeeded, so resuming the run would admit it.
func runnable(tasks []Task) bool {
	succeeded := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.State == StateSucceeded {
			succeeded[t.ID] = true
		}
	}
	for _, t := range tasks {
		if t.State != StatePending {
			continue
		}
		ready := true
		for _, dep := range t.DependsOn {
			if !succeeded[dep] {
				ready = false
				break
			}
		}
		if ready {
			return true
		}
	}
	return false
}
