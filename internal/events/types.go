package events

import "time"

// Event is anything published on the bus.
type Event interface {
	Topic() string
	EventType() string
	TaskID() string
}

const (
	TopicTask   = "task"
	TopicRun    = "run"
	TopicBudget = "budget"
)

const (
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskRetrying  = "task.retrying"
	EventTypeTaskSucceeded = "task.succeeded"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskWaiting   = "task.waiting"
	EventTypeBudgetDenied  = "budget.denied"
	EventTypeBudgetWarning = "budget.warning"
	EventTypeRunFinished   = "run.finished"
	EventTypeDAGProgress   = "run.progress"
)

// TaskStarted is published when a task is admitted and dispatched.
type TaskStarted struct {
	RunID     string
	ID        string
	Title     string
	Tool      string
	Model     string
	Attempt   int
	Timestamp time.Time
}

func (e TaskStarted) Topic() string     { return TopicTask }
func (e TaskStarted) EventType() string { return EventTypeTaskStarted }
func (e TaskStarted) TaskID() string    { return e.ID }

// TaskRetrying is published when a failed task goes back to the queue.
type TaskRetrying struct {
	RunID      string
	ID         string
	RetryCount int
	MaxRetries int
	Reason     string
	Timestamp  time.Time
}

func (e TaskRetrying) Topic() string     { return TopicTask }
func (e TaskRetrying) EventType() string { return EventTypeTaskRetrying }
func (e TaskRetrying) TaskID() string    { return e.ID }

// TaskSucceeded is published when a task reaches succeeded.
type TaskSucceeded struct {
	RunID     string
	ID        string
	Duration  time.Duration
	CostUSD   float64
	Timestamp time.Time
}

func (e TaskSucceeded) Topic() string     { return TopicTask }
func (e TaskSucceeded) EventType() string { return EventTypeTaskSucceeded }
func (e TaskSucceeded) TaskID() string    { return e.ID }

// TaskFailed is published when a task fails for good.
type TaskFailed struct {
	RunID     string
	ID        string
	Reason    string
	Code      string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailed) Topic() string     { return TopicTask }
func (e TaskFailed) EventType() string { return EventTypeTaskFailed }
func (e TaskFailed) TaskID() string    { return e.ID }

// TaskWaiting is published when a task holds for review or a human.
type TaskWaiting struct {
	RunID     string
	ID        string
	State     string
	Summary   string
	Timestamp time.Time
}

func (e TaskWaiting) Topic() string     { return TopicTask }
func (e TaskWaiting) EventType() string { return EventTypeTaskWaiting }
func (e TaskWaiting) TaskID() string    { return e.ID }

// BudgetDenied is published when admission is refused for budget.
type BudgetDenied struct {
	RunID         string
	ID            string
	EstimatedCost float64
	Tokens        int64
	Reason        string
	Timestamp     time.Time
}

func (e BudgetDenied) Topic() string     { return TopicBudget }
func (e BudgetDenied) EventType() string { return EventTypeBudgetDenied }
func (e BudgetDenied) TaskID() string    { return e.ID }

// BudgetWarning is published once per run when spend crosses the warning threshold.
type BudgetWarning struct {
	RunID              string
	MonthlyUtilization float64
	DailyUtilization   float64
	Timestamp          time.Time
}

func (e BudgetWarning) Topic() string     { return TopicBudget }
func (e BudgetWarning) EventType() string { return EventTypeBudgetWarning }
func (e BudgetWarning) TaskID() string    { return "" }

// DAGProgress summarizes task states after every transition.
type DAGProgress struct {
	RunID     string
	Total     int
	Succeeded int
	Running   int
	Failed    int
	Waiting   int
	Pending   int
	Timestamp time.Time
}

func (e DAGProgress) Topic() string     { return TopicRun }
func (e DAGProgress) EventType() string { return EventTypeDAGProgress }
func (e DAGProgress) TaskID() string    { return "" }

// RunFinished is published when the scheduler loop exits.
type RunFinished struct {
	RunID     string
	Status    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e RunFinished) Topic() string     { return TopicRun }
func (e RunFinished) EventType() string { return EventTypeRunFinished }
func (e RunFinished) TaskID() string    { return "" }
