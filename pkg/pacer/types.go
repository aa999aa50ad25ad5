package pacer

import (
	"slices"
	"time"
)

// Task is an argument-less unit of asynchronous work. It is invoked on its own
// goroutine and settles with exactly one outcome.
type Task[T any] func() (T, error)

// Outcome is the settled result of one task.
type Outcome[T any] struct {
	// Index is the task's position in submission order.
	Index int

	Value T
	Err   error

	Started  time.Time
	Duration time.Duration
}

func (o Outcome[T]) OK() bool { return o.Err == nil }

// Outcomes is the settled sequence, in completion order.
type Outcomes[T any] []Outcome[T]

// BySubmission returns a copy ordered by submission index.
func (s Outcomes[T]) BySubmission() Outcomes[T] {
	out := slices.Clone(s)
	slices.SortStableFunc(out, func(a, b Outcome[T]) int { return a.Index - b.Index })
	return out
}

// Values returns each outcome's value in the current order (zero value for failures).
func (s Outcomes[T]) Values() []T {
	out := make([]T, len(s))
	for i, o := range s {
		out[i] = o.Value
	}
	return out
}

// Errors returns each outcome's error in the current order (nil for successes).
func (s Outcomes[T]) Errors() []error {
	out := make([]error, len(s))
	for i, o := range s {
		out[i] = o.Err
	}
	return out
}

// Failed counts failed outcomes.
func (s Outcomes[T]) Failed() int {
	n := 0
	for _, o := range s {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// State is the engine lifecycle position.
type State int32

const (
	StateCreated State = iota
	StateStarted
	StateDraining
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Snapshot is a lightweight view for diagnostics. Safe to take at any time.
type Snapshot struct {
	Name           string
	State          State
	Delay          time.Duration
	MaxConcurrency int

	// Expected is the batch size frozen by Start (0 before Start).
	Expected int
	Pending  int
	InFlight int
	Settled  int
	Failed   int

	// MaxInFlight is the highest in-flight count observed.
	MaxInFlight int

	// Discarded counts Enqueue calls made after Start.
	Discarded    uint64
	Attempts     uint64
	NoopAttempts uint64
}

// Event types published on the bus.
const (
	EventBatchStarted   = "batch.started"
	EventBatchCompleted = "batch.completed"
	EventTaskStarted    = "task.started"
	EventTaskFinished   = "task.finished"
	EventTaskFailed     = "task.failed"
)

// TaskEvent is the payload of task.* events.
type TaskEvent struct {
	Batch    string        `json:"batch"`
	Index    int           `json:"index"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	InFlight int           `json:"in_flight"`
	Error    string        `json:"error,omitempty"`
}

// BatchEvent is the payload of batch.* events.
type BatchEvent struct {
	Batch          string        `json:"batch"`
	Expected       int           `json:"expected"`
	Settled        int           `json:"settled"`
	Failed         int           `json:"failed"`
	Delay          time.Duration `json:"delay"`
	MaxConcurrency int           `json:"max_concurrency"`
	Took           time.Duration `json:"took"`
}
