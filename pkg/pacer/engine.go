package pacer

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"pacer/pkg/eventbus"
	logx "pacer/pkg/logx"
)

const noopLogEvery = 5 * time.Second

// Engine runs one batch of tasks. Create it with New, fill it with Enqueue,
// then call Start once. An Engine is single-use.
type Engine[T any] struct {
	delay time.Duration
	name  string
	log   logx.Logger
	bus   eventbus.Bus

	// mu guards queue and the Created -> Started transition.
	mu       sync.Mutex
	state    atomic.Int32
	queue    pendingQueue[T]
	expected int

	gate *concurrencyGate
	pace *pacing
	acc  accumulator[T]
	done *completion[T]

	attemptCh chan struct{}
	settleCh  chan Outcome[T]

	// pendingTimer is the most recently scheduled dispatch attempt. It is
	// replaced on every reschedule and never read or stopped. Older timers
	// are left to fire; their attempt re-checks the gate and does nothing.
	pendingTimer *time.Timer
	startedAt    time.Time

	pending   atomic.Int64
	discarded atomic.Uint64
	attempts  atomic.Uint64
	noops     atomic.Uint64

	noopLog rate.Sometimes
}

// New creates an engine that dispatches at most one task per delay and keeps
// at most maxConcurrency tasks in flight.
func New[T any](delay time.Duration, maxConcurrency int, opts ...Option) (*Engine[T], error) {
	if delay <= 0 {
		return nil, fmt.Errorf("%w (got %s)", ErrInvalidDelay, delay)
	}
	if maxConcurrency <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidConcurrency, maxConcurrency)
	}
	o := buildOptions(opts)
	return &Engine[T]{
		delay:     delay,
		name:      o.name,
		log:       o.log.With(logx.String("comp", "pacer"), logx.String("batch", o.name)),
		bus:       o.bus,
		gate:      newConcurrencyGate(maxConcurrency),
		done:      newCompletion[T](),
		attemptCh: make(chan struct{}),
		settleCh:  make(chan Outcome[T], min(maxConcurrency, 256)),
		noopLog:   rate.Sometimes{First: 1, Interval: noopLogEvery},
	}, nil
}

// Enqueue appends task to the batch. After Start the call is accepted and
// discarded: the batch size is fixed once scheduling begins.
func (e *Engine[T]) Enqueue(task Task[T]) {
	e.mu.Lock()
	if State(e.state.Load()) != StateCreated {
		e.mu.Unlock()
		n := e.discarded.Add(1)
		e.log.Debug("enqueue after start discarded", logx.Uint64("discarded", n))
		return
	}
	e.queue.push(task)
	e.pending.Store(int64(e.queue.Len()))
	e.mu.Unlock()
}

// Start freezes the batch and begins dispatching. The first attempt fires
// after one delay. An empty batch completes immediately.
func (e *Engine[T]) Start() error {
	e.mu.Lock()
	if State(e.state.Load()) != StateCreated {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.expected = e.queue.Len()
	e.startedAt = time.Now()
	e.state.Store(int32(StateStarted))
	e.mu.Unlock()

	e.log.Info("batch started",
		logx.Int("tasks", e.expected),
		logx.Duration("delay", e.delay),
		logx.Int("max_concurrency", int(e.gate.max)),
	)
	eventbus.Emit(e.bus, EventBatchStarted, e.batchEvent())

	if e.expected == 0 {
		e.complete()
		return nil
	}

	e.pace = newPacing(e.delay)
	// Schedule before the loop exists so pendingTimer is only ever written by
	// one goroutine at a time.
	e.schedule(e.delay)
	go e.loop()
	return nil
}

// Done is closed once every task has settled.
func (e *Engine[T]) Done() <-chan struct{} { return e.done.done }

// Wait blocks until the batch completes or ctx ends. A ctx error only stops
// the wait; the batch keeps running.
func (e *Engine[T]) Wait(ctx context.Context) (Outcomes[T], error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return e.done.wait(ctx)
}

// Result returns the outcomes if the batch has completed.
func (e *Engine[T]) Result() (Outcomes[T], bool) { return e.done.result() }

func (e *Engine[T]) State() State { return State(e.state.Load()) }

func (e *Engine[T]) Snapshot() Snapshot {
	e.mu.Lock()
	expected := e.expected
	e.mu.Unlock()
	return Snapshot{
		Name:           e.name,
		State:          e.State(),
		Delay:          e.delay,
		MaxConcurrency: int(e.gate.max),
		Expected:       expected,
		Pending:        int(e.pending.Load()),
		InFlight:       int(e.gate.inFlight.Load()),
		Settled:        int(e.acc.settled.Load()),
		Failed:         int(e.acc.failed.Load()),
		MaxInFlight:    int(e.gate.peak.Load()),
		Discarded:      e.discarded.Load(),
		Attempts:       e.attempts.Load(),
		NoopAttempts:   e.noops.Load(),
	}
}

// loop is the only goroutine that touches queue, gate and accumulator after Start.
func (e *Engine[T]) loop() {
	for {
		select {
		case <-e.attemptCh:
			e.attempt()
		case o := <-e.settleCh:
			if e.settle(o) {
				return
			}
		}
	}
}

func (e *Engine[T]) schedule(d time.Duration) {
	e.pendingTimer = time.AfterFunc(d, e.wake)
}

// wake delivers a timer firing to the loop. Timers that outlive the batch
// are dropped.
func (e *Engine[T]) wake() {
	select {
	case e.attemptCh <- struct{}{}:
	case <-e.done.done:
	}
}

func (e *Engine[T]) attempt() {
	e.attempts.Add(1)
	e.state.CompareAndSwap(int32(StateStarted), int32(StateDraining))

	if e.queue.Len() == 0 {
		e.noops.Add(1)
		return
	}
	if !e.gate.open() {
		e.noops.Add(1)
		e.noopLog.Do(func() {
			e.log.Debug("dispatch attempt skipped: gate full",
				logx.Int("in_flight", int(e.gate.inFlight.Load())),
				logx.Int("pending", e.queue.Len()),
			)
		})
		return
	}
	if wait, ok := e.pace.take(time.Now()); !ok {
		// Early redundant wake-up: try again once the interval has passed.
		e.noops.Add(1)
		e.schedule(wait)
		return
	}

	it, _ := e.queue.pop()
	e.pending.Store(int64(e.queue.Len()))
	inFlight := e.gate.acquire()
	e.dispatch(it, inFlight)

	if e.queue.Len() > 0 {
		e.schedule(e.delay)
	}
}

func (e *Engine[T]) dispatch(it queued[T], inFlight int) {
	started := time.Now()
	e.log.Debug("task.started", logx.Int("index", it.index), logx.Int("in_flight", inFlight))
	eventbus.Emit(e.bus, EventTaskStarted, TaskEvent{Batch: e.name, Index: it.index, Started: started, InFlight: inFlight})

	go func() {
		v, err := e.invoke(it)
		e.settleCh <- Outcome[T]{
			Index:    it.index,
			Value:    v,
			Err:      err,
			Started:  started,
			Duration: time.Since(started),
		}
	}()
}

// invoke runs one task, turning a panic into an error outcome.
func (e *Engine[T]) invoke(it queued[T]) (v T, err error) {
	if it.task == nil {
		return v, ErrNilTask
	}
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
			e.log.Error("task.panic", logx.Int("index", it.index), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return it.task()
}

// settle records o and reports whether the batch is complete.
func (e *Engine[T]) settle(o Outcome[T]) bool {
	settled := e.acc.add(o)
	inFlight := e.gate.release()

	ev := TaskEvent{Batch: e.name, Index: o.Index, Started: o.Started, Duration: o.Duration, InFlight: inFlight}
	if o.Err != nil {
		ev.Error = o.Err.Error()
		e.log.Warn("task.failed", logx.Int("index", o.Index), logx.Err(o.Err), logx.Duration("dur", o.Duration))
		eventbus.Emit(e.bus, EventTaskFailed, ev)
	} else {
		e.log.Debug("task.completed", logx.Int("index", o.Index), logx.Duration("dur", o.Duration))
		eventbus.Emit(e.bus, EventTaskFinished, ev)
	}

	if e.queue.Len() > 0 {
		e.schedule(e.delay)
		return false
	}
	if settled == e.expected && inFlight == 0 {
		e.complete()
		return true
	}
	return false
}

func (e *Engine[T]) complete() {
	e.state.Store(int32(StateCompleted))
	if !e.done.resolve(e.acc.outcomes) {
		return
	}
	ev := e.batchEvent()
	e.log.Info("batch completed",
		logx.Int("tasks", ev.Expected),
		logx.Int("failed", ev.Failed),
		logx.Duration("took", ev.Took),
	)
	eventbus.Emit(e.bus, EventBatchCompleted, ev)
}

func (e *Engine[T]) batchEvent() BatchEvent {
	ev := BatchEvent{
		Batch:          e.name,
		Expected:       e.expected,
		Settled:        int(e.acc.settled.Load()),
		Failed:         int(e.acc.failed.Load()),
		Delay:          e.delay,
		MaxConcurrency: int(e.gate.max),
	}
	if !e.startedAt.IsZero() {
		ev.Took = time.Since(e.startedAt)
	}
	return ev
}

// Run is a convenience wrapper: New, Enqueue every task, Start, Wait.
func Run[T any](ctx context.Context, delay time.Duration, maxConcurrency int, tasks []Task[T], opts ...Option) (Outcomes[T], error) {
	e, err := New[T](delay, maxConcurrency, opts...)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		e.Enqueue(t)
	}
	if err := e.Start(); err != nil {
		return nil, err
	}
	return e.Wait(ctx)
}
