// Package pacer runs a fixed batch of tasks with bounded concurrency and a
// fixed delay between dispatches.
//
// Lifecycle:
//
//	e, _ := pacer.New[int](200*time.Millisecond, 3)
//	e.Enqueue(fetchA)
//	e.Enqueue(fetchB)
//	_ = e.Start()
//	outs, _ := e.Wait(ctx)
//
// Guarantees:
//   - At most maxConcurrency tasks are in flight at once.
//   - Two dispatches are never closer together than delay.
//   - The batch is frozen by Start; later Enqueue calls are discarded.
//   - Completion is signalled exactly once, after every task settled.
//
// Outcomes are recorded in completion order. Each Outcome carries the task's
// submission Index; use Outcomes.BySubmission when submission order matters.
// A task failure is an ordinary outcome and never aborts the batch.
//
// Engine bookkeeping lives on a single dispatcher goroutine. Timers and task
// goroutines only send messages to it, so redundant wake-ups are harmless:
// every dispatch attempt re-checks the gate before acting.
package pacer
