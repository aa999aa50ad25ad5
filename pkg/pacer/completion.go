package pacer

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

// accumulator records outcomes in completion order.
// Appends happen only on the dispatcher goroutine.
type accumulator[T any] struct {
	outcomes Outcomes[T]
	settled  atomic.Int32
	failed   atomic.Int32
}

func (a *accumulator[T]) add(o Outcome[T]) int {
	a.outcomes = append(a.outcomes, o)
	if o.Err != nil {
		a.failed.Add(1)
	}
	return int(a.settled.Add(1))
}

// completion is a one-shot signal carrying the final outcomes.
type completion[T any] struct {
	once sync.Once
	done chan struct{}
	res  Outcomes[T]
}

func newCompletion[T any]() *completion[T] {
	return &completion[T]{done: make(chan struct{})}
}

// resolve settles the signal. Only the first call has an effect.
func (c *completion[T]) resolve(res Outcomes[T]) bool {
	resolved := false
	c.once.Do(func() {
		if res == nil {
			res = Outcomes[T]{}
		}
		c.res = res
		close(c.done)
		resolved = true
	})
	return resolved
}

func (c *completion[T]) result() (Outcomes[T], bool) {
	select {
	case <-c.done:
		return slices.Clone(c.res), true
	default:
		return nil, false
	}
}

func (c *completion[T]) wait(ctx context.Context) (Outcomes[T], error) {
	select {
	case <-c.done:
		return slices.Clone(c.res), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
