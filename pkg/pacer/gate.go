package pacer

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// concurrencyGate admits a dispatch only while in-flight < max.
// Mutated only by the dispatcher goroutine; atomics let Snapshot read it.
type concurrencyGate struct {
	max      int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newConcurrencyGate(max int) *concurrencyGate {
	return &concurrencyGate{max: int32(max)}
}

func (g *concurrencyGate) open() bool { return g.inFlight.Load() < g.max }

func (g *concurrencyGate) acquire() int {
	n := g.inFlight.Add(1)
	if n > g.peak.Load() {
		g.peak.Store(n)
	}
	return int(n)
}

func (g *concurrencyGate) release() int {
	n := g.inFlight.Add(-1)
	if n < 0 {
		g.inFlight.Store(0)
		n = 0
	}
	return int(n)
}

// pacing spaces dispatches at least one delay apart.
//
// Both the "just dispatched" and the "task settled" paths schedule follow-up
// attempts, so several may fire close together. The limiter holds one token
// refilled every delay; an attempt that would spend it early is turned into a
// re-schedule for the remaining wait.
type pacing struct {
	lim *rate.Limiter
}

func newPacing(delay time.Duration) *pacing {
	return &pacing{lim: rate.NewLimiter(rate.Every(delay), 1)}
}

// take spends the dispatch token at now. If the token is not yet available it
// reports how long to wait and leaves the limiter untouched.
func (p *pacing) take(now time.Time) (wait time.Duration, ok bool) {
	r := p.lim.ReserveN(now, 1)
	if !r.OK() {
		return 0, false
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return d, false
	}
	return 0, true
}
