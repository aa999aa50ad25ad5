package pacer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPendingQueueFIFO(t *testing.T) {
	t.Parallel()
	var q pendingQueue[int]
	for i := 0; i < 3; i++ {
		v := i
		q.push(func() (int, error) { return v, nil })
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}
	for want := 0; want < 3; want++ {
		it, ok := q.pop()
		if !ok {
			t.Fatalf("pop %d: queue empty", want)
		}
		if it.index != want {
			t.Fatalf("pop index = %d, want %d", it.index, want)
		}
		if v, _ := it.task(); v != want {
			t.Fatalf("task value = %d, want %d", v, want)
		}
	}
	if _, ok := q.pop(); ok {
		t.Fatal("expected empty queue")
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0", q.Len())
	}
}

func TestConcurrencyGate(t *testing.T) {
	t.Parallel()
	g := newConcurrencyGate(2)
	if !g.open() {
		t.Fatal("new gate must be open")
	}
	g.acquire()
	g.acquire()
	if g.open() {
		t.Fatal("gate must close at max")
	}
	if n := g.release(); n != 1 {
		t.Fatalf("release = %d, want 1", n)
	}
	if !g.open() {
		t.Fatal("gate must reopen after release")
	}
	if p := g.peak.Load(); p != 2 {
		t.Fatalf("peak = %d, want 2", p)
	}
}

func TestPacingSpendsOneTokenPerDelay(t *testing.T) {
	t.Parallel()
	p := newPacing(100 * time.Millisecond)
	now := time.Now()
	if _, ok := p.take(now); !ok {
		t.Fatal("first take must succeed")
	}
	wait, ok := p.take(now.Add(40 * time.Millisecond))
	if ok {
		t.Fatal("second take inside the interval must fail")
	}
	if wait < 55*time.Millisecond || wait > 61*time.Millisecond {
		t.Fatalf("wait = %v, want ~60ms", wait)
	}
	// A refused take must not consume the token.
	if _, ok := p.take(now.Add(110 * time.Millisecond)); !ok {
		t.Fatal("take after the interval must succeed")
	}
}

func TestCompletionResolvesOnce(t *testing.T) {
	t.Parallel()
	c := newCompletion[int]()
	if _, ok := c.result(); ok {
		t.Fatal("unresolved completion reported a result")
	}
	if !c.resolve(Outcomes[int]{{Index: 0, Value: 1}}) {
		t.Fatal("first resolve must win")
	}
	if c.resolve(Outcomes[int]{{Index: 9}}) {
		t.Fatal("second resolve must be ignored")
	}
	res, err := c.wait(context.Background())
	if err != nil || len(res) != 1 || res[0].Value != 1 {
		t.Fatalf("wait = (%v, %v)", res, err)
	}
	// Callers get copies.
	res[0].Value = 99
	again, _ := c.result()
	if again[0].Value != 1 {
		t.Fatal("result shares memory with caller copy")
	}
}

func TestOutcomesHelpers(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	outs := Outcomes[string]{
		{Index: 2, Value: "c"},
		{Index: 0, Value: "a"},
		{Index: 1, Err: boom},
	}
	sorted := outs.BySubmission()
	if got := sorted.Values(); got[0] != "a" || got[1] != "" || got[2] != "c" {
		t.Fatalf("Values = %v", got)
	}
	if errs := sorted.Errors(); !errors.Is(errs[1], boom) || errs[0] != nil {
		t.Fatalf("Errors = %v", errs)
	}
	if outs[0].Index != 2 {
		t.Fatal("BySubmission must not reorder the receiver")
	}
	if outs.Failed() != 1 {
		t.Fatalf("Failed = %d, want 1", outs.Failed())
	}
	if StateDraining.String() != "draining" || State(42).String() != "unknown" {
		t.Fatal("unexpected State strings")
	}
}
