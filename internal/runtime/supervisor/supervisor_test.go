package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "pacer/pkg/logx"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecordsFirstError(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background(), WithLogger(logx.Nop()))
	boom := errors.New("boom")
	s.Go("a", func(ctx context.Context) error { return boom })
	s.Go("b", func(ctx context.Context) error { return nil })

	err := s.Wait(waitCtx(t))
	if !errors.Is(err, boom) || !strings.HasPrefix(err.Error(), "a:") {
		t.Fatalf("Wait error = %v, want wrapped boom", err)
	}
	if c := s.Counters(); c.Started != 2 || c.Active != 0 {
		t.Fatalf("unexpected counters: %+v", c)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	s.Go("p", func(ctx context.Context) error { panic("bad") })
	if err := s.Wait(waitCtx(t)); err == nil || !strings.Contains(err.Error(), "panic: bad") {
		t.Fatalf("Wait error = %v, want panic error", err)
	}
	for _, st := range s.Stats() {
		if st.Name == "p" && st.Panics != 1 {
			t.Fatalf("panics = %d, want 1", st.Panics)
		}
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Go("failer", func(ctx context.Context) error { return errors.New("fail") })
	if err := s.Wait(waitCtx(t)); err == nil || !strings.Contains(err.Error(), "failer") {
		t.Fatalf("Wait error = %v", err)
	}
}

func TestStopCancelsAndWaits(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	var stopped atomic.Bool
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		stopped.Store(true)
		return ctx.Err()
	})
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if !stopped.Load() {
		t.Fatal("goroutine did not observe cancellation")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	defer s.Cancel()
	s.Go("forever", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait error = %v, want deadline", err)
	}
}

func TestGoRestartRestartsUntilSuccess(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("first")
		case 2:
			panic("second")
		default:
			return nil
		}
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
	for _, st := range s.Stats() {
		if st.Name == "flaky" && (st.Restarts != 2 || st.Panics != 1) {
			t.Fatalf("unexpected stats: %+v", st)
		}
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("nope")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2), WithFatalOnFinalError(true))

	err := s.Wait(waitCtx(t))
	if err == nil || !strings.Contains(err.Error(), "broken: nope") {
		t.Fatalf("Wait error = %v", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3 (initial + 2 restarts)", runs.Load())
	}
}

func TestJitterBounds(t *testing.T) {
	t.Parallel()
	for i := 0; i < 100; i++ {
		if d := jitter(100 * time.Millisecond); d < 100*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("jitter out of range: %v", d)
		}
	}
}
