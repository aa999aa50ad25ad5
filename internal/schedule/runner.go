package schedule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "pacer/pkg/logx"
)

// Runner triggers one job on a schedule. A tick that arrives while the
// previous run is still going is skipped, so runs never overlap.
type Runner struct {
	mu    sync.Mutex
	log   logx.Logger
	c     *cron.Cron
	entry cron.EntryID
	spec  ParsedSpec
	job   func()

	started bool
	fired   atomic.Uint64
	skipped atomic.Uint64
}

// NewRunner creates a stopped runner. loc may be nil (time.Local).
func NewRunner(log logx.Logger, loc *time.Location) *Runner {
	if loc == nil {
		loc = time.Local
	}
	r := &Runner{log: log.With(logx.String("comp", "schedule"))}
	cl := cronLogger{r: r}
	r.c = cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return r
}

// Set replaces the schedule and job. The previous entry, if any, is removed;
// a run already in progress is not interrupted.
func (r *Runner) Set(raw string, job func()) error {
	if job == nil {
		return fmt.Errorf("schedule job is nil")
	}
	ps, err := ParseSchedule(raw)
	if err != nil {
		return err
	}

	wrapped := cron.FuncJob(func() {
		r.fired.Add(1)
		job()
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	var id cron.EntryID
	switch ps.Kind {
	case SpecInterval:
		// cron.Every rounds up to whole seconds.
		id = r.c.Schedule(cron.Every(ps.Every), wrapped)
	default:
		id, err = r.c.AddJob(ps.Cron, wrapped)
		if err != nil {
			return err
		}
	}
	if r.entry != 0 {
		r.c.Remove(r.entry)
	}
	r.entry = id
	r.spec = ps
	r.job = job

	r.log.Info("schedule set",
		logx.String("kind", ps.Kind.String()),
		logx.String("source", ps.Source),
		logx.String("cron", ps.Cron),
		logx.Duration("every", ps.Every),
		logx.Time("next", r.nextLocked()),
	)
	return nil
}

func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.c.Start()
}

// Stop stops triggering and waits for a running job until ctx ends.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	done := r.c.Stop().Done()
	r.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) Spec() ParsedSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spec
}

// Next returns the next trigger time, or zero if nothing is scheduled or the
// runner has not started yet.
func (r *Runner) Next() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextLocked()
}

func (r *Runner) nextLocked() time.Time {
	if r.entry == 0 {
		return time.Time{}
	}
	return r.c.Entry(r.entry).Next
}

// Counters returns how many ticks ran the job and how many were skipped
// because a run was still in progress.
func (r *Runner) Counters() (fired, skipped uint64) {
	return r.fired.Load(), r.skipped.Load()
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ r *Runner }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.r.skipped.Add(1)
		l.r.log.Warn("schedule tick skipped: previous run still in progress")
		return
	}
	l.r.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.r.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
