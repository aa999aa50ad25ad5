package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pacer/internal/config"
	logx "pacer/pkg/logx"
	"pacer/pkg/pacer"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrSleepFailed      = errors.New("sleep task configured to fail")
	ErrUnknownKind      = errors.New("unknown task kind")
)

// Result is what one task reports back to the engine.
type Result struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status,omitempty"` // http status or exec exit code
	Bytes  int64  `json:"bytes,omitempty"`
}

// Options customizes Build.
type Options struct {
	// Client is used for http tasks. Nil builds one sized for MaxConns.
	Client   *http.Client
	MaxConns int

	Log logx.Logger
}

// Build converts defs into tasks, in order. ctx is the parent of every task's
// own timeout context; cancelling it aborts tasks that are still running.
func Build(ctx context.Context, defs []config.TaskConfig, opts Options) ([]pacer.Task[Result], error) {
	if ctx == nil {
		ctx = context.Background()
	}
	client := opts.Client
	if client == nil {
		client = NewHTTPClient(opts.MaxConns)
	}
	log := opts.Log.With(logx.String("comp", "batch"))

	tasks := make([]pacer.Task[Result], 0, len(defs))
	for i, d := range defs {
		name := d.DisplayName(i)
		timeout, err := config.ParseDurationOrDefault(fmt.Sprintf("tasks[%d].timeout", i), d.Timeout, config.DefaultTaskTimeout)
		if err != nil {
			return nil, err
		}

		var t pacer.Task[Result]
		switch kind := strings.ToLower(strings.TrimSpace(d.Kind)); kind {
		case config.KindHTTP:
			t = httpTask(ctx, client, name, d, timeout)
		case config.KindExec:
			t = execTask(ctx, name, d, timeout)
		case config.KindSleep:
			dur, err := config.ParseDurationField(fmt.Sprintf("tasks[%d].duration", i), d.Duration)
			if err != nil {
				return nil, err
			}
			t = sleepTask(ctx, name, dur, d.Fail)
		default:
			return nil, fmt.Errorf("tasks[%d]: %w %q", i, ErrUnknownKind, d.Kind)
		}
		tasks = append(tasks, traced(log, name, t))
	}
	return tasks, nil
}

// traced stamps the task name into the log around each run.
func traced(log logx.Logger, name string, t pacer.Task[Result]) pacer.Task[Result] {
	return func() (Result, error) {
		start := time.Now()
		r, err := t()
		log.Trace("task ran", logx.String("task", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return r, err
	}
}

func sleepTask(ctx context.Context, name string, d time.Duration, fail bool) pacer.Task[Result] {
	return func() (Result, error) {
		res := Result{Name: name, Kind: config.KindSleep, Detail: "slept " + d.String()}
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-t.C:
		}
		if fail {
			return res, ErrSleepFailed
		}
		return res, nil
	}
}
