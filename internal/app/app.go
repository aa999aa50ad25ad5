package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pacer/internal/batch"
	"pacer/internal/config"
	"pacer/internal/observability/status"
	"pacer/internal/runtime/supervisor"
	"pacer/internal/schedule"
	"pacer/internal/storage"
	"pacer/pkg/eventbus"
	logx "pacer/pkg/logx"
	"pacer/pkg/pacer"
)

var ErrNoSchedule = errors.New("daemon mode requires a schedule")

// App wires config, logging, storage and the pacing engine together. RunOnce
// executes one batch; Serve keeps running batches on the configured schedule.
type App struct {
	cfgPath string

	cfgm  *config.ConfigManager
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	// runMu keeps batch runs from overlapping when RunOnce is called
	// directly while the daemon schedule is also firing.
	runMu sync.Mutex
	last  atomic.Pointer[Report]

	sup    *supervisor.Supervisor
	runner *schedule.Runner
	status *status.Server
}

// New loads and validates the config at cfgPath, then opens logging and
// storage.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   store,
	}, nil
}

// Config returns the last committed config.
func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Logger() logx.Logger { return a.log }

// LastReport returns the report of the most recent finished run, if any.
func (a *App) LastReport() *Report { return a.last.Load() }

// RunOnce runs every configured task through one engine and returns the
// report. Task failures are part of the report, not an error. ctx cancels the
// tasks themselves; if it ends before the batch completes RunOnce returns
// ctx.Err().
func (a *App) RunOnce(ctx context.Context) (*Report, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	cfg := a.cfgm.Get()
	eng, err := cfg.Engine.Resolve()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := a.log.With(logx.String("run_id", id))

	tasks, err := batch.Build(ctx, cfg.Tasks, batch.Options{MaxConns: eng.MaxConcurrency, Log: log})
	if err != nil {
		return nil, fmt.Errorf("build tasks: %w", err)
	}

	e, err := pacer.New[batch.Result](eng.Delay, eng.MaxConcurrency,
		pacer.WithName(eng.Name),
		pacer.WithLogger(log),
		pacer.WithBus(a.bus),
	)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		e.Enqueue(t)
	}

	started := time.Now()
	if err := e.Start(); err != nil {
		return nil, err
	}
	outs, err := e.Wait(ctx)
	if err != nil {
		log.Warn("run abandoned before completion", logx.Err(err), logx.Any("snapshot", e.Snapshot()))
		return nil, err
	}

	rep := newReport(id, started, e.Snapshot(), cfg.Tasks, outs)
	a.last.Store(rep)

	if a.store != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := a.store.AppendRun(sctx, rep.Record()); err != nil {
			log.Warn("saving run report failed", logx.Err(err))
		}
		cancel()
	}
	return rep, nil
}

// History returns up to n stored runs, newest first.
func (a *App) History(ctx context.Context, n int) ([]storage.RunRecord, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.RecentRuns(ctx, n)
}

// Close releases storage and log files. It does not stop a running Serve.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
