package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pacer/internal/config"
	"pacer/internal/runtime/supervisor"
	"pacer/internal/schedule"
	logx "pacer/pkg/logx"
	"pacer/pkg/pacer"
)

// Serve runs batches on the configured schedule until ctx ends. Each tick
// uses the latest committed config; a tick that fires while a run is still
// going is skipped.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.cfgm.Get()
	if strings.TrimSpace(cfg.Schedule) == "" {
		return ErrNoSchedule
	}

	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.runner = schedule.NewRunner(a.log, nil)
	if err := a.runner.Set(cfg.Schedule, a.tick); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	a.watchEvents()
	a.watchConfig()
	a.watchdog()
	a.startStatus()

	a.runner.Start()
	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("daemon started", logx.String("schedule", cfg.Schedule), logx.Time("next", a.runner.Next()))

	<-a.sup.Context().Done()

	sdNotify(a.log, daemon.SdNotifyStopping)
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	a.stop(stopCtx)

	return a.sup.Err()
}

// tick is the schedule job: one batch run under the supervisor context.
func (a *App) tick() {
	rep, err := a.RunOnce(a.sup.Context())
	if err != nil {
		a.log.Warn("scheduled run did not complete", logx.Err(err))
		return
	}
	a.log.Info("scheduled run finished",
		logx.String("run_id", rep.ID),
		logx.Int("total", rep.Total),
		logx.Int("ok", rep.OK),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Took),
		logx.Time("next", a.runner.Next()),
	)
	sdNotify(a.log, fmt.Sprintf("STATUS=last run %s: %d ok, %d failed", rep.ID, rep.OK, rep.Failed))
}

func (a *App) watchEvents() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("events.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				if e.Type == pacer.EventTaskStarted || e.Type == pacer.EventTaskFinished {
					a.log.Trace("event", logx.String("type", e.Type), logx.Any("data", e.Data))
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})
}

// watchConfig hot-reloads logging and the schedule. Engine and task changes
// need no action: the next run reads the committed config.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		applied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(applied, newCfg)
				applied = newCfg
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections := config.ChangedSections(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if config.NeedsRestart(prev, next) {
		a.log.Warn("storage or status config changed; restart required for changes to take effect")
	}
	a.logs.Apply(mapLogConfig(next))

	if strings.TrimSpace(prev.Schedule) != strings.TrimSpace(next.Schedule) {
		if strings.TrimSpace(next.Schedule) == "" {
			a.log.Warn("schedule removed from config; keeping previous", logx.String("schedule", prev.Schedule))
		} else if err := a.runner.Set(next.Schedule, a.tick); err != nil {
			a.log.Warn("invalid schedule; keeping previous", logx.Err(err))
		}
	}
	a.log.Info("config applied", logx.String("changed", strings.Join(sections, ",")))
}

// watchdog pings systemd when the unit sets WatchdogSec.
func (a *App) watchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.GoRestart("systemd.watchdog", func(c context.Context) error {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return nil
			case <-t.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					return err
				}
			}
		}
	})
}

// stop shuts down in order: schedule first so no new run starts, then the
// supervised loops. Each step is bounded.
func (a *App) stop(ctx context.Context) {
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			return
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("schedule", 5*time.Second, a.runner.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)

	fired, skipped := a.runner.Counters()
	a.log.Info("stopped", logx.Uint64("runs", fired), logx.Uint64("skipped_ticks", skipped), logx.Any("goroutines", a.sup.Stats()))
}

func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Trace("sd_notify", logx.String("state", state))
	}
}
