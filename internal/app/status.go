package app

import (
	"time"

	"pacer/internal/observability/status"
	"pacer/internal/runtime/supervisor"
	logx "pacer/pkg/logx"
)

// StatusView is what /status reports.
type StatusView struct {
	Schedule     string              `json:"schedule"`
	ScheduleKind string              `json:"schedule_kind,omitempty"`
	Next         time.Time           `json:"next,omitzero"`
	Fired        uint64              `json:"fired"`
	Skipped      uint64              `json:"skipped"`
	StorageOn    bool                `json:"storage_enabled"`
	LastRun      *Report             `json:"last_run,omitempty"`
	Supervisor   supervisor.Counters `json:"supervisor"`
	Goroutines   []supervisor.Stats  `json:"goroutines,omitempty"`
}

// Status returns a snapshot of the daemon. Outside Serve only the last report
// and storage flag are filled in.
func (a *App) Status() any {
	v := StatusView{Schedule: a.cfgm.Get().Schedule, StorageOn: a.store != nil, LastRun: a.last.Load()}
	if a.runner != nil {
		v.ScheduleKind = a.runner.Spec().Kind.String()
		v.Next = a.runner.Next()
		v.Fired, v.Skipped = a.runner.Counters()
	}
	if a.sup != nil {
		v.Supervisor = a.sup.Counters()
		v.Goroutines = a.sup.Stats()
	}
	return v
}

// startStatus runs the status server under the supervisor when enabled. It
// gives up after a few failed binds without taking the daemon down.
func (a *App) startStatus() {
	sc := a.cfgm.Get().Status
	if sc == nil || !sc.Enabled {
		return
	}
	srv := status.New(status.Config{
		Addr:          sc.Addr,
		Token:         sc.Token,
		AllowInsecure: sc.AllowInsecure,
		Pprof:         sc.Pprof,
	}, a, a.log)
	a.status = srv
	a.log.Debug("status server enabled", logx.String("addr", sc.Addr), logx.Bool("pprof", sc.Pprof))
	a.sup.GoRestart("status.http", srv.Serve,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
		supervisor.WithMaxRestarts(5),
	)
}
