package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "pacer/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) (err error) {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs(id, name, started_at, took_ns, total, ok, failed, delay_ns, max_concurrency)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Name, formatTime(r.StartedAt), int64(r.Took), r.Total, r.OK, r.Failed, int64(r.Delay), r.MaxConcurrency,
	)
	if err != nil {
		return err
	}

	if len(r.Outcomes) > 0 {
		stmt, perr := tx.PrepareContext(ctx,
			`INSERT INTO outcomes(run_id, seq, idx, name, kind, ok, err, detail, started_at, took_ns)
			 VALUES(?,?,?,?,?,?,?,?,?,?)`)
		if perr != nil {
			return perr
		}
		defer stmt.Close()
		for _, o := range r.Outcomes {
			if _, err = stmt.ExecContext(ctx,
				r.ID, o.Seq, o.Index, o.Name, nullStr(o.Kind), boolInt(o.OK), nullStr(o.Error), nullStr(o.Detail),
				formatTime(o.Started), int64(o.Took),
			); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) RecentRuns(ctx context.Context, n int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, started_at, took_ns, total, ok, failed, delay_ns, max_concurrency
		 FROM runs ORDER BY rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	var runs []RunRecord
	for rows.Next() {
		var (
			r       RunRecord
			started string
			took    int64
			delay   int64
		)
		if err := rows.Scan(&r.ID, &r.Name, &started, &took, &r.Total, &r.OK, &r.Failed, &delay, &r.MaxConcurrency); err != nil {
			_ = rows.Close()
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.Took = time.Duration(took)
		r.Delay = time.Duration(delay)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// One connection: outcomes are loaded after the runs cursor is closed.
	for i := range runs {
		outs, err := s.outcomes(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Outcomes = outs
	}
	return runs, nil
}

func (s *sqliteStore) outcomes(ctx context.Context, runID string) ([]OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, idx, name, kind, ok, err, detail, started_at, took_ns
		 FROM outcomes WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var (
			o                  OutcomeRecord
			kind, errs, detail sql.NullString
			ok                 int
			started            string
			took               int64
		)
		if err := rows.Scan(&o.Seq, &o.Index, &o.Name, &kind, &ok, &errs, &detail, &started, &took); err != nil {
			return nil, err
		}
		o.Kind = kind.String
		o.OK = ok != 0
		o.Error = errs.String
		o.Detail = detail.String
		o.Started = parseTime(started)
		o.Took = time.Duration(took)
		out = append(out, o)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
