package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file next to Path
//   - "sqlite": SQLite database file (pure Go driver)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is the persisted report of one batch run.
type RunRecord struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	StartedAt      time.Time       `json:"started_at"`
	Took           time.Duration   `json:"took_ns"`
	Total          int             `json:"total"`
	OK             int             `json:"ok"`
	Failed         int             `json:"failed"`
	Delay          time.Duration   `json:"delay_ns"`
	MaxConcurrency int             `json:"max_concurrency"`
	Outcomes       []OutcomeRecord `json:"outcomes,omitempty"`
}

// OutcomeRecord is one settled task. Outcomes are stored in completion order;
// Seq is the position in that order and Index the submission position.
type OutcomeRecord struct {
	Seq     int           `json:"seq"`
	Index   int           `json:"index"`
	Name    string        `json:"name"`
	Kind    string        `json:"kind,omitempty"`
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
	Detail  string        `json:"detail,omitempty"`
	Started time.Time     `json:"started"`
	Took    time.Duration `json:"took_ns"`
}
