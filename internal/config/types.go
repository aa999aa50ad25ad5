package config

import (
	"strconv"
	"strings"
	"time"
)

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "200ms", "5s", "1m").
type Config struct {
	Engine  EngineConfig  `json:"engine"`
	Logging LoggingConfig `json:"logging"`

	// Storage persists run reports. Omitted or driver "none" disables it.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Schedule is only used in daemon mode (cron expression, "@every 1m",
	// Go duration or HH:MM interval).
	Schedule string `json:"schedule,omitempty"`

	// Status is an optional HTTP status server for daemon mode.
	Status *StatusConfig `json:"status,omitempty"`

	Output OutputConfig `json:"output"`
	Tasks  []TaskConfig `json:"tasks"`
}

// EngineConfig configures one batch run.
//
// Defaults (when fields are omitted/zero):
//   - name: "batch"
//   - delay: "200ms"
//   - max_concurrency: 1
type EngineConfig struct {
	Name           string `json:"name,omitempty"`
	Delay          string `json:"delay,omitempty"`
	MaxConcurrency int    `json:"max_concurrency,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls where run reports go.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/pacer.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// StatusConfig enables the daemon status server (/healthz, /status, /runs and
// optionally /debug/pprof/).
//
// A non-loopback addr requires a token unless allow_insecure is set.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// OutputConfig controls how a finished run is rendered.
//
// Order "completion" prints outcomes as they finished; "submission" prints
// them in the order tasks were listed.
type OutputConfig struct {
	Format string `json:"format,omitempty"` // text | json
	Order  string `json:"order,omitempty"`  // completion | submission
}

// Task kinds.
const (
	KindHTTP  = "http"
	KindExec  = "exec"
	KindSleep = "sleep"
)

// TaskConfig describes one task in the batch. Which fields apply depends on Kind.
type TaskConfig struct {
	Name string `json:"name,omitempty"`
	Kind string `json:"kind"`

	// http
	URL          string            `json:"url,omitempty"`
	Method       string            `json:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         string            `json:"body,omitempty"`
	ExpectStatus int               `json:"expect_status,omitempty"`

	// exec
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`

	// sleep
	Duration string `json:"duration,omitempty"`
	Fail     bool   `json:"fail,omitempty"`

	// Timeout bounds http/exec tasks themselves. The engine never cancels tasks.
	Timeout string `json:"timeout,omitempty"`
}

const (
	DefaultDelay          = 200 * time.Millisecond
	DefaultMaxConcurrency = 1
	DefaultTaskTimeout    = 30 * time.Second
)

// ResolvedEngine is EngineConfig with defaults applied and durations parsed.
type ResolvedEngine struct {
	Name           string
	Delay          time.Duration
	MaxConcurrency int
}

func (e EngineConfig) Resolve() (ResolvedEngine, error) {
	d, err := ParseDurationOrDefault("engine.delay", e.Delay, DefaultDelay)
	if err != nil {
		return ResolvedEngine{}, err
	}
	name := strings.TrimSpace(e.Name)
	if name == "" {
		name = "batch"
	}
	maxC := e.MaxConcurrency
	if maxC == 0 {
		maxC = DefaultMaxConcurrency
	}
	return ResolvedEngine{Name: name, Delay: d, MaxConcurrency: maxC}, nil
}

// DisplayName returns Name, or "<kind>#<index>" when Name is empty.
func (t TaskConfig) DisplayName(index int) string {
	if n := strings.TrimSpace(t.Name); n != "" {
		return n
	}
	return strings.ToLower(strings.TrimSpace(t.Kind)) + "#" + strconv.Itoa(index)
}

func (o OutputConfig) FormatOrDefault() string {
	if f := strings.ToLower(strings.TrimSpace(o.Format)); f != "" {
		return f
	}
	return "text"
}

func (o OutputConfig) OrderOrDefault() string {
	if v := strings.ToLower(strings.TrimSpace(o.Order)); v != "" {
		return v
	}
	return "completion"
}
