package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"pacer/internal/schedule"
	logx "pacer/pkg/logx"
)

// Validate checks cfg and returns every problem found, joined.
// An empty task list is valid: the run completes immediately.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := cfg.Engine.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Engine.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("engine.max_concurrency: must be >= 1 (got %d)", cfg.Engine.MaxConcurrency))
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path: required for driver %q", st.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if s := strings.TrimSpace(cfg.Schedule); s != "" {
		if _, err := schedule.ParseSchedule(s); err != nil {
			errs = append(errs, fmt.Errorf("schedule: %w", err))
		}
	}

	if st := cfg.Status; st != nil && st.Enabled && strings.TrimSpace(st.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(st.Addr)); err != nil {
			errs = append(errs, fmt.Errorf("status.addr: %w", err))
		}
	}

	switch cfg.Output.FormatOrDefault() {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("output.format: unknown format %q", cfg.Output.Format))
	}
	switch cfg.Output.OrderOrDefault() {
	case "completion", "submission":
	default:
		errs = append(errs, fmt.Errorf("output.order: unknown order %q", cfg.Output.Order))
	}

	for i, t := range cfg.Tasks {
		if err := validateTask(t, fmt.Sprintf("tasks[%d]", i)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateTask(t TaskConfig, path string) error {
	var errs []error
	if _, err := ParseDurationField(path+".timeout", t.Timeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(t.Kind)) {
	case KindHTTP:
		u, err := url.Parse(strings.TrimSpace(t.URL))
		if err != nil || strings.TrimSpace(t.URL) == "" {
			errs = append(errs, fmt.Errorf("%s.url: valid url required", path))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("%s.url: scheme must be http or https (got %q)", path, u.Scheme))
		}
		if t.ExpectStatus < 0 || t.ExpectStatus > 599 {
			errs = append(errs, fmt.Errorf("%s.expect_status: out of range (got %d)", path, t.ExpectStatus))
		}
	case KindExec:
		if strings.TrimSpace(t.Command) == "" {
			errs = append(errs, fmt.Errorf("%s.command: required for exec tasks", path))
		}
	case KindSleep:
		if _, err := ParseDurationField(path+".duration", t.Duration); err != nil {
			errs = append(errs, err)
		}
	case "":
		errs = append(errs, fmt.Errorf("%s.kind: required", path))
	default:
		errs = append(errs, fmt.Errorf("%s.kind: unknown kind %q", path, t.Kind))
	}
	return errors.Join(errs...)
}
