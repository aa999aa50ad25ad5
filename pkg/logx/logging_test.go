package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(b), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3), Err(errors.New("boom")), Duration("took", time.Second), Err(nil))
	log.Trace("dropped")

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}
	l := lines[0]
	if l["message"] != "hello" || l["comp"] != "test" || l["n"] != float64(3) || l["err"] != "boom" {
		t.Fatalf("unexpected fields: %v", l)
	}
	if c, _ := l["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q", c)
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Error("nothing happens")
	if log.Enabled(LevelError) {
		t.Fatal("zero logger should not be enabled")
	}
}

func TestLevels(t *testing.T) {
	if ParseLevel("warning") != LevelWarn || ParseLevel("bogus") != LevelInfo {
		t.Fatal("ParseLevel mismatch")
	}
	if !ValidLevel("") || !ValidLevel("Trace") || ValidLevel("loud") {
		t.Fatal("ValidLevel mismatch")
	}
}

func TestServiceApplyFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pacer.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("filtered")
	log.Info("first")

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("second")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := decodeLines(t, b)
	if len(lines) != 2 || lines[0]["message"] != "first" || lines[1]["message"] != "second" {
		t.Fatalf("unexpected log lines: %v", lines)
	}
}
