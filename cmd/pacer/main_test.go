package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "pacer.yaml")
	body = strings.ReplaceAll(body, "$DIR", dir)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestRunExitCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		cfg      string
		args     []string
		want     int
		wantOut  string
		wantJSON bool
	}{
		{
			name:    "all ok",
			cfg:     "logging:\n  level: error\nengine:\n  delay: 10ms\ntasks:\n  - name: nap\n    kind: sleep\n    duration: 1ms\n",
			want:    exitOK,
			wantOut: "nap",
		},
		{
			name: "task failed",
			cfg:  "logging:\n  level: error\nengine:\n  delay: 10ms\ntasks:\n  - kind: sleep\n    duration: 1ms\n    fail: true\n",
			want: exitFailed,
		},
		{
			name:     "json output",
			cfg:      "logging:\n  level: error\nengine:\n  delay: 10ms\ntasks:\n  - kind: sleep\n    duration: 1ms\n",
			args:     []string{"-json"},
			want:     exitOK,
			wantJSON: true,
		},
		{
			name: "invalid config",
			cfg:  "engine:\n  delay: soon\n",
			want: exitError,
		},
		{
			name: "history without storage",
			cfg:  "logging:\n  level: error\n",
			args: []string{"-history", "5"},
			want: exitError,
		},
		{
			name: "daemon without schedule",
			cfg:  "logging:\n  level: error\n",
			args: []string{"-daemon"},
			want: exitError,
		},
		{
			name: "unknown flag",
			cfg:  "logging:\n  level: error\n",
			args: []string{"-nope"},
			want: exitError,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			args := append([]string{"-config", writeConfig(t, tt.cfg)}, tt.args...)
			var stdout, stderr bytes.Buffer
			if got := run(context.Background(), args, &stdout, &stderr); got != tt.want {
				t.Fatalf("exit = %d, want %d (stderr %q)", got, tt.want, stderr.String())
			}
			if tt.wantOut != "" && !strings.Contains(stdout.String(), tt.wantOut) {
				t.Fatalf("stdout %q does not mention %q", stdout.String(), tt.wantOut)
			}
			if tt.wantJSON && !json.Valid(stdout.Bytes()) {
				t.Fatalf("stdout is not json: %q", stdout.String())
			}
		})
	}
}

func TestRunHistory(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, "logging:\n  level: error\nengine:\n  delay: 10ms\nstorage:\n  driver: file\n  path: $DIR/runs\ntasks:\n  - kind: sleep\n    duration: 1ms\n")

	var stdout, stderr bytes.Buffer
	if got := run(context.Background(), []string{"-config", cfg}, &stdout, &stderr); got != exitOK {
		t.Fatalf("run exit = %d (stderr %q)", got, stderr.String())
	}
	stdout.Reset()
	if got := run(context.Background(), []string{"-config", cfg, "-history", "3"}, &stdout, &stderr); got != exitOK {
		t.Fatalf("history exit = %d (stderr %q)", got, stderr.String())
	}
	if stdout.Len() == 0 {
		t.Fatal("history printed nothing")
	}
}
