package batch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"pacer/internal/config"
	logx "pacer/pkg/logx"
	"pacer/pkg/pacer"
)

func TestBuildRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	_, err := Build(context.Background(), []config.TaskConfig{{Kind: "ftp"}}, Options{})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("Build error = %v, want ErrUnknownKind", err)
	}
}

func TestHTTPTask(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if r.Header.Get("X-Token") != "abc" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, "hello")
		case "/created":
			b, _ := io.ReadAll(r.Body)
			if r.Method != http.MethodPost || string(b) != `{"a":1}` {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusCreated)
		case "/slow":
			time.Sleep(300 * time.Millisecond)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)

	tests := []struct {
		name       string
		def        config.TaskConfig
		wantErr    error
		anyErr     bool
		wantStatus int
		wantBytes  int64
	}{
		{name: "ok", def: config.TaskConfig{Kind: "http", URL: srv.URL + "/ok", Headers: map[string]string{"X-Token": "abc"}}, wantStatus: 200, wantBytes: 5},
		{name: "expect status", def: config.TaskConfig{Kind: "http", Method: "post", URL: srv.URL + "/created", Body: `{"a":1}`, ExpectStatus: 201}, wantStatus: 201},
		{name: "wrong status", def: config.TaskConfig{Kind: "http", URL: srv.URL + "/ok", ExpectStatus: 204}, wantErr: ErrUnexpectedStatus, wantStatus: 401},
		{name: "server error", def: config.TaskConfig{Kind: "http", URL: srv.URL + "/boom"}, wantErr: ErrUnexpectedStatus, wantStatus: 500},
		{name: "timeout", def: config.TaskConfig{Kind: "http", URL: srv.URL + "/slow", Timeout: "50ms"}, anyErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tasks, err := Build(context.Background(), []config.TaskConfig{tt.def}, Options{Client: srv.Client(), Log: logx.Nop()})
			if err != nil {
				t.Fatalf("Build error: %v", err)
			}
			res, err := tasks[0]()
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatal("expected error")
				}
				return
			case err != nil:
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Status != tt.wantStatus || res.Bytes != tt.wantBytes || res.Kind != config.KindHTTP {
				t.Fatalf("unexpected result: %+v", res)
			}
			if res.Name != "http#0" {
				t.Fatalf("Name = %q, want http#0", res.Name)
			}
		})
	}
}

func TestExecTask(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	t.Parallel()
	defs := []config.TaskConfig{
		{Name: "echo", Kind: "exec", Command: "/bin/sh", Args: []string{"-c", "echo hi"}},
		{Name: "exit3", Kind: "exec", Command: "/bin/sh", Args: []string{"-c", "echo nope >&2; exit 3"}},
		{Name: "slow", Kind: "exec", Command: "/bin/sh", Args: []string{"-c", "sleep 5"}, Timeout: "100ms"},
	}
	tasks, err := Build(context.Background(), defs, Options{})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}

	res, err := tasks[0]()
	if err != nil || res.Detail != "hi" || res.Status != 0 {
		t.Fatalf("echo: res=%+v err=%v", res, err)
	}

	res, err = tasks[1]()
	if err == nil || res.Status != 3 || res.Detail != "nope" {
		t.Fatalf("exit3: res=%+v err=%v", res, err)
	}

	start := time.Now()
	_, err = tasks[2]()
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("slow: err=%v, want timeout", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("timeout did not stop the command")
	}
}

func TestSleepTask(t *testing.T) {
	t.Parallel()
	defs := []config.TaskConfig{
		{Kind: "sleep", Duration: "10ms"},
		{Kind: "sleep", Duration: "1ms", Fail: true},
	}
	tasks, err := Build(context.Background(), defs, Options{})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if res, err := tasks[0](); err != nil || res.Detail != "slept 10ms" {
		t.Fatalf("sleep: res=%+v err=%v", res, err)
	}
	if _, err := tasks[1](); !errors.Is(err, ErrSleepFailed) {
		t.Fatalf("fail sleep err = %v", err)
	}
}

func TestSleepTaskHonoursParentContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	tasks, err := Build(ctx, []config.TaskConfig{{Kind: "sleep", Duration: "1h"}}, Options{})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	cancel()
	if _, err := tasks[0](); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestTasksRunThroughEngine(t *testing.T) {
	t.Parallel()
	defs := []config.TaskConfig{
		{Name: "a", Kind: "sleep", Duration: "30ms"},
		{Name: "b", Kind: "sleep", Duration: "1ms", Fail: true},
		{Name: "c", Kind: "sleep", Duration: "1ms"},
	}
	tasks, err := Build(context.Background(), defs, Options{})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outs, err := pacer.Run(ctx, 20*time.Millisecond, 2, tasks)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(outs) != 3 || outs.Failed() != 1 {
		t.Fatalf("outcomes = %d, failed = %d", len(outs), outs.Failed())
	}
	sub := outs.BySubmission()
	for i, name := range []string{"a", "b", "c"} {
		if sub[i].Value.Name != name {
			t.Fatalf("submission[%d] = %q, want %q", i, sub[i].Value.Name, name)
		}
	}
}
