package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pacer/internal/storage"
	logx "pacer/pkg/logx"
)

type fakeSource struct {
	runs []storage.RunRecord
	err  error
	n    int
}

func (f *fakeSource) Status() any { return map[string]any{"schedule": "1m"} }

func (f *fakeSource) History(_ context.Context, n int) ([]storage.RunRecord, error) {
	f.n = n
	return f.runs, f.err
}

func get(t *testing.T, h http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()
	src := &fakeSource{runs: []storage.RunRecord{{ID: "a"}, {ID: "b"}}}
	h := New(Config{}, src, logx.Nop()).Handler()

	if rec := get(t, h, "/healthz", nil); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}

	rec := get(t, h, "/status", nil)
	var st map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil || st["schedule"] != "1m" {
		t.Fatalf("status: %d %q", rec.Code, rec.Body.String())
	}

	rec = get(t, h, "/runs?n=2", nil)
	var runs []storage.RunRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil || len(runs) != 2 || src.n != 2 {
		t.Fatalf("runs: %d %q (n=%d)", rec.Code, rec.Body.String(), src.n)
	}

	if rec := get(t, h, "/runs?n=0", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("runs n=0: %d", rec.Code)
	}
	if rec := get(t, h, "/runs?n=100000", nil); rec.Code != http.StatusOK || src.n != maxRuns {
		t.Fatalf("runs cap: %d n=%d", rec.Code, src.n)
	}
	if rec := get(t, h, "/debug/pprof/", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof should be off by default, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /status: %d", rec.Code)
	}
}

type panicSource struct{ fakeSource }

func (panicSource) Status() any { panic("boom") }

func TestHandlerRecoversPanics(t *testing.T) {
	t.Parallel()
	h := New(Config{}, &panicSource{}, logx.Nop()).Handler()
	if rec := get(t, h, "/status", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", rec.Code)
	}
}

func TestHandlerStorageDisabled(t *testing.T) {
	t.Parallel()
	h := New(Config{}, &fakeSource{err: storage.ErrDisabled}, logx.Nop()).Handler()
	if rec := get(t, h, "/runs", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("runs with storage disabled: %d", rec.Code)
	}
}

func TestHandlerAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "s3cret", Pprof: true}, &fakeSource{}, logx.Nop()).Handler()

	tests := []struct {
		name   string
		target string
		header map[string]string
		code   int
	}{
		{name: "missing", target: "/healthz", code: http.StatusUnauthorized},
		{name: "wrong query", target: "/healthz?token=nope", code: http.StatusUnauthorized},
		{name: "query", target: "/healthz?token=s3cret", code: http.StatusOK},
		{name: "bearer", target: "/healthz", header: map[string]string{"Authorization": "Bearer s3cret"}, code: http.StatusOK},
		{name: "pprof", target: "/debug/pprof/", header: map[string]string{"Authorization": "Bearer s3cret"}, code: http.StatusOK},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if rec := get(t, h, tt.target, tt.header); rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
		})
	}
}

func TestServeRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	err := New(Config{Addr: "0.0.0.0:0"}, &fakeSource{}, logx.Nop()).Serve(context.Background())
	if err == nil {
		t.Fatal("expected refusal for non-loopback bind without token")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, &fakeSource{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:6070": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6070":          false,
		"10.0.0.1:80":    false,
		"nonsense":       false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
