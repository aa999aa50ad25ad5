package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"pacer/internal/storage"
	logx "pacer/pkg/logx"
)

const (
	defaultAddr    = "127.0.0.1:6070"
	pprofPrefix    = "/debug/pprof/"
	defaultRuns    = 20
	maxRuns        = 500
	shutdownBudget = 2 * time.Second
)

// Config controls the optional status server.
//
// Prefer binding to localhost (the default). A non-loopback address needs a
// Token or AllowInsecure.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool
}

// Source is what the server reports on.
type Source interface {
	Status() any
	History(ctx context.Context, n int) ([]storage.RunRecord, error)
}

// Server exposes daemon state over HTTP:
//
//	/healthz        liveness
//	/status         Source.Status() as JSON
//	/runs?n=20      stored run history as JSON
//	/debug/pprof/   net/http/pprof (when Config.Pprof)
type Server struct {
	cfg Config
	src Source
	log logx.Logger

	mu   sync.Mutex
	addr string
}

func New(cfg Config, src Source, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, src: src, log: log.With(logx.String("comp", "status"))}
}

// Addr returns the bound address once Serve is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Serve listens and serves until ctx ends. Returning during shutdown is not
// an error.
func (s *Server) Serve(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if !s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(addr) {
		return fmt.Errorf("status server refused to start on %s: non-loopback addr requires token or allow_insecure", addr)
	}
	if s.cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("status server running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("status server started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("status server exited unexpectedly")
	}
	return err
}

// Handler returns the routes, wrapped in panic recovery and token auth.
func (s *Server) Handler() http.Handler {
	hr := &httprouter.Router{
		RedirectTrailingSlash:  true,
		RedirectFixedPath:      true,
		HandleMethodNotAllowed: true,
		NotFound: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "endpoint not found"})
		}),
		MethodNotAllowed: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		}),
	}

	hr.HandlerFunc(http.MethodGet, "/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	hr.HandlerFunc(http.MethodGet, "/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.src.Status())
	})
	hr.HandlerFunc(http.MethodGet, "/runs", s.handleRuns)

	if s.cfg.Pprof {
		// A catch-all cannot share its segment with static routes.
		pp := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			switch strings.TrimPrefix(ps.ByName("item"), "/") {
			case "cmdline":
				hpprof.Cmdline(w, r)
			case "profile":
				hpprof.Profile(w, r)
			case "symbol":
				hpprof.Symbol(w, r)
			case "trace":
				hpprof.Trace(w, r)
			default:
				hpprof.Index(w, r)
			}
		}
		hr.GET(pprofPrefix+"*item", pp)
		hr.POST(pprofPrefix+"*item", pp)
	}
	return s.recoverer(withAuth(s.cfg.Token, hr))
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				s.log.Error("status handler panic",
					logx.String("path", r.URL.Path),
					logx.Any("panic", rvr),
					logx.Stack(string(debug.Stack())),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	n := defaultRuns
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "n must be a positive integer"})
			return
		}
		n = min(v, maxRuns)
	}
	runs, err := s.src.History(r.Context(), n)
	switch {
	case errors.Is(err, storage.ErrDisabled):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "storage disabled"})
	case err != nil:
		s.log.Warn("reading run history failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
	default:
		if runs == nil {
			runs = []storage.RunRecord{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h.ServeHTTP(w, r)
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
