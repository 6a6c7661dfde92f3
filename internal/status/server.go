// Package status serves a small HTTP API describing the running listener:
// liveness, the current session, recent events, metrics and process
// statistics.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/brooks-builds/twitch-eventsub/internal/logging"
	"github.com/brooks-builds/twitch-eventsub/internal/observability"
	"github.com/brooks-builds/twitch-eventsub/internal/session"
	"github.com/brooks-builds/twitch-eventsub/internal/sink"
)

const (
	defaultEventLimit = 20
	maxEventLimit     = 500
)

// SessionSource exposes the state machine snapshot.
type SessionSource interface {
	State() session.State
	Session() (session.Session, bool)
}

// EventSource lists recently journaled events.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]sink.Entry, error)
}

// MetricsSource snapshots the process metrics.
type MetricsSource interface {
	Snapshot(ctx context.Context) ([]observability.Point, error)
}

type Server struct {
	src       SessionSource
	events    EventSource
	metrics   MetricsSource
	authToken string
	log       zerolog.Logger
	started   time.Time
}

type Option func(*Server)

// WithToken requires a bearer token on /api routes.
func WithToken(token string) Option { return func(s *Server) { s.authToken = token } }

func WithEvents(e EventSource) Option { return func(s *Server) { s.events = e } }

func WithMetrics(m MetricsSource) Option { return func(s *Server) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }

func New(src SessionSource, opts ...Option) *Server {
	s := &Server{
		src:     src,
		log:     *logging.Default(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/process", s.handleProcess)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	return securityHeaders(mux)
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", addr).Msg("status server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type healthResponse struct {
	Status string        `json:"status"`
	State  session.State `json:"state"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.src.State()
	resp := healthResponse{Status: "ok", State: st}
	code := http.StatusOK
	if st.Terminal() {
		resp.Status = "down"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type sessionResponse struct {
	State   session.State    `json:"state"`
	Session *session.Session `json:"session,omitempty"`
	Uptime  string           `json:"uptime"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	resp := sessionResponse{State: s.src.State(), Uptime: time.Since(s.started).Round(time.Second).String()}
	if sess, ok := s.src.Session(); ok {
		resp.Session = &sess
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.events == nil {
		http.Error(w, "journal not enabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventLimit)
	}

	entries, err := s.events.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list journal")
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []sink.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	points, err := s.metrics.Snapshot(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("collect metrics")
		http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []observability.Point{}
	}
	writeJSON(w, http.StatusOK, points)
}

// ProcessStats describes the listener process.
type ProcessStats struct {
	PID        int     `json:"pid"`
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
	Threads    int32   `json:"threads"`
	Goroutines int     `json:"goroutines"`
	Uptime     string  `json:"uptime"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	stats, err := collectProcessStats(r.Context(), s.started)
	if err != nil {
		s.log.Error().Err(err).Msg("collect process stats")
		http.Error(w, "process stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func collectProcessStats(ctx context.Context, started time.Time) (ProcessStats, error) {
	pid := os.Getpid()
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return ProcessStats{}, err
	}
	stats := ProcessStats{
		PID:        pid,
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(started).Round(time.Second).String(),
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		stats.Threads = n
	}
	return stats, nil
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
