// Package api exposes the daemon HTTP interface.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/vps-stock-monitor/internal/metrics"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/state"
)

// ErrRunInProgress is returned by a Trigger while a pass is still running.
var ErrRunInProgress = errors.New("run already in progress")

// Source provides the most recently reconciled state.
type Source interface {
	Get() (monitor.State, monitor.Summary, bool)
}

// Trigger starts a monitor pass in the background.
type Trigger func() error

// Latest holds the state and summary of the last completed pass.
type Latest struct {
	mu      sync.RWMutex
	state   monitor.State
	summary monitor.Summary
	ready   bool
}

// Set records a completed pass.
func (l *Latest) Set(st monitor.State, summary monitor.Summary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state, l.summary, l.ready = st, summary, true
}

// Get implements Source.
func (l *Latest) Get() (monitor.State, monitor.Summary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state, l.summary, l.ready
}

// Config controls the router.
type Config struct {
	// APIKey, when set, is required on every /v1 route.
	APIKey  string
	Timeout time.Duration
}

// Server wires HTTP handlers to the monitor state.
type Server struct {
	router  chi.Router
	source  Source
	trigger Trigger
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. A nil trigger
// leaves POST /v1/runs unrouted.
func NewServer(source Source, trigger Trigger, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Server{source: source, trigger: trigger, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, echoRequestID)
	r.Use(s.logRequests)
	r.Use(s.recoverJSON)
	r.Use(metrics.Middleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, cfg.Timeout, "request timed out")
	})

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/state", s.getState)
		r.Get("/summary", s.getSummary)
		if trigger != nil {
			r.Post("/runs", s.startRun)
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once the first pass has been reconciled.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if _, _, ok := s.source.Get(); !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for first run"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getState(w http.ResponseWriter, _ *http.Request) {
	st, _, ok := s.source.Get()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no completed run yet")
		return
	}
	body, err := state.Encode(st)
	if err != nil {
		s.logger.Error("encode state failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "encode state failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("state write failed", zap.Error(err))
	}
}

func (s *Server) getSummary(w http.ResponseWriter, _ *http.Request) {
	st, summary, ok := s.source.Get()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no completed run yet")
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		Summary:   summary,
		Products:  len(st.Products),
		Domains:   len(st.Domains),
		UpdatedAt: st.UpdatedAt,
	})
}

func (s *Server) startRun(w http.ResponseWriter, _ *http.Request) {
	err := s.trigger()
	switch {
	case errors.Is(err, ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

type summaryResponse struct {
	monitor.Summary
	Products  int    `json:"products"`
	Domains   int    `json:"domains"`
	UpdatedAt string `json:"updated_at"`
}

// echoRequestID copies the id chosen by middleware.RequestID onto the
// response so callers can quote it.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// recoverJSON turns a handler panic into a logged 500 with a JSON body.
func (s *Server) recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler { //nolint:errorlint
				panic(rec)
			}
			s.logger.Error("handler panic",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Debug("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
