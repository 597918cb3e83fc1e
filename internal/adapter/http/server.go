package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultRunLimit = 10
	maxRunLimit     = 100
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// RunHistory reads past runs and publications from the ledger.
type RunHistory interface {
	RecentRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)
	LatestPublication(ctx context.Context, day domain.DayLabel) (domain.Publication, bool, error)
}

// Server exposes health, readiness, metrics, and run history HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, /runs,
// and /publications/{day} routes. history may be nil, which omits the last two.
func NewServer(addr string, ready ReadinessChecker, history RunHistory, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if history != nil {
		mux.HandleFunc("GET /runs", s.handleRuns(history))
		mux.HandleFunc("GET /publications/{day}", s.handlePublication(history))
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleRuns(history RunHistory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRunLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxRunLimit)
		}

		runs, err := history.RecentRuns(r.Context(), limit)
		if err != nil {
			s.logger.Error("list runs failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "run history unavailable"})
			return
		}
		if runs == nil {
			runs = []domain.RunSummary{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func (s *Server) handlePublication(history RunHistory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day := domain.DayLabel(r.PathValue("day"))
		if day.Number() == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "day must look like \"Day 1\""})
			return
		}

		pub, ok, err := history.LatestPublication(r.Context(), day)
		if err != nil {
			s.logger.Error("latest publication lookup failed", "error", err, "day", day)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "run history unavailable"})
			return
		}
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no publication for " + string(day)})
			return
		}
		writeJSON(w, http.StatusOK, pub)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
