// Package server exposes liveness, run status and Prometheus metrics over
// HTTP. It is optional and read-only: nothing here can start a run.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/entrhq/portalcap/pkg/logging"
	"github.com/entrhq/portalcap/pkg/orchestrator"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// StatusSource reports orchestrator state.
type StatusSource interface {
	State() orchestrator.State
	LastSummary() *orchestrator.Summary
}

// Status is the /status response body.
type Status struct {
	State     string                `json:"state"`
	StartedAt time.Time             `json:"started_at"`
	ProcessID string                `json:"process_id,omitempty"`
	LastRun   *orchestrator.Summary `json:"last_run"`
}

// Server serves the status endpoints.
type Server struct {
	addr      string
	source    StatusSource
	logger    *logging.Logger
	startedAt time.Time
	router    chi.Router
}

// New builds the router. Call ListenAndServe to start listening.
func New(addr string, source StatusSource, logger *logging.Logger) *Server {
	s := &Server{
		addr:      addr,
		source:    source,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", s.handleHealthz)
	router.Get("/status", s.handleStatus)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	s.router = router

	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Infof("serving status on %s", ln.Addr())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, Status{
		State:     s.source.State().String(),
		StartedAt: s.startedAt,
		ProcessID: s.logger.ProcessID(),
		LastRun:   s.source.LastSummary(),
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
