// Package http serves the operational endpoints: health, readiness,
// metrics and status snapshots.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/orchestrator"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/pool"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/rooms"
)

// HealthChecker is any facade exposing a liveness probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the operational HTTP server. It never carries call audio.
type Server struct {
	cfg        config.ServerConfig
	router     *chi.Mux
	httpServer *http.Server

	orch    *orchestrator.Orchestrator
	pool    *pool.Pool
	ledger  *rooms.Ledger
	probes  map[string]HealthChecker
}

func NewServer(cfg config.ServerConfig, orch *orchestrator.Orchestrator, p *pool.Pool, ledger *rooms.Ledger, probes map[string]HealthChecker) *Server {
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		orch:   orch,
		pool:   p,
		ledger: ledger,
		probes: probes,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Get("/status", s.handleStatus)
	s.router.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	slog.Info("http: operational server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz runs the facade probes; any failure reports 503 with the
// failing component named.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	failures := map[string]string{}
	for name, probe := range s.probes {
		if err := probe.HealthCheck(ctx); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "degraded",
			"failures": failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"timestamp": time.Now().UTC(),
	}
	if s.orch != nil {
		body["calls"] = s.orch.Aggregate()
		body["active_call_ids"] = s.orch.ActiveCalls()
	}
	if s.pool != nil {
		body["pool"] = s.pool.Snapshot()
	}
	if s.ledger != nil {
		body["rooms"] = map[string]any{
			"active":     s.ledger.Count(),
			"rejections": s.ledger.Rejections(),
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("http: response encoding failed", "error", err)
	}
}
