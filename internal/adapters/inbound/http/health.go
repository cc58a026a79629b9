package http

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/archon-research/lendview/internal/ports/inbound"
)

// healthHandler serves deployment probes.
//
//   - /health/ready  200 once the first loan comparison is published
//   - /health/live   200 while refresh cycles keep succeeding
//   - /health        combined status for monitoring
//
// All probes report 503 once shuttingDown is set so the load balancer drains
// the task before the listeners close.
type healthHandler struct {
	checker      inbound.HealthChecker
	shuttingDown *atomic.Bool
	logger       *slog.Logger
}

// NewHealthHandler returns the probe routes.
func NewHealthHandler(checker inbound.HealthChecker, shuttingDown *atomic.Bool, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if shuttingDown == nil {
		shuttingDown = new(atomic.Bool)
	}
	h := &healthHandler{
		checker:      checker,
		shuttingDown: shuttingDown,
		logger:       logger.With("component", "health"),
	}

	r := chi.NewRouter()
	r.Get("/health/ready", h.handleReady)
	r.Get("/health/live", h.handleLive)
	r.Get("/health", h.handleHealth)
	return r
}

func (h *healthHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	switch {
	case h.shuttingDown.Load():
		respondJSON(h.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
	case h.checker.IsReady():
		respondJSON(h.logger, w, http.StatusOK, map[string]string{"status": "ready"})
	default:
		respondJSON(h.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
}

func (h *healthHandler) handleLive(w http.ResponseWriter, r *http.Request) {
	switch {
	case h.shuttingDown.Load():
		respondJSON(h.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
	case h.checker.IsHealthy():
		respondJSON(h.logger, w, http.StatusOK, map[string]string{"status": "healthy"})
	default:
		respondJSON(h.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

func (h *healthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.shuttingDown.Load() {
		respondJSON(h.logger, w, http.StatusServiceUnavailable, map[string]any{
			"status":       "shutting_down",
			"ready":        false,
			"healthy":      false,
			"shuttingDown": true,
		})
		return
	}

	ready := h.checker.IsReady()
	healthy := h.checker.IsHealthy()
	status, code := "ok", http.StatusOK
	if !ready || !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	respondJSON(h.logger, w, code, map[string]any{
		"status":       status,
		"ready":        ready,
		"healthy":      healthy,
		"shuttingDown": false,
	})
}
