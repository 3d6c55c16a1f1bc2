package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/queue"
)

// HealthHandler serves the liveness and readiness probes. Readiness
// requires a successful queue stats call — if Redis is unreachable the
// service cannot accept work.
type HealthHandler struct {
	queue  *queue.Queue
	logger *zap.Logger
}

// NewHealthHandler creates the handler.
func NewHealthHandler(q *queue.Queue, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{queue: q, logger: logger.Named("health")}
}

// Health handles GET /health: alive plus the queue reachability verdict.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.queue.Counts(r.Context()); err != nil {
		h.logger.Warn("health check: queue unreachable", zap.Error(err))
		JSON(w, http.StatusServiceUnavailable, envelope{
			"status": "degraded",
			"queue":  "unreachable",
		})
		return
	}
	JSON(w, http.StatusOK, envelope{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// Live handles GET /health/live: the process is up.
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, envelope{"status": "ok"})
}

// Ready handles GET /health/ready.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.Counts(r.Context())
	if err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		JSON(w, http.StatusServiceUnavailable, envelope{"status": "not ready"})
		return
	}
	JSON(w, http.StatusOK, envelope{
		"status": "ready",
		"queue":  counts,
	})
}
