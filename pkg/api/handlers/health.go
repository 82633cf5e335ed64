package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthHandler handles health check endpoints.
//
//   - Liveness probe: Is the process running?
//   - Readiness probe: Is the storage backend usable?
type HealthHandler struct {
	engine Engine
}

// NewHealthHandler creates a new health handler.
//
// The engine parameter may be nil, in which case the readiness check
// returns unhealthy status.
func NewHealthHandler(engine Engine) *HealthHandler {
	return &HealthHandler{engine: engine}
}

// Liveness handles GET /health - simple liveness probe.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "agrisync",
	}))
}

// Readiness handles GET /health/ready - readiness probe.
//
// Returns 503 Service Unavailable if the engine is missing or the storage
// backend fails its healthcheck.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("engine not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	start := time.Now()
	status, err := h.engine.StorageStatus(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"entries":      status.Entries,
		"pending":      status.PendingOperations,
		"connectivity": status.Connectivity,
		"latency":      time.Since(start).String(),
	}))
}
