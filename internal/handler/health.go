package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/capisim/capisim/internal/dispatch"
	"github.com/capisim/capisim/internal/handler/dto"
	"github.com/capisim/capisim/internal/model"
)

// HealthChecker defines an interface for checking service health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler manages health check endpoints.
type HealthHandler struct {
	db        HealthChecker
	cache     HealthChecker
	readiness *dispatch.Readiness
	now       func() time.Time
}

// NewHealthHandler creates a new HealthHandler.
// Pass nil for db or cache when that sink is not configured.
func NewHealthHandler(db, cache HealthChecker, readiness *dispatch.Readiness) *HealthHandler {
	if readiness == nil {
		readiness = dispatch.NewReadiness()
	}
	return &HealthHandler{
		db:        db,
		cache:     cache,
		readiness: readiness,
		now:       time.Now,
	}
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz is the liveness probe. ok reflects the process only; per-sink
// readiness is reported alongside and never turns the probe red.
//
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.HealthResponse{
		OK:         true,
		PixelReady: h.readiness.Ready(model.SinkPixel),
		CAPIReady:  h.readiness.Ready(model.SinkCAPI),
		GA4Ready:   h.readiness.Ready(model.SinkGA4),
		Sinks:      h.readiness.All(),
		Time:       h.now().UTC(),
	})
}

// Readyz checks the Postgres journal and Redis stream when configured and
// returns 200 only if all are reachable.
//
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	for name, dep := range map[string]HealthChecker{"postgres": h.db, "redis": h.cache} {
		if dep == nil {
			checks[name] = "not configured"
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			checks[name] = "error: " + err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := "ok"
	statusCode := http.StatusOK
	if !healthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status: status,
		Checks: checks,
	})
}
