package api

import (
	"context"
	"net/http"
	"time"
)

// Health represents the health check response
type Health struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// healthCheckHandler reports the store and the carrier circuit
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:    "ok",
		Version:   s.opts.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    map[string]string{},
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Warn("Health check failed", "dependency", "store", "error", err)
		health.Status = "unavailable"
		health.Checks["store"] = "down"
		status = http.StatusServiceUnavailable
	} else {
		health.Checks["store"] = "up"
	}

	// An open carrier circuit only degrades the sync job
	if s.deps.CarrierState != nil {
		state := s.deps.CarrierState()
		health.Checks["carrier"] = state
		if state != "closed" && health.Status == "ok" {
			health.Status = "degraded"
		}
	}

	s.respondWithJSON(w, status, ApiResponse{
		Success: status == http.StatusOK,
		Data:    health,
	})
}
