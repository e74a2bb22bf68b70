// Package health provides health check endpoints for the tenant controller.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/client"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/metrics"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/store"
)

// HealthCheck manages health check functionality.
type HealthCheck struct {
	stateStore store.StateStore
	applyCache store.ApplyCache
	runtime    client.Runtime
	metrics    *metrics.Metrics
	logger     *zap.Logger
	timeout    time.Duration
}

// NewHealthCheck creates a new HealthCheck instance.
func NewHealthCheck(
	stateStore store.StateStore,
	applyCache store.ApplyCache,
	runtime client.Runtime,
	m *metrics.Metrics,
	logger *zap.Logger,
) *HealthCheck {
	return &HealthCheck{
		stateStore: stateStore,
		applyCache: applyCache,
		runtime:    runtime,
		metrics:    m,
		logger:     logger,
		timeout:    5 * time.Second,
	}
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// LivenessHandler handles GET /health/live requests.
// Returns 200 OK if the process is running.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status: "healthy",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// ReadinessHandler handles GET /health/ready requests. The state store and
// the container runtime are required; a cold apply cache only forces
// regeneration work, so it is reported but does not fail readiness.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), hc.timeout)
	defer cancel()

	checks := make(map[string]string)
	ready := true
	var firstErr error

	if err := hc.stateStore.Ping(ctx); err != nil {
		checks["state_store"] = "unhealthy"
		ready = false
		firstErr = err
	} else {
		checks["state_store"] = "healthy"
	}

	if err := hc.runtime.Ping(ctx); err != nil {
		checks["container_runtime"] = "unhealthy"
		ready = false
		if firstErr == nil {
			firstErr = err
		}
	} else {
		checks["container_runtime"] = "healthy"
	}

	if err := hc.applyCache.Ping(ctx); err != nil {
		checks["apply_cache"] = "degraded"
		hc.logger.Warn("apply cache unreachable", zap.Error(err))
	} else {
		checks["apply_cache"] = "healthy"
	}

	hc.metrics.SetHealthStatus(ready)

	w.Header().Set("Content-Type", "application/json")

	if !ready {
		resp := ReadinessResponse{
			Status: "not_ready",
			Checks: checks,
			Error:  firstErr.Error(),
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(resp)
		return
	}

	resp := ReadinessResponse{
		Status: "ready",
		Checks: checks,
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
