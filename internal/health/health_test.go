package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/client"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/metrics"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/store"
)

// stubRuntime overrides Ping on an otherwise unused runtime.
type stubRuntime struct {
	client.Runtime
	pingErr error
}

func (s *stubRuntime) Ping(ctx context.Context) error { return s.pingErr }

// stubStateStore overrides Ping on an otherwise unused state store.
type stubStateStore struct {
	store.StateStore
	pingErr error
}

func (s *stubStateStore) Ping(ctx context.Context) error { return s.pingErr }

// stubApplyCache overrides Ping on an otherwise unused apply cache.
type stubApplyCache struct {
	store.ApplyCache
	pingErr error
}

func (s *stubApplyCache) Ping(ctx context.Context) error { return s.pingErr }

func TestHealthCheck_LivenessHandler(t *testing.T) {
	logger := zap.NewNop()
	hc := NewHealthCheck(store.NewMemoryStateStore(logger), store.NewMemoryApplyCache(logger),
		&stubRuntime{}, metrics.NewMetrics(), logger)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()

	hc.LivenessHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp LivenessResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "healthy", resp.Status)
}

func TestHealthCheck_ReadinessHandler(t *testing.T) {
	logger := zap.NewNop()

	t.Run("ready when dependencies are up", func(t *testing.T) {
		hc := NewHealthCheck(store.NewMemoryStateStore(logger), store.NewMemoryApplyCache(logger),
			&stubRuntime{}, metrics.NewMetrics(), logger)

		req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		w := httptest.NewRecorder()

		hc.ReadinessHandler(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "ready", resp.Status)
		assert.Equal(t, "healthy", resp.Checks["state_store"])
		assert.Equal(t, "healthy", resp.Checks["container_runtime"])
		assert.Equal(t, "healthy", resp.Checks["apply_cache"])
	})

	t.Run("not ready when the state store is down", func(t *testing.T) {
		hc := NewHealthCheck(&stubStateStore{pingErr: errors.New("connection refused")},
			store.NewMemoryApplyCache(logger), &stubRuntime{}, metrics.NewMetrics(), logger)

		req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		w := httptest.NewRecorder()

		hc.ReadinessHandler(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "not_ready", resp.Status)
		assert.Equal(t, "unhealthy", resp.Checks["state_store"])
		assert.NotEmpty(t, resp.Error)
	})

	t.Run("not ready when the runtime is down", func(t *testing.T) {
		hc := NewHealthCheck(store.NewMemoryStateStore(logger), store.NewMemoryApplyCache(logger),
			&stubRuntime{pingErr: errors.New("runtime unreachable")}, metrics.NewMetrics(), logger)

		req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		w := httptest.NewRecorder()

		hc.ReadinessHandler(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "unhealthy", resp.Checks["container_runtime"])
	})

	t.Run("cold apply cache degrades but stays ready", func(t *testing.T) {
		hc := NewHealthCheck(store.NewMemoryStateStore(logger),
			&stubApplyCache{pingErr: errors.New("connection refused")},
			&stubRuntime{}, metrics.NewMetrics(), logger)

		req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		w := httptest.NewRecorder()

		hc.ReadinessHandler(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "ready", resp.Status)
		assert.Equal(t, "degraded", resp.Checks["apply_cache"])
	})
}
