// Package server provides the HTTP server for the operator API.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/config"
	apierrors "github.com/imagicrafter/open-webui-infrastructure-sub002/internal/errors"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/handler"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/health"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/metrics"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/middleware"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.Handlers
	healthCheck  *health.HealthCheck
	errorHandler *apierrors.Handler
	metrics      *metrics.Metrics
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg *config.Config,
	handlers *handler.Handlers,
	healthCheck *health.HealthCheck,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		router:       router,
		httpServer:   httpServer,
		handlers:     handlers,
		healthCheck:  healthCheck,
		errorHandler: apierrors.NewHandler(logger),
		metrics:      m,
		logger:       logger,
		cfg:          cfg,
	}
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		metrics.MetricsMiddleware(s.metrics),
		middleware.Logging(s.logger),
	}

	if s.cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.RateLimit.RequestsPerSecond,
			s.cfg.RateLimit.Burst,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}

	chain := middleware.Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	// Health check endpoints
	s.router.HandleFunc("/health/live", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	// API v1 routes
	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Tenant surface
	v1.HandleFunc("/tenants", s.handlers.ListTenants).Methods(http.MethodGet)
	v1.HandleFunc("/tenants/{tenant_id}", s.handlers.GetTenant).Methods(http.MethodGet)
	v1.HandleFunc("/tenants/{tenant_id}/assets", s.handlers.ApplyAsset).Methods(http.MethodPost)
	v1.HandleFunc("/tenants/{tenant_id}/config", s.handlers.GetEffectiveConfig).Methods(http.MethodGet)
	v1.HandleFunc("/tenants/{tenant_id}/config/{key}", s.handlers.SetConfigEntry).Methods(http.MethodPut)
	v1.HandleFunc("/tenants/{tenant_id}/config/{key}", s.handlers.DeleteConfigEntry).Methods(http.MethodDelete)

	// Migration surface
	v1.HandleFunc("/tenants/{tenant_id}/migrations", s.handlers.StartMigration).Methods(http.MethodPost)
	v1.HandleFunc("/tenants/{tenant_id}/migrations", s.handlers.ListMigrations).Methods(http.MethodGet)
	v1.HandleFunc("/tenants/{tenant_id}/migrations/rollback", s.handlers.RollbackMigration).Methods(http.MethodPost)
	v1.HandleFunc("/migrations/{migration_id}", s.handlers.GetMigration).Methods(http.MethodGet)
	v1.HandleFunc("/migrations/{migration_id}/backup", s.handlers.PurgeBackup).Methods(http.MethodDelete)

	// Not found handler
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, apierrors.ErrorCodeInvalidRequest, "endpoint not found", requestID)
	})

	// Method not allowed handler
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, apierrors.ErrorCodeInvalidRequest, "method not allowed", requestID)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", s.httpServer.Addr),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the http.Handler for the server.
func (s *Server) GetHandler() http.Handler {
	return s.router
}
