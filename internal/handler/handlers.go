// Package handler provides HTTP request handlers for the operator API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	apierrors "github.com/imagicrafter/open-webui-infrastructure-sub002/internal/errors"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/service"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/store"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	registry       *service.RegistryService
	topology       *service.TopologyService
	assets         *service.AssetService
	config         *service.ConfigService
	migrations     *service.MigrationService
	errorHandler   *apierrors.Handler
	logger         *zap.Logger
	requestTimeout time.Duration
	applyTimeout   time.Duration
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	registry *service.RegistryService,
	topology *service.TopologyService,
	assets *service.AssetService,
	config *service.ConfigService,
	migrations *service.MigrationService,
	errorHandler *apierrors.Handler,
	requestTimeout time.Duration,
	applyTimeout time.Duration,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		registry:       registry,
		topology:       topology,
		assets:         assets,
		config:         config,
		migrations:     migrations,
		errorHandler:   errorHandler,
		logger:         logger,
		requestTimeout: requestTimeout,
		applyTimeout:   applyTimeout,
	}
}

// applyAssetRequest is the body of POST /v1/tenants/{tenant_id}/assets.
// Exactly one of URL and Text must be set.
type applyAssetRequest struct {
	URL        string `json:"url,omitempty"`
	Text       string `json:"text,omitempty"`
	Background string `json:"background,omitempty"`
}

type setConfigEntryRequest struct {
	Value *string `json:"value"`
}

type startMigrationRequest struct {
	DestinationPath string `json:"destination_path"`
}

type statusResponse struct {
	Status      string `json:"status"`
	TenantID    string `json:"tenant_id,omitempty"`
	Key         string `json:"key,omitempty"`
	MigrationID string `json:"migration_id,omitempty"`
}

type listTenantsResponse struct {
	Status  string          `json:"status"`
	Tenants []*model.Tenant `json:"tenants"`
}

type listMigrationsResponse struct {
	Status     string                `json:"status"`
	Migrations []*model.MigrationJob `json:"migrations"`
}

type containerStatus struct {
	Name           string `json:"name"`
	Running        bool   `json:"running"`
	Healthy        bool   `json:"healthy"`
	HasHealthcheck bool   `json:"has_healthcheck"`
}

type tenantDetailResponse struct {
	Status          string              `json:"status"`
	Tenant          *model.Tenant       `json:"tenant"`
	Container       *containerStatus    `json:"container,omitempty"`
	Topology        model.Topology      `json:"topology,omitempty"`
	AssetSource     *model.AssetSource  `json:"asset_source,omitempty"`
	ActiveMigration *model.MigrationJob `json:"active_migration,omitempty"`
}

// ApplyAsset handles POST /v1/tenants/{tenant_id}/assets requests. The apply
// runs synchronously and the reconciliation result is the response.
func (h *Handlers) ApplyAsset(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	tenantID := mux.Vars(r)["tenant_id"]

	var req applyAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid JSON body", requestID)
		return
	}
	if (req.URL == "") == (req.Text == "") {
		h.errorHandler.WriteValidationError(w, "exactly one of url and text is required", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.applyTimeout)
	defer cancel()

	var (
		result *model.ReconciliationResult
		err    error
	)
	if req.URL != "" {
		result, err = h.assets.ApplyFromURL(ctx, tenantID, req.URL)
	} else {
		result, err = h.assets.ApplyGenerated(ctx, tenantID, req.Text, req.Background)
	}
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, result)
}

// GetEffectiveConfig handles GET /v1/tenants/{tenant_id}/config requests.
func (h *Handlers) GetEffectiveConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	cfg, err := h.config.Resolve(ctx, tenantID, nil)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, cfg)
}

// SetConfigEntry handles PUT /v1/tenants/{tenant_id}/config/{key} requests.
func (h *Handlers) SetConfigEntry(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	vars := mux.Vars(r)
	tenantID := vars["tenant_id"]
	key := vars["key"]

	var req setConfigEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid JSON body", requestID)
		return
	}
	if req.Value == nil {
		h.errorHandler.WriteValidationError(w, "value is required", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	if err := h.config.SetEntry(ctx, tenantID, key, *req.Value); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, statusResponse{
		Status:   "success",
		TenantID: tenantID,
		Key:      key,
	})
}

// DeleteConfigEntry handles DELETE /v1/tenants/{tenant_id}/config/{key} requests.
func (h *Handlers) DeleteConfigEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tenantID := vars["tenant_id"]
	key := vars["key"]

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	if err := h.config.DeleteEntry(ctx, tenantID, key); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, statusResponse{
		Status:   "success",
		TenantID: tenantID,
		Key:      key,
	})
}

// StartMigration handles POST /v1/tenants/{tenant_id}/migrations requests.
// The migration runs in the background; the accepted job is the response.
func (h *Handlers) StartMigration(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	tenantID := mux.Vars(r)["tenant_id"]

	var req startMigrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid JSON body", requestID)
		return
	}
	if req.DestinationPath == "" {
		h.errorHandler.WriteValidationError(w, "destination_path is required", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	job, err := h.migrations.StartMigration(ctx, tenantID, req.DestinationPath)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusAccepted, job)
}

// RollbackMigration handles POST /v1/tenants/{tenant_id}/migrations/rollback
// requests. The restore runs in the background.
func (h *Handlers) RollbackMigration(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	job, err := h.migrations.Rollback(ctx, tenantID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusAccepted, job)
}

// ListTenants handles GET /v1/tenants requests.
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	tenants, err := h.registry.ListTenants(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, listTenantsResponse{
		Status:  "success",
		Tenants: tenants,
	})
}

// GetTenant handles GET /v1/tenants/{tenant_id} requests. The response
// combines the registry record with live container state, topology, the
// current asset source, and any in-flight migration.
func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	tenant, err := h.registry.GetTenant(ctx, tenantID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp := tenantDetailResponse{
		Status: "success",
		Tenant: tenant,
	}

	state, err := h.registry.ResolveContainer(ctx, tenantID)
	switch {
	case err == nil:
		resp.Container = &containerStatus{
			Name:           state.Name,
			Running:        state.Running,
			Healthy:        state.Healthy,
			HasHealthcheck: state.HasHealthcheck,
		}
		if topo, topoErr := h.topology.Classify(tenant, state); topoErr == nil {
			resp.Topology = topo
		}
	case errors.Is(err, service.ErrTenantNotRunning):
		// No container for this tenant right now; the record alone is the
		// answer.
	default:
		h.errorHandler.HandleError(w, r, err)
		return
	}

	source, err := h.assets.GetSource(ctx, tenantID)
	if err == nil {
		resp.AssetSource = source
	} else if !errors.Is(err, store.ErrNotFound) {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	jobs, err := h.migrations.ListMigrations(ctx, tenantID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	for _, job := range jobs {
		if !job.IsTerminal() {
			resp.ActiveMigration = job
			break
		}
	}

	h.writeJSONResponse(w, http.StatusOK, resp)
}

// ListMigrations handles GET /v1/tenants/{tenant_id}/migrations requests.
func (h *Handlers) ListMigrations(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	jobs, err := h.migrations.ListMigrations(ctx, tenantID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, listMigrationsResponse{
		Status:     "success",
		Migrations: jobs,
	})
}

// GetMigration handles GET /v1/migrations/{migration_id} requests.
func (h *Handlers) GetMigration(w http.ResponseWriter, r *http.Request) {
	migrationID := mux.Vars(r)["migration_id"]

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	job, err := h.migrations.GetMigration(ctx, migrationID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, job)
}

// PurgeBackup handles DELETE /v1/migrations/{migration_id}/backup requests.
func (h *Handlers) PurgeBackup(w http.ResponseWriter, r *http.Request) {
	migrationID := mux.Vars(r)["migration_id"]

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	if err := h.migrations.PurgeBackup(ctx, migrationID); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, statusResponse{
		Status:      "success",
		MigrationID: migrationID,
	})
}

// writeJSONResponse writes a JSON response to the HTTP response writer.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
