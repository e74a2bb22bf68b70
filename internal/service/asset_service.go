package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/store"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/variant"
)

// AssetFetcher retrieves a source image over the network.
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// AssetService records new asset sources for tenants and kicks off the
// reconciliation that makes them visible.
type AssetService struct {
	stateStore store.StateStore
	registry   *RegistryService
	reconciler *ReconcileService
	generator  *variant.Generator
	fetcher    AssetFetcher
	logger     *zap.Logger
}

// NewAssetService creates a new asset service
func NewAssetService(
	stateStore store.StateStore,
	registry *RegistryService,
	reconciler *ReconcileService,
	generator *variant.Generator,
	fetcher AssetFetcher,
	logger *zap.Logger,
) *AssetService {
	return &AssetService{
		stateStore: stateStore,
		registry:   registry,
		reconciler: reconciler,
		generator:  generator,
		fetcher:    fetcher,
		logger:     logger,
	}
}

// ApplyFromURL fetches a source image, records it as the tenant's asset
// source, and reconciles synchronously. Nothing is persisted when the fetched
// bytes do not decode as an image.
func (s *AssetService) ApplyFromURL(ctx context.Context, tenantID, url string) (*model.ReconciliationResult, error) {
	if _, err := s.registry.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	data, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch asset source: %w", err)
	}

	// Reject undecodable input before it reaches the store.
	if err := variant.ValidateSource(data); err != nil {
		return nil, err
	}

	s.logger.Info("applying asset source from URL",
		zap.String("tenant_id", tenantID),
		zap.String("url", url),
		zap.Int("bytes", len(data)))

	return s.applySource(ctx, tenantID, model.AssetSourceKindURL, url, data)
}

// ApplyGenerated renders an initials logo from the display name, records it
// as the tenant's asset source, and reconciles synchronously.
func (s *AssetService) ApplyGenerated(ctx context.Context, tenantID, displayName, background string) (*model.ReconciliationResult, error) {
	if _, err := s.registry.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	data, err := variant.GenerateTextLogo(displayName, variant.TextLogoOptions{Background: background})
	if err != nil {
		return nil, err
	}

	s.logger.Info("applying generated asset source",
		zap.String("tenant_id", tenantID),
		zap.String("display_name", displayName))

	return s.applySource(ctx, tenantID, model.AssetSourceKindText, displayName, data)
}

// GetSource returns the tenant's current asset source record, or
// store.ErrNotFound when none has been applied.
func (s *AssetService) GetSource(ctx context.Context, tenantID string) (*model.AssetSource, error) {
	if _, err := s.registry.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.stateStore.GetAssetSource(ctx, tenantID)
}

func (s *AssetService) applySource(ctx context.Context, tenantID string, kind model.AssetSourceKind, ref string, data []byte) (*model.ReconciliationResult, error) {
	sum := sha256.Sum256(data)
	source := &model.AssetSource{
		TenantID:    tenantID,
		Kind:        kind,
		Ref:         ref,
		Content:     data,
		ContentHash: hex.EncodeToString(sum[:]),
	}

	if err := s.stateStore.SaveAssetSource(ctx, source); err != nil {
		return nil, fmt.Errorf("failed to save asset source: %w", err)
	}

	job := &model.ReconciliationJob{
		JobID:       uuid.New().String(),
		TenantID:    tenantID,
		DesiredHash: variant.DesiredSetHash(s.generator.Catalog(), source.ContentHash),
		Trigger:     model.ReconcileTriggerOperator,
		EnqueuedAt:  time.Now(),
	}

	return s.reconciler.Reconcile(ctx, job)
}
