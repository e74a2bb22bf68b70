package service

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/envfile"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
)

//go:embed defaults.env
var defaultsEnv []byte

// ConfigService resolves a tenant's effective configuration from three layers
// in ascending precedence: built-in defaults, the tenant's override file, and
// runtime overrides supplied per call.
type ConfigService struct {
	registry *RegistryService
	defaults map[string]string
	logger   *zap.Logger
}

// NewConfigService creates a new config service
func NewConfigService(registry *RegistryService, logger *zap.Logger) (*ConfigService, error) {
	defaults, err := envfile.Parse(bytes.NewReader(defaultsEnv))
	if err != nil {
		return nil, fmt.Errorf("failed to parse built-in defaults: %w", err)
	}

	return &ConfigService{
		registry: registry,
		defaults: defaults,
		logger:   logger,
	}, nil
}

// Resolve merges the configuration layers for a tenant. An invalid override
// file is rejected wholesale and reported in LayerErrors; the remaining layers
// still apply. Invalid runtime overrides fail the call since the caller
// supplied them directly.
func (s *ConfigService) Resolve(ctx context.Context, tenantID string, runtimeOverrides map[string]string) (*model.EffectiveConfig, error) {
	if _, err := s.registry.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	layers := []model.EnvLayer{
		{Rank: 0, Origin: model.LayerOriginDefaults, Entries: s.defaults},
	}
	var layerErrors []model.LayerError

	path := s.registry.EnvFilePath(tenantID)
	entries, err := envfile.ParseFile(path)
	var validationErr *envfile.ValidationError
	switch {
	case err == nil:
		layers = append(layers, model.EnvLayer{Rank: 1, Origin: model.LayerOriginTenant, Entries: entries})
	case errors.Is(err, fs.ErrNotExist):
		// No override file for this tenant
	case errors.As(err, &validationErr):
		s.logger.Warn("tenant override file rejected",
			zap.String("tenant_id", tenantID),
			zap.String("path", path),
			zap.Error(err))
		layerErrors = append(layerErrors, model.LayerError{
			Origin:  model.LayerOriginTenant,
			Message: validationErr.Error(),
		})
	default:
		return nil, fmt.Errorf("failed to read override file: %w", err)
	}

	if len(runtimeOverrides) > 0 {
		for key, value := range runtimeOverrides {
			if err := envfile.ValidateKey(key); err != nil {
				return nil, err
			}
			if err := envfile.ValidateValue(value); err != nil {
				return nil, fmt.Errorf("value for %s: %w", key, err)
			}
		}
		layers = append(layers, model.EnvLayer{Rank: 2, Origin: model.LayerOriginRuntime, Entries: runtimeOverrides})
	}

	effective := envfile.Merge(layers...)
	effective.LayerErrors = layerErrors
	return &effective, nil
}

// SetEntry validates and writes one entry to the tenant's override file. A
// file that currently fails validation is left untouched; rewriting it would
// silently discard whatever the operator had there.
func (s *ConfigService) SetEntry(ctx context.Context, tenantID, key, value string) error {
	if _, err := s.registry.GetTenant(ctx, tenantID); err != nil {
		return err
	}
	if err := envfile.ValidateKey(key); err != nil {
		return err
	}
	if err := envfile.ValidateValue(value); err != nil {
		return fmt.Errorf("value for %s: %w", key, err)
	}

	path := s.registry.EnvFilePath(tenantID)
	entries, err := envfile.ParseFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		entries = make(map[string]string)
	}

	entries[key] = value
	if err := envfile.WriteFile(path, entries); err != nil {
		return fmt.Errorf("failed to write override file: %w", err)
	}

	s.logger.Info("config entry set",
		zap.String("tenant_id", tenantID),
		zap.String("key", key))
	return nil
}

// DeleteEntry removes one entry from the tenant's override file. Deleting a
// key that is not present is a no-op.
func (s *ConfigService) DeleteEntry(ctx context.Context, tenantID, key string) error {
	if _, err := s.registry.GetTenant(ctx, tenantID); err != nil {
		return err
	}
	if err := envfile.ValidateKey(key); err != nil {
		return err
	}

	path := s.registry.EnvFilePath(tenantID)
	entries, err := envfile.ParseFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	if _, exists := entries[key]; !exists {
		return nil
	}

	delete(entries, key)
	if err := envfile.WriteFile(path, entries); err != nil {
		return fmt.Errorf("failed to write override file: %w", err)
	}

	s.logger.Info("config entry deleted",
		zap.String("tenant_id", tenantID),
		zap.String("key", key))
	return nil
}

// RevalidateFile parses an override file after an edit and logs the outcome.
// Wired as the envfile watcher's callback so operators see validation
// feedback at edit time instead of at next resolve.
func (s *ConfigService) RevalidateFile(path string) {
	tenantID := filepath.Base(filepath.Dir(path))

	if _, err := envfile.ParseFile(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("tenant override file removed",
				zap.String("tenant_id", tenantID),
				zap.String("path", path))
			return
		}
		s.logger.Warn("tenant override file is invalid and will be ignored until fixed",
			zap.String("tenant_id", tenantID),
			zap.String("path", path),
			zap.Error(err))
		return
	}

	s.logger.Info("tenant override file validated",
		zap.String("tenant_id", tenantID),
		zap.String("path", path))
}
