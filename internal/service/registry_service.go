package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/client"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
)

// tenantIDPattern is the slug shape a deployment directory must have to be
// treated as a tenant.
var tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// RegistryService discovers tenants from the deployments root and resolves
// their containers by naming convention.
type RegistryService struct {
	runtime         client.Runtime
	deploymentsRoot string
	containerPrefix string
	envFilename     string
	assetDirName    string
	dataDirName     string
	logger          *zap.Logger
}

// NewRegistryService creates a new registry service
func NewRegistryService(
	runtime client.Runtime,
	deploymentsRoot string,
	containerPrefix string,
	envFilename string,
	assetDirName string,
	dataDirName string,
	logger *zap.Logger,
) *RegistryService {
	return &RegistryService{
		runtime:         runtime,
		deploymentsRoot: deploymentsRoot,
		containerPrefix: containerPrefix,
		envFilename:     envFilename,
		assetDirName:    assetDirName,
		dataDirName:     dataDirName,
		logger:          logger,
	}
}

// ListTenants enumerates tenant deployments under the deployments root.
// Hidden directories and names that are not valid tenant slugs are skipped.
func (s *RegistryService) ListTenants(ctx context.Context) ([]*model.Tenant, error) {
	entries, err := os.ReadDir(s.deploymentsRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read deployments root %s: %w", s.deploymentsRoot, err)
	}

	tenants := make([]*model.Tenant, 0)
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") || !tenantIDPattern.MatchString(name) {
			continue
		}
		tenants = append(tenants, s.tenant(name))
	}

	sort.Slice(tenants, func(i, j int) bool {
		return tenants[i].TenantID < tenants[j].TenantID
	})

	return tenants, nil
}

// GetTenant resolves a tenant by ID, verifying its deployment directory exists
func (s *RegistryService) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	if !tenantIDPattern.MatchString(tenantID) {
		return nil, fmt.Errorf("%w: %q", ErrTenantNotFound, tenantID)
	}

	info, err := os.Stat(filepath.Join(s.deploymentsRoot, tenantID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
		}
		return nil, fmt.Errorf("failed to stat tenant directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}

	return s.tenant(tenantID), nil
}

// ResolveContainer finds the tenant's container by naming convention. A
// missing container is reported as ErrTenantNotRunning since the deployment
// itself exists.
func (s *RegistryService) ResolveContainer(ctx context.Context, tenantID string) (*client.ContainerState, error) {
	state, err := s.runtime.FindByName(ctx, s.ContainerName(tenantID))
	if err != nil {
		if errors.Is(err, client.ErrContainerNotFound) {
			return nil, fmt.Errorf("%w: no container %s", ErrTenantNotRunning, s.ContainerName(tenantID))
		}
		return nil, fmt.Errorf("failed to resolve tenant container: %w", err)
	}
	return state, nil
}

// ContainerName returns the conventional container name for a tenant
func (s *RegistryService) ContainerName(tenantID string) string {
	return s.containerPrefix + tenantID
}

// TenantIDForContainer maps a container name back to a tenant ID. Returns
// false for containers outside the naming convention.
func (s *RegistryService) TenantIDForContainer(containerName string) (string, bool) {
	tenantID, ok := strings.CutPrefix(containerName, s.containerPrefix)
	if !ok || !tenantIDPattern.MatchString(tenantID) {
		return "", false
	}
	return tenantID, true
}

// EnvFilePath returns the host path of the tenant's override config file
func (s *RegistryService) EnvFilePath(tenantID string) string {
	return filepath.Join(s.deploymentsRoot, tenantID, s.envFilename)
}

// tenant builds the tenant record from the directory layout. ContainerRef is
// runtime-assigned and only known after ResolveContainer.
func (s *RegistryService) tenant(tenantID string) *model.Tenant {
	return &model.Tenant{
		TenantID:  tenantID,
		DataPath:  filepath.Join(s.deploymentsRoot, tenantID, s.dataDirName),
		AssetPath: filepath.Join(s.deploymentsRoot, tenantID, s.assetDirName),
	}
}
