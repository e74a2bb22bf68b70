package service

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/client"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
)

// TopologyService classifies a tenant's persistence topology from live mount
// state. The result is derived on every call and never stored, so it cannot
// drift from the container's actual configuration.
type TopologyService struct {
	registry  *RegistryService
	staticDir string
	logger    *zap.Logger
}

// NewTopologyService creates a new topology service
func NewTopologyService(registry *RegistryService, staticDir string, logger *zap.Logger) *TopologyService {
	return &TopologyService{
		registry:  registry,
		staticDir: staticDir,
		logger:    logger,
	}
}

// Detect resolves the tenant's container and classifies its topology. A
// stopped or missing container yields ErrTenantNotRunning; callers must not
// assume InjectOnStart for a container they cannot observe.
func (s *TopologyService) Detect(ctx context.Context, tenant *model.Tenant) (model.Topology, error) {
	state, err := s.registry.ResolveContainer(ctx, tenant.TenantID)
	if err != nil {
		return "", err
	}
	return s.Classify(tenant, state)
}

// Classify derives the topology from an already-inspected container state.
func (s *TopologyService) Classify(tenant *model.Tenant, state *client.ContainerState) (model.Topology, error) {
	if !state.Running {
		return "", fmt.Errorf("%w: container %s is stopped", ErrTenantNotRunning, state.Name)
	}

	for _, m := range state.Mounts {
		if filepath.Clean(m.Destination) == filepath.Clean(s.staticDir) &&
			filepath.Clean(m.Source) == filepath.Clean(tenant.AssetPath) {
			s.logger.Debug("tenant asset directory is bind-mounted",
				zap.String("tenant_id", tenant.TenantID),
				zap.String("source", m.Source),
				zap.String("destination", m.Destination))
			return model.TopologyVolumeMounted, nil
		}
	}

	return model.TopologyInjectOnStart, nil
}
