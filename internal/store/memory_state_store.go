package store

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
)

// MemoryStateStore implements StateStore with in-process maps. It backs the
// "memory" state driver for single-host deployments and tests; nothing
// survives a restart.
type MemoryStateStore struct {
	mu         sync.RWMutex
	sources    map[string]*model.AssetSource
	migrations map[string]*model.MigrationJob
	logger     *zap.Logger
}

// NewMemoryStateStore creates a new in-memory state store
func NewMemoryStateStore(logger *zap.Logger) StateStore {
	return &MemoryStateStore{
		sources:    make(map[string]*model.AssetSource),
		migrations: make(map[string]*model.MigrationJob),
		logger:     logger,
	}
}

// SaveAssetSource inserts or replaces the asset source for a tenant
func (s *MemoryStateStore) SaveAssetSource(ctx context.Context, source *model.AssetSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *source
	s.sources[source.TenantID] = &cp
	return nil
}

// GetAssetSource retrieves the asset source for a tenant
func (s *MemoryStateStore) GetAssetSource(ctx context.Context, tenantID string) (*model.AssetSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	source, exists := s.sources[tenantID]
	if !exists {
		return nil, ErrNotFound
	}

	cp := *source
	return &cp, nil
}

// CreateMigration inserts a new migration ledger record
func (s *MemoryStateStore) CreateMigration(ctx context.Context, job *model.MigrationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	s.migrations[job.MigrationID] = &cp
	return nil
}

// UpdateMigration persists the current state of a migration ledger record
func (s *MemoryStateStore) UpdateMigration(ctx context.Context, job *model.MigrationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.migrations[job.MigrationID]; !exists {
		return ErrNotFound
	}

	cp := *job
	s.migrations[job.MigrationID] = &cp
	return nil
}

// GetMigration retrieves a migration by ID
func (s *MemoryStateStore) GetMigration(ctx context.Context, migrationID string) (*model.MigrationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.migrations[migrationID]
	if !exists {
		return nil, ErrNotFound
	}

	cp := *job
	return &cp, nil
}

// ListMigrations retrieves all migrations for a tenant, most recent first
func (s *MemoryStateStore) ListMigrations(ctx context.Context, tenantID string) ([]*model.MigrationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*model.MigrationJob, 0)
	for _, job := range s.migrations {
		if job.TenantID == tenantID {
			cp := *job
			jobs = append(jobs, &cp)
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})

	return jobs, nil
}

// FindActiveMigration returns the tenant's migration that has not reached a
// terminal status, or ErrNotFound
func (s *MemoryStateStore) FindActiveMigration(ctx context.Context, tenantID string) (*model.MigrationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.MigrationJob
	for _, job := range s.migrations {
		if job.TenantID != tenantID || job.IsTerminal() {
			continue
		}
		if latest == nil || job.StartedAt.After(latest.StartedAt) {
			latest = job
		}
	}

	if latest == nil {
		return nil, ErrNotFound
	}

	cp := *latest
	return &cp, nil
}

// FindIncompleteCutovers returns migrations interrupted mid-cutover
func (s *MemoryStateStore) FindIncompleteCutovers(ctx context.Context) ([]*model.MigrationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*model.MigrationJob, 0)
	for _, job := range s.migrations {
		if job.Status == model.MigrationStatusCuttingOver {
			cp := *job
			jobs = append(jobs, &cp)
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.Before(jobs[j].StartedAt)
	})

	return jobs, nil
}

// Ping always succeeds for the in-memory store
func (s *MemoryStateStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStateStore) Close() {}
