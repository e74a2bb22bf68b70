package service

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/client"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
)

// MockStateStore is a mock implementation of store.StateStore
type MockStateStore struct {
	mock.Mock
}

func (m *MockStateStore) SaveAssetSource(ctx context.Context, source *model.AssetSource) error {
	args := m.Called(ctx, source)
	return args.Error(0)
}

func (m *MockStateStore) GetAssetSource(ctx context.Context, tenantID string) (*model.AssetSource, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AssetSource), args.Error(1)
}

func (m *MockStateStore) CreateMigration(ctx context.Context, job *model.MigrationJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockStateStore) UpdateMigration(ctx context.Context, job *model.MigrationJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockStateStore) GetMigration(ctx context.Context, migrationID string) (*model.MigrationJob, error) {
	args := m.Called(ctx, migrationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MigrationJob), args.Error(1)
}

func (m *MockStateStore) ListMigrations(ctx context.Context, tenantID string) ([]*model.MigrationJob, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.MigrationJob), args.Error(1)
}

func (m *MockStateStore) FindActiveMigration(ctx context.Context, tenantID string) (*model.MigrationJob, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MigrationJob), args.Error(1)
}

func (m *MockStateStore) FindIncompleteCutovers(ctx context.Context) ([]*model.MigrationJob, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.MigrationJob), args.Error(1)
}

func (m *MockStateStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStateStore) Close() {
	m.Called()
}

// MockApplyCache is a mock implementation of store.ApplyCache
type MockApplyCache struct {
	mock.Mock
}

func (m *MockApplyCache) Get(ctx context.Context, tenantID, containerRef string) (string, error) {
	args := m.Called(ctx, tenantID, containerRef)
	return args.String(0), args.Error(1)
}

func (m *MockApplyCache) Set(ctx context.Context, tenantID, containerRef, desiredHash string, ttl time.Duration) error {
	args := m.Called(ctx, tenantID, containerRef, desiredHash, ttl)
	return args.Error(0)
}

func (m *MockApplyCache) Invalidate(ctx context.Context, tenantID, containerRef string) error {
	args := m.Called(ctx, tenantID, containerRef)
	return args.Error(0)
}

func (m *MockApplyCache) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockApplyCache) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockRuntime is a mock implementation of client.Runtime
type MockRuntime struct {
	mock.Mock
}

func (m *MockRuntime) Inspect(ctx context.Context, ref string) (*client.ContainerState, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.ContainerState), args.Error(1)
}

func (m *MockRuntime) FindByName(ctx context.Context, name string) (*client.ContainerState, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.ContainerState), args.Error(1)
}

func (m *MockRuntime) Events(ctx context.Context) (<-chan client.Event, <-chan error) {
	args := m.Called(ctx)
	return args.Get(0).(<-chan client.Event), args.Get(1).(<-chan error)
}

func (m *MockRuntime) Stop(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *MockRuntime) Start(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *MockRuntime) Restart(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *MockRuntime) CopyTo(ctx context.Context, ref, dstDir string, archive io.Reader) error {
	args := m.Called(ctx, ref, dstDir, archive)
	return args.Error(0)
}

func (m *MockRuntime) WaitHealthy(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *MockRuntime) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRuntime) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockFetcher is a mock implementation of AssetFetcher
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
