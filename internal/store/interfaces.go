package store

import (
	"context"
	"errors"
	"time"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// StateStore persists asset sources and the migration ledger
type StateStore interface {
	// Asset source operations
	SaveAssetSource(ctx context.Context, source *model.AssetSource) error
	GetAssetSource(ctx context.Context, tenantID string) (*model.AssetSource, error)

	// Migration ledger operations
	CreateMigration(ctx context.Context, job *model.MigrationJob) error
	UpdateMigration(ctx context.Context, job *model.MigrationJob) error
	GetMigration(ctx context.Context, migrationID string) (*model.MigrationJob, error)
	ListMigrations(ctx context.Context, tenantID string) ([]*model.MigrationJob, error)
	FindActiveMigration(ctx context.Context, tenantID string) (*model.MigrationJob, error)
	FindIncompleteCutovers(ctx context.Context) ([]*model.MigrationJob, error)

	// Health check
	Ping(ctx context.Context) error
	Close()
}

// ApplyCache remembers the last converged asset set hash per tenant container
// so reconciliations can skip work that is already done
type ApplyCache interface {
	Get(ctx context.Context, tenantID, containerRef string) (string, error)
	Set(ctx context.Context, tenantID, containerRef, desiredHash string, ttl time.Duration) error
	Invalidate(ctx context.Context, tenantID, containerRef string) error
	Ping(ctx context.Context) error
	Close() error
}
