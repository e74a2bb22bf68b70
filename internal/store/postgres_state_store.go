package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
)

// PostgresStateStore implements StateStore for PostgreSQL
type PostgresStateStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStateStore creates a new PostgreSQL state store
func NewPostgresStateStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (StateStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStateStore{
		pool:   pool,
		logger: logger,
	}

	if err := s.initSchema(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *PostgresStateStore) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS asset_sources (
			tenant_id    TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			ref          TEXT NOT NULL,
			content      BYTEA NOT NULL,
			content_hash TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS migrations (
			migration_id     TEXT PRIMARY KEY,
			tenant_id        TEXT NOT NULL,
			source_path      TEXT NOT NULL,
			destination_path TEXT NOT NULL,
			backup_path      TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL,
			error_message    TEXT NOT NULL DEFAULT '',
			started_at       TIMESTAMPTZ NOT NULL,
			completed_at     TIMESTAMPTZ,
			updated_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_migrations_tenant ON migrations (tenant_id, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_migrations_status ON migrations (status)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveAssetSource inserts or replaces the asset source for a tenant
func (s *PostgresStateStore) SaveAssetSource(ctx context.Context, source *model.AssetSource) error {
	query := `
		INSERT INTO asset_sources (tenant_id, kind, ref, content, content_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id) DO UPDATE
		SET kind = $2, ref = $3, content = $4, content_hash = $5, updated_at = $7
	`

	_, err := s.pool.Exec(ctx, query,
		source.TenantID,
		string(source.Kind),
		source.Ref,
		source.Content,
		source.ContentHash,
		source.CreatedAt,
		source.UpdatedAt,
	)

	return err
}

// GetAssetSource retrieves the asset source for a tenant
func (s *PostgresStateStore) GetAssetSource(ctx context.Context, tenantID string) (*model.AssetSource, error) {
	query := `
		SELECT tenant_id, kind, ref, content, content_hash, created_at, updated_at
		FROM asset_sources
		WHERE tenant_id = $1
	`

	var source model.AssetSource
	var kind string
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(
		&source.TenantID,
		&kind,
		&source.Ref,
		&source.Content,
		&source.ContentHash,
		&source.CreatedAt,
		&source.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get asset source: %w", err)
	}

	source.Kind = model.AssetSourceKind(kind)
	return &source, nil
}

// CreateMigration inserts a new migration ledger record
func (s *PostgresStateStore) CreateMigration(ctx context.Context, job *model.MigrationJob) error {
	query := `
		INSERT INTO migrations (migration_id, tenant_id, source_path, destination_path,
			backup_path, status, error_message, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		job.MigrationID,
		job.TenantID,
		job.SourcePath,
		job.DestinationPath,
		job.BackupPath,
		string(job.Status),
		job.ErrorMessage,
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
	)

	return err
}

// UpdateMigration persists the current state of a migration ledger record
func (s *PostgresStateStore) UpdateMigration(ctx context.Context, job *model.MigrationJob) error {
	query := `
		UPDATE migrations
		SET backup_path = $2, status = $3, error_message = $4, completed_at = $5, updated_at = $6
		WHERE migration_id = $1
	`

	result, err := s.pool.Exec(ctx, query,
		job.MigrationID,
		job.BackupPath,
		string(job.Status),
		job.ErrorMessage,
		job.CompletedAt,
		job.UpdatedAt,
	)

	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// GetMigration retrieves a migration by ID
func (s *PostgresStateStore) GetMigration(ctx context.Context, migrationID string) (*model.MigrationJob, error) {
	query := `
		SELECT migration_id, tenant_id, source_path, destination_path, backup_path,
			status, error_message, started_at, completed_at, updated_at
		FROM migrations
		WHERE migration_id = $1
	`

	return s.scanMigration(s.pool.QueryRow(ctx, query, migrationID))
}

// ListMigrations retrieves all migrations for a tenant, most recent first
func (s *PostgresStateStore) ListMigrations(ctx context.Context, tenantID string) ([]*model.MigrationJob, error) {
	query := `
		SELECT migration_id, tenant_id, source_path, destination_path, backup_path,
			status, error_message, started_at, completed_at, updated_at
		FROM migrations
		WHERE tenant_id = $1
		ORDER BY started_at DESC
	`

	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]*model.MigrationJob, 0)
	for rows.Next() {
		job, err := s.scanMigration(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// FindActiveMigration returns the tenant's migration that has not reached a
// terminal status, or ErrNotFound
func (s *PostgresStateStore) FindActiveMigration(ctx context.Context, tenantID string) (*model.MigrationJob, error) {
	query := `
		SELECT migration_id, tenant_id, source_path, destination_path, backup_path,
			status, error_message, started_at, completed_at, updated_at
		FROM migrations
		WHERE tenant_id = $1 AND status NOT IN ('complete', 'rolled_back', 'failed')
		ORDER BY started_at DESC
		LIMIT 1
	`

	return s.scanMigration(s.pool.QueryRow(ctx, query, tenantID))
}

// FindIncompleteCutovers returns migrations interrupted mid-cutover
func (s *PostgresStateStore) FindIncompleteCutovers(ctx context.Context) ([]*model.MigrationJob, error) {
	query := `
		SELECT migration_id, tenant_id, source_path, destination_path, backup_path,
			status, error_message, started_at, completed_at, updated_at
		FROM migrations
		WHERE status = 'cutting_over'
		ORDER BY started_at
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]*model.MigrationJob, 0)
	for rows.Next() {
		job, err := s.scanMigration(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func (s *PostgresStateStore) scanMigration(row pgx.Row) (*model.MigrationJob, error) {
	var job model.MigrationJob
	var status string
	err := row.Scan(
		&job.MigrationID,
		&job.TenantID,
		&job.SourcePath,
		&job.DestinationPath,
		&job.BackupPath,
		&status,
		&job.ErrorMessage,
		&job.StartedAt,
		&job.CompletedAt,
		&job.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan migration: %w", err)
	}

	job.Status = model.MigrationStatus(status)
	return &job, nil
}

// Ping checks the database connection
func (s *PostgresStateStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresStateStore) Close() {
	s.pool.Close()
}
