package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/client"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/lock"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/metrics"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/storage"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/store"
)

// dataSourceKey is the override config entry recording a tenant's migrated
// data location.
const dataSourceKey = "TENANT_DATA_SOURCE"

// backupTimestampLayout names backup directories so repeated attempts for the
// same tenant never collide.
const backupTimestampLayout = "20060102T150405Z"

// MigrationService moves a tenant's persistent data between storage locations
// using a copy-verify-cutover sequence that keeps the source intact until the
// destination is proven complete.
type MigrationService struct {
	stateStore      store.StateStore
	runtime         client.Runtime
	registry        *RegistryService
	configService   *ConfigService
	locks           *lock.KeyedMutex
	metrics         *metrics.Metrics
	backupRoot      string
	copyConcurrency int
	spaceFactor     float64
	logger          *zap.Logger

	// Track in-flight migrations and rollbacks by migration ID
	activeMigrations sync.Map // migrationID -> *migrationContext
}

// migrationContext tracks the state of one in-flight migration attempt
type migrationContext struct {
	Job        *model.MigrationJob
	WasRunning bool
	CancelFunc context.CancelFunc
}

// NewMigrationService creates a new migration service
func NewMigrationService(
	stateStore store.StateStore,
	runtime client.Runtime,
	registry *RegistryService,
	configService *ConfigService,
	locks *lock.KeyedMutex,
	metrics *metrics.Metrics,
	backupRoot string,
	copyConcurrency int,
	spaceFactor float64,
	logger *zap.Logger,
) *MigrationService {
	if copyConcurrency <= 0 {
		copyConcurrency = 4
	}
	if spaceFactor <= 1 {
		spaceFactor = 2.0
	}

	return &MigrationService{
		stateStore:      stateStore,
		runtime:         runtime,
		registry:        registry,
		configService:   configService,
		locks:           locks,
		metrics:         metrics,
		backupRoot:      backupRoot,
		copyConcurrency: copyConcurrency,
		spaceFactor:     spaceFactor,
		logger:          logger,
	}
}

// StartMigration creates a migration job for the tenant and runs it in the
// background. Progress is observable through GetMigration; the ledger record
// survives daemon restarts.
func (s *MigrationService) StartMigration(ctx context.Context, tenantID, destination string) (*model.MigrationJob, error) {
	tenant, err := s.registry.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if destination == "" || !filepath.IsAbs(destination) {
		return nil, &MigrationValidationError{Reason: "destination_path must be an absolute path"}
	}

	if s.tenantInFlight(tenantID) {
		return nil, fmt.Errorf("%w: a migration or rollback is already running for tenant %s", ErrMigrationConflict, tenantID)
	}
	active, err := s.stateStore.FindActiveMigration(ctx, tenantID)
	if err == nil {
		return nil, fmt.Errorf("%w: migration %s is %s", ErrMigrationConflict, active.MigrationID, active.Status)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for active migration: %w", err)
	}

	job := &model.MigrationJob{
		MigrationID:     uuid.New().String(),
		TenantID:        tenantID,
		SourcePath:      tenant.DataPath,
		DestinationPath: filepath.Clean(destination),
		Status:          model.MigrationStatusValidating,
		StartedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	if err := s.stateStore.CreateMigration(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create migration: %w", err)
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	mctx := &migrationContext{
		Job:        job,
		CancelFunc: cancel,
	}
	s.activeMigrations.Store(job.MigrationID, mctx)

	go s.executeMigrationPhases(jobCtx, mctx)

	s.logger.Info("migration started",
		zap.String("migration_id", job.MigrationID),
		zap.String("tenant_id", tenantID),
		zap.String("source", job.SourcePath),
		zap.String("destination", job.DestinationPath))

	return job, nil
}

// GetMigration returns one ledger record.
func (s *MigrationService) GetMigration(ctx context.Context, migrationID string) (*model.MigrationJob, error) {
	job, err := s.stateStore.GetMigration(ctx, migrationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMigrationNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListMigrations returns the tenant's migration history, most recent first.
func (s *MigrationService) ListMigrations(ctx context.Context, tenantID string) ([]*model.MigrationJob, error) {
	if _, err := s.registry.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.stateStore.ListMigrations(ctx, tenantID)
}

// executeMigrationPhases runs all migration phases sequentially under the
// tenant lock.
func (s *MigrationService) executeMigrationPhases(ctx context.Context, mctx *migrationContext) {
	defer s.activeMigrations.Delete(mctx.Job.MigrationID)
	defer mctx.CancelFunc()

	release, err := s.locks.Acquire(ctx, mctx.Job.TenantID)
	if err != nil {
		s.handleMigrationFailure(mctx, fmt.Errorf("failed to acquire tenant lock: %w", err))
		return
	}
	defer release()

	if err := s.executeValidationPhase(ctx, mctx); err != nil {
		s.handleMigrationFailure(mctx, fmt.Errorf("validation failed: %w", err))
		return
	}

	if err := s.executeCopyPhase(ctx, mctx); err != nil {
		s.handleMigrationFailure(mctx, fmt.Errorf("copy failed: %w", err))
		return
	}

	if err := s.executeVerifyPhase(ctx, mctx); err != nil {
		s.handleMigrationFailure(mctx, fmt.Errorf("verification failed: %w", err))
		return
	}

	if err := s.executeCutoverPhase(ctx, mctx); err != nil {
		s.handleMigrationFailure(mctx, err)
		return
	}

	s.executeCompletionPhase(ctx, mctx)
}

// executeValidationPhase checks every precondition before any byte moves.
func (s *MigrationService) executeValidationPhase(ctx context.Context, mctx *migrationContext) error {
	job := mctx.Job

	info, err := os.Lstat(job.SourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &MigrationValidationError{Reason: fmt.Sprintf("source %s does not exist", job.SourcePath)}
		}
		return fmt.Errorf("failed to stat source: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return &MigrationValidationError{Reason: fmt.Sprintf("source %s is a symlink; an earlier migration already cut over", job.SourcePath)}
	}
	if !info.IsDir() {
		return &MigrationValidationError{Reason: fmt.Sprintf("source %s is not a directory", job.SourcePath)}
	}

	if entries, err := os.ReadDir(job.DestinationPath); err == nil && len(entries) > 0 {
		return &MigrationValidationError{Reason: fmt.Sprintf("destination %s exists and is not empty", job.DestinationPath)}
	} else if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read destination: %w", err)
	}
	if err := os.MkdirAll(job.DestinationPath, 0o755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	size, err := storage.TreeSize(job.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to measure source tree: %w", err)
	}
	required := uint64(float64(size) * s.spaceFactor)
	if err := storage.EnsureFree(job.DestinationPath, required); err != nil {
		return err
	}

	// The cutover renames the source under the backup root; that must stay a
	// metadata operation, so both have to live on one filesystem.
	if err := os.MkdirAll(s.backupRoot, 0o700); err != nil {
		return fmt.Errorf("failed to create backup root: %w", err)
	}
	same, err := storage.SameDevice(s.backupRoot, job.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to compare devices: %w", err)
	}
	if !same {
		return &MigrationValidationError{Reason: fmt.Sprintf("backup root %s is on a different filesystem than source %s", s.backupRoot, job.SourcePath)}
	}

	state, err := s.registry.ResolveContainer(ctx, job.TenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotRunning) {
			return &MigrationValidationError{Reason: "tenant container not found"}
		}
		return err
	}
	mctx.WasRunning = state.Running

	s.logger.Info("migration validated",
		zap.String("migration_id", job.MigrationID),
		zap.Int64("source_bytes", size),
		zap.Bool("container_running", state.Running))

	return nil
}

// executeCopyPhase stops the container and copies the source tree to the
// destination. The copy resumes across retries: files already present with
// matching size and mtime are skipped.
func (s *MigrationService) executeCopyPhase(ctx context.Context, mctx *migrationContext) error {
	job := mctx.Job

	if err := s.transition(ctx, job, model.MigrationStatusCopying); err != nil {
		return err
	}

	if mctx.WasRunning {
		state, err := s.registry.ResolveContainer(ctx, job.TenantID)
		if err != nil {
			return err
		}
		if err := s.runtime.Stop(ctx, state.Ref); err != nil {
			return fmt.Errorf("failed to stop container: %w", err)
		}
		s.logger.Info("container stopped for migration",
			zap.String("migration_id", job.MigrationID),
			zap.String("container", state.Name))
	}

	start := time.Now()
	stats, err := storage.CopyTree(ctx, job.SourcePath, job.DestinationPath, s.copyConcurrency)
	if err != nil {
		return err
	}
	s.metrics.AddMigrationBytesCopied(stats.BytesCopied)

	s.logger.Info("migration copy finished",
		zap.String("migration_id", job.MigrationID),
		zap.Int64("files_copied", stats.FilesCopied),
		zap.Int64("files_skipped", stats.FilesSkipped),
		zap.Int64("bytes_copied", stats.BytesCopied),
		zap.Duration("duration", time.Since(start)))

	return nil
}

// executeVerifyPhase compares source and destination manifests. Any mismatch
// fails the migration with the source untouched.
func (s *MigrationService) executeVerifyPhase(ctx context.Context, mctx *migrationContext) error {
	job := mctx.Job

	if err := s.transition(ctx, job, model.MigrationStatusVerifying); err != nil {
		return err
	}

	srcManifest, err := storage.BuildManifest(ctx, job.SourcePath, s.copyConcurrency)
	if err != nil {
		return fmt.Errorf("failed to hash source tree: %w", err)
	}
	dstManifest, err := storage.BuildManifest(ctx, job.DestinationPath, s.copyConcurrency)
	if err != nil {
		return fmt.Errorf("failed to hash destination tree: %w", err)
	}

	if mismatches := srcManifest.Diff(dstManifest); len(mismatches) > 0 {
		return &MigrationVerificationError{Mismatches: mismatches}
	}

	s.logger.Info("migration verified",
		zap.String("migration_id", job.MigrationID),
		zap.Int("files", len(srcManifest)))

	return nil
}

// executeCutoverPhase renames the source aside and links the destination into
// its place. The backup path is persisted before the rename so a crash
// between the two steps is recoverable from the ledger.
func (s *MigrationService) executeCutoverPhase(ctx context.Context, mctx *migrationContext) error {
	job := mctx.Job

	backupPath := filepath.Join(s.backupRoot,
		fmt.Sprintf("%s-%s", job.TenantID, time.Now().UTC().Format(backupTimestampLayout)))

	job.BackupPath = backupPath
	if err := s.transition(ctx, job, model.MigrationStatusCuttingOver); err != nil {
		return err
	}

	if err := os.Rename(job.SourcePath, backupPath); err != nil {
		job.BackupPath = ""
		return fmt.Errorf("cutover not started, source data intact: %w", err)
	}

	if err := os.Symlink(job.DestinationPath, job.SourcePath); err != nil {
		cutoverErr := &CutoverIncompleteError{
			Step:       "symlink",
			BackupPath: backupPath,
			Err:        err,
		}
		s.logger.Error("cutover incomplete, manual intervention required",
			zap.String("migration_id", job.MigrationID),
			zap.String("tenant_id", job.TenantID),
			zap.String("backup_path", backupPath),
			zap.String("recovery", fmt.Sprintf("restore with: mv %s %s, or finish with: ln -s %s %s", backupPath, job.SourcePath, job.DestinationPath, job.SourcePath)),
			zap.Error(err))
		return cutoverErr
	}

	s.logger.Info("migration cut over",
		zap.String("migration_id", job.MigrationID),
		zap.String("backup_path", backupPath))

	return nil
}

// executeCompletionPhase restarts the tenant and records the terminal state.
// From here the data lives at the destination; a health failure marks the job
// failed but never undoes the cutover.
func (s *MigrationService) executeCompletionPhase(ctx context.Context, mctx *migrationContext) {
	job := mctx.Job

	if mctx.WasRunning {
		if err := s.startAndWaitHealthy(ctx, job.TenantID); err != nil {
			s.failJob(job, fmt.Sprintf("tenant unhealthy after cutover, data remains reachable via the source symlink: %v", err))
			return
		}
	}

	s.recordDataSource(ctx, job)

	now := time.Now()
	job.CompletedAt = &now
	if err := s.transition(context.Background(), job, model.MigrationStatusComplete); err != nil {
		s.logger.Error("failed to mark migration complete", zap.Error(err))
	}
	s.metrics.RecordMigration(string(model.MigrationStatusComplete), time.Since(job.StartedAt))

	s.logger.Info("migration completed",
		zap.String("migration_id", job.MigrationID),
		zap.String("tenant_id", job.TenantID),
		zap.Duration("duration", time.Since(job.StartedAt)))
}

// Rollback restores the tenant's data from the most recent backup. The
// restore runs in the background; the returned job reflects the migration
// being rolled back.
func (s *MigrationService) Rollback(ctx context.Context, tenantID string) (*model.MigrationJob, error) {
	if _, err := s.registry.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	if s.tenantInFlight(tenantID) {
		return nil, fmt.Errorf("%w: a migration or rollback is already running for tenant %s", ErrMigrationConflict, tenantID)
	}
	if active, err := s.stateStore.FindActiveMigration(ctx, tenantID); err == nil {
		return nil, fmt.Errorf("%w: migration %s is %s", ErrMigrationConflict, active.MigrationID, active.Status)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for active migration: %w", err)
	}

	job, err := s.latestRollbackable(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(job.BackupPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: backup %s no longer exists", ErrNoBackup, job.BackupPath)
		}
		return nil, fmt.Errorf("failed to stat backup: %w", err)
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	mctx := &migrationContext{
		Job:        job,
		CancelFunc: cancel,
	}
	s.activeMigrations.Store(job.MigrationID, mctx)

	go s.executeRollback(jobCtx, mctx)

	s.logger.Info("rollback started",
		zap.String("migration_id", job.MigrationID),
		zap.String("tenant_id", tenantID),
		zap.String("backup_path", job.BackupPath))

	return job, nil
}

// executeRollback stops the tenant, swaps the backup back into place, and
// restarts. Success is defined by the data restore; a container that will not
// come back healthy afterwards is reported but does not fail the rollback.
func (s *MigrationService) executeRollback(ctx context.Context, mctx *migrationContext) {
	defer s.activeMigrations.Delete(mctx.Job.MigrationID)
	defer mctx.CancelFunc()
	job := mctx.Job

	release, err := s.locks.Acquire(ctx, job.TenantID)
	if err != nil {
		s.logger.Error("rollback aborted",
			zap.String("migration_id", job.MigrationID),
			zap.Error(err))
		return
	}
	defer release()

	wasRunning := false
	state, err := s.registry.ResolveContainer(ctx, job.TenantID)
	if err == nil && state.Running {
		wasRunning = true
		if err := s.runtime.Stop(ctx, state.Ref); err != nil {
			s.logger.Error("rollback aborted, failed to stop container",
				zap.String("migration_id", job.MigrationID),
				zap.Error(err))
			return
		}
	}

	info, err := os.Lstat(job.SourcePath)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink != 0:
		if err := os.Remove(job.SourcePath); err != nil {
			s.logger.Error("rollback aborted, failed to remove symlink",
				zap.String("migration_id", job.MigrationID),
				zap.Error(err))
			return
		}
	case err == nil:
		// A real directory here means the source was never cut over or was
		// already restored; refuse to clobber it.
		s.logger.Error("rollback aborted, source is a real directory",
			zap.String("migration_id", job.MigrationID),
			zap.String("source", job.SourcePath))
		return
	case !os.IsNotExist(err):
		s.logger.Error("rollback aborted, failed to stat source",
			zap.String("migration_id", job.MigrationID),
			zap.Error(err))
		return
	}

	if err := os.Rename(job.BackupPath, job.SourcePath); err != nil {
		s.logger.Error("rollback failed, backup left in place",
			zap.String("migration_id", job.MigrationID),
			zap.String("backup_path", job.BackupPath),
			zap.Error(err))
		s.metrics.RecordMigration("rollback_failed", time.Since(job.StartedAt))
		return
	}

	if wasRunning {
		if err := s.startAndWaitHealthy(ctx, job.TenantID); err != nil {
			s.logger.Warn("tenant not healthy after rollback",
				zap.String("migration_id", job.MigrationID),
				zap.Error(err))
		}
	}

	if err := s.configService.DeleteEntry(ctx, job.TenantID, dataSourceKey); err != nil {
		s.logger.Warn("failed to remove data source override",
			zap.String("tenant_id", job.TenantID),
			zap.Error(err))
	}

	now := time.Now()
	job.CompletedAt = &now
	job.ErrorMessage = ""
	if err := s.transition(context.Background(), job, model.MigrationStatusRolledBack); err != nil {
		s.logger.Error("failed to mark migration rolled back", zap.Error(err))
	}
	s.metrics.RecordMigration(string(model.MigrationStatusRolledBack), time.Since(job.StartedAt))

	s.logger.Info("rollback completed",
		zap.String("migration_id", job.MigrationID),
		zap.String("tenant_id", job.TenantID))
}

// PurgeBackup deletes a terminal migration's backup directory. Backups are
// never deleted automatically.
func (s *MigrationService) PurgeBackup(ctx context.Context, migrationID string) error {
	job, err := s.GetMigration(ctx, migrationID)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return fmt.Errorf("%w: migration %s is still %s", ErrMigrationConflict, migrationID, job.Status)
	}
	if s.tenantInFlight(job.TenantID) {
		return fmt.Errorf("%w: a migration or rollback is running for tenant %s", ErrMigrationConflict, job.TenantID)
	}
	if job.BackupPath == "" {
		return ErrNoBackup
	}
	if _, err := os.Stat(job.BackupPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: backup %s no longer exists", ErrNoBackup, job.BackupPath)
		}
		return fmt.Errorf("failed to stat backup: %w", err)
	}

	if err := os.RemoveAll(job.BackupPath); err != nil {
		return fmt.Errorf("failed to remove backup: %w", err)
	}

	s.logger.Info("backup purged",
		zap.String("migration_id", migrationID),
		zap.String("backup_path", job.BackupPath))

	job.BackupPath = ""
	job.UpdatedAt = time.Now()
	if err := s.stateStore.UpdateMigration(ctx, job); err != nil {
		return fmt.Errorf("failed to update migration: %w", err)
	}
	return nil
}

// ResumeIncomplete finishes cutovers interrupted by a daemon crash. Called
// once on startup before the event watcher begins.
func (s *MigrationService) ResumeIncomplete(ctx context.Context) error {
	jobs, err := s.stateStore.FindIncompleteCutovers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list incomplete cutovers: %w", err)
	}

	for _, job := range jobs {
		s.resumeCutover(ctx, job)
	}
	return nil
}

// resumeCutover inspects how far an interrupted cutover got and either
// finishes the link or fails the job with the source intact.
func (s *MigrationService) resumeCutover(ctx context.Context, job *model.MigrationJob) {
	s.logger.Warn("resuming interrupted cutover",
		zap.String("migration_id", job.MigrationID),
		zap.String("tenant_id", job.TenantID))

	info, err := os.Lstat(job.SourcePath)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink != 0:
		// Link already in place; only the terminal status update was lost.
	case err == nil:
		// Crash happened before the rename; nothing destructive ran.
		s.failJob(job, "cutover interrupted before rename, source data intact")
		return
	case os.IsNotExist(err):
		if err := os.Symlink(job.DestinationPath, job.SourcePath); err != nil {
			s.failJob(job, fmt.Sprintf("failed to finish cutover link, restore with: mv %s %s: %v", job.BackupPath, job.SourcePath, err))
			return
		}
	default:
		s.failJob(job, fmt.Sprintf("failed to stat source during recovery: %v", err))
		return
	}

	if err := s.startAndWaitHealthy(ctx, job.TenantID); err != nil {
		s.logger.Warn("tenant not healthy after cutover recovery",
			zap.String("migration_id", job.MigrationID),
			zap.Error(err))
	}

	s.recordDataSource(ctx, job)

	now := time.Now()
	job.CompletedAt = &now
	if err := s.transition(ctx, job, model.MigrationStatusComplete); err != nil {
		s.logger.Error("failed to mark recovered migration complete", zap.Error(err))
	}
	s.metrics.RecordMigration(string(model.MigrationStatusComplete), time.Since(job.StartedAt))

	s.logger.Info("interrupted cutover recovered",
		zap.String("migration_id", job.MigrationID),
		zap.String("tenant_id", job.TenantID))
}

// handleMigrationFailure records the terminal failure on the ledger.
func (s *MigrationService) handleMigrationFailure(mctx *migrationContext, err error) {
	job := mctx.Job
	phase := job.Status

	s.logger.Error("migration failed",
		zap.String("migration_id", job.MigrationID),
		zap.String("tenant_id", job.TenantID),
		zap.String("phase", string(phase)),
		zap.Error(err))

	s.failJob(job, err.Error())

	// After an incomplete cutover the source path no longer exists, so a
	// restart would hand the container an empty directory.
	var cutoverErr *CutoverIncompleteError
	if errors.As(err, &cutoverErr) {
		return
	}

	// The copy phase stopped the container; bring it back on the old data.
	if mctx.WasRunning && phase != model.MigrationStatusValidating {
		if startErr := s.startAndWaitHealthy(context.Background(), job.TenantID); startErr != nil {
			s.logger.Warn("failed to restart tenant after migration failure",
				zap.String("migration_id", job.MigrationID),
				zap.Error(startErr))
		}
	}
}

func (s *MigrationService) failJob(job *model.MigrationJob, message string) {
	job.ErrorMessage = message
	now := time.Now()
	job.CompletedAt = &now
	if err := s.transition(context.Background(), job, model.MigrationStatusFailed); err != nil {
		s.logger.Error("failed to record migration failure",
			zap.String("migration_id", job.MigrationID),
			zap.Error(err))
	}
	s.metrics.RecordMigration(string(model.MigrationStatusFailed), time.Since(job.StartedAt))
}

// transition persists a status change. The previous status stays in the
// struct until the write succeeds so failure handling sees the real phase.
func (s *MigrationService) transition(ctx context.Context, job *model.MigrationJob, status model.MigrationStatus) error {
	prev := job.Status
	job.Status = status
	job.UpdatedAt = time.Now()
	if err := s.stateStore.UpdateMigration(ctx, job); err != nil {
		job.Status = prev
		return fmt.Errorf("failed to persist status %s: %w", status, err)
	}
	return nil
}

// recordDataSource writes the destination into the tenant's override config
// so operator tooling can see where the data lives now. Failure to record is
// not failure to migrate.
func (s *MigrationService) recordDataSource(ctx context.Context, job *model.MigrationJob) {
	if err := s.configService.SetEntry(ctx, job.TenantID, dataSourceKey, job.DestinationPath); err != nil {
		s.logger.Warn("failed to record data source override",
			zap.String("tenant_id", job.TenantID),
			zap.Error(err))
	}
}

// startAndWaitHealthy starts the tenant container and waits for it to report
// healthy.
func (s *MigrationService) startAndWaitHealthy(ctx context.Context, tenantID string) error {
	state, err := s.registry.ResolveContainer(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := s.runtime.Start(ctx, state.Ref); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	if err := s.runtime.WaitHealthy(ctx, state.Ref); err != nil {
		return fmt.Errorf("container did not report healthy: %w", err)
	}
	return nil
}

// latestRollbackable finds the most recent migration whose backup can be
// restored.
func (s *MigrationService) latestRollbackable(ctx context.Context, tenantID string) (*model.MigrationJob, error) {
	jobs, err := s.stateStore.ListMigrations(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	for _, job := range jobs {
		if job.BackupPath != "" && job.Status != model.MigrationStatusRolledBack {
			return job, nil
		}
	}
	return nil, ErrNoBackup
}

// tenantInFlight reports whether any in-memory migration or rollback is
// currently running for the tenant.
func (s *MigrationService) tenantInFlight(tenantID string) bool {
	inFlight := false
	s.activeMigrations.Range(func(_, value interface{}) bool {
		mctx := value.(*migrationContext)
		if mctx.Job.TenantID == tenantID {
			inFlight = true
			return false
		}
		return true
	})
	return inFlight
}
