package service

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/client"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/envfile"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/lock"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/metrics"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/store"
)

type migrationTestEnv struct {
	stateStore store.StateStore
	runtime    *MockRuntime
	registry   *RegistryService
	svc        *MigrationService
	tenant     *model.Tenant
	backupRoot string
	destPath   string
}

func newMigrationTestEnv(t *testing.T) *migrationTestEnv {
	t.Helper()

	mockRuntime := new(MockRuntime)
	registry := newTestRegistry(t, mockRuntime, "acme")
	configSvc, err := NewConfigService(registry, zap.NewNop())
	require.NoError(t, err)

	stateStore := store.NewMemoryStateStore(zap.NewNop())
	backupRoot := filepath.Join(t.TempDir(), "backups")
	destPath := filepath.Join(t.TempDir(), "data")

	svc := NewMigrationService(
		stateStore, mockRuntime, registry, configSvc,
		lock.New(), metrics.NewMetrics(),
		backupRoot, 2, 2.0,
		zap.NewNop(),
	)

	tenant, err := registry.GetTenant(context.Background(), "acme")
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(tenant.DataPath, "uploads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tenant.DataPath, "webui.db"), []byte("sqlite payload"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tenant.DataPath, "uploads", "doc.txt"), []byte("hello"), 0o644))

	return &migrationTestEnv{
		stateStore: stateStore,
		runtime:    mockRuntime,
		registry:   registry,
		svc:        svc,
		tenant:     tenant,
		backupRoot: backupRoot,
		destPath:   destPath,
	}
}

func (e *migrationTestEnv) runningState() *client.ContainerState {
	return &client.ContainerState{Ref: "abc123", Name: "openwebui-acme", Running: true, HasHealthcheck: true}
}

func (e *migrationTestEnv) stoppedState() *client.ContainerState {
	return &client.ContainerState{Ref: "abc123", Name: "openwebui-acme", Running: false}
}

func waitTerminal(t *testing.T, env *migrationTestEnv, migrationID string) *model.MigrationJob {
	t.Helper()
	var job *model.MigrationJob
	require.Eventually(t, func() bool {
		j, err := env.svc.GetMigration(context.Background(), migrationID)
		if err != nil {
			return false
		}
		job = j
		return j.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond, "migration should reach a terminal status")
	return job
}

func TestMigrationService_FullMigration(t *testing.T) {
	env := newMigrationTestEnv(t)
	env.runtime.On("FindByName", mock.Anything, "openwebui-acme").Return(env.runningState(), nil)
	env.runtime.On("Stop", mock.Anything, "abc123").Return(nil)
	env.runtime.On("Start", mock.Anything, "abc123").Return(nil)
	env.runtime.On("WaitHealthy", mock.Anything, "abc123").Return(nil)

	job, err := env.svc.StartMigration(context.Background(), "acme", env.destPath)
	require.NoError(t, err)

	final := waitTerminal(t, env, job.MigrationID)
	require.Equal(t, model.MigrationStatusComplete, final.Status, "error: %s", final.ErrorMessage)
	require.NotNil(t, final.CompletedAt)
	require.NotEmpty(t, final.BackupPath)

	// Destination carries the full tree.
	content, err := os.ReadFile(filepath.Join(env.destPath, "webui.db"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite payload", string(content))
	content, err = os.ReadFile(filepath.Join(env.destPath, "uploads", "doc.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	// The old path is now a symlink to the destination.
	info, err := os.Lstat(env.tenant.DataPath)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)
	target, err := os.Readlink(env.tenant.DataPath)
	require.NoError(t, err)
	assert.Equal(t, env.destPath, target)

	// The original data survives as the backup.
	content, err = os.ReadFile(filepath.Join(final.BackupPath, "webui.db"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite payload", string(content))

	// The new location is recorded in the tenant's override config.
	entries, err := envfile.ParseFile(env.registry.EnvFilePath("acme"))
	require.NoError(t, err)
	assert.Equal(t, env.destPath, entries["TENANT_DATA_SOURCE"])

	env.runtime.AssertCalled(t, "Stop", mock.Anything, "abc123")
	env.runtime.AssertCalled(t, "Start", mock.Anything, "abc123")
}

func TestMigrationService_StoppedContainerIsNotRestarted(t *testing.T) {
	env := newMigrationTestEnv(t)
	env.runtime.On("FindByName", mock.Anything, "openwebui-acme").Return(env.stoppedState(), nil)

	job, err := env.svc.StartMigration(context.Background(), "acme", env.destPath)
	require.NoError(t, err)

	final := waitTerminal(t, env, job.MigrationID)
	require.Equal(t, model.MigrationStatusComplete, final.Status, "error: %s", final.ErrorMessage)

	info, err := os.Lstat(env.tenant.DataPath)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)

	env.runtime.AssertNotCalled(t, "Stop", mock.Anything, mock.Anything)
	env.runtime.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestMigrationService_RejectsRelativeDestination(t *testing.T) {
	env := newMigrationTestEnv(t)

	_, err := env.svc.StartMigration(context.Background(), "acme", "relative/path")
	var validationErr *MigrationValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestMigrationService_ConflictWithLedgerActive(t *testing.T) {
	env := newMigrationTestEnv(t)

	require.NoError(t, env.stateStore.CreateMigration(context.Background(), &model.MigrationJob{
		MigrationID:     "mig-1",
		TenantID:        "acme",
		SourcePath:      env.tenant.DataPath,
		DestinationPath: env.destPath,
		Status:          model.MigrationStatusCopying,
		StartedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}))

	_, err := env.svc.StartMigration(context.Background(), "acme", env.destPath)
	assert.ErrorIs(t, err, ErrMigrationConflict)
}

func TestMigrationService_ValidationFails_MissingSource(t *testing.T) {
	env := newMigrationTestEnv(t)
	require.NoError(t, os.RemoveAll(env.tenant.DataPath))

	job, err := env.svc.StartMigration(context.Background(), "acme", env.destPath)
	require.NoError(t, err)

	final := waitTerminal(t, env, job.MigrationID)
	assert.Equal(t, model.MigrationStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "does not exist")
	env.runtime.AssertNotCalled(t, "Stop", mock.Anything, mock.Anything)
}

func TestMigrationService_ValidationFails_SymlinkSource(t *testing.T) {
	env := newMigrationTestEnv(t)

	real := t.TempDir()
	require.NoError(t, os.RemoveAll(env.tenant.DataPath))
	require.NoError(t, os.Symlink(real, env.tenant.DataPath))

	job, err := env.svc.StartMigration(context.Background(), "acme", env.destPath)
	require.NoError(t, err)

	final := waitTerminal(t, env, job.MigrationID)
	assert.Equal(t, model.MigrationStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "symlink")
}

func TestMigrationService_ValidationFails_DestinationNotEmpty(t *testing.T) {
	env := newMigrationTestEnv(t)

	require.NoError(t, os.MkdirAll(env.destPath, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.destPath, "existing.db"), []byte("x"), 0o644))

	job, err := env.svc.StartMigration(context.Background(), "acme", env.destPath)
	require.NoError(t, err)

	final := waitTerminal(t, env, job.MigrationID)
	assert.Equal(t, model.MigrationStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "not empty")

	// The failure happened before any destructive step.
	_, err = os.Stat(filepath.Join(env.tenant.DataPath, "webui.db"))
	assert.NoError(t, err)
}

func TestMigrationService_CopyFailure_SourceIntact(t *testing.T) {
	env := newMigrationTestEnv(t)
	env.runtime.On("FindByName", mock.Anything, "openwebui-acme").Return(env.runningState(), nil)
	env.runtime.On("Stop", mock.Anything, "abc123").Return(nil)
	env.runtime.On("Start", mock.Anything, "abc123").Return(nil)
	env.runtime.On("WaitHealthy", mock.Anything, "abc123").Return(nil)

	// A fifo in the source tree cannot be copied and fails the copy phase.
	require.NoError(t, syscall.Mkfifo(filepath.Join(env.tenant.DataPath, "pipe"), 0o600))

	job, err := env.svc.StartMigration(context.Background(), "acme", env.destPath)
	require.NoError(t, err)

	final := waitTerminal(t, env, job.MigrationID)
	assert.Equal(t, model.MigrationStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "copy failed")

	// The source is still a real directory with its original content.
	info, err := os.Lstat(env.tenant.DataPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	content, err := os.ReadFile(filepath.Join(env.tenant.DataPath, "webui.db"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite payload", string(content))

	// The container stopped for the copy was brought back on the old data.
	env.runtime.AssertCalled(t, "Start", mock.Anything, "abc123")
}

func TestMigrationService_Rollback(t *testing.T) {
	env := newMigrationTestEnv(t)
	env.runtime.On("FindByName", mock.Anything, "openwebui-acme").Return(env.runningState(), nil)
	env.runtime.On("Stop", mock.Anything, "abc123").Return(nil)
	env.runtime.On("Start", mock.Anything, "abc123").Return(nil)
	env.runtime.On("WaitHealthy", mock.Anything, "abc123").Return(nil)

	job, err := env.svc.StartMigration(context.Background(), "acme", env.destPath)
	require.NoError(t, err)
	final := waitTerminal(t, env, job.MigrationID)
	require.Equal(t, model.MigrationStatusComplete, final.Status, "error: %s", final.ErrorMessage)

	rolled, err := env.svc.Rollback(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, job.MigrationID, rolled.MigrationID)

	require.Eventually(t, func() bool {
		j, getErr := env.svc.GetMigration(context.Background(), job.MigrationID)
		return getErr == nil && j.Status == model.MigrationStatusRolledBack
	}, 5*time.Second, 10*time.Millisecond)

	// The source is a real directory again with the original data.
	info, err := os.Lstat(env.tenant.DataPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Zero(t, info.Mode()&os.ModeSymlink)
	content, err := os.ReadFile(filepath.Join(env.tenant.DataPath, "webui.db"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite payload", string(content))

	// The backup directory was consumed by the restore.
	_, err = os.Stat(final.BackupPath)
	assert.True(t, os.IsNotExist(err))

	// The data source override is gone.
	entries, err := envfile.ParseFile(env.registry.EnvFilePath("acme"))
	require.NoError(t, err)
	assert.NotContains(t, entries, "TENANT_DATA_SOURCE")
}

func TestMigrationService_Rollback_NoBackup(t *testing.T) {
	env := newMigrationTestEnv(t)

	_, err := env.svc.Rollback(context.Background(), "acme")
	assert.ErrorIs(t, err, ErrNoBackup)
}

func TestMigrationService_PurgeBackup(t *testing.T) {
	env := newMigrationTestEnv(t)
	env.runtime.On("FindByName", mock.Anything, "openwebui-acme").Return(env.runningState(), nil)
	env.runtime.On("Stop", mock.Anything, "abc123").Return(nil)
	env.runtime.On("Start", mock.Anything, "abc123").Return(nil)
	env.runtime.On("WaitHealthy", mock.Anything, "abc123").Return(nil)

	job, err := env.svc.StartMigration(context.Background(), "acme", env.destPath)
	require.NoError(t, err)
	final := waitTerminal(t, env, job.MigrationID)
	require.Equal(t, model.MigrationStatusComplete, final.Status)

	require.NoError(t, env.svc.PurgeBackup(context.Background(), job.MigrationID))

	_, err = os.Stat(final.BackupPath)
	assert.True(t, os.IsNotExist(err))

	updated, err := env.svc.GetMigration(context.Background(), job.MigrationID)
	require.NoError(t, err)
	assert.Empty(t, updated.BackupPath)

	// A second purge has nothing left to delete.
	assert.ErrorIs(t, env.svc.PurgeBackup(context.Background(), job.MigrationID), ErrNoBackup)
}

func TestMigrationService_PurgeBackup_Guards(t *testing.T) {
	env := newMigrationTestEnv(t)
	ctx := context.Background()

	err := env.svc.PurgeBackup(ctx, "no-such-migration")
	assert.ErrorIs(t, err, ErrMigrationNotFound)

	require.NoError(t, env.stateStore.CreateMigration(ctx, &model.MigrationJob{
		MigrationID: "mig-active",
		TenantID:    "acme",
		Status:      model.MigrationStatusCopying,
		StartedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}))
	assert.ErrorIs(t, env.svc.PurgeBackup(ctx, "mig-active"), ErrMigrationConflict)
}

func TestMigrationService_ResumeIncomplete_FinishesLink(t *testing.T) {
	env := newMigrationTestEnv(t)
	ctx := context.Background()

	// Reconstruct the crash window: rename done, symlink missing, status
	// still cutting_over in the ledger.
	backupPath := filepath.Join(env.backupRoot, "acme-20240101T000000Z")
	require.NoError(t, os.MkdirAll(env.backupRoot, 0o700))
	require.NoError(t, os.MkdirAll(env.destPath, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.destPath, "webui.db"), []byte("sqlite payload"), 0o644))
	require.NoError(t, os.Rename(env.tenant.DataPath, backupPath))

	require.NoError(t, env.stateStore.CreateMigration(ctx, &model.MigrationJob{
		MigrationID:     "mig-crashed",
		TenantID:        "acme",
		SourcePath:      env.tenant.DataPath,
		DestinationPath: env.destPath,
		BackupPath:      backupPath,
		Status:          model.MigrationStatusCuttingOver,
		StartedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}))

	env.runtime.On("FindByName", mock.Anything, "openwebui-acme").Return(env.runningState(), nil)
	env.runtime.On("Start", mock.Anything, "abc123").Return(nil)
	env.runtime.On("WaitHealthy", mock.Anything, "abc123").Return(nil)

	require.NoError(t, env.svc.ResumeIncomplete(ctx))

	recovered, err := env.svc.GetMigration(ctx, "mig-crashed")
	require.NoError(t, err)
	assert.Equal(t, model.MigrationStatusComplete, recovered.Status)

	target, err := os.Readlink(env.tenant.DataPath)
	require.NoError(t, err)
	assert.Equal(t, env.destPath, target)
}

func TestMigrationService_ResumeIncomplete_BeforeRename(t *testing.T) {
	env := newMigrationTestEnv(t)
	ctx := context.Background()

	// Crash happened after persisting cutting_over but before the rename:
	// the source directory is still real.
	require.NoError(t, env.stateStore.CreateMigration(ctx, &model.MigrationJob{
		MigrationID:     "mig-crashed",
		TenantID:        "acme",
		SourcePath:      env.tenant.DataPath,
		DestinationPath: env.destPath,
		BackupPath:      filepath.Join(env.backupRoot, "acme-20240101T000000Z"),
		Status:          model.MigrationStatusCuttingOver,
		StartedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}))

	require.NoError(t, env.svc.ResumeIncomplete(ctx))

	recovered, err := env.svc.GetMigration(ctx, "mig-crashed")
	require.NoError(t, err)
	assert.Equal(t, model.MigrationStatusFailed, recovered.Status)
	assert.Contains(t, recovered.ErrorMessage, "source data intact")

	// The real directory was not touched.
	info, statErr := os.Lstat(env.tenant.DataPath)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
	_, statErr = os.Stat(filepath.Join(env.tenant.DataPath, "webui.db"))
	assert.NoError(t, statErr)
}

func TestMigrationService_SecondMigrationAfterCutoverFails(t *testing.T) {
	env := newMigrationTestEnv(t)
	env.runtime.On("FindByName", mock.Anything, "openwebui-acme").Return(env.stoppedState(), nil)

	job, err := env.svc.StartMigration(context.Background(), "acme", env.destPath)
	require.NoError(t, err)
	final := waitTerminal(t, env, job.MigrationID)
	require.Equal(t, model.MigrationStatusComplete, final.Status)

	second, err := env.svc.StartMigration(context.Background(), "acme", filepath.Join(t.TempDir(), "data2"))
	require.NoError(t, err)
	finalSecond := waitTerminal(t, env, second.MigrationID)
	assert.Equal(t, model.MigrationStatusFailed, finalSecond.Status)
	assert.Contains(t, finalSecond.ErrorMessage, "symlink")
}

func TestMigrationService_ListMigrations(t *testing.T) {
	env := newMigrationTestEnv(t)
	env.runtime.On("FindByName", mock.Anything, "openwebui-acme").Return(env.stoppedState(), nil)

	job, err := env.svc.StartMigration(context.Background(), "acme", env.destPath)
	require.NoError(t, err)
	waitTerminal(t, env, job.MigrationID)

	jobs, err := env.svc.ListMigrations(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.MigrationID, jobs[0].MigrationID)

	_, err = env.svc.ListMigrations(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestMigrationService_GetMigration_NotFound(t *testing.T) {
	env := newMigrationTestEnv(t)

	_, err := env.svc.GetMigration(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrMigrationNotFound)
}

func TestMigrationService_RollbackConflictsWithActive(t *testing.T) {
	env := newMigrationTestEnv(t)

	require.NoError(t, env.stateStore.CreateMigration(context.Background(), &model.MigrationJob{
		MigrationID: "mig-busy",
		TenantID:    "acme",
		Status:      model.MigrationStatusVerifying,
		StartedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}))

	_, err := env.svc.Rollback(context.Background(), "acme")
	assert.ErrorIs(t, err, ErrMigrationConflict)
}
