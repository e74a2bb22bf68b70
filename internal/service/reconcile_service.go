package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/client"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/lock"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/metrics"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/storage"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/store"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/variant"
)

// ReconcileService converges a tenant's visual assets to the variant set
// derived from its stored AssetSource. Safe to invoke concurrently across
// tenants; runs for the same tenant are serialized by the shared per-tenant
// lock.
type ReconcileService struct {
	stateStore   store.StateStore
	applyCache   store.ApplyCache
	runtime      client.Runtime
	registry     *RegistryService
	topology     *TopologyService
	generator    *variant.Generator
	locks        *lock.KeyedMutex
	metrics      *metrics.Metrics
	cacheTTL     time.Duration
	applyTimeout time.Duration
	injectDirs   []string
	logger       *zap.Logger
}

// NewReconcileService creates a new reconcile service
func NewReconcileService(
	stateStore store.StateStore,
	applyCache store.ApplyCache,
	runtime client.Runtime,
	registry *RegistryService,
	topology *TopologyService,
	generator *variant.Generator,
	locks *lock.KeyedMutex,
	metrics *metrics.Metrics,
	cacheTTL time.Duration,
	applyTimeout time.Duration,
	injectDirs []string,
	logger *zap.Logger,
) *ReconcileService {
	return &ReconcileService{
		stateStore:   stateStore,
		applyCache:   applyCache,
		runtime:      runtime,
		registry:     registry,
		topology:     topology,
		generator:    generator,
		locks:        locks,
		metrics:      metrics,
		cacheTTL:     cacheTTL,
		applyTimeout: applyTimeout,
		injectDirs:   injectDirs,
		logger:       logger,
	}
}

// Reconcile runs one reconciliation for the job's tenant and records metrics
// and a terminal log line for the outcome.
func (s *ReconcileService) Reconcile(ctx context.Context, job *model.ReconciliationJob) (*model.ReconciliationResult, error) {
	start := time.Now()

	result, err := s.reconcile(ctx, job)

	outcome := string(model.ReconciliationStatusFailed)
	if result != nil {
		result.Duration = time.Since(start)
		outcome = string(result.Status)
	}
	s.metrics.RecordReconciliation(outcome, string(job.Trigger), time.Since(start))

	if err != nil {
		s.logger.Error("reconciliation failed",
			zap.String("job_id", job.JobID),
			zap.String("tenant_id", job.TenantID),
			zap.String("trigger", string(job.Trigger)),
			zap.Error(err))
		return nil, err
	}

	s.logResult(job, result)
	return result, nil
}

func (s *ReconcileService) reconcile(ctx context.Context, job *model.ReconciliationJob) (*model.ReconciliationResult, error) {
	tenant, err := s.registry.GetTenant(ctx, job.TenantID)
	if err != nil {
		return nil, err
	}

	source, err := s.stateStore.GetAssetSource(ctx, job.TenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.result(job, model.ReconciliationStatusSkipped, "", "", 0, "no asset source configured"), nil
		}
		return nil, fmt.Errorf("failed to load asset source: %w", err)
	}

	desiredHash := variant.DesiredSetHash(s.generator.Catalog(), source.ContentHash)

	// A job carrying an older hash was superseded while queued; the newer
	// source has its own job.
	if job.DesiredHash != "" && job.DesiredHash != desiredHash {
		return s.result(job, model.ReconciliationStatusStale, "", job.DesiredHash, 0, "superseded by newer asset source"), nil
	}

	lockStart := time.Now()
	release, err := s.locks.Acquire(ctx, job.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant lock: %w", err)
	}
	defer release()
	s.metrics.ObserveLockWait(time.Since(lockStart))

	// Re-check after the wait: a newer source may have landed while this job
	// was blocked behind another mutator.
	current, err := s.stateStore.GetAssetSource(ctx, job.TenantID)
	if err == nil && current.ContentHash != source.ContentHash {
		return s.result(job, model.ReconciliationStatusStale, "", desiredHash, 0, "superseded by newer asset source"), nil
	}

	state, err := s.registry.ResolveContainer(ctx, job.TenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotRunning) {
			return s.result(job, model.ReconciliationStatusSkipped, "", desiredHash, 0, "tenant container not running"), nil
		}
		return nil, err
	}

	topo, err := s.topology.Classify(tenant, state)
	if err != nil {
		if errors.Is(err, ErrTenantNotRunning) {
			return s.result(job, model.ReconciliationStatusSkipped, "", desiredHash, 0, "tenant container not running"), nil
		}
		return nil, err
	}

	// Idempotence fast-path: an unchanged desired set needs no variant
	// rendering at all. The cache key includes the container ref, so a
	// recreated container never matches.
	if cached, err := s.applyCache.Get(ctx, job.TenantID, state.Ref); err == nil && cached == desiredHash {
		s.metrics.RecordApplyCacheHit()
		return s.result(job, model.ReconciliationStatusConverged, topo, desiredHash, 0, "already converged"), nil
	}
	s.metrics.RecordApplyCacheMiss()

	variants, err := s.generator.Generate(source.Content)
	if err != nil {
		return nil, err
	}

	applyCtx, cancel := context.WithTimeout(ctx, s.applyTimeout)
	defer cancel()

	var result *model.ReconciliationResult
	switch topo {
	case model.TopologyVolumeMounted:
		result, err = s.applyVolumeMounted(applyCtx, tenant, variants)
	case model.TopologyInjectOnStart:
		result, err = s.applyInjectOnStart(applyCtx, state, variants)
	default:
		return nil, fmt.Errorf("unknown topology %q", topo)
	}
	if err != nil {
		// A failed apply can leave a mix of old and new files behind; the
		// cached hash for this container no longer describes what is there.
		if cerr := s.applyCache.Invalidate(ctx, job.TenantID, state.Ref); cerr != nil {
			s.logger.Warn("failed to invalidate apply cache",
				zap.String("tenant_id", job.TenantID),
				zap.Error(cerr))
		}
		return nil, err
	}

	result.TenantID = tenant.TenantID
	result.Topology = topo
	result.DesiredHash = desiredHash

	if result.Status == model.ReconciliationStatusConverged {
		if err := s.applyCache.Set(ctx, job.TenantID, state.Ref, desiredHash, s.cacheTTL); err != nil {
			s.logger.Warn("failed to record applied hash",
				zap.String("tenant_id", job.TenantID),
				zap.Error(err))
		}
		s.metrics.AddVariantsWritten(result.VariantsWritten)
	}

	return result, nil
}

// applyVolumeMounted stages every variant next to the host asset directory
// and renames them into place, so a reader never observes a truncated file.
func (s *ReconcileService) applyVolumeMounted(ctx context.Context, tenant *model.Tenant, variants map[string][]byte) (*model.ReconciliationResult, error) {
	if err := os.MkdirAll(tenant.AssetPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create asset directory: %w", err)
	}

	if n, err := storage.SweepStaged(tenant.AssetPath); err != nil {
		s.logger.Warn("failed to sweep stale staged files",
			zap.String("tenant_id", tenant.TenantID),
			zap.Error(err))
	} else if n > 0 {
		s.logger.Warn("swept stale staged files from previous run",
			zap.String("tenant_id", tenant.TenantID),
			zap.Int("count", n))
	}

	stager := storage.NewStager(tenant.AssetPath)
	for name, data := range variants {
		if err := stager.Stage(name, data, 0o644); err != nil {
			stager.Abort()
			return nil, fmt.Errorf("failed to stage variant %s: %w", name, err)
		}
	}

	if err := ctx.Err(); err != nil {
		stager.Abort()
		return nil, err
	}

	renamed, err := stager.Commit()
	if err != nil {
		return nil, fmt.Errorf("%w: %d of %d variants in place: %v",
			ErrPartialWriteAborted, renamed, len(variants), err)
	}

	s.removeExtraneous(tenant)

	return &model.ReconciliationResult{
		Status:          model.ReconciliationStatusConverged,
		VariantsWritten: renamed,
		Message:         "variants written to host asset directory",
	}, nil
}

// applyInjectOnStart copies the variant set into the container's static
// locations and restarts it so the application picks the assets up. A failed
// restart downgrades the outcome to Degraded: the copy itself succeeded and
// any later restart makes it visible.
func (s *ReconcileService) applyInjectOnStart(ctx context.Context, state *client.ContainerState, variants map[string][]byte) (*model.ReconciliationResult, error) {
	archive, err := client.TarArchive(variants)
	if err != nil {
		return nil, err
	}

	for _, dir := range s.injectDirs {
		if _, err := archive.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to rewind archive: %w", err)
		}
		if err := s.runtime.CopyTo(ctx, state.Ref, dir, archive); err != nil {
			return nil, fmt.Errorf("failed to inject variants into %s: %w", dir, err)
		}
	}

	if err := s.runtime.Restart(ctx, state.Ref); err != nil {
		s.logger.Warn("restart after inject failed; assets copied but not yet visible",
			zap.String("container", state.Name),
			zap.Error(err))
		return &model.ReconciliationResult{
			Status:          model.ReconciliationStatusDegraded,
			VariantsWritten: len(variants),
			Message:         "variants copied; container restart failed",
		}, nil
	}

	if err := s.runtime.WaitHealthy(ctx, state.Ref); err != nil {
		s.logger.Warn("container not healthy after inject restart",
			zap.String("container", state.Name),
			zap.Error(err))
		return &model.ReconciliationResult{
			Status:          model.ReconciliationStatusDegraded,
			VariantsWritten: len(variants),
			Message:         "variants copied; container not healthy after restart",
		}, nil
	}

	return &model.ReconciliationResult{
		Status:          model.ReconciliationStatusConverged,
		VariantsWritten: len(variants),
		Message:         "variants injected and container restarted",
	}, nil
}

// removeExtraneous deletes files in the asset directory that are not part of
// the catalog; the directory holds exactly the desired set.
func (s *ReconcileService) removeExtraneous(tenant *model.Tenant) {
	entries, err := os.ReadDir(tenant.AssetPath)
	if err != nil {
		return
	}

	desired := make(map[string]bool)
	for _, name := range s.generator.Catalog().Names() {
		desired[name] = true
	}

	for _, entry := range entries {
		if entry.IsDir() || desired[entry.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(tenant.AssetPath, entry.Name())); err != nil {
			s.logger.Warn("failed to remove extraneous asset file",
				zap.String("tenant_id", tenant.TenantID),
				zap.String("name", entry.Name()),
				zap.Error(err))
		}
	}
}

func (s *ReconcileService) result(job *model.ReconciliationJob, status model.ReconciliationStatus, topo model.Topology, desiredHash string, written int, message string) *model.ReconciliationResult {
	return &model.ReconciliationResult{
		TenantID:        job.TenantID,
		Status:          status,
		Topology:        topo,
		DesiredHash:     desiredHash,
		VariantsWritten: written,
		Message:         message,
	}
}

func (s *ReconcileService) logResult(job *model.ReconciliationJob, result *model.ReconciliationResult) {
	fields := []zap.Field{
		zap.String("job_id", job.JobID),
		zap.String("tenant_id", result.TenantID),
		zap.String("status", string(result.Status)),
		zap.String("trigger", string(job.Trigger)),
		zap.String("topology", string(result.Topology)),
		zap.Int("variants_written", result.VariantsWritten),
		zap.Duration("duration", result.Duration),
		zap.String("cause", result.Message),
	}

	if result.Status == model.ReconciliationStatusDegraded {
		s.logger.Warn("reconciliation degraded", fields...)
		return
	}
	s.logger.Info("reconciliation finished", fields...)
}
