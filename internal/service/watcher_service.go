package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/client"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/metrics"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/store"
)

// healthyAction is the runtime event emitted when a container's healthcheck
// transitions to healthy.
const healthyAction = "health_status: healthy"

// WatcherService subscribes to container lifecycle events and enqueues
// reconciliation for tenants that come back up. This is what heals the
// inject-on-start topology, whose applied assets die with the container
// filesystem.
type WatcherService struct {
	runtime    client.Runtime
	registry   *RegistryService
	stateStore store.StateStore
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
	backoffMin time.Duration
	backoffMax time.Duration
	logger     *zap.Logger
	stopOnce   sync.Once
	stopChan   chan struct{}
	doneChan   chan struct{}
}

// NewWatcherService creates a new watcher service
func NewWatcherService(
	runtime client.Runtime,
	registry *RegistryService,
	stateStore store.StateStore,
	dispatcher *Dispatcher,
	metrics *metrics.Metrics,
	backoffMin time.Duration,
	backoffMax time.Duration,
	logger *zap.Logger,
) *WatcherService {
	if backoffMin <= 0 {
		backoffMin = time.Second
	}
	if backoffMax < backoffMin {
		backoffMax = 30 * time.Second
	}

	return &WatcherService{
		runtime:    runtime,
		registry:   registry,
		stateStore: stateStore,
		dispatcher: dispatcher,
		metrics:    metrics,
		backoffMin: backoffMin,
		backoffMax: backoffMax,
		logger:     logger,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Start launches the event loop. Call Stop to shut it down.
func (w *WatcherService) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Resync enqueues a reconciliation for every tenant with a stored asset
// source. Events fired while the daemon was down are gone; one sweep before
// the stream takes over catches those tenants up.
func (w *WatcherService) Resync(ctx context.Context) {
	tenants, err := w.registry.ListTenants(ctx)
	if err != nil {
		w.logger.Warn("startup resync skipped", zap.Error(err))
		return
	}

	enqueued := 0
	for _, tenant := range tenants {
		if _, err := w.stateStore.GetAssetSource(ctx, tenant.TenantID); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				w.logger.Warn("failed to check asset source",
					zap.String("tenant_id", tenant.TenantID),
					zap.Error(err))
			}
			continue
		}

		job := &model.ReconciliationJob{
			JobID:      uuid.New().String(),
			TenantID:   tenant.TenantID,
			Trigger:    model.ReconcileTriggerResync,
			EnqueuedAt: time.Now(),
		}
		if w.dispatcher.Enqueue(job) {
			enqueued++
		}
	}

	if enqueued > 0 {
		w.logger.Info("startup resync enqueued reconciliations",
			zap.Int("tenants", enqueued))
	}
}

// Stop terminates the event loop, waiting up to timeout for it to drain.
func (w *WatcherService) Stop(timeout time.Duration) error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopChan)
		select {
		case <-w.doneChan:
			w.logger.Info("event watcher stopped")
		case <-time.After(timeout):
			err = fmt.Errorf("watcher stop timeout after %v", timeout)
		}
	})
	return err
}

// watch resubscribes to the event stream until stopped, backing off
// exponentially on stream errors so a flapping daemon is not hammered.
func (w *WatcherService) watch(ctx context.Context) {
	defer close(w.doneChan)

	backoff := w.backoffMin
	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		streamCtx, cancel := context.WithCancel(ctx)
		events, errs := w.runtime.Events(streamCtx)
		w.logger.Info("watching container events")

		err := w.consume(streamCtx, events, errs, &backoff)
		cancel()
		if err == nil {
			return
		}

		w.metrics.RecordWatcherReconnect()
		w.logger.Warn("event stream interrupted, reconnecting",
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > w.backoffMax {
			backoff = w.backoffMax
		}
	}
}

// consume drains one subscription. A nil return means shutdown; any error
// means the stream broke and the caller should resubscribe.
func (w *WatcherService) consume(ctx context.Context, events <-chan client.Event, errs <-chan error, backoff *time.Duration) error {
	for {
		select {
		case <-w.stopChan:
			return nil
		case <-ctx.Done():
			return nil
		case err := <-errs:
			return err
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("event stream closed")
			}
			// A delivered event proves the stream is healthy again.
			*backoff = w.backoffMin
			w.handleEvent(ctx, ev)
		}
	}
}

func (w *WatcherService) handleEvent(ctx context.Context, ev client.Event) {
	tenantID, ok := w.registry.TenantIDForContainer(ev.Name)
	if !ok {
		return
	}

	qualifies, err := w.qualifies(ctx, ev)
	if err != nil {
		w.logger.Debug("failed to classify event",
			zap.String("container", ev.Name),
			zap.String("action", ev.Action),
			zap.Error(err))
		return
	}
	if !qualifies {
		return
	}

	w.metrics.RecordWatcherEvent(ev.Action)

	// Tenants with no recorded source have nothing to converge.
	if _, err := w.stateStore.GetAssetSource(ctx, tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.logger.Debug("ignoring event for tenant without asset source",
				zap.String("tenant_id", tenantID))
		} else {
			w.logger.Warn("failed to check asset source",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
		}
		return
	}

	job := &model.ReconciliationJob{
		JobID:      uuid.New().String(),
		TenantID:   tenantID,
		Trigger:    model.ReconcileTriggerEvent,
		EnqueuedAt: time.Now(),
	}

	if w.dispatcher.Enqueue(job) {
		w.logger.Debug("enqueued reconciliation",
			zap.String("job_id", job.JobID),
			zap.String("tenant_id", tenantID),
			zap.String("action", ev.Action))
	}
}

// qualifies decides whether an event should trigger reconciliation. Health
// transitions always do. Plain start events only count when the container
// defines no healthcheck, so each restart triggers exactly once.
func (w *WatcherService) qualifies(ctx context.Context, ev client.Event) (bool, error) {
	if ev.Action == healthyAction {
		return true, nil
	}
	if ev.Action != "start" {
		return false, nil
	}

	state, err := w.runtime.Inspect(ctx, ev.ContainerRef)
	if err != nil {
		return false, err
	}
	return !state.HasHealthcheck, nil
}
