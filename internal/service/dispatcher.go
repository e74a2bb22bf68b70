package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/metrics"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
)

// Dispatcher fans reconciliation jobs out to a bounded worker pool. Enqueue
// never blocks the caller: when the queue is full the job is dropped and
// counted, and the tenant is picked up again on its next qualifying runtime
// event.
type Dispatcher struct {
	reconciler *ReconcileService
	metrics    *metrics.Metrics
	queue      chan *model.ReconciliationJob
	workers    int
	logger     *zap.Logger
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopChan   chan struct{}
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(reconciler *ReconcileService, metrics *metrics.Metrics, queueSize, workers int, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 4
	}

	return &Dispatcher{
		reconciler: reconciler,
		metrics:    metrics,
		queue:      make(chan *model.ReconciliationJob, queueSize),
		workers:    workers,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	d.logger.Info("reconcile dispatcher started",
		zap.Int("workers", d.workers),
		zap.Int("queue_size", cap(d.queue)))
}

// Enqueue offers a job to the queue without blocking. It returns false when
// the job was dropped because the queue is full or the dispatcher stopped.
func (d *Dispatcher) Enqueue(job *model.ReconciliationJob) bool {
	select {
	case <-d.stopChan:
		return false
	case d.queue <- job:
		d.metrics.SetReconcileQueueDepth(len(d.queue))
		return true
	default:
		d.metrics.RecordReconcileQueueDrop()
		d.logger.Warn("reconcile queue full, dropping job",
			zap.String("job_id", job.JobID),
			zap.String("tenant_id", job.TenantID),
			zap.String("trigger", string(job.Trigger)))
		return false
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	d.logger.Debug("dispatcher worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-d.stopChan:
			d.logger.Debug("dispatcher worker stopping", zap.Int("worker_id", id))
			return
		case <-ctx.Done():
			return
		case job := <-d.queue:
			d.metrics.SetReconcileQueueDepth(len(d.queue))
			d.run(ctx, job)
		}
	}
}

// run executes one job with panic recovery. Reconcile logs and counts its own
// outcome, so failures are terminal here.
func (d *Dispatcher) run(ctx context.Context, job *model.ReconciliationJob) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("reconciliation panicked",
				zap.String("job_id", job.JobID),
				zap.String("tenant_id", job.TenantID),
				zap.Any("panic", r))
		}
	}()

	_, _ = d.reconciler.Reconcile(ctx, job)
}

// Stop drains the workers, waiting up to timeout for in-flight jobs to
// finish. Queued jobs that never ran are dropped.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	var err error
	d.stopOnce.Do(func() {
		close(d.stopChan)

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.logger.Info("reconcile dispatcher stopped")
		case <-time.After(timeout):
			err = fmt.Errorf("dispatcher stop timeout after %v", timeout)
			d.logger.Warn("dispatcher stop timeout", zap.Duration("timeout", timeout))
		}
	})
	return err
}
