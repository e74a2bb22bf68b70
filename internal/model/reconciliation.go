package model

import "time"

// ReconciliationStatus represents the status of a reconciliation job
type ReconciliationStatus string

const (
	// ReconciliationStatusPending indicates the job is queued
	ReconciliationStatusPending ReconciliationStatus = "pending"
	// ReconciliationStatusApplying indicates the job holds the tenant lock
	// and is mutating state
	ReconciliationStatusApplying ReconciliationStatus = "applying"
	// ReconciliationStatusConverged indicates actual state matches desired
	// state
	ReconciliationStatusConverged ReconciliationStatus = "converged"
	// ReconciliationStatusDegraded indicates assets were applied but are not
	// yet visible pending a container restart
	ReconciliationStatusDegraded ReconciliationStatus = "degraded"
	// ReconciliationStatusSkipped indicates the tenant was not running;
	// reconciliation is deferred to the next health event
	ReconciliationStatusSkipped ReconciliationStatus = "skipped"
	// ReconciliationStatusStale indicates a newer asset source superseded
	// this job before it performed any writes
	ReconciliationStatusStale ReconciliationStatus = "stale"
	// ReconciliationStatusFailed indicates the job failed
	ReconciliationStatusFailed ReconciliationStatus = "failed"
)

// ReconcileTrigger identifies what enqueued a reconciliation job.
type ReconcileTrigger string

const (
	// ReconcileTriggerEvent marks jobs dispatched by the runtime event watcher
	ReconcileTriggerEvent ReconcileTrigger = "event"
	// ReconcileTriggerOperator marks jobs started by an operator request
	ReconcileTriggerOperator ReconcileTrigger = "operator"
	// ReconcileTriggerResync marks jobs enqueued by the startup sweep
	ReconcileTriggerResync ReconcileTrigger = "resync"
)

// ReconciliationJob is an ephemeral work item. Jobs are not persisted; the
// terminal outcome is logged and counted instead.
type ReconciliationJob struct {
	JobID       string           `json:"job_id"`
	TenantID    string           `json:"tenant_id"`
	DesiredHash string           `json:"desired_asset_set_hash"`
	Trigger     ReconcileTrigger `json:"trigger"`
	EnqueuedAt  time.Time        `json:"enqueued_at"`
}

// ReconciliationResult reports the terminal state of one reconciliation run.
type ReconciliationResult struct {
	TenantID        string               `json:"tenant_id"`
	Status          ReconciliationStatus `json:"status"`
	Topology        Topology             `json:"topology,omitempty"`
	DesiredHash     string               `json:"desired_asset_set_hash"`
	VariantsWritten int                  `json:"variants_written"`
	Message         string               `json:"message,omitempty"`
	Duration        time.Duration        `json:"duration_ns"`
}
