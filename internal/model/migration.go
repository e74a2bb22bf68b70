package model

import "time"

// MigrationStatus represents the status of a storage migration
type MigrationStatus string

const (
	// MigrationStatusValidating indicates preconditions are being checked
	MigrationStatusValidating MigrationStatus = "validating"
	// MigrationStatusCopying indicates data is being copied to the
	// destination
	MigrationStatusCopying MigrationStatus = "copying"
	// MigrationStatusVerifying indicates source and destination are being
	// compared
	MigrationStatusVerifying MigrationStatus = "verifying"
	// MigrationStatusCuttingOver indicates the rename-then-link switch is in
	// progress
	MigrationStatusCuttingOver MigrationStatus = "cutting_over"
	// MigrationStatusComplete indicates the migration finished and the
	// tenant reported healthy on the new location
	MigrationStatusComplete MigrationStatus = "complete"
	// MigrationStatusRolledBack indicates the tenant was restored from
	// backup_path
	MigrationStatusRolledBack MigrationStatus = "rolled_back"
	// MigrationStatusFailed indicates the migration failed
	MigrationStatusFailed MigrationStatus = "failed"
)

// MigrationJob represents one attempt to move a tenant's persistent data
// between storage locations. Jobs are durable: cutover recovery after a crash
// and explicit backup purging both need the ledger.
type MigrationJob struct {
	MigrationID     string          `json:"migration_id"`
	TenantID        string          `json:"tenant_id"`
	SourcePath      string          `json:"source_path"`
	DestinationPath string          `json:"destination_path"`
	BackupPath      string          `json:"backup_path,omitempty"`
	Status          MigrationStatus `json:"status"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the job can no longer transition.
func (m *MigrationJob) IsTerminal() bool {
	switch m.Status {
	case MigrationStatusComplete, MigrationStatusRolledBack, MigrationStatusFailed:
		return true
	}
	return false
}
