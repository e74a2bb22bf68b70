package service

import (
	"errors"
	"fmt"
)

// ErrTenantNotFound indicates no tenant with the given ID is deployed on this
// host.
var ErrTenantNotFound = errors.New("tenant not found")

// ErrTenantNotRunning indicates the tenant exists but its container is not
// running, so the requested operation cannot proceed.
var ErrTenantNotRunning = errors.New("tenant container not running")

// ErrPartialWriteAborted indicates an asset apply failed partway through the
// commit phase; the tenant may hold a mixed variant set until the next
// successful reconciliation.
var ErrPartialWriteAborted = errors.New("partial write aborted")

// ErrMigrationNotFound indicates no migration ledger record matches the ID.
var ErrMigrationNotFound = errors.New("migration not found")

// ErrMigrationConflict indicates the tenant already has a migration in a
// non-terminal status.
var ErrMigrationConflict = errors.New("migration already in progress")

// ErrNoBackup indicates the migration holds no backup to act on, either
// because it never reached cutover or the backup was already purged.
var ErrNoBackup = errors.New("migration has no backup")

// MigrationValidationError reports why a migration request failed its
// preflight checks.
type MigrationValidationError struct {
	Reason string
}

func (e *MigrationValidationError) Error() string {
	return fmt.Sprintf("migration validation failed: %s", e.Reason)
}

// MigrationVerificationError reports manifest mismatches found when comparing
// the copied tree against the source.
type MigrationVerificationError struct {
	Mismatches []string
}

func (e *MigrationVerificationError) Error() string {
	if len(e.Mismatches) == 0 {
		return "migration verification failed"
	}
	return fmt.Sprintf("migration verification failed: %d mismatches, first: %s",
		len(e.Mismatches), e.Mismatches[0])
}

// CutoverIncompleteError reports a cutover that stopped partway. The backup
// under BackupPath is intact; Step names the action that failed.
type CutoverIncompleteError struct {
	Step       string
	BackupPath string
	Err        error
}

func (e *CutoverIncompleteError) Error() string {
	return fmt.Sprintf("cutover incomplete at %s (backup preserved at %s): %v",
		e.Step, e.BackupPath, e.Err)
}

func (e *CutoverIncompleteError) Unwrap() error {
	return e.Err
}
