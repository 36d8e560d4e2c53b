package migrasi

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotProvided          = errors.New("config not provided")
	ErrDatabaseNotProvided        = errors.New("database not provided")
	ErrMigrasiNotProvided         = errors.New("migrasi not provided")
	ErrMigrationDirNotExists      = errors.New("migration directory does not exist")
	ErrMigrationNotProvided       = errors.New("nil migration registered")
	ErrMigrationNameNotProvided   = errors.New("migration name not provided")
	ErrMigrationFileAlreadyExists = errors.New("migration file already exists")
	ErrInvalidVersion             = errors.New("invalid version identifier")
	ErrDuplicateVersion           = errors.New("version registered more than once")
	ErrUnknownTarget              = errors.New("target version is not a registered migration")
	ErrTargetRequired             = errors.New("target version required")
	ErrInvalidRollbackStep        = errors.New("invalid rollback step")
	ErrLedgerGap                  = errors.New("applied migrations do not form a contiguous prefix")
	ErrLocked                     = errors.New("another migration run holds the lock")
)

// UnsupportedPlatformError reports a connection whose platform has no
// registered dialect.
type UnsupportedPlatformError struct {
	Platform Platform
	Driver   string
}

func (e *UnsupportedPlatformError) Error() string {
	switch {
	case e.Platform != "":
		return fmt.Sprintf("unsupported platform %q", string(e.Platform))
	case e.Driver != "":
		return fmt.Sprintf("unsupported platform for driver %s", e.Driver)
	default:
		return "unable to detect database platform"
	}
}

// StatementExecutionError wraps the driver error of a single failed statement.
type StatementExecutionError struct {
	Statement string
	Cause     error
}

func (e *StatementExecutionError) Error() string {
	return fmt.Sprintf("statement failed: %s: %v", abbreviate(e.Statement, 120), e.Cause)
}

func (e *StatementExecutionError) Unwrap() error {
	return e.Cause
}

// NoHandlerError is returned when a migration has neither a platform handler
// nor a generic one for the requested direction.
type NoHandlerError struct {
	Version   Version
	Direction Direction
	Platform  Platform
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("migration %s has no %s handler for platform %s", e.Version, e.Direction, e.Platform)
}

// DuplicateApplicationError is returned by a ledger asked to record a version
// it already holds.
type DuplicateApplicationError struct {
	Version Version
}

func (e *DuplicateApplicationError) Error() string {
	return fmt.Sprintf("migration %s is already recorded as applied", e.Version)
}

// NotAppliedError is returned by a ledger asked to remove a version it does
// not hold.
type NotAppliedError struct {
	Version Version
}

func (e *NotAppliedError) Error() string {
	return fmt.Sprintf("migration %s is not recorded as applied", e.Version)
}

// UnknownVersionError reports a ledger entry with no registered migration.
type UnknownVersionError struct {
	Version Version
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("applied migration %s is not registered", e.Version)
}

// MigrationError is the error a halted run surfaces: which migration failed,
// in which direction, and why.
type MigrationError struct {
	Version   Version
	Direction Direction
	Err       error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s (%s) failed: %v", e.Version, e.Direction, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}
