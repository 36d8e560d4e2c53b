package migrasi

import (
	"database/sql"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

const versionLayout = "20060102150405"

var versionPattern = regexp.MustCompile(`^\d{14}$`)

// Version identifies a migration by the timestamp it was authored at,
// formatted as YYYYMMDDHHMMSS. Fixed width makes lexicographic order equal to
// chronological order.
type Version string

// VersionZero is the target that rolls back every applied migration.
const VersionZero Version = ""

// ParseVersion validates s as a version identifier.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if !versionPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	if _, err := time.Parse(versionLayout, s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	return Version(s), nil
}

// NewVersion formats t as a version identifier.
func NewVersion(t time.Time) Version {
	return Version(t.UTC().Format(versionLayout))
}

// Time returns the timestamp encoded in the version.
func (v Version) Time() (time.Time, error) {
	return time.Parse(versionLayout, string(v))
}

func (v Version) String() string {
	return string(v)
}

// Platform names a database engine family.
type Platform string

const (
	// PlatformAny keys the generic handlers of a migration.
	PlatformAny        Platform = ""
	PlatformMySQL      Platform = "mysql"
	PlatformSQLite     Platform = "sqlite"
	PlatformPostgreSQL Platform = "postgresql"
)

// ParsePlatform maps a platform or driver name to a Platform.
func ParsePlatform(name string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb":
		return PlatformMySQL, nil
	case "sqlite", "sqlite3":
		return PlatformSQLite, nil
	case "postgresql", "postgres", "pgx", "pq":
		return PlatformPostgreSQL, nil
	}
	return "", &UnsupportedPlatformError{Platform: Platform(name)}
}

func (p Platform) String() string {
	if p == PlatformAny {
		return "generic"
	}
	return string(p)
}

// Direction is either up or down.
type Direction int

const (
	Up Direction = iota
	Down
)

func (d Direction) String() string {
	if d == Down {
		return "down"
	}
	return "up"
}

// State is the runner's position in a migrate invocation.
type State int

const (
	StateIdle State = iota
	StatePlanningUp
	StatePlanningDown
	StateExecuting
	StateHalted
)

func (s State) String() string {
	switch s {
	case StatePlanningUp:
		return "planning-up"
	case StatePlanningDown:
		return "planning-down"
	case StateExecuting:
		return "executing"
	case StateHalted:
		return "halted"
	default:
		return "idle"
	}
}

// LedgerEntry is one applied migration.
type LedgerEntry struct {
	Version   Version   `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
}

// Config configures a Migrasi instance.
type Config struct {
	DB *sql.DB

	// Platform pins the target platform and skips detection.
	Platform Platform

	MigrationFilesDir  string
	MigrationTableName string
	LockName           string
	LockTimeout        time.Duration
	DebugSql           bool

	// LockStaleAfter is how old a table-based lock may get before a new run
	// takes it over. Raise it above the longest expected run.
	LockStaleAfter time.Duration

	// Env is passed to handlers; defaults to the process environment.
	Env Env

	Logger *logrus.Logger

	// Ledger replaces the SQL ledger, mainly for tests.
	Ledger Ledger
}

// Report summarises one migrate invocation.
type Report struct {
	Direction Direction
	Platform  Platform
	Applied   []Version
	Skipped   []Version
	Warnings  []string
}

// MigrationStatus is a registered migration and whether it is applied.
type MigrationStatus struct {
	Version     Version
	Description string
	IsApplied   bool
	AppliedAt   *time.Time
}

type MigrationStatusList []MigrationStatus

// Pending returns the statuses that are not yet applied.
func (m MigrationStatusList) Pending() MigrationStatusList {
	pending := MigrationStatusList{}
	for _, s := range m {
		if !s.IsApplied {
			pending = append(pending, s)
		}
	}
	return pending
}

// Print writes the list to w as a table.
func (m MigrationStatusList) Print(w io.Writer) {
	var tableData [][]string
	tableData = append(tableData, []string{"Version", "Description", "Status", "Applied At"})

	for _, migration := range m {
		appliedAt := "N/A"
		status := "pending"
		if migration.IsApplied {
			status = "applied"
		}
		if migration.AppliedAt != nil {
			appliedAt = migration.AppliedAt.Format(time.RFC3339)
		}
		tableData = append(tableData, []string{
			migration.Version.String(),
			migration.Description,
			status,
			appliedAt,
		})
	}

	printTable(w, tableData, func(row []string) *color.Color {
		if row[2] == "applied" {
			return color.New(color.FgGreen)
		}
		return color.New(color.FgYellow)
	})
}
