// Package migrasi applies and rolls back versioned database migrations across
// MySQL/MariaDB, PostgreSQL and SQLite. Each migration carries generic or
// platform-specific handlers; the runner detects the platform, orders pending
// migrations by version, dispatches the right handler and keeps a ledger of
// what has been applied.
package migrasi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultMigrationTableName = "schema_migrations"
	DefaultMigrationFilesDir  = "migrations"
	DefaultLockName           = "migrasi"
	DefaultLockTimeout        = 30 * time.Second
	DefaultLockStaleAfter     = time.Hour
)

// Migrasi is the migration runner.
type Migrasi struct {
	db                *sql.DB
	platform          Platform
	detector          Detector
	ledger            Ledger
	tableName         string
	migrationFilesDir string
	lockName          string
	lockTimeout       time.Duration
	lockStaleAfter    time.Duration
	debugSql          bool
	env               Env
	log               *logrus.Logger

	mu         sync.Mutex
	migrations map[Version]*Migration
	state      State

	// runMu serializes invocations on one instance.
	runMu sync.Mutex
}

// New creates a runner from config, filling in defaults.
func New(config *Config) (*Migrasi, error) {
	if config == nil {
		return nil, ErrConfigNotProvided
	}
	if config.DB == nil {
		return nil, ErrDatabaseNotProvided
	}

	if config.MigrationFilesDir == "" {
		config.MigrationFilesDir = DefaultMigrationFilesDir
	}
	if config.MigrationTableName == "" {
		config.MigrationTableName = DefaultMigrationTableName
	}
	if config.LockName == "" {
		config.LockName = DefaultLockName
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = DefaultLockTimeout
	}
	if config.LockStaleAfter <= 0 {
		config.LockStaleAfter = DefaultLockStaleAfter
	}
	if config.Env == nil {
		config.Env = OSEnv{}
	}
	if config.Logger == nil {
		config.Logger = defaultLogger(config.DebugSql)
	}

	if _, err := sanitizeTableName(config.MigrationTableName); err != nil {
		return nil, fmt.Errorf("invalid migration table name: %w", err)
	}

	if config.Platform != PlatformAny {
		if _, err := DialectFor(config.Platform); err != nil {
			return nil, err
		}
	}

	return &Migrasi{
		db:                config.DB,
		platform:          config.Platform,
		ledger:            config.Ledger,
		tableName:         config.MigrationTableName,
		migrationFilesDir: config.MigrationFilesDir,
		lockName:          config.LockName,
		lockTimeout:       config.LockTimeout,
		lockStaleAfter:    config.LockStaleAfter,
		debugSql:          config.DebugSql,
		env:               config.Env,
		log:               config.Logger,
		migrations:        make(map[Version]*Migration),
	}, nil
}

// Register adds migrations to the registry. Versions must be unique.
func (q *Migrasi) Register(migrations ...*Migration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, migration := range migrations {
		if migration == nil {
			return ErrMigrationNotProvided
		}
		version := migration.Version()
		if _, err := ParseVersion(string(version)); err != nil {
			return err
		}
		if _, exists := q.migrations[version]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateVersion, version)
		}
		q.migrations[version] = migration
	}

	return nil
}

// State returns where the current or last invocation stands.
func (q *Migrasi) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *Migrasi) setState(s State) {
	q.mu.Lock()
	q.state = s
	q.mu.Unlock()
}

func (q *Migrasi) known() []*Migration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return getSortedMigrations(q.migrations)
}

// Create writes a new migration file stamped with the current time.
func (q *Migrasi) Create(fileName string) (string, error) {
	if fileName == "" {
		return "", ErrMigrationNameNotProvided
	}
	if !migrationDirExists(q.migrationFilesDir) {
		return "", fmt.Errorf("%w: %s", ErrMigrationDirNotExists, q.migrationFilesDir)
	}

	migrationName, err := sanitizeMigrationName(fileName)
	if err != nil {
		return "", err
	}

	version := NewVersion(time.Now())
	migrationName = fmt.Sprintf("%s_%s", version, migrationName)
	migrationFileName := fmt.Sprintf("%s/%s.go", strings.TrimRight(q.migrationFilesDir, "/"), migrationName)

	if fileExists(migrationFileName) {
		return "", ErrMigrationFileAlreadyExists
	}

	template, err := migrationFileTemplate(getPackageNameFromMigrationDir(q.migrationFilesDir), migrationName)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(migrationFileName, []byte(template), 0644); err != nil {
		return "", err
	}
	q.log.Infof("migration file created: %s", migrationFileName)

	return migrationFileName, nil
}

// MigrateUp applies pending migrations in ascending version order, up to and
// including target. An empty target means the latest registered version.
func (q *Migrasi) MigrateUp(ctx context.Context, target Version) (*Report, error) {
	return q.run(ctx, Up, func(known []*Migration, applied []LedgerEntry) ([]*Migration, error) {
		return planUp(known, applied, target)
	})
}

// MigrateDown rolls back, newest first, every applied migration with a
// version greater than target. VersionZero rolls back everything.
func (q *Migrasi) MigrateDown(ctx context.Context, target Version) (*Report, error) {
	return q.run(ctx, Down, func(known []*Migration, applied []LedgerEntry) ([]*Migration, error) {
		return planDown(known, applied, target)
	})
}

// Rollback undoes the last step applied migrations.
func (q *Migrasi) Rollback(ctx context.Context, step int) (*Report, error) {
	if step <= 0 {
		return nil, ErrInvalidRollbackStep
	}
	return q.run(ctx, Down, func(known []*Migration, applied []LedgerEntry) ([]*Migration, error) {
		return planDown(known, applied, rollbackTarget(applied, step))
	})
}

// Reset rolls back every applied migration and applies them all again.
func (q *Migrasi) Reset(ctx context.Context) (*Report, error) {
	if _, err := q.MigrateDown(ctx, VersionZero); err != nil {
		return nil, fmt.Errorf("rollback failed during reset: %w", err)
	}

	report, err := q.MigrateUp(ctx, "")
	if err != nil {
		return report, fmt.Errorf("migration failed during reset: %w", err)
	}

	q.log.Info("✅ Migration reset completed successfully")
	return report, nil
}

// Clean drops every table, the ledger included.
func (q *Migrasi) Clean(ctx context.Context) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	q.log.Info("🧹 Cleaning database...")

	s, err := q.open(ctx, false)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.dialect.CleanDatabase(ctx, s.conn); err != nil {
		return fmt.Errorf("failed to clean database: %w", err)
	}

	q.log.Info("✅ Database cleaned successfully")
	return nil
}

// Unlock clears the lock row a killed run left behind. Session-scoped advisory
// locks on MySQL and PostgreSQL end with their connection, so there it only
// logs that nothing needs clearing.
func (q *Migrasi) Unlock(ctx context.Context) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	s, err := q.open(ctx, false)
	if err != nil {
		return err
	}
	defer s.close()

	lockTable, err := q.ensureLockTable(ctx, s.conn, s.dialect)
	if err != nil {
		return err
	}
	if lockTable == "" {
		q.log.Infof("%s locks are released with their session, nothing to clear", s.dialect.Platform())
		return nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE name = %s`, lockTable, s.dialect.Placeholder(1))
	res, err := s.conn.ExecContext(ctx, query, q.lockName)
	if err != nil {
		return fmt.Errorf("clear migration lock: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		q.log.Warnf("🔓 Cleared migration lock %s", q.lockName)
	} else {
		q.log.Infof("migration lock %s was not held", q.lockName)
	}
	return nil
}

// Fresh drops every table and applies all migrations from scratch.
func (q *Migrasi) Fresh(ctx context.Context) (*Report, error) {
	if err := q.Clean(ctx); err != nil {
		return nil, err
	}

	q.log.Info("🚀 Running fresh migrations...")

	report, err := q.MigrateUp(ctx, "")
	if err != nil {
		return report, fmt.Errorf("failed to run migrations after cleaning: %w", err)
	}
	return report, nil
}

// Status lists every registered migration with its ledger state.
func (q *Migrasi) Status(ctx context.Context) (MigrationStatusList, error) {
	s, err := q.open(ctx, false)
	if err != nil {
		return nil, err
	}
	defer s.close()

	applied, err := s.ledger.AppliedVersions(ctx, s.conn)
	if err != nil {
		return nil, err
	}

	appliedAt := make(map[Version]time.Time, len(applied))
	for _, e := range applied {
		appliedAt[e.Version] = e.AppliedAt
	}

	known := q.known()
	list := make(MigrationStatusList, 0, len(known))
	for _, m := range known {
		status := MigrationStatus{
			Version:     m.Version(),
			Description: m.Description(),
		}
		if at, ok := appliedAt[m.Version()]; ok {
			status.IsApplied = true
			status.AppliedAt = &at
		}
		list = append(list, status)
	}

	return list, nil
}

// Pending returns the versions MigrateUp would apply, without applying them.
func (q *Migrasi) Pending(ctx context.Context, target Version) ([]Version, error) {
	s, err := q.open(ctx, false)
	if err != nil {
		return nil, err
	}
	defer s.close()

	applied, err := s.ledger.AppliedVersions(ctx, s.conn)
	if err != nil {
		return nil, err
	}

	plan, err := planUp(q.known(), applied, target)
	if err != nil {
		return nil, err
	}

	versions := make([]Version, 0, len(plan))
	for _, m := range plan {
		versions = append(versions, m.Version())
	}
	return versions, nil
}

type planFunc func(known []*Migration, applied []LedgerEntry) ([]*Migration, error)

func (q *Migrasi) run(ctx context.Context, dir Direction, plan planFunc) (*Report, error) {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	report := &Report{Direction: dir}

	if dir == Down {
		q.setState(StatePlanningDown)
	} else {
		q.setState(StatePlanningUp)
	}

	s, err := q.open(ctx, true)
	if err != nil {
		return report, q.halt(err)
	}
	defer s.close()

	report.Platform = s.dialect.Platform()

	applied, err := s.ledger.AppliedVersions(ctx, s.conn)
	if err != nil {
		return report, q.halt(err)
	}

	migrations, err := plan(q.known(), applied)
	if err != nil {
		return report, q.halt(err)
	}

	if len(migrations) == 0 {
		if dir == Down {
			q.log.Info("✅ No migrations to rollback")
		} else {
			q.log.Info("✅ No migrations to run")
		}
		q.setState(StateIdle)
		return report, nil
	}

	if dir == Down {
		q.log.Infof("🔁 Rolling back %d migration(s)...", len(migrations))
	} else {
		q.log.Infof("🚀 Applying %d migration(s)...", len(migrations))
	}

	q.setState(StateExecuting)

	for _, m := range migrations {
		// Cancellation only takes effect between migrations.
		if err := ctx.Err(); err != nil {
			return report, q.halt(fmt.Errorf("run cancelled before %s: %w", m.Version(), err))
		}

		warnings, err := q.runOne(ctx, s, m, dir)
		if err != nil {
			return report, q.halt(&MigrationError{Version: m.Version(), Direction: dir, Err: err})
		}

		report.Applied = append(report.Applied, m.Version())
		if len(warnings) > 0 {
			report.Skipped = append(report.Skipped, m.Version())
			for _, w := range warnings {
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s", m.Version(), w))
			}
		}
	}

	q.setState(StateIdle)
	return report, nil
}

func (q *Migrasi) halt(err error) error {
	q.setState(StateHalted)
	q.log.WithError(err).Error("❌ Migration run halted")
	return err
}

// runOne executes one migration and updates the ledger. When the platform has
// transactional DDL the handler and the ledger write share a transaction.
func (q *Migrasi) runOne(ctx context.Context, s *session, m *Migration, dir Direction) ([]string, error) {
	platform := s.dialect.Platform()
	entry := q.log.WithFields(logrus.Fields{
		"version":   m.Version().String(),
		"direction": dir.String(),
		"platform":  platform.String(),
	})

	handler, err := m.HandlerFor(dir, platform)
	if err != nil {
		return nil, err
	}

	if dir == Down {
		entry.Infof("🔄 Rolling back: %s %s", m.Version(), m.Description())
	} else {
		entry.Infof("📦 Migrating: %s %s", m.Version(), m.Description())
	}

	execCtx := context.WithoutCancel(ctx)

	var qr Queryer = s.conn
	var tx *sql.Tx
	if m.Transactional() && s.dialect.TransactionalDDL() {
		tx, err = s.conn.BeginTx(execCtx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin transaction: %w", err)
		}
		qr = tx
	}

	fail := func(err error) ([]string, error) {
		if tx != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				entry.WithError(rbErr).Warn("rollback of failed migration transaction failed")
			}
		}
		entry.WithError(err).Errorf("❌ Migration failed: %s", m.Version())
		return nil, err
	}

	guard := &SkipGuard{}
	scope := &Scope{
		Platform: platform,
		Exec:     newExecutor(qr, s.dialect, guard, entry, q.debugSql),
		Guard:    guard,
		Env:      q.env,
		Log:      entry,
	}

	if err := settleHandlerError(handler(execCtx, scope), guard); err != nil {
		return fail(err)
	}

	for _, w := range guard.Warnings() {
		entry.Warnf("⚠️  Skipped: %s", w)
	}

	if dir == Down {
		err = s.ledger.RecordRolledBack(execCtx, qr, m.Version())
	} else {
		err = s.ledger.RecordApplied(execCtx, qr, m.Version(), time.Now())
	}
	if err != nil {
		return fail(err)
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			return fail(fmt.Errorf("commit: %w", err))
		}
	}

	if dir == Down {
		entry.Infof("✅ Rolled back: %s", m.Version())
	} else {
		entry.Infof("✅ Migrated: %s", m.Version())
	}
	return guard.Warnings(), nil
}

// settleHandlerError decides the outcome of a handler. A fatal signal raised
// through the guard wins even if the handler dropped it; an advisory signal
// is success.
func settleHandlerError(err error, guard *SkipGuard) error {
	if fatal := guard.Fatal(); fatal != nil {
		var sig *SkipSignal
		if err == nil || (errors.As(err, &sig) && sig.Advisory()) {
			return fatal
		}
		return err
	}

	var sig *SkipSignal
	if errors.As(err, &sig) && sig.Advisory() {
		return nil
	}
	return err
}

type session struct {
	conn    *sql.Conn
	dialect Dialect
	ledger  Ledger
	release func() error
	log     *logrus.Logger
}

func (s *session) close() {
	if s.release != nil {
		if err := s.release(); err != nil {
			s.log.WithError(err).Warn("failed to release migration lock")
		}
	}
	if err := s.conn.Close(); err != nil {
		s.log.WithError(err).Warn("failed to close migration connection")
	}
}

// open pins one connection for the invocation, bootstraps the ledger and,
// when lock is set, takes the advisory lock on that connection.
func (q *Migrasi) open(ctx context.Context, lock bool) (*session, error) {
	platform := q.platform
	if platform == PlatformAny {
		detected, err := q.detector.Detect(ctx, q.db)
		if err != nil {
			return nil, err
		}
		platform = detected
	}

	dialect, err := DialectFor(platform)
	if err != nil {
		return nil, err
	}

	ledger := q.ledger
	if ledger == nil {
		sqlLedger, err := NewSQLLedger(dialect, q.tableName)
		if err != nil {
			return nil, err
		}
		ledger = sqlLedger
	}

	conn, err := q.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	s := &session{conn: conn, dialect: dialect, ledger: ledger, log: q.log}

	if err := ledger.Init(ctx, conn); err != nil {
		s.close()
		return nil, err
	}

	if lock {
		lockTable, err := q.ensureLockTable(ctx, conn, dialect)
		if err != nil {
			s.close()
			return nil, err
		}

		release, err := dialect.Lock(ctx, conn, LockSpec{
			Name:       q.lockName,
			Table:      lockTable,
			Timeout:    q.lockTimeout,
			StaleAfter: q.lockStaleAfter,
		})
		if err != nil {
			s.close()
			return nil, fmt.Errorf("acquire migration lock: %w", err)
		}
		s.release = release
	}

	return s, nil
}

// ensureLockTable creates the lock table for dialects without native advisory
// locks. It returns "" when the dialect needs none.
func (q *Migrasi) ensureLockTable(ctx context.Context, conn Queryer, dialect Dialect) (string, error) {
	lockTable := q.tableName + "_lock"
	stmt := dialect.CreateLockTableSQL(lockTable)
	if stmt == "" {
		return "", nil
	}
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return "", fmt.Errorf("create lock table %s: %w", lockTable, err)
	}
	return lockTable, nil
}
