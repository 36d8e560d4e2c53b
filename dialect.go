package migrasi

import (
	"context"
	"sync"
	"time"
)

// LockSpec names the advisory lock a run holds.
type LockSpec struct {
	Name    string
	Table   string
	Timeout time.Duration

	// StaleAfter is how old a lock row may get before another run takes it
	// over. Only table-based locks use it; zero never expires a row.
	StaleAfter time.Duration
}

// Dialect defines what the runner needs to know about one platform.
type Dialect interface {
	// Platform returns the platform this dialect serves.
	Platform() Platform

	// Placeholder returns the bind placeholder for the n-th (1-based) parameter.
	Placeholder(n int) string

	// TransactionalDDL reports whether schema changes roll back with a transaction.
	TransactionalDDL() bool

	// CreateLedgerTableSQL creates the ledger table if it does not exist.
	CreateLedgerTableSQL(table string) string

	// CreateLockTableSQL creates the lock table, or returns "" when the
	// platform has native advisory locks.
	CreateLockTableSQL(table string) string

	// ForeignKeyChecksSQL toggles integrity checking for the session.
	ForeignKeyChecksSQL(enabled bool) string

	// Lock takes the named advisory lock on q's session. The returned release
	// function must be called on the same session.
	Lock(ctx context.Context, q Queryer, spec LockSpec) (release func() error, err error)

	// CleanDatabase drops every table in the current database or schema.
	CleanDatabase(ctx context.Context, q Queryer) error
}

var (
	dialectsMu sync.RWMutex
	dialects   = map[Platform]Dialect{}
)

func init() {
	RegisterDialect(MySQLDialect{})
	RegisterDialect(PostgresDialect{})
	RegisterDialect(SQLiteDialect{})
}

// RegisterDialect adds d to the registry, replacing any dialect for the same
// platform.
func RegisterDialect(d Dialect) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	dialects[d.Platform()] = d
}

// DialectFor returns the registered dialect for p.
func DialectFor(p Platform) (Dialect, error) {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	d, ok := dialects[p]
	if !ok {
		return nil, &UnsupportedPlatformError{Platform: p}
	}
	return d, nil
}

const lockPollInterval = 250 * time.Millisecond

// pollLock calls try until it reports the lock taken, the timeout passes or
// ctx is done.
func pollLock(ctx context.Context, timeout time.Duration, try func() (bool, error)) error {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLocked
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// hashLockKey produces a stable int64 from a lock name using FNV-1a.
func hashLockKey(key string) int64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // truncation is intended
}
