package migrasi

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
)

// Detector works out which platform a connection talks to.
type Detector struct{}

// Detect returns the platform of db. It first looks at the driver behind the
// handle, then asks the server. It has no side effects.
func (Detector) Detect(ctx context.Context, db *sql.DB) (Platform, error) {
	if p, ok := platformOfDriver(db.Driver()); ok {
		return checkDialect(p)
	}

	p, err := probePlatform(ctx, db)
	if err != nil {
		return "", err
	}
	return checkDialect(p)
}

func platformOfDriver(d driver.Driver) (Platform, bool) {
	switch d.(type) {
	case *mysql.MySQLDriver, mysql.MySQLDriver:
		return PlatformMySQL, true
	case *pq.Driver, pq.Driver:
		return PlatformPostgreSQL, true
	case *stdlib.Driver:
		return PlatformPostgreSQL, true
	case *sqlite3.SQLiteDriver:
		return PlatformSQLite, true
	case *sqlite.Driver:
		return PlatformSQLite, true
	}
	return "", false
}

// probePlatform identifies the server for drivers it does not know, such as
// wrappers and test doubles.
func probePlatform(ctx context.Context, db *sql.DB) (Platform, error) {
	var version string
	if err := db.QueryRowContext(ctx, `SELECT sqlite_version()`).Scan(&version); err == nil {
		return PlatformSQLite, nil
	}

	if err := db.QueryRowContext(ctx, `SELECT version()`).Scan(&version); err != nil {
		return "", &UnsupportedPlatformError{Driver: fmt.Sprintf("%T", db.Driver())}
	}
	if strings.Contains(strings.ToLower(version), "postgresql") {
		return PlatformPostgreSQL, nil
	}
	return PlatformMySQL, nil
}

func checkDialect(p Platform) (Platform, error) {
	if _, err := DialectFor(p); err != nil {
		return "", err
	}
	return p, nil
}
