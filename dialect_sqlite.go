package migrasi

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SQLiteDialect serves SQLite. It has no advisory locks, so a run claims a
// named row in a lock table next to the ledger.
type SQLiteDialect struct{}

func (SQLiteDialect) Platform() Platform {
	return PlatformSQLite
}

func (SQLiteDialect) Placeholder(int) string {
	return "?"
}

func (SQLiteDialect) TransactionalDDL() bool {
	return true
}

func (SQLiteDialect) CreateLedgerTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version    TEXT PRIMARY KEY NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, table)
}

func (SQLiteDialect) CreateLockTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		name      TEXT PRIMARY KEY NOT NULL,
		locked_at TIMESTAMP NOT NULL
	)`, table)
}

func (SQLiteDialect) ForeignKeyChecksSQL(enabled bool) string {
	if enabled {
		return "PRAGMA foreign_keys = ON"
	}
	return "PRAGMA foreign_keys = OFF"
}

func (SQLiteDialect) Lock(ctx context.Context, q Queryer, spec LockSpec) (func() error, error) {
	if spec.Table == "" {
		return nil, fmt.Errorf("sqlite lock requires a lock table")
	}

	// locked_at is written by SQLite itself so the stale comparison does not
	// depend on how the driver formats time values.
	staleSQL := fmt.Sprintf(`DELETE FROM %s WHERE name = ? AND locked_at < datetime('now', ?)`, spec.Table)
	insertSQL := fmt.Sprintf(`INSERT INTO %s (name, locked_at) VALUES (?, datetime('now')) ON CONFLICT (name) DO NOTHING`, spec.Table)
	deleteSQL := fmt.Sprintf(`DELETE FROM %s WHERE name = ?`, spec.Table)

	err := pollLock(ctx, spec.Timeout, func() (bool, error) {
		if spec.StaleAfter > 0 {
			age := fmt.Sprintf("-%d seconds", int64(spec.StaleAfter/time.Second))
			if _, err := q.ExecContext(ctx, staleSQL, spec.Name, age); err != nil {
				return false, fmt.Errorf("clear stale lock %s: %w", spec.Name, err)
			}
		}

		res, err := q.ExecContext(ctx, insertSQL, spec.Name)
		if err != nil {
			return false, fmt.Errorf("insert lock %s: %w", spec.Name, err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("insert lock %s: %w", spec.Name, err)
		}
		return inserted == 1, nil
	})
	if err != nil {
		return nil, err
	}

	return func() error {
		_, err := q.ExecContext(context.Background(), deleteSQL, spec.Name)
		return err
	}, nil
}

func (d SQLiteDialect) CleanDatabase(ctx context.Context, q Queryer) error {
	rows, err := q.QueryContext(ctx, `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
	`)
	if err != nil {
		return fmt.Errorf("query table names: %w", err)
	}

	var tables []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			rows.Close()
			return fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("read table names: %w", err)
	}
	rows.Close()

	if len(tables) == 0 {
		return nil
	}

	if _, err := q.ExecContext(ctx, d.ForeignKeyChecksSQL(false)); err != nil {
		return fmt.Errorf("disable foreign keys: %w", err)
	}
	for _, table := range tables {
		query := fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, strings.ReplaceAll(table, `"`, `""`))
		if _, err := q.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("drop table %s: %w", table, err)
		}
	}
	if _, err := q.ExecContext(ctx, d.ForeignKeyChecksSQL(true)); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	return nil
}
