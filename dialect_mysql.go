package migrasi

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// MySQLDialect serves MySQL and MariaDB. DDL there commits implicitly, so
// migrations never run inside a transaction.
type MySQLDialect struct{}

func (MySQLDialect) Platform() Platform {
	return PlatformMySQL
}

func (MySQLDialect) Placeholder(int) string {
	return "?"
}

func (MySQLDialect) TransactionalDDL() bool {
	return false
}

func (MySQLDialect) CreateLedgerTableSQL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version VARCHAR(14) PRIMARY KEY NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`, table)
}

func (MySQLDialect) CreateLockTableSQL(string) string {
	return ""
}

func (MySQLDialect) ForeignKeyChecksSQL(enabled bool) string {
	if enabled {
		return "SET FOREIGN_KEY_CHECKS = 1"
	}
	return "SET FOREIGN_KEY_CHECKS = 0"
}

// Lock uses GET_LOCK, which is held by the session until RELEASE_LOCK.
func (MySQLDialect) Lock(ctx context.Context, q Queryer, spec LockSpec) (func() error, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	var acquired sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT GET_LOCK(?, ?)`, spec.Name, int(timeout.Seconds())).Scan(&acquired)
	if err != nil {
		return nil, fmt.Errorf("GET_LOCK(%s): %w", spec.Name, err)
	}
	if !acquired.Valid || acquired.Int64 != 1 {
		return nil, ErrLocked
	}

	return func() error {
		_, err := q.ExecContext(context.Background(), `SELECT RELEASE_LOCK(?)`, spec.Name)
		return err
	}, nil
}

func (d MySQLDialect) CleanDatabase(ctx context.Context, q Queryer) error {
	// Disable foreign key checks to drop tables in any order
	if _, err := q.ExecContext(ctx, d.ForeignKeyChecksSQL(false)); err != nil {
		return fmt.Errorf("failed to disable FK checks: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
	`)
	if err != nil {
		return fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tableNames []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return fmt.Errorf("failed to scan table name: %w", err)
		}
		tableNames = append(tableNames, fmt.Sprintf("`%s`", strings.ReplaceAll(table, "`", "``")))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read table names: %w", err)
	}

	if len(tableNames) > 0 {
		dropSQL := fmt.Sprintf("DROP TABLE %s", strings.Join(tableNames, ", "))
		if _, err := q.ExecContext(ctx, dropSQL); err != nil {
			return fmt.Errorf("failed to drop tables: %w", err)
		}
	}

	if _, err := q.ExecContext(ctx, d.ForeignKeyChecksSQL(true)); err != nil {
		return fmt.Errorf("failed to re-enable FK checks: %w", err)
	}
	return nil
}
