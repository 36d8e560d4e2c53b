package migrasi

import (
	"context"
	"fmt"
	"strings"
)

// PostgresDialect serves PostgreSQL, where DDL is transactional.
type PostgresDialect struct{}

func (PostgresDialect) Platform() Platform {
	return PlatformPostgreSQL
}

func (PostgresDialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (PostgresDialect) TransactionalDDL() bool {
	return true
}

func (PostgresDialect) CreateLedgerTableSQL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version VARCHAR(14) PRIMARY KEY NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`, table)
}

func (PostgresDialect) CreateLockTableSQL(string) string {
	return ""
}

// ForeignKeyChecksSQL switches trigger-based constraint enforcement off for the
// session; it requires a superuser or replication role.
func (PostgresDialect) ForeignKeyChecksSQL(enabled bool) string {
	if enabled {
		return "SET session_replication_role = DEFAULT"
	}
	return "SET session_replication_role = replica"
}

// Lock takes a session-level advisory lock keyed by a hash of the lock name.
func (PostgresDialect) Lock(ctx context.Context, q Queryer, spec LockSpec) (func() error, error) {
	lockID := hashLockKey(spec.Name)

	err := pollLock(ctx, spec.Timeout, func() (bool, error) {
		var acquired bool
		if err := q.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired); err != nil {
			return false, fmt.Errorf("pg_try_advisory_lock(%d): %w", lockID, err)
		}
		return acquired, nil
	})
	if err != nil {
		return nil, err
	}

	return func() error {
		_, err := q.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
		return err
	}, nil
}

// CleanDatabase drops all tables in the current schema.
func (PostgresDialect) CleanDatabase(ctx context.Context, q Queryer) error {
	rows, err := q.QueryContext(ctx, `
		SELECT tablename
		FROM pg_tables
		WHERE schemaname = current_schema();
	`)
	if err != nil {
		return fmt.Errorf("query table names: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, fmt.Sprintf(`"%s"`, strings.ReplaceAll(table, `"`, `""`)))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read table names: %w", err)
	}

	if len(tables) == 0 {
		return nil
	}

	query := fmt.Sprintf(`DROP TABLE IF EXISTS %s CASCADE;`, strings.Join(tables, ", "))
	if _, err := q.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	return nil
}
