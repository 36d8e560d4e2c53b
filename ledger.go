package migrasi

import (
	"context"
	"fmt"
	"time"
)

// Ledger persists which migrations have been applied.
type Ledger interface {
	// Init creates the ledger storage if it does not exist yet.
	Init(ctx context.Context, q Queryer) error

	// AppliedVersions returns the applied migrations in ascending version order.
	AppliedVersions(ctx context.Context, q Queryer) ([]LedgerEntry, error)

	// RecordApplied adds v. It fails with *DuplicateApplicationError if v is
	// already recorded.
	RecordApplied(ctx context.Context, q Queryer, v Version, appliedAt time.Time) error

	// RecordRolledBack removes v. It fails with *NotAppliedError if v is absent.
	RecordRolledBack(ctx context.Context, q Queryer, v Version) error
}

// SQLLedger keeps the ledger in a table of the migrated database.
type SQLLedger struct {
	dialect Dialect
	table   string
}

// NewSQLLedger returns a ledger stored in table. The table name is validated
// because it is formatted into SQL.
func NewSQLLedger(dialect Dialect, table string) (*SQLLedger, error) {
	if table == "" {
		table = DefaultMigrationTableName
	}
	if _, err := sanitizeTableName(table); err != nil {
		return nil, err
	}
	return &SQLLedger{dialect: dialect, table: table}, nil
}

// Table returns the ledger table name.
func (l *SQLLedger) Table() string {
	return l.table
}

func (l *SQLLedger) Init(ctx context.Context, q Queryer) error {
	if _, err := q.ExecContext(ctx, l.dialect.CreateLedgerTableSQL(l.table)); err != nil {
		return fmt.Errorf("create ledger table %s: %w", l.table, err)
	}
	return nil
}

func (l *SQLLedger) AppliedVersions(ctx context.Context, q Queryer) ([]LedgerEntry, error) {
	query := fmt.Sprintf(`SELECT version, applied_at FROM %s ORDER BY version ASC`, l.table)

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	entries := []LedgerEntry{}
	for rows.Next() {
		var version string
		var appliedAt ledgerTime
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, LedgerEntry{
			Version:   Version(version),
			AppliedAt: time.Time(appliedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	return entries, nil
}

func (l *SQLLedger) RecordApplied(ctx context.Context, q Queryer, v Version, appliedAt time.Time) error {
	exists, err := l.has(ctx, q, v)
	if err != nil {
		return err
	}
	if exists {
		return &DuplicateApplicationError{Version: v}
	}

	query := fmt.Sprintf(`INSERT INTO %s (version, applied_at) VALUES (%s, %s)`,
		l.table, l.dialect.Placeholder(1), l.dialect.Placeholder(2))
	if _, err := q.ExecContext(ctx, query, string(v), appliedAt.UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", v, err)
	}
	return nil
}

func (l *SQLLedger) RecordRolledBack(ctx context.Context, q Queryer, v Version) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE version = %s`, l.table, l.dialect.Placeholder(1))
	res, err := q.ExecContext(ctx, query, string(v))
	if err != nil {
		return fmt.Errorf("remove migration record %s: %w", v, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove migration record %s: %w", v, err)
	}
	if affected == 0 {
		return &NotAppliedError{Version: v}
	}
	return nil
}

func (l *SQLLedger) has(ctx context.Context, q Queryer, v Version) (bool, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE version = %s`, l.table, l.dialect.Placeholder(1))

	var count int
	if err := q.QueryRowContext(ctx, query, string(v)).Scan(&count); err != nil {
		return false, fmt.Errorf("look up migration %s: %w", v, err)
	}
	return count > 0, nil
}

// ledgerTimeLayouts are the text forms drivers return for applied_at when
// they do not parse timestamps themselves, such as MySQL without parseTime.
var ledgerTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
}

// ledgerTime scans applied_at from either a time value or its text form.
type ledgerTime time.Time

func (t *ledgerTime) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case time.Time:
		*t = ledgerTime(v)
		return nil
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return fmt.Errorf("unsupported applied_at type %T", src)
	}

	for _, layout := range ledgerTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			*t = ledgerTime(parsed)
			return nil
		}
	}
	return fmt.Errorf("unrecognised applied_at value %q", raw)
}
