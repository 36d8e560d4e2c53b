package migrasi

import (
	"context"
	"database/sql"
	"strings"

	"github.com/sirupsen/logrus"
)

// Queryer is the part of *sql.Conn and *sql.Tx the runner needs.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Executor runs a handler's statements verbatim against one session. It never
// retries: migrations are not idempotent. Once the handler's guard has raised
// a signal, every call returns that signal without touching the database.
type Executor struct {
	q        Queryer
	dialect  Dialect
	guard    *SkipGuard
	log      logrus.FieldLogger
	debugSql bool
}

func newExecutor(q Queryer, dialect Dialect, guard *SkipGuard, log logrus.FieldLogger, debugSql bool) *Executor {
	return &Executor{q: q, dialect: dialect, guard: guard, log: log, debugSql: debugSql}
}

func (e *Executor) stopped(stmt string) error {
	sig := e.guard.Raised()
	if sig == nil {
		return nil
	}
	e.log.WithField("signal", sig.Kind).Debugf("⏭️  not run: %s", abbreviate(stmt, 80))
	return sig
}

// Platform returns the platform the statements run on.
func (e *Executor) Platform() Platform {
	return e.dialect.Platform()
}

// Exec executes one statement with optional bound parameters. Values that
// come from the environment or the operator must be passed as args, never
// spliced into stmt.
func (e *Executor) Exec(ctx context.Context, stmt string, args ...any) error {
	if err := e.stopped(stmt); err != nil {
		return err
	}
	if e.debugSql {
		e.log.WithField("args", len(args)).Debugf("🧾 %s", stmt)
	}

	// A statement already sent runs to completion.
	if _, err := e.q.ExecContext(context.WithoutCancel(ctx), stmt, args...); err != nil {
		return &StatementExecutionError{Statement: stmt, Cause: err}
	}
	return nil
}

// ExecAll executes stmts in order and stops at the first failure.
func (e *Executor) ExecAll(ctx context.Context, stmts ...string) error {
	for _, stmt := range stmts {
		if err := e.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// QueryScalar scans the single value returned by stmt into dest.
func (e *Executor) QueryScalar(ctx context.Context, dest any, stmt string, args ...any) error {
	if err := e.stopped(stmt); err != nil {
		return err
	}
	if e.debugSql {
		e.log.WithField("args", len(args)).Debugf("🔎 %s", stmt)
	}

	if err := e.q.QueryRowContext(context.WithoutCancel(ctx), stmt, args...).Scan(dest); err != nil {
		return &StatementExecutionError{Statement: stmt, Cause: err}
	}
	return nil
}

// QueryStrings returns the first column of every row of stmt.
func (e *Executor) QueryStrings(ctx context.Context, stmt string, args ...any) ([]string, error) {
	if err := e.stopped(stmt); err != nil {
		return nil, err
	}
	rows, err := e.q.QueryContext(context.WithoutCancel(ctx), stmt, args...)
	if err != nil {
		return nil, &StatementExecutionError{Statement: stmt, Cause: err}
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, &StatementExecutionError{Statement: stmt, Cause: err}
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &StatementExecutionError{Statement: stmt, Cause: err}
	}
	return values, nil
}

// ForeignKeyChecks issues the platform statement that toggles integrity
// checking. Callers disable and re-enable around a bounded group themselves.
func (e *Executor) ForeignKeyChecks(ctx context.Context, enabled bool) error {
	stmt := e.dialect.ForeignKeyChecksSQL(enabled)
	if stmt == "" {
		return nil
	}
	return e.Exec(ctx, stmt)
}

// Bind rewrites ? placeholders outside string literals into the platform's
// placeholder style, so one statement serves every platform.
func (e *Executor) Bind(stmt string) string {
	if e.dialect.Placeholder(1) == "?" {
		return stmt
	}

	var b strings.Builder
	n := 0
	inQuote := false
	for _, r := range stmt {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteString(e.dialect.Placeholder(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
