package migrasi

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockExecutor(t *testing.T, dialect Dialect) (*Executor, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("could not create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger, _ := test.NewNullLogger()
	return newExecutor(db, dialect, &SkipGuard{}, logger, true), mock
}

func TestExecutor_Exec(t *testing.T) {
	exec, mock := newMockExecutor(t, MySQLDialect{})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO api_user (username, token) VALUES (?, ?)")).
		WithArgs("admin", "s3cret").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := exec.Exec(context.Background(), "INSERT INTO api_user (username, token) VALUES (?, ?)", "admin", "s3cret")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_Exec_WrapsDriverError(t *testing.T) {
	exec, mock := newMockExecutor(t, MySQLDialect{})
	driverErr := errors.New("Error 1064: syntax error")

	mock.ExpectExec("CREATE TABLE part").WillReturnError(driverErr)

	err := exec.Exec(context.Background(), "CREATE TABLE part (id INT")

	var stmtErr *StatementExecutionError
	require.True(t, errors.As(err, &stmtErr))
	assert.Equal(t, "CREATE TABLE part (id INT", stmtErr.Statement)
	assert.ErrorIs(t, err, driverErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_Exec_IgnoresCancellation(t *testing.T) {
	exec, mock := newMockExecutor(t, MySQLDialect{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock.ExpectExec("DROP TABLE part").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, exec.Exec(ctx, "DROP TABLE part"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_StopsOnceGuardRaised(t *testing.T) {
	tests := []struct {
		name  string
		raise func(g *SkipGuard)
		kind  SkipKind
	}{
		{"abort", func(g *SkipGuard) { _ = g.AbortIf(true, "stop") }, SkipFatal},
		{"warning", func(g *SkipGuard) { _ = g.WarnIf(true, "skip") }, SkipAdvisory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, mock := newMockExecutor(t, MySQLDialect{})
			tt.raise(exec.guard)

			var sig *SkipSignal
			err := exec.Exec(context.Background(), "CREATE TABLE part (id INT)")
			require.True(t, errors.As(err, &sig))
			assert.Equal(t, tt.kind, sig.Kind)

			var n int
			assert.ErrorAs(t, exec.QueryScalar(context.Background(), &n, "SELECT COUNT(*) FROM part"), &sig)
			_, err = exec.QueryStrings(context.Background(), "SELECT name FROM part")
			assert.ErrorAs(t, err, &sig)
			assert.ErrorAs(t, exec.ForeignKeyChecks(context.Background(), false), &sig)

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestExecutor_ExecAll_StopsAtFirstFailure(t *testing.T) {
	exec, mock := newMockExecutor(t, MySQLDialect{})

	mock.ExpectExec("CREATE TABLE a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE b").WillReturnError(errors.New("exists"))

	err := exec.ExecAll(context.Background(), "CREATE TABLE a (id INT)", "CREATE TABLE b (id INT)", "CREATE TABLE c (id INT)")

	var stmtErr *StatementExecutionError
	require.True(t, errors.As(err, &stmtErr))
	assert.Equal(t, "CREATE TABLE b (id INT)", stmtErr.Statement)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_QueryScalarAndStrings(t *testing.T) {
	exec, mock := newMockExecutor(t, PostgresDialect{})

	mock.ExpectQuery("SELECT version FROM legacy_schema_version").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(26))
	mock.ExpectQuery("SELECT tablename FROM pg_tables").
		WillReturnRows(sqlmock.NewRows([]string{"tablename"}).AddRow("part").AddRow("api_user"))

	var version int
	require.NoError(t, exec.QueryScalar(context.Background(), &version, "SELECT version FROM legacy_schema_version"))
	assert.Equal(t, 26, version)

	tables, err := exec.QueryStrings(context.Background(), "SELECT tablename FROM pg_tables")
	require.NoError(t, err)
	assert.Equal(t, []string{"part", "api_user"}, tables)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_ForeignKeyChecks(t *testing.T) {
	tests := []struct {
		dialect Dialect
		off     string
		on      string
	}{
		{MySQLDialect{}, "SET FOREIGN_KEY_CHECKS = 0", "SET FOREIGN_KEY_CHECKS = 1"},
		{PostgresDialect{}, "SET session_replication_role = replica", "SET session_replication_role = DEFAULT"},
		{SQLiteDialect{}, "PRAGMA foreign_keys = OFF", "PRAGMA foreign_keys = ON"},
	}

	for _, tt := range tests {
		t.Run(tt.dialect.Platform().String(), func(t *testing.T) {
			exec, mock := newMockExecutor(t, tt.dialect)
			mock.ExpectExec(regexp.QuoteMeta(tt.off)).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(regexp.QuoteMeta(tt.on)).WillReturnResult(sqlmock.NewResult(0, 0))

			assert.NoError(t, exec.ForeignKeyChecks(context.Background(), false))
			assert.NoError(t, exec.ForeignKeyChecks(context.Background(), true))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestExecutor_Bind(t *testing.T) {
	pg, _ := newMockExecutor(t, PostgresDialect{})
	my, _ := newMockExecutor(t, MySQLDialect{})

	stmt := `INSERT INTO api_user (username, token) VALUES (?, ?) -- 'why?'`

	assert.Equal(t, `INSERT INTO api_user (username, token) VALUES ($1, $2) -- 'why?'`, pg.Bind(stmt))
	assert.Equal(t, stmt, my.Bind(stmt))
	assert.Equal(t, PlatformPostgreSQL, pg.Platform())
}
