package migrasi

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCli(t *testing.T) (*testRunner, *bytes.Buffer, func(args ...string) error) {
	t.Helper()

	r := newTestRunner(t)
	require.NoError(t, r.Register(createTable(v1, "a"), createTable(v2, "b"), createTable(v3, "c")))

	out := &bytes.Buffer{}
	cli, err := NewCli(CliConfig{Migrasi: r.Migrasi, CliName: "partsdb-migrate", Out: out})
	require.NoError(t, err)

	run := func(args ...string) error {
		cmd := cli.Command(context.Background())
		cmd.SetArgs(args)
		return cmd.Execute()
	}
	return r, out, run
}

func TestNewCli_ErrorNilMigrasi(t *testing.T) {
	cli, err := NewCli(CliConfig{})
	assert.Nil(t, cli)
	assert.Equal(t, ErrMigrasiNotProvided, err)
}

func TestCli_Migrate(t *testing.T) {
	r, out, run := newTestCli(t)

	require.NoError(t, run("migrate", "--target", v2))
	assert.Contains(t, out.String(), "applied "+v1)
	assert.Contains(t, out.String(), "applied "+v2)
	assert.Equal(t, []Version{v1, v2}, r.ledger(t))

	out.Reset()
	require.NoError(t, run("pending"))
	assert.Equal(t, v3+"\n", out.String())

	require.NoError(t, run("migrate"))
	assert.Equal(t, []Version{v1, v2, v3}, r.ledger(t))
}

func TestCli_Migrate_InvalidTarget(t *testing.T) {
	_, _, run := newTestCli(t)

	err := run("migrate", "--target", "yesterday")
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestCli_Rollback(t *testing.T) {
	r, out, run := newTestCli(t)
	require.NoError(t, run("migrate"))

	out.Reset()
	require.NoError(t, run("rollback"))
	assert.Contains(t, out.String(), "rolled back "+v3)
	assert.Equal(t, []Version{v1, v2}, r.ledger(t))

	require.NoError(t, run("rollback", "--target", v1))
	assert.Equal(t, []Version{v1}, r.ledger(t))

	require.NoError(t, run("rollback", "--target", "0"))
	assert.Empty(t, r.ledger(t))
}

func TestCli_Rollback_InvalidFlags(t *testing.T) {
	_, _, run := newTestCli(t)

	assert.ErrorIs(t, run("rollback", "--step", "0"), ErrInvalidRollbackStep)
	assert.ErrorIs(t, run("rollback", "--target="), ErrTargetRequired)

	err := run("rollback", "--step", "2", "--target", v1)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "step") && strings.Contains(err.Error(), "target"))
}

func TestCli_FreshResetClean(t *testing.T) {
	r, _, run := newTestCli(t)

	require.NoError(t, run("fresh"))
	assert.Equal(t, []Version{v1, v2, v3}, r.ledger(t))

	require.NoError(t, run("reset"))
	assert.Equal(t, []Version{v1, v2, v3}, r.ledger(t))

	require.NoError(t, run("clean"))
	assert.False(t, r.hasTable(t, "a"))
	assert.False(t, r.hasTable(t, "schema_migrations"))
}

func TestCli_Status(t *testing.T) {
	_, out, run := newTestCli(t)
	require.NoError(t, run("migrate", "--target", v1))

	out.Reset()
	require.NoError(t, run("status"))
	output := out.String()

	assert.Contains(t, output, "create a")
	assert.Contains(t, output, "applied")
	assert.Contains(t, output, "pending")
}

func TestCli_Unlock(t *testing.T) {
	r, _, run := newTestCli(t)

	_, err := r.db.Exec(SQLiteDialect{}.CreateLockTableSQL("schema_migrations_lock"))
	require.NoError(t, err)
	_, err = r.db.Exec(`INSERT INTO schema_migrations_lock (name, locked_at) VALUES (?, datetime('now'))`, DefaultLockName)
	require.NoError(t, err)

	require.NoError(t, run("unlock"))
	require.NoError(t, run("migrate"))
	assert.Equal(t, []Version{v1, v2, v3}, r.ledger(t))

	// clearing a lock nobody holds is fine
	require.NoError(t, run("unlock"))
}

func TestCli_Create(t *testing.T) {
	_, out, run := newTestCli(t)

	require.NoError(t, run("create", "add part barcode"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out.String()), "_add_part_barcode.go"))

	assert.Error(t, run("create"))
}
