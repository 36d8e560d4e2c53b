package migrasi

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrasi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadSettings_Defaults(t *testing.T) {
	settings, err := LoadSettings("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", settings.Driver)
	assert.Equal(t, "migrasi.db", settings.Database)
	assert.Equal(t, DefaultMigrationTableName, settings.MigrationTableName)
	assert.Equal(t, DefaultLockTimeout, settings.LockTimeout)
	assert.Equal(t, DefaultLockStaleAfter, settings.LockStaleAfter)
}

func TestLoadSettings_FileThenEnv(t *testing.T) {
	path := writeConfigFile(t, `
driver: mysql
host: db.internal
port: "3307"
user: partsdb
password: secret
database: partsdb
table: partsdb_versions
lock_timeout: 45s
lock_stale_after: 2h
debug_sql: true
`)
	t.Setenv("MIGRASI_HOST", "db.override")
	t.Setenv("MIGRASI_LOCK_TIMEOUT", "10s")

	settings, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", settings.Driver)
	assert.Equal(t, "db.override", settings.Host)
	assert.Equal(t, "3307", settings.Port)
	assert.Equal(t, "partsdb_versions", settings.MigrationTableName)
	assert.Equal(t, 10*time.Second, settings.LockTimeout)
	assert.Equal(t, 2*time.Hour, settings.LockStaleAfter)
	assert.True(t, settings.DebugSql)

	dsn, err := settings.DataSourceName()
	require.NoError(t, err)
	assert.Contains(t, dsn, "partsdb:secret@tcp(db.override:3307)/partsdb")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "multiStatements=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestLoadSettings_Invalid(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("MIGRASI_DRIVER", "oracle")
		_, err := LoadSettings("")
		assert.Error(t, err)
	})

	t.Run("bad lock timeout", func(t *testing.T) {
		t.Setenv("MIGRASI_LOCK_TIMEOUT", "soon")
		_, err := LoadSettings("")
		assert.Error(t, err)
	})

	t.Run("bad lock stale age", func(t *testing.T) {
		t.Setenv("MIGRASI_LOCK_STALE_AFTER", "-1h")
		_, err := LoadSettings("")
		assert.Error(t, err)
	})

	t.Run("bad debug flag", func(t *testing.T) {
		t.Setenv("MIGRASI_DEBUG_SQL", "maybe")
		_, err := LoadSettings("")
		assert.Error(t, err)
	})

	t.Run("bad table name", func(t *testing.T) {
		t.Setenv("MIGRASI_TABLE", "drop table;")
		_, err := LoadSettings("")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		_, err := LoadSettings(writeConfigFile(t, "driver: [mysql"))
		assert.Error(t, err)
	})
}

func TestSettings_DataSourceName_Postgres(t *testing.T) {
	settings := DefaultSettings()
	settings.Driver = "pgx"
	settings.User = "partsdb"
	settings.Password = "secret"
	settings.Database = "partsdb"
	settings.Schema = "inventory"

	dsn, err := settings.DataSourceName()
	require.NoError(t, err)
	assert.Equal(t, "host=127.0.0.1 port=5432 user=partsdb password=secret dbname=partsdb sslmode=disable search_path=inventory", dsn)

	platform, err := settings.Platform()
	require.NoError(t, err)
	assert.Equal(t, PlatformPostgreSQL, platform)

	settings.DSN = "postgres://partsdb@db/partsdb"
	dsn, err = settings.DataSourceName()
	require.NoError(t, err)
	assert.Equal(t, "postgres://partsdb@db/partsdb", dsn)
}

func TestSettings_OpenAndConfig(t *testing.T) {
	settings := DefaultSettings()
	settings.Database = filepath.Join(t.TempDir(), "partsdb.db")
	settings.DebugSql = true

	db, err := settings.Open()
	require.NoError(t, err)
	defer db.Close()

	config, err := settings.Config(db)
	require.NoError(t, err)
	assert.Equal(t, PlatformSQLite, config.Platform)
	assert.Equal(t, logrus.DebugLevel, config.Logger.GetLevel())

	m, err := New(config)
	require.NoError(t, err)
	require.NoError(t, m.Register(createTable(v1, "a")))

	_, err = m.MigrateUp(context.Background(), VersionZero)
	require.NoError(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("warn", "json")
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger, err = NewLogger("", "")
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	_, err = NewLogger("loud", "text")
	assert.Error(t, err)

	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}
