package migrasi

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const envPrefix = "MIGRASI_"

// Settings is the operator-facing configuration of the CLI.
type Settings struct {
	// Driver is the database/sql driver: mysql, postgres, pgx, sqlite3 or sqlite.
	Driver string `yaml:"driver"`

	// DSN, when set, is used verbatim instead of the connection fields.
	DSN string `yaml:"dsn"`

	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Schema   string `yaml:"schema"`
	Charset  string `yaml:"charset"`

	MigrationTableName string        `yaml:"table"`
	MigrationFilesDir  string        `yaml:"dir"`
	LockTimeout        time.Duration `yaml:"lock_timeout"`
	LockStaleAfter     time.Duration `yaml:"lock_stale_after"`
	DebugSql           bool          `yaml:"debug_sql"`
	LogLevel           string        `yaml:"log_level"`
	LogFormat          string        `yaml:"log_format"`
}

// DefaultSettings returns settings for a local SQLite database.
func DefaultSettings() *Settings {
	return &Settings{
		Driver:             "sqlite",
		Database:           "migrasi.db",
		MigrationTableName: DefaultMigrationTableName,
		MigrationFilesDir:  DefaultMigrationFilesDir,
		LockTimeout:        DefaultLockTimeout,
		LockStaleAfter:     DefaultLockStaleAfter,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// LoadSettings reads .env if present, then the YAML file at path if given,
// then MIGRASI_* environment variables, and validates the result.
func LoadSettings(path string) (*Settings, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	settings := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := settings.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return settings, nil
}

func (s *Settings) loadFromEnv() error {
	strs := map[string]*string{
		"DRIVER":     &s.Driver,
		"DSN":        &s.DSN,
		"HOST":       &s.Host,
		"PORT":       &s.Port,
		"USER":       &s.User,
		"PASSWORD":   &s.Password,
		"DATABASE":   &s.Database,
		"SCHEMA":     &s.Schema,
		"CHARSET":    &s.Charset,
		"TABLE":      &s.MigrationTableName,
		"DIR":        &s.MigrationFilesDir,
		"LOG_LEVEL":  &s.LogLevel,
		"LOG_FORMAT": &s.LogFormat,
	}
	for key, dst := range strs {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"LOCK_TIMEOUT":     &s.LockTimeout,
		"LOCK_STALE_AFTER": &s.LockStaleAfter,
	}
	for key, dst := range durations {
		if v := os.Getenv(envPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
			}
			*dst = d
		}
	}
	if v := os.Getenv(envPrefix + "DEBUG_SQL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sDEBUG_SQL: %w", envPrefix, err)
		}
		s.DebugSql = b
	}
	return nil
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if _, err := s.Platform(); err != nil {
		return err
	}
	if s.DSN == "" && s.Database == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if _, err := sanitizeTableName(s.MigrationTableName); err != nil {
		return err
	}
	if s.LockTimeout < 0 {
		return fmt.Errorf("lock timeout cannot be negative")
	}
	if s.LockStaleAfter < 0 {
		return fmt.Errorf("lock stale age cannot be negative")
	}
	return nil
}

// Platform returns the platform served by the configured driver.
func (s *Settings) Platform() (Platform, error) {
	switch s.Driver {
	case "mysql", "postgres", "pgx", "sqlite3", "sqlite":
		return ParsePlatform(s.Driver)
	}
	return "", fmt.Errorf("unsupported driver %q", s.Driver)
}

// DataSourceName builds the DSN for the configured driver.
func (s *Settings) DataSourceName() (string, error) {
	if s.DSN != "" {
		return s.DSN, nil
	}

	switch s.Driver {
	case "mysql":
		charset := s.Charset
		if charset == "" {
			charset = "utf8mb4"
		}
		cfg := mysql.NewConfig()
		cfg.User = s.User
		cfg.Passwd = s.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(orDefault(s.Host, "127.0.0.1"), orDefault(s.Port, "3306"))
		cfg.DBName = s.Database
		cfg.ParseTime = true
		cfg.MultiStatements = true
		cfg.Params = map[string]string{"charset": charset}
		return cfg.FormatDSN(), nil

	case "postgres", "pgx":
		parts := []string{
			"host=" + orDefault(s.Host, "127.0.0.1"),
			"port=" + orDefault(s.Port, "5432"),
			"user=" + s.User,
			"password=" + s.Password,
			"dbname=" + s.Database,
			"sslmode=disable",
		}
		if s.Schema != "" {
			parts = append(parts, "search_path="+s.Schema)
		}
		return strings.Join(parts, " "), nil

	case "sqlite3", "sqlite":
		return s.Database, nil
	}
	return "", fmt.Errorf("unsupported driver %q", s.Driver)
}

// Open connects to the configured database and checks the connection.
func (s *Settings) Open() (*sql.DB, error) {
	dsn, err := s.DataSourceName()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(s.Driver, dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Config turns the settings into a runner Config on db.
func (s *Settings) Config(db *sql.DB) (*Config, error) {
	platform, err := s.Platform()
	if err != nil {
		return nil, err
	}

	logger, err := NewLogger(s.LogLevel, s.LogFormat)
	if err != nil {
		return nil, err
	}
	if s.DebugSql && !logger.IsLevelEnabled(logrus.DebugLevel) {
		logger.SetLevel(logrus.DebugLevel)
	}

	return &Config{
		DB:                 db,
		Platform:           platform,
		MigrationFilesDir:  s.MigrationFilesDir,
		MigrationTableName: s.MigrationTableName,
		LockTimeout:        s.LockTimeout,
		LockStaleAfter:     s.LockStaleAfter,
		DebugSql:           s.DebugSql,
		Logger:             logger,
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
