// Package partsdb holds the schema migrations of the parts inventory.
package partsdb

import (
	"context"

	"github.com/ruangdeveloper/migrasi"
)

// AdminTokenEnv names the variable holding the initial API token.
const AdminTokenEnv = "PARTSDB_ADMIN_TOKEN"

// LegacySchemaVersion is the only legacy schema the stock import understands.
const LegacySchemaVersion = 26

// Migrations returns every parts inventory migration.
func Migrations() []*migrasi.Migration {
	return []*migrasi.Migration{
		CreateInventoryTables,
		ImportLegacyStock,
		ConvertToUtf8mb4,
		SeedAdminUser,
		RenamePartComment,
	}
}

var CreateInventoryTables = migrasi.NewMigration("20150608120000", "create inventory tables").
	UpOn(migrasi.PlatformMySQL, migrasi.SQL(
		`CREATE TABLE part_category (
			id INT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL
		) ENGINE = InnoDB`,
		`CREATE TABLE storage_location (
			id INT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE
		) ENGINE = InnoDB`,
		`CREATE TABLE part (
			id INT AUTO_INCREMENT PRIMARY KEY,
			category_id INT NOT NULL,
			storage_location_id INT NULL,
			name VARCHAR(255) NOT NULL,
			comment TEXT NULL,
			stock_level INT NOT NULL DEFAULT 0,
			min_stock_level INT NOT NULL DEFAULT 0,
			CONSTRAINT fk_part_category FOREIGN KEY (category_id) REFERENCES part_category (id),
			CONSTRAINT fk_part_storage FOREIGN KEY (storage_location_id) REFERENCES storage_location (id)
		) ENGINE = InnoDB`,
		`CREATE TABLE api_user (
			id INT AUTO_INCREMENT PRIMARY KEY,
			username VARCHAR(64) NOT NULL UNIQUE,
			token VARCHAR(255) NOT NULL
		) ENGINE = InnoDB`,
	)).
	UpOn(migrasi.PlatformPostgreSQL, migrasi.SQL(
		`CREATE TABLE part_category (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL
		)`,
		`CREATE TABLE storage_location (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE
		)`,
		`CREATE TABLE part (
			id SERIAL PRIMARY KEY,
			category_id INT NOT NULL REFERENCES part_category (id),
			storage_location_id INT NULL REFERENCES storage_location (id),
			name VARCHAR(255) NOT NULL,
			comment TEXT NULL,
			stock_level INT NOT NULL DEFAULT 0,
			min_stock_level INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE api_user (
			id SERIAL PRIMARY KEY,
			username VARCHAR(64) NOT NULL UNIQUE,
			token VARCHAR(255) NOT NULL
		)`,
	)).
	UpOn(migrasi.PlatformSQLite, migrasi.SQL(
		`CREATE TABLE part_category (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name VARCHAR(255) NOT NULL
		)`,
		`CREATE TABLE storage_location (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name VARCHAR(255) NOT NULL UNIQUE
		)`,
		`CREATE TABLE part (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			category_id INTEGER NOT NULL REFERENCES part_category (id),
			storage_location_id INTEGER NULL REFERENCES storage_location (id),
			name VARCHAR(255) NOT NULL,
			comment TEXT NULL,
			stock_level INTEGER NOT NULL DEFAULT 0,
			min_stock_level INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE api_user (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username VARCHAR(64) NOT NULL UNIQUE,
			token VARCHAR(255) NOT NULL
		)`,
	)).
	Down(migrasi.SQL(
		`DROP TABLE api_user`,
		`DROP TABLE part`,
		`DROP TABLE storage_location`,
		`DROP TABLE part_category`,
	))

// ImportLegacyStock copies stock levels from the pre-1.0 schema. It does
// nothing on a fresh install and refuses any legacy schema other than 26.
var ImportLegacyStock = migrasi.NewMigration("20150708120000", "import legacy stock levels").
	Up(func(ctx context.Context, s *migrasi.Scope) error {
		exists, err := tableExists(ctx, s, "legacy_schema_version")
		if err != nil {
			return err
		}
		if err := s.Guard.WarnIf(!exists, "no legacy schema found, nothing to import"); err != nil {
			return err
		}

		var version int
		if err := s.Exec.QueryScalar(ctx, &version, `SELECT version FROM legacy_schema_version`); err != nil {
			return err
		}
		if err := s.Guard.AbortIf(version != LegacySchemaVersion,
			"legacy schema version is %d, expected %d; upgrade the legacy installation first", version, LegacySchemaVersion); err != nil {
			return err
		}

		return s.Exec.ExecAll(ctx,
			`INSERT INTO part_category (name) SELECT DISTINCT category FROM legacy_parts`,
			`INSERT INTO part (category_id, name, stock_level)
				SELECT c.id, l.name, l.stock FROM legacy_parts l JOIN part_category c ON c.name = l.category`,
		)
	}).
	Down(migrasi.Noop)

// ConvertToUtf8mb4 only concerns MySQL, whose utf8 charset cannot store every
// part symbol.
var ConvertToUtf8mb4 = migrasi.NewMigration("20151001180120", "convert tables to utf8mb4").
	UpOn(migrasi.PlatformMySQL, migrasi.SQL(
		`ALTER TABLE part_category CONVERT TO CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci`,
		`ALTER TABLE storage_location CONVERT TO CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci`,
		`ALTER TABLE part CONVERT TO CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci`,
	)).
	DownOn(migrasi.PlatformMySQL, migrasi.Noop).
	Up(func(ctx context.Context, s *migrasi.Scope) error {
		return s.Guard.WarnIf(true, "charset conversion applies to MySQL only")
	}).
	Down(migrasi.Noop)

// SeedAdminUser creates the initial API user from the operator's token.
var SeedAdminUser = migrasi.NewMigration("20160103145302", "seed admin api user").
	Up(func(ctx context.Context, s *migrasi.Scope) error {
		token, ok := s.Env.Lookup(AdminTokenEnv)
		if err := s.Guard.WarnIf(!ok || token == "", "%s is not set, skipping admin user", AdminTokenEnv); err != nil {
			return err
		}
		return s.Exec.Exec(ctx, s.Exec.Bind(`INSERT INTO api_user (username, token) VALUES (?, ?)`), "admin", token)
	}).
	Down(func(ctx context.Context, s *migrasi.Scope) error {
		return s.Exec.Exec(ctx, s.Exec.Bind(`DELETE FROM api_user WHERE username = ?`), "admin")
	})

// RenamePartComment renames a column other tables may reference, with
// integrity checks off. SQLite ignores the pragma inside a transaction.
var RenamePartComment = migrasi.NewMigration("20170601193239", "rename part comment to description").
	WithoutTransaction().
	Up(renameColumn("comment", "description")).
	Down(renameColumn("description", "comment"))

func renameColumn(from, to string) migrasi.Handler {
	return func(ctx context.Context, s *migrasi.Scope) error {
		rename := `ALTER TABLE part RENAME COLUMN ` + from + ` TO ` + to

		// PostgreSQL renames in place without touching constraints.
		if s.Platform == migrasi.PlatformPostgreSQL {
			return s.Exec.Exec(ctx, rename)
		}

		if err := s.Exec.ForeignKeyChecks(ctx, false); err != nil {
			return err
		}
		if err := s.Exec.Exec(ctx, rename); err != nil {
			return err
		}
		return s.Exec.ForeignKeyChecks(ctx, true)
	}
}

func tableExists(ctx context.Context, s *migrasi.Scope, table string) (bool, error) {
	var query string
	switch s.Platform {
	case migrasi.PlatformMySQL:
		query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?`
	case migrasi.PlatformPostgreSQL:
		query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?`
	default:
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	}

	var count int
	if err := s.Exec.QueryScalar(ctx, &count, s.Exec.Bind(query), table); err != nil {
		return false, err
	}
	return count > 0, nil
}
