package store

import (
	"fmt"
	"strings"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }
func (d *SQLiteDialect) NowExpr() string    { return "datetime('now')" }

func (d *SQLiteDialect) SchemaSQL() []string {
	return sqliteSchemaSQL
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- SQLite DDL ---

var sqliteSchemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS packages (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'active',
    created_at  TEXT DEFAULT (datetime('now'))
)`,
	`CREATE TABLE IF NOT EXISTS package_option_groups (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at  TEXT DEFAULT (datetime('now'))
)`,
	`CREATE TABLE IF NOT EXISTS package_options (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    label       TEXT NOT NULL,
    name        TEXT NOT NULL,
    type        TEXT NOT NULL DEFAULT 'select',
    created_at  TEXT DEFAULT (datetime('now'))
)`,
	`CREATE TABLE IF NOT EXISTS package_option_group (
    option_id       INTEGER NOT NULL,
    option_group_id INTEGER NOT NULL,
    sort_order      INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (option_id, option_group_id)
)`,
	`CREATE TABLE IF NOT EXISTS package_option (
    package_id      INTEGER NOT NULL,
    option_group_id INTEGER NOT NULL,
    PRIMARY KEY (package_id, option_group_id)
)`,
	`CREATE TABLE IF NOT EXISTS package_option_values (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    option_id   INTEGER NOT NULL,
    name        TEXT NOT NULL,
    value       TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'active',
    created_at  TEXT DEFAULT (datetime('now'))
)`,
	`CREATE INDEX IF NOT EXISTS idx_package_option_values_option ON package_option_values (option_id)`,
	`CREATE TABLE IF NOT EXISTS package_option_condition_sets (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    option_group_id INTEGER NOT NULL,
    option_id       INTEGER,
    expression      TEXT,
    created_at      TEXT DEFAULT (datetime('now')),
    updated_at      TEXT DEFAULT (datetime('now'))
)`,
	`CREATE INDEX IF NOT EXISTS idx_condition_sets_group ON package_option_condition_sets (option_group_id)`,
	`CREATE TABLE IF NOT EXISTS package_option_condition_set_values (
    condition_set_id INTEGER NOT NULL,
    option_value_id  INTEGER NOT NULL,
    position         INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (condition_set_id, option_value_id)
)`,
	`CREATE TABLE IF NOT EXISTS package_option_conditions (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    condition_set_id  INTEGER NOT NULL,
    trigger_option_id INTEGER NOT NULL,
    operator          TEXT NOT NULL,
    value             TEXT,
    value_id          TEXT,
    created_at        TEXT DEFAULT (datetime('now')),
    updated_at        TEXT DEFAULT (datetime('now'))
)`,
	`CREATE INDEX IF NOT EXISTS idx_conditions_set ON package_option_conditions (condition_set_id)`,
	`CREATE TABLE IF NOT EXISTS _users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    roles         TEXT NOT NULL DEFAULT '[]',
    active        INTEGER NOT NULL DEFAULT 1,
    created_at    TEXT DEFAULT (datetime('now'))
)`,
	`CREATE TABLE IF NOT EXISTS _refresh_tokens (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL REFERENCES _users(id) ON DELETE CASCADE,
    token      TEXT NOT NULL UNIQUE,
    expires_at INTEGER NOT NULL,
    created_at TEXT DEFAULT (datetime('now'))
)`,
}

// Compile-time check
var _ Dialect = (*SQLiteDialect)(nil)
