package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }
func (d *PostgresDialect) NowExpr() string    { return "NOW()" }

func (d *PostgresDialect) SchemaSQL() []string {
	return pgSchemaSQL
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- PostgreSQL DDL ---

var pgSchemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS packages (
    id          BIGSERIAL PRIMARY KEY,
    name        TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'active',
    created_at  TIMESTAMPTZ DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS package_option_groups (
    id          BIGSERIAL PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS package_options (
    id          BIGSERIAL PRIMARY KEY,
    label       TEXT NOT NULL,
    name        TEXT NOT NULL,
    type        TEXT NOT NULL DEFAULT 'select',
    created_at  TIMESTAMPTZ DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS package_option_group (
    option_id       BIGINT NOT NULL,
    option_group_id BIGINT NOT NULL,
    sort_order      INT NOT NULL DEFAULT 0,
    PRIMARY KEY (option_id, option_group_id)
)`,
	`CREATE TABLE IF NOT EXISTS package_option (
    package_id      BIGINT NOT NULL,
    option_group_id BIGINT NOT NULL,
    PRIMARY KEY (package_id, option_group_id)
)`,
	`CREATE TABLE IF NOT EXISTS package_option_values (
    id          BIGSERIAL PRIMARY KEY,
    option_id   BIGINT NOT NULL,
    name        TEXT NOT NULL,
    value       TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'active',
    created_at  TIMESTAMPTZ DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_package_option_values_option ON package_option_values (option_id)`,
	`CREATE TABLE IF NOT EXISTS package_option_condition_sets (
    id              BIGSERIAL PRIMARY KEY,
    option_group_id BIGINT NOT NULL,
    option_id       BIGINT,
    expression      TEXT,
    created_at      TIMESTAMPTZ DEFAULT NOW(),
    updated_at      TIMESTAMPTZ DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_condition_sets_group ON package_option_condition_sets (option_group_id)`,
	`CREATE TABLE IF NOT EXISTS package_option_condition_set_values (
    condition_set_id BIGINT NOT NULL,
    option_value_id  BIGINT NOT NULL,
    position         INT NOT NULL DEFAULT 0,
    PRIMARY KEY (condition_set_id, option_value_id)
)`,
	`CREATE TABLE IF NOT EXISTS package_option_conditions (
    id                BIGSERIAL PRIMARY KEY,
    condition_set_id  BIGINT NOT NULL,
    trigger_option_id BIGINT NOT NULL,
    operator          TEXT NOT NULL,
    value             TEXT,
    value_id          TEXT,
    created_at        TIMESTAMPTZ DEFAULT NOW(),
    updated_at        TIMESTAMPTZ DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_conditions_set ON package_option_conditions (condition_set_id)`,
	`CREATE TABLE IF NOT EXISTS _users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    roles         TEXT NOT NULL DEFAULT '[]',
    active        BOOLEAN NOT NULL DEFAULT true,
    created_at    TIMESTAMPTZ DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS _refresh_tokens (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL REFERENCES _users(id) ON DELETE CASCADE,
    token      TEXT NOT NULL UNIQUE,
    expires_at BIGINT NOT NULL, -- unix seconds
    created_at TIMESTAMPTZ DEFAULT NOW()
)`,
}

// Compile-time check
var _ Dialect = (*PostgresDialect)(nil)
