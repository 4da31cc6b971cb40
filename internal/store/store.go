package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // Register sqlite as database/sql driver

	"optcond-backend/internal/config"
)

var ErrNotFound = errors.New("not found")
var ErrUniqueViolation = errors.New("unique constraint violation")

// Querier is implemented by both *sqlx.DB and *sqlx.Tx.
type Querier interface {
	sqlx.ExtContext
}

// Store wraps a database connection and dialect.
type Store struct {
	DB      *sqlx.DB
	Dialect Dialect
}

func init() {
	// sqlx only knows "sqlite3"; modernc registers itself as "sqlite".
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// New creates a Store from config.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	dialect := NewDialect(driver)
	db, err := sqlx.Open(dialect.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	switch dialect.Name() {
	case "postgres":
		if cfg.PoolSize > 0 {
			db.SetMaxOpenConns(cfg.PoolSize)
		}
	case "sqlite":
		// SQLite: single writer, WAL mode for concurrent reads
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Store{DB: db, Dialect: dialect}, nil
}

// Close closes the database connection.
func (s *Store) Close() {
	s.DB.Close()
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get scans a single row into dest. Queries use '?' placeholders and are
// rebound for the connection's driver.
func Get(ctx context.Context, q Querier, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return nil
}

// Select scans all rows into dest, which must be a pointer to a slice.
// Slice arguments are expanded for "IN (?)" clauses.
func Select(ctx context.Context, q Querier, dest any, query string, args ...any) error {
	query, args, err := In(q, query, args...)
	if err != nil {
		return err
	}
	if err := sqlx.SelectContext(ctx, q, dest, query, args...); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return nil
}

// In expands slice arguments and rebinds placeholders for the driver.
func In(q Querier, query string, args ...any) (string, []any, error) {
	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("expand query: %w", err)
	}
	return q.Rebind(expanded), expandedArgs, nil
}

// Exec executes a statement and returns the number of rows affected.
func Exec(ctx context.Context, q Querier, query string, args ...any) (int64, error) {
	query, args, err := In(q, query, args...)
	if err != nil {
		return 0, err
	}
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Insert runs an INSERT ... RETURNING id statement and returns the new id.
func Insert(ctx context.Context, q Querier, query string, args ...any) (int64, error) {
	var id int64
	if err := q.QueryRowxContext(ctx, q.Rebind(query), args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	return id, nil
}

// Exists reports whether table has a row with the given id.
func Exists(ctx context.Context, q Querier, table string, id int64) (bool, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = ?", table)
	if err := Get(ctx, q, &n, query, id); err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountExisting returns how many of ids are present in table. Duplicate ids
// are counted once.
func CountExisting(ctx context.Context, q Querier, table string, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := In(q, fmt.Sprintf("SELECT COUNT(DISTINCT id) FROM %s WHERE id IN (?)", table), ids)
	if err != nil {
		return 0, err
	}
	var n int
	if err := sqlx.GetContext(ctx, q, &n, query, args...); err != nil {
		return 0, fmt.Errorf("query: %w", err)
	}
	return n, nil
}

// MapError maps a database error to a well-known sentinel error using the store's dialect.
func MapError(dialect Dialect, err error) error {
	if err == nil {
		return nil
	}
	return dialect.MapError(err)
}
