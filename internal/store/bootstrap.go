package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"optcond-backend/internal/logger"
)

// AdminSeed is the account created when the _users table is empty.
type AdminSeed struct {
	Email    string
	Password string
}

// Bootstrap creates all tables and seeds the default admin user.
func (s *Store) Bootstrap(ctx context.Context, seed AdminSeed, log *logger.Logger) error {
	for _, stmt := range s.Dialect.SchemaSQL() {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	if err := s.seedAdminUser(ctx, seed, log); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}

func (s *Store) seedAdminUser(ctx context.Context, seed AdminSeed, log *logger.Logger) error {
	if seed.Email == "" || seed.Password == "" {
		return nil
	}

	var count int
	if err := Get(ctx, s.DB, &count, "SELECT COUNT(*) FROM _users"); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = Exec(ctx, s.DB,
		"INSERT INTO _users (id, email, password_hash, roles) VALUES (?, ?, ?, ?)",
		uuid.New().String(), seed.Email, string(hash), `["admin"]`,
	)
	if err != nil {
		return MapError(s.Dialect, err)
	}

	log.Warn("default admin user created, change the password immediately", "email", seed.Email)
	return nil
}
