package testutil

import (
	"context"
	"testing"

	"optcond-backend/internal/config"
	"optcond-backend/internal/logger"
	"optcond-backend/internal/store"
)

const (
	AdminEmail    = "admin@localhost"
	AdminPassword = "changeme"
)

// Store opens a bootstrapped SQLite store in a per-test directory. The store
// is closed when the test ends.
func Store(tb testing.TB) *store.Store {
	tb.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		Name:   "test",
		Path:   tb.TempDir(),
	})
	if err != nil {
		tb.Fatalf("open test store: %v", err)
	}
	tb.Cleanup(s.Close)

	seed := store.AdminSeed{Email: AdminEmail, Password: AdminPassword}
	if err := s.Bootstrap(ctx, seed, logger.Nop()); err != nil {
		tb.Fatalf("bootstrap test store: %v", err)
	}
	return s
}
