package auth

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-sync/migrations"
)

const testSecret = "test-secret-key-at-least-32-chars!"

// testDB creates a temporary SQLite database with the embedded schema applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(t.Context(), migrations.FS); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

// testService returns a service over a fresh database and a controllable clock.
func testService(t *testing.T, opts Options) (*Service, *time.Time) {
	t.Helper()

	if opts.Secret == "" {
		opts.Secret = testSecret
	}
	svc, err := NewService(NewClientRepository(testDB(t)), opts)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, &now
}
