package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// Migration is a single schema change loaded from a pair of files named
// YYYYMMDD_HHMMSS_description.up.sql and .down.sql.
type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

// Migrate applies every migration in fsys that has not been applied yet,
// oldest first. Each migration runs in its own transaction; on failure the
// earlier ones stay committed and a re-run continues from the failed one.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - fsys: Filesystem whose root holds the migration files
//
// Returns:
//   - int: Number of migrations applied by this call
//   - error: If any migration fails (that migration is rolled back)
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) (int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return 0, fmt.Errorf("creating migrations table: %w", err)
	}

	migrations, err := loadMigrations(fsys)
	if err != nil {
		return 0, fmt.Errorf("loading migrations: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := db.apply(ctx, m.UpSQL,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			m.Version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return count, fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
		count++
	}
	return count, nil
}

// MigrateDown rolls back the most recently applied migration.
// Used by tests and during development.
func (db *DB) MigrateDown(ctx context.Context, fsys fs.FS) error {
	var latest string
	err := db.QueryRowContext(ctx,
		"SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1",
	).Scan(&latest)
	if err != nil {
		return fmt.Errorf("finding latest migration: %w", err)
	}

	migrations, err := loadMigrations(fsys)
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	for _, m := range migrations {
		if m.Version != latest {
			continue
		}
		if m.DownSQL == "" {
			return fmt.Errorf("migration %s has no down SQL", latest)
		}
		return db.apply(ctx, m.DownSQL, "DELETE FROM schema_migrations WHERE version = ?", m.Version)
	}
	return fmt.Errorf("migration %s not found in filesystem", latest)
}

func (db *DB) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// apply runs body and a bookkeeping statement in one transaction.
func (db *DB) apply(ctx context.Context, body, record string, args ...any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

func loadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, isUp, ok := parseMigrationFilename(entry.Name())
		if !ok {
			continue
		}
		body, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		m, exists := byVersion[version]
		if !exists {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if isUp {
			m.UpSQL = string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" {
			return nil, fmt.Errorf("migration %s has no up SQL", m.Version)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigrationFilename splits YYYYMMDD_HHMMSS_name.up.sql into its parts.
func parseMigrationFilename(filename string) (version, name string, isUp, ok bool) {
	base, found := strings.CutSuffix(filename, ".sql")
	if !found {
		return "", "", false, false
	}

	switch {
	case strings.HasSuffix(base, ".up"):
		isUp = true
		base = strings.TrimSuffix(base, ".up")
	case strings.HasSuffix(base, ".down"):
		base = strings.TrimSuffix(base, ".down")
	default:
		return "", "", false, false
	}

	parts := strings.SplitN(base, "_", 3)
	if len(parts) < 3 {
		return "", "", false, false
	}
	return parts[0] + "_" + parts[1], parts[2], isUp, true
}
