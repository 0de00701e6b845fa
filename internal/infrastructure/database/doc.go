// Package database provides SQLite connectivity for the Gray Logic Sync
// client registry.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations loaded from an fs.FS (embedded in the binary)
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//   - Only token hashes are persisted, never raw tokens
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
package database
