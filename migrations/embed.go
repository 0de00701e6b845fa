// Package migrations embeds SQL migration files into the binary.
//
// This allows Gray Logic Sync to create its schema without needing the SQL
// files present on the filesystem.
package migrations

import "embed"

// FS holds every migration file at its root. Pass it to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
