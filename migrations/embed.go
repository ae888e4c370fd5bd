// Package migrations embeds the versioned SQLite schema.
package migrations

import "embed"

// FS holds the NNN_name.up.sql / NNN_name.down.sql pairs applied by
// database.Migrator
//
//go:embed *.sql
var FS embed.FS
