// Package migrations embeds the PostgreSQL schema applied by cmd/migrate.
package migrations

import "embed"

// FS holds the *.up.sql files in version order by name.
//
//go:embed *.sql
var FS embed.FS
