package migrations

import "embed"

// EmbedMigrations contains the embedded SQL migration files.
//
//go:embed *.sql
var EmbedMigrations embed.FS
