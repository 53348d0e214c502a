// Package migrations embeds the schema migration files so they apply at
// startup regardless of working directory. Embedders can append their own
// migration filesystems via the root package options.
package migrations

import "embed"

// FS holds every numbered .sql file in this directory, applied in order
// by storage.RunMigrations.
//
//go:embed *.sql
var FS embed.FS
