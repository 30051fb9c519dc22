// Package assets embeds the SQL schema migrations, one directory per dialect.
package assets

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var FS embed.FS

// Migrations returns the migration files for dialect ("sqlite" or "postgres").
func Migrations(dialect string) (fs.FS, error) {
	switch dialect {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}
	return fs.Sub(FS, "migrations/"+dialect)
}
