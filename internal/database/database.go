// internal/database/database.go
//
// Database helpers for the newsroom server.
// Responsibilities:
//   - Opening Postgres (POSTGRES_URL) or SQLite (DATABASE_PATH) with safe defaults.
//   - Papering over the one placeholder difference between the two (? vs $n).
//   - Applying the embedded migrations (see migrate.go).
//
// Repositories write queries with "?" placeholders and pass them through Rebind.

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect names the SQL backend in use.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ErrUnavailable means no database is configured; callers answer 503.
var ErrUnavailable = errors.New("database not configured")

// DB wraps *sql.DB with the dialect it speaks.
type DB struct {
	SQL     *sql.DB
	Dialect Dialect
	dsn     string
}

// Open connects to Postgres when postgresURL is set, otherwise to the SQLite
// file at sqlitePath. With neither it returns ErrUnavailable.
func Open(ctx context.Context, postgresURL, sqlitePath string) (*DB, error) {
	switch {
	case postgresURL != "":
		return openPostgres(ctx, postgresURL)
	case sqlitePath != "":
		return openSQLite(ctx, sqlitePath)
	default:
		return nil, ErrUnavailable
	}
}

func openPostgres(ctx context.Context, url string) (*DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{SQL: db, Dialect: Postgres, dsn: url}, nil
}

// openSQLite opens (and creates if missing) a SQLite database file with a
// busy timeout, WAL journaling and foreign keys on.
func openSQLite(ctx context.Context, path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return &DB{SQL: db, Dialect: SQLite, dsn: dsn}, nil
}

// Close releases the pool.
func (d *DB) Close() error {
	if d == nil || d.SQL == nil {
		return nil
	}
	return d.SQL.Close()
}

// Rebind rewrites "?" placeholders to "$1, $2, ..." for Postgres.
// Question marks inside single-quoted literals are left alone.
func (d *DB) Rebind(query string) string {
	if d.Dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ForUpdate is the row-locking suffix for a SELECT inside a transaction.
// SQLite serialises writers itself and has no such clause.
func (d *DB) ForUpdate() string {
	if d.Dialect == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// Mode reports "postgres", "sqlite" or "none" for health output.
func (d *DB) Mode() string {
	if d == nil {
		return "none"
	}
	return string(d.Dialect)
}

// IsUniqueViolation reports whether err is a unique-constraint failure.
func IsUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}
