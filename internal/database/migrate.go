package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"

	"github.com/schoolpaper/newsroom/assets"
)

// MigrationResult reports the schema state after Migrate.
type MigrationResult struct {
	Version uint `json:"version"`
	Applied bool `json:"applied"` // false when the schema was already current
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	log.Info().Str("component", "migrate").Msgf(format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Migrate brings the schema up to the latest embedded version. It runs on a
// dedicated connection pool so closing the migrator leaves d.SQL untouched.
func (d *DB) Migrate(ctx context.Context) (MigrationResult, error) {
	if d == nil {
		return MigrationResult{}, ErrUnavailable
	}

	files, err := assets.Migrations(string(d.Dialect))
	if err != nil {
		return MigrationResult{}, err
	}
	src, err := iofs.New(files, ".")
	if err != nil {
		return MigrationResult{}, fmt.Errorf("migration source: %w", err)
	}

	m, err := d.newMigrator(ctx, src)
	if err != nil {
		return MigrationResult{}, err
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warn().AnErr("source", srcErr).AnErr("db", dbErr).Msg("close migrator")
		}
	}()
	m.Log = migrateLogger{}

	applied := true
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return MigrationResult{}, fmt.Errorf("migrate up: %w", err)
		}
		applied = false
	}

	version, dirty, err := m.Version()
	if err != nil {
		return MigrationResult{}, fmt.Errorf("migration version: %w", err)
	}
	if dirty {
		return MigrationResult{}, fmt.Errorf("schema version %d is dirty", version)
	}
	log.Info().Uint("version", version).Bool("applied", applied).Str("dialect", string(d.Dialect)).Msg("schema ready")
	return MigrationResult{Version: version, Applied: applied}, nil
}

func (d *DB) newMigrator(ctx context.Context, src source.Driver) (*migrate.Migrate, error) {
	driverName := "sqlite3"
	if d.Dialect == Postgres {
		driverName = "postgres"
	}
	conn, err := sql.Open(driverName, d.dsn)
	if err != nil {
		return nil, fmt.Errorf("open migration connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping migration connection: %w", err)
	}

	switch d.Dialect {
	case Postgres:
		drv, err := migratepg.WithInstance(conn, &migratepg.Config{})
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("postgres migration driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", src, "postgres", drv)
	default:
		drv, err := migratesqlite.WithInstance(conn, &migratesqlite.Config{})
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("sqlite migration driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	}
}
