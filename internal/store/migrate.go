package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// runMigrations applies pending schema migrations for the dialect.
// Already being up to date is not an error.
func runMigrations(db *sql.DB, dialect string) error {
	src, err := iofs.New(migrationFS, "migrations/"+dialect)
	if err != nil {
		return fmt.Errorf("store: load migrations: %w", err)
	}

	var drv database.Driver
	switch dialect {
	case "sqlite":
		drv, err = sqlite.WithInstance(db, &sqlite.Config{})
	case "postgres":
		drv, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		return fmt.Errorf("store: no migrations for dialect %q", dialect)
	}
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, drv)
	if err != nil {
		return fmt.Errorf("store: init migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: apply migrations: %w", err)
	}
	return nil
}
