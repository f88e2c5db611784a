package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var ledgerSchema embed.FS

// ErrDirtySchema means a migration failed halfway. The ledger has to be
// repaired by hand and its version forced before caixa will open it.
var ErrDirtySchema = errors.New("ledger schema is dirty")

// openMigrator runs golang-migrate on its own connection: closing the
// migrator closes the connection it was given.
func openMigrator(dbPath string) (*migrate.Migrate, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open schema connection: %w", err)
	}
	driver, err := sqlite.WithInstance(conn, &sqlite.Config{})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite migration driver: %w", err)
	}
	src, err := iofs.New(ledgerSchema, "migrations")
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("embedded ledger schema: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger migrator: %w", err)
	}
	return m, nil
}

// RunMigrations applies every pending ledger migration at dbPath and
// returns the resulting schema version.
func RunMigrations(dbPath string) (uint, error) {
	m, err := openMigrator(dbPath)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	err = m.Up()
	var dirty migrate.ErrDirty
	switch {
	case errors.As(err, &dirty):
		return uint(dirty.Version), fmt.Errorf("%w at version %d", ErrDirtySchema, dirty.Version)
	case err != nil && !errors.Is(err, migrate.ErrNoChange):
		return 0, fmt.Errorf("apply ledger migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("ledger schema version: %w", err)
	}
	return version, nil
}
