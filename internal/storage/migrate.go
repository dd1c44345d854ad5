package storage

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
var migrationsFS embed.FS

// ErrDirtySchema means an earlier migration stopped halfway. The ledger is
// not opened in that state; an operator has to force the version first.
var ErrDirtySchema = errors.New("ledger schema is dirty")

// RunMigrations brings the ledger schema for d up to date and returns the
// resulting schema version.
func RunMigrations(d Dialect, dsn string) (uint, error) {
	// migrate closes the handle it is given, so it gets its own.
	conn, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return 0, fmt.Errorf("open migration database: %w", err)
	}
	defer conn.Close()

	driver, err := migrationDriver(d, conn)
	if err != nil {
		return 0, err
	}
	src, err := iofs.New(migrationsFS, "migrations/"+string(d))
	if err != nil {
		return 0, fmt.Errorf("load %s migrations: %w", d, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(d), driver)
	if err != nil {
		return 0, fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if _, dirty, err := m.Version(); err == nil && dirty {
		return 0, ErrDirtySchema
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	version, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func migrationDriver(d Dialect, conn *sql.DB) (database.Driver, error) {
	var (
		driver database.Driver
		err    error
	)
	switch d {
	case DialectSQLite:
		driver, err = sqlite.WithInstance(conn, &sqlite.Config{})
	case DialectPostgres:
		driver, err = postgres.WithInstance(conn, &postgres.Config{})
	default:
		return nil, fmt.Errorf("unsupported dialect %q", d)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s migration driver: %w", d, err)
	}
	return driver, nil
}
