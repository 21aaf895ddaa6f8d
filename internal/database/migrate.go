package database

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies every pending up-migration from migrationsPath.
// Already being at the latest version is not an error.
func RunMigrations(dsn, migrationsPath string) error {
	m, err := migrate.New("file://"+migrationsPath, dsn)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	ver, dirty, verr := m.Version()
	if verr != nil {
		slog.Warn("reading schema version", "error", verr)
		return nil
	}
	slog.Info("schema up to date",
		"version", ver,
		"dirty", dirty,
		"changed", !errors.Is(err, migrate.ErrNoChange))
	return nil
}
