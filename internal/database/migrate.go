package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
)

// NewMigrator opens the SQL migrations under dir against databaseURL.
func NewMigrator(dir, databaseURL string) (*migrate.Migrate, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	m, err := migrate.New("file://"+dir, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("init migrations from %s: %w", dir, err)
	}
	return m, nil
}

// MigrateUp applies every pending migration. No pending change is not an error.
func MigrateUp(dir, databaseURL string, log zerolog.Logger) error {
	m, err := NewMigrator(dir, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read version: %w", err)
	}
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema migrated")
	return nil
}
