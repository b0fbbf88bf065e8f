package postgres

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5 scheme
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrationResult reports the schema version after Migrate runs.
type MigrationResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate applies all pending schema migrations to the database at dsn.
func Migrate(dsn string) (MigrationResult, error) {
	if dsn == "" {
		return MigrationResult{}, errors.New("db.dsn is required")
	}
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return MigrationResult{}, fmt.Errorf("open migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, migrationURL(dsn))
	if err != nil {
		return MigrationResult{}, fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		_, _ = m.Close()
	}()

	changed := true
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return MigrationResult{}, fmt.Errorf("apply migrations: %w", err)
		}
		changed = false
	}
	version, dirty, err := m.Version()
	if err != nil {
		return MigrationResult{}, fmt.Errorf("read migration version: %w", err)
	}
	return MigrationResult{Version: version, Dirty: dirty, Changed: changed}, nil
}

// migrationURL rewrites a libpq style URL to the scheme the pgx/v5 migrate driver expects.
func migrationURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}
