// Package migrator applies the embedded dbmate migrations of a dialect.
package migrator

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"time"

	"github.com/amacneil/dbmate/v2/pkg/dbmate"

	"iot-ingestion/backend/pkg/dialect"
	"iot-ingestion/backend/pkg/utils"
)

const (
	migrationsDir = "migrations"
	waitTimeout   = 30 * time.Second
)

var errEmptyConnString = errors.New("connection string is required")

// Migrator runs schema migrations.
type Migrator interface {
	Migrate() error
	// Pending returns the number of migrations not yet applied.
	Pending() (int, error)
}

type dbmateMigrator struct {
	db *dbmate.DB
	l  *slog.Logger
}

// New creates a migrator for d. connStr is a postgres URL or a sqlite file path.
//
//nolint:ireturn // Returns Migrator interface
func New(l *slog.Logger, d dialect.Dialect, connStr string) (Migrator, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	switch d {
	case dialect.SQLite:
		return newSQLiteMigrator(l, d.MigrationFS(), connStr)
	default:
		return newPostgresMigrator(l, d.MigrationFS(), connStr)
	}
}

func newDBMate(l *slog.Logger, u *url.URL, migrations fs.FS) (*dbmateMigrator, error) {
	if _, err := fs.ReadDir(migrations, migrationsDir); err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	db := dbmate.New(u)
	db.Strict = true
	db.FS = migrations
	db.MigrationsDir = []string{migrationsDir}
	db.AutoDumpSchema = false
	db.Log = utils.NewSlogWriter(l)

	return &dbmateMigrator{db: db, l: l}, nil
}

// Migrate applies all pending migrations.
func (m *dbmateMigrator) Migrate() error {
	m.l.Info("Migrating database")

	if err := m.db.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

func (m *dbmateMigrator) Pending() (int, error) {
	migrations, err := m.db.FindMigrations()
	if err != nil {
		return 0, fmt.Errorf("failed to list migrations: %w", err)
	}

	pending := 0
	for _, mig := range migrations {
		if !mig.Applied {
			pending++
		}
	}

	return pending, nil
}
