// Package helpers holds the process wiring shared by the server and local
// binaries.
package helpers

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"iot-ingestion/backend/internal/config"
	"iot-ingestion/backend/pkg/dialect"
	"iot-ingestion/backend/pkg/migrator"
	"iot-ingestion/backend/pkg/utils"
)

func GetLogger(c *config.Config) *slog.Logger {
	logOptions := slog.HandlerOptions{
		Level:       c.LogLevel,
		ReplaceAttr: utils.SlogReplacer,
	}

	return slog.New(slog.NewJSONHandler(c.LogOutput, &logOptions)).
		With(slog.String("version", utils.GetVersionShort()))
}

func RunMigrations(l *slog.Logger, c *config.Config) error {
	l.Info("Running database migrations", slog.String("dialect", c.Dialect.String()))

	mig, err := migrator.New(l, c.Dialect, c.Database)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := mig.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	l.Info("Database migrations completed successfully")

	return nil
}

// OpenDatabase opens the registry database. Postgres connections come from a
// pgx pool exposed through database/sql. The returned func closes everything.
func OpenDatabase(ctx context.Context, c *config.Config) (*sql.DB, func(), error) {
	switch c.Dialect {
	case dialect.PostgreSQL:
		pool, err := pgxpool.New(ctx, c.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}

		db := stdlib.OpenDBFromPool(pool)

		return db, func() {
			_ = db.Close()
			pool.Close()
		}, nil
	case dialect.SQLite:
		db, err := sql.Open(c.Dialect.Driver(), c.Database+"?_foreign_keys=on&_busy_timeout=5000")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}

		// One writer at a time.
		db.SetMaxOpenConns(1)

		return db, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported dialect: %s", c.Dialect)
	}
}
