package migrator

import (
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"

	_ "github.com/amacneil/dbmate/v2/pkg/driver/postgres"
)

// newPostgresMigrator expects a postgres:// URL. It waits for the server to
// accept connections before migrating.
func newPostgresMigrator(l *slog.Logger, migrations fs.FS, connStr string) (*dbmateMigrator, error) {
	if connStr == "" {
		return nil, errEmptyConnString
	}

	u, err := url.Parse(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	l = l.With(slog.String("component", "db-migrator"), slog.String("dialect", "postgres"))

	m, err := newDBMate(l, u, migrations)
	if err != nil {
		return nil, err
	}

	m.db.WaitBefore = true
	m.db.WaitTimeout = waitTimeout

	return m, nil
}
