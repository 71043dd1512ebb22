package migrator

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"

	_ "github.com/amacneil/dbmate/v2/pkg/driver/sqlite"
)

// newSQLiteMigrator expects a file path. In-memory databases would vanish
// between the migrator's connection and the application's.
func newSQLiteMigrator(l *slog.Logger, migrations fs.FS, connStr string) (*dbmateMigrator, error) {
	if connStr == "" {
		return nil, errEmptyConnString
	}

	if strings.Contains(connStr, ":memory:") || strings.Contains(connStr, "mode=memory") {
		return nil, errors.New("in-memory databases are not supported")
	}

	u, err := url.Parse("sqlite:" + connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	l = l.With(slog.String("component", "db-migrator"), slog.String("dialect", "sqlite"))

	return newDBMate(l, u, migrations)
}
