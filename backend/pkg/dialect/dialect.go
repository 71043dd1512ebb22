// Package dialect describes the SQL databases the device directory can read.
package dialect

import (
	"embed"
	"fmt"
	"strconv"

	"iot-ingestion/backend/internal/database/postgres"
	"iot-ingestion/backend/internal/database/sqlite"
)

type Dialect string

const (
	SQLite     Dialect = "sqlite"
	PostgreSQL Dialect = "postgres"
)

type properties struct {
	driver      string
	numbered    bool
	migrationFS func() embed.FS
}

var known = map[Dialect]properties{
	SQLite:     {driver: "sqlite3", migrationFS: sqlite.GetMigrationsFS},
	PostgreSQL: {driver: "pgx", numbered: true, migrationFS: postgres.GetMigrationsFS},
}

func (d Dialect) Validate() error {
	if _, ok := known[d]; !ok {
		return fmt.Errorf("unsupported dialect: %s", d)
	}

	return nil
}

func (d Dialect) String() string {
	return string(d)
}

// Driver is the database/sql driver name registered for the dialect.
func (d Dialect) Driver() string {
	return known[d].driver
}

// Placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if known[d].numbered {
		return "$" + strconv.Itoa(n)
	}

	return "?"
}

// MigrationFS is empty for an unknown dialect.
func (d Dialect) MigrationFS() embed.FS {
	p, ok := known[d]
	if !ok {
		return embed.FS{}
	}

	return p.migrationFS()
}
