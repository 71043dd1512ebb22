package sqlite

import "embed"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the SQLite migrations, rooted above "migrations".
func GetMigrationsFS() embed.FS {
	return migrationsFS
}
