//go:build integration

package directory

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"iot-ingestion/backend/pkg/dialect"
	"iot-ingestion/backend/pkg/migrator"
)

func TestPostgresLookup(t *testing.T) {
	ctx := context.Background()

	container, err := postgrescontainer.Run(ctx,
		"postgres:18-alpine",
		postgrescontainer.WithDatabase("registry"),
		postgrescontainer.WithUsername("registry"),
		postgrescontainer.WithPassword("registry"),
		postgrescontainer.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrator.New(discardLogger(), dialect.PostgreSQL, connStr)
	require.NoError(t, err)
	require.NoError(t, m.Migrate())

	db, err := sql.Open(dialect.PostgreSQL.Driver(), connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	lookup, err := NewSQLLookup(db, dialect.PostgreSQL)
	require.NoError(t, err)

	require.NoError(t, lookup.Save(ctx, sensorRecord()))
	require.NoError(t, lookup.Save(ctx, sensorRecord()))

	got, err := lookup.Get(ctx, "sensor-42")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.InDelta(t, 30.0, *got.Thresholds["temperature"].Max, 0)

	_, err = lookup.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
