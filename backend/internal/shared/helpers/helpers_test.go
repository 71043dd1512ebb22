package helpers

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shopify/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-ingestion/backend/internal/bus"
	"iot-ingestion/backend/internal/config"
	"iot-ingestion/backend/internal/directory"
	"iot-ingestion/backend/internal/store"
	"iot-ingestion/backend/pkg/dialect"
	"iot-ingestion/backend/pkg/mqtt"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) *store.Redis {
	t.Helper()

	mr := miniredis.RunT(t)

	st, err := store.NewRedis(discardLogger(), store.RedisOptions{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return st
}

func TestOpenDirectorySQLite(t *testing.T) {
	t.Setenv(string(config.EnvDataDir), t.TempDir())

	c, err := config.New(dialect.SQLite)
	require.NoError(t, err)

	c.DirectorySource = config.DirectorySQL

	ctx := context.Background()

	dir, err := OpenDirectory(ctx, discardLogger(), c, newStore(t), true)
	require.NoError(t, err)
	t.Cleanup(dir.Close)

	require.NotNil(t, dir.SQL)
	require.NoError(t, dir.Ping(ctx))

	_, ok := dir.Resolve(ctx, "sensor-42")
	assert.False(t, ok, "unregistered device must not resolve")

	require.NoError(t, dir.SQL.Save(ctx, directory.Record{
		DeviceID:   "sensor-42",
		Name:       "Boiler room",
		DeviceType: "thermometer",
		Status:     "active",
		OwnerID:    "owner-1",
	}))

	dc, ok := dir.Resolve(ctx, "sensor-42")
	require.True(t, ok)
	assert.Equal(t, "thermometer", dc.DeviceType)
}

func TestOpenDirectoryHTTP(t *testing.T) {
	t.Setenv(string(config.EnvDataDir), t.TempDir())

	c, err := config.New(dialect.SQLite)
	require.NoError(t, err)

	dir, err := OpenDirectory(context.Background(), discardLogger(), c, newStore(t), false)
	require.NoError(t, err)

	assert.Nil(t, dir.SQL)
	dir.Close()

	c.DirectorySource = "ldap"

	_, err = OpenDirectory(context.Background(), discardLogger(), c, newStore(t), false)
	assert.Error(t, err)
}

type countingCleaner struct {
	calls atomic.Int64
}

func (c *countingCleaner) CleanupExpired(context.Context) (int64, error) {
	c.calls.Add(1)
	return 2, nil
}

func TestStartCleanup(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cleaner := &countingCleaner{}

	StartCleanup(ctx, discardLogger(), 10*time.Millisecond, cleaner)

	assert.Eventually(t, func() bool { return cleaner.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(30 * time.Millisecond)

	stopped := cleaner.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, cleaner.calls.Load(), "cleanup must stop with its context")
}

func TestHealthChecks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	lookup, err := directory.NewHTTPLookup(discardLogger(), directory.HTTPOptions{BaseURL: "http://127.0.0.1:1", Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	dir := &Directory{Client: directory.NewClient(discardLogger(), st, lookup)}

	feed, err := mqtt.NewFeed(discardLogger(), mqtt.FeedOptions{BrokerURL: "tcp://127.0.0.1:1", ClientID: "health-test"})
	require.NoError(t, err)

	checks := HealthChecks(st, bus.NewMemory(discardLogger(), 0), feed, dir)

	assert.NotContains(t, checks, "kafka", "the in-memory bus has nothing to check")
	require.Contains(t, checks, "redis")
	require.Contains(t, checks, "mqtt")
	require.Contains(t, checks, "directory")

	assert.NoError(t, checks["redis"](ctx))
	assert.Error(t, checks["mqtt"](ctx), "a feed that never connected is unhealthy")

	producer := bus.NewKafkaWithProducer(discardLogger(), nil, mocks.NewSyncProducer(t, nil))
	checks = HealthChecks(st, producer, feed, dir)

	require.Contains(t, checks, "kafka")
	assert.NoError(t, checks["kafka"](ctx))

	require.NoError(t, producer.Close())
	assert.Error(t, checks["kafka"](ctx))
}
