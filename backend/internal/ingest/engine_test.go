package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-ingestion/backend/internal/auth"
	"iot-ingestion/backend/internal/bus"
	"iot-ingestion/backend/internal/directory"
	"iot-ingestion/backend/internal/ingest/types"
	"iot-ingestion/backend/internal/store"
	"iot-ingestion/backend/pkg/utils"
)

const testSecret = "test-secret"

var testTopics = bus.Topics{Data: "iot-data", Alerts: "iot-alerts", Health: "iot-health", Errors: "iot-errors"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// staticDirectory knows a fixed set of devices and counts resolves.
type staticDirectory struct {
	calls   atomic.Int64
	devices map[string]types.DeviceContext
}

func (d *staticDirectory) Resolve(_ context.Context, deviceID string) (types.DeviceContext, bool) {
	d.calls.Add(1)
	dc, ok := d.devices[deviceID]

	return dc, ok
}

// countingLookup is a registry backend for the cached directory client.
type countingLookup struct {
	calls atomic.Int64
}

func (c *countingLookup) Get(_ context.Context, deviceID string) (directory.Record, error) {
	c.calls.Add(1)

	if deviceID != "sensor-42" {
		return directory.Record{}, directory.ErrNotFound
	}

	return directory.Record{DeviceID: deviceID, DeviceType: "sensor", OwnerID: "owner-1", Status: "active"}, nil
}

func (c *countingLookup) Ping(context.Context) error { return nil }

type harness struct {
	engine *Engine
	pub    *bus.Memory
	mr     *miniredis.Miniredis
	st     store.Store
	clock  *fakeClock
	dir    *staticDirectory
	tokens *auth.Verifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)

	st, err := store.NewRedis(discardLogger(), store.RedisOptions{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		pub:    bus.NewMemory(discardLogger(), 0),
		mr:     mr,
		st:     st,
		clock:  &fakeClock{now: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)},
		tokens: auth.NewVerifier(testSecret),
		dir: &staticDirectory{devices: map[string]types.DeviceContext{
			"sensor-42": {DeviceID: "sensor-42", DeviceType: "sensor", OwnerID: "owner-1"},
		}},
	}

	h.engine, err = New(discardLogger(), Deps{
		Store:     st,
		Publisher: h.pub,
		Directory: h.dir,
		Verifier:  h.tokens,
		Topics:    testTopics,
		Now:       h.clock.Now,
	})
	require.NoError(t, err)

	return h
}

func (h *harness) token(t *testing.T, deviceID string) string {
	t.Helper()

	tok, err := h.tokens.Issue(deviceID, time.Hour)
	require.NoError(t, err)

	return tok
}

func (h *harness) counter(t *testing.T, key string) int64 {
	t.Helper()

	if !h.mr.Exists(key) {
		return 0
	}

	raw, err := h.mr.Get(key)
	require.NoError(t, err)

	n, err := strconv.ParseInt(raw, 10, 64)
	require.NoError(t, err)

	return n
}

func reading(metric string, value types.Value, dt types.DataType) types.Reading {
	return types.NewReading(metric, value, dt, time.Date(2024, 6, 15, 11, 59, 0, 0, time.UTC))
}

func request(deviceID string, readings ...types.Reading) types.IngestionRequest {
	return types.IngestionRequest{DeviceID: deviceID, Data: readings, BatchID: utils.Ptr("batch-1")}
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	full := Deps{
		Store:     &noopStore{},
		Publisher: bus.NewMemory(discardLogger(), 0),
		Directory: &staticDirectory{},
		Verifier:  auth.NewVerifier(""),
		Topics:    testTopics,
	}

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{name: "store", mutate: func(d *Deps) { d.Store = nil }},
		{name: "publisher", mutate: func(d *Deps) { d.Publisher = nil }},
		{name: "directory", mutate: func(d *Deps) { d.Directory = nil }},
		{name: "verifier", mutate: func(d *Deps) { d.Verifier = nil }},
		{name: "topics", mutate: func(d *Deps) { d.Topics.Alerts = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			deps := full
			tt.mutate(&deps)

			if _, err := New(discardLogger(), deps); err == nil {
				t.Errorf("New() without %s error = nil, want error", tt.name)
			}
		})
	}

	if _, err := New(discardLogger(), full); err != nil {
		t.Errorf("New() error = %v, want nil", err)
	}
}

func TestProcessBatchForwardsAndCounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	dc := h.dir.devices["sensor-42"]

	req := request("sensor-42",
		reading("temperature", types.NumberValue(21.5), types.DataTypeTemperature),
		reading("humidity", types.NumberValue(40), types.DataTypeHumidity),
		reading("pressure", types.NumberValue(1013), types.DataTypePressure),
	)

	out := h.engine.ProcessBatch(ctx, req, dc, types.SourceHTTP)
	assert.True(t, out.Success)
	assert.Equal(t, 3, out.PointsAccepted)
	assert.Zero(t, out.AlertsRaised)
	assert.Equal(t, "batch-1", out.BatchID)

	data := h.pub.Messages(testTopics.Data)
	require.Len(t, data, 1)
	assert.Equal(t, "sensor-42", data[0].Key)

	env, ok := data[0].Value.(types.Envelope)
	require.True(t, ok)
	assert.Len(t, env.Data, 3)
	assert.Equal(t, types.SourceHTTP, env.Source)
	assert.Equal(t, "owner-1", env.DeviceInfo.OwnerID)
	assert.Equal(t, h.clock.Now(), env.ReceivedAt)

	today := h.clock.Now()
	assert.Equal(t, int64(3), h.counter(t, store.DeviceDailyPointsKey("sensor-42", today)))
	assert.Equal(t, int64(3), h.counter(t, store.DeviceTotalPointsKey("sensor-42")))
	assert.Equal(t, int64(3), h.counter(t, store.DailyPointsKey(today)))
	assert.Equal(t, int64(3), h.counter(t, store.TotalPointsKey))
	assert.Equal(t, DailyCounterTTL, h.mr.TTL(store.DeviceDailyPointsKey("sensor-42", today)))
	assert.Zero(t, h.mr.TTL(store.DeviceTotalPointsKey("sensor-42")), "total counters do not expire")

	out = h.engine.ProcessBatch(ctx, request("sensor-42", reading("light", types.NumberValue(300), types.DataTypeLight)), dc, types.SourceMQTT)
	require.True(t, out.Success)
	assert.Equal(t, int64(4), h.counter(t, store.DeviceTotalPointsKey("sensor-42")))
	assert.Len(t, h.pub.Messages(testTopics.Data), 2)
	assert.Empty(t, h.pub.Messages(testTopics.Errors))
}

func TestProcessBatchPublishFailureGoesToErrorTopic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	h.pub.FailTopic(testTopics.Data, errors.New("leader not available"))

	req := request("sensor-42",
		reading("temperature", types.NumberValue(80), types.DataTypeTemperature),
		reading("battery_level", types.NumberValue(3), types.DataTypeCustom),
	)

	out := h.engine.ProcessBatch(ctx, req, h.dir.devices["sensor-42"], types.SourceHTTP)
	assert.False(t, out.Success)
	assert.True(t, out.RecordedToErrors)
	assert.Contains(t, out.Error, "leader not available")
	assert.Zero(t, out.PointsAccepted)
	assert.Zero(t, out.AlertsRaised)

	failures := h.pub.Messages(testTopics.Errors)
	require.Len(t, failures, 1)
	assert.Equal(t, "sensor-42", failures[0].Key)

	rec, ok := failures[0].Value.(types.FailureRecord)
	require.True(t, ok)
	assert.Equal(t, "sensor-42", rec.Data.DeviceID)
	assert.Len(t, rec.Data.Data, 2)
	assert.Equal(t, "leader not available", rec.Error)

	assert.Empty(t, h.pub.Messages(testTopics.Alerts), "no alerts for an unforwarded batch")
	assert.Zero(t, h.counter(t, store.DeviceTotalPointsKey("sensor-42")))
	assert.Zero(t, h.counter(t, store.TotalPointsKey))
	assert.False(t, h.mr.Exists(store.DeviceDailyPointsKey("sensor-42", h.clock.Now())))
}

func TestProcessBatchErrorTopicAlsoDown(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.pub.FailTopic(testTopics.Data, errors.New("down"))
	h.pub.FailTopic(testTopics.Errors, errors.New("down"))

	out := h.engine.ProcessBatch(context.Background(), request("", reading("m", types.NumberValue(1), types.DataTypeCustom)), types.DeviceContext{}, types.SourceMQTT)
	assert.False(t, out.Success)
	assert.False(t, out.RecordedToErrors)
	assert.Empty(t, h.pub.Messages(""))
}

func TestProcessBatchUnknownDeviceKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.pub.FailTopic(testTopics.Data, errors.New("down"))

	h.engine.ProcessBatch(context.Background(), request("", reading("m", types.NumberValue(1), types.DataTypeCustom)), types.DeviceContext{}, types.SourceMQTT)

	failures := h.pub.Messages(testTopics.Errors)
	require.Len(t, failures, 1)
	assert.Equal(t, "unknown", failures[0].Key)
}

func TestProcessBatchRaisesAlertsInOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	req := request("sensor-42",
		reading("temperature", types.NumberValue(55), types.DataTypeTemperature),
		reading("temperature", types.NumberValue(25), types.DataTypeTemperature),
		reading("temperature", types.NumberValue(-5), types.DataTypeTemperature),
		reading("battery_level", types.NumberValue(5), types.DataTypeCustom),
		reading("status", types.StringValue("ok"), types.DataTypeCustom),
	)

	out := h.engine.ProcessBatch(context.Background(), req, h.dir.devices["sensor-42"], types.SourceHTTP)
	require.True(t, out.Success)
	assert.Equal(t, 3, out.AlertsRaised)

	alerts := h.pub.Messages(testTopics.Alerts)
	require.Len(t, alerts, 3)

	want := []types.Severity{types.SeverityHigh, types.SeverityMedium, types.SeverityHigh}
	ids := map[string]bool{}

	for i, msg := range alerts {
		ev, ok := msg.Value.(types.AlertEvent)
		require.True(t, ok)
		assert.Equal(t, "sensor-42", msg.Key)
		assert.Equal(t, want[i], ev.Severity, "alert %d", i)
		assert.NotEmpty(t, ev.ID)
		assert.Equal(t, "owner-1", ev.DeviceInfo.OwnerID)

		ids[ev.ID] = true
	}

	assert.Len(t, ids, 3, "alert ids are unique")
}

func TestProcessBatchAlertPublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.pub.FailTopic(testTopics.Alerts, errors.New("down"))

	out := h.engine.ProcessBatch(context.Background(),
		request("sensor-42", reading("temperature", types.NumberValue(99), types.DataTypeTemperature)),
		h.dir.devices["sensor-42"], types.SourceHTTP)

	assert.True(t, out.Success)
	assert.Zero(t, out.AlertsRaised)
	assert.Equal(t, int64(1), h.counter(t, store.TotalPointsKey))
}

type panickingPublisher struct{}

func (panickingPublisher) Publish(context.Context, string, string, any) error { panic("boom") }
func (panickingPublisher) QueueDepth() int64                                  { return 0 }

func TestProcessBatchNeverPanics(t *testing.T) {
	t.Parallel()

	e, err := New(discardLogger(), Deps{
		Store:     &noopStore{},
		Publisher: panickingPublisher{},
		Directory: &staticDirectory{},
		Verifier:  auth.NewVerifier(""),
		Topics:    testTopics,
	})
	require.NoError(t, err)

	out := e.ProcessBatch(context.Background(), request("sensor-42", reading("m", types.NumberValue(1), types.DataTypeCustom)), types.DeviceContext{}, types.SourceHTTP)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "boom")
}

func TestProcessBatchConcurrentCountersAreExact(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	dc := h.dir.devices["sensor-42"]

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			h.engine.ProcessBatch(context.Background(), request("sensor-42",
				reading("m", types.NumberValue(1), types.DataTypeCustom),
				reading("m", types.NumberValue(2), types.DataTypeCustom),
			), dc, types.SourceMQTT)
		})
	}
	wg.Wait()

	assert.Equal(t, int64(40), h.counter(t, store.DeviceTotalPointsKey("sensor-42")))
	assert.Equal(t, int64(40), h.counter(t, store.DailyPointsKey(h.clock.Now())))
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	tests := []struct {
		name     string
		token    string
		deviceID string
		wantKind AuthErrorKind
		lookups  int64
	}{
		{name: "missing token", token: "", deviceID: "sensor-42", wantKind: AuthInvalid},
		{name: "token for another device", token: h.token(t, "sensor-7"), deviceID: "sensor-42", wantKind: AuthInvalid},
		{name: "garbage token", token: "not.a.jwt", deviceID: "sensor-42", wantKind: AuthInvalid},
		{name: "unregistered device", token: h.token(t, "ghost-1"), deviceID: "ghost-1", wantKind: AuthNotFound, lookups: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := h.dir.calls.Load()

			_, err := h.engine.Authenticate(ctx, tt.token, tt.deviceID)

			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.wantKind, authErr.Kind)
			assert.Equal(t, tt.lookups, h.dir.calls.Load()-before, "directory lookups")
		})
	}

	assert.False(t, h.mr.Exists(store.LastSeenKey("ghost-1")), "refused devices are not marked seen")
}

func TestAuthenticateMarksDeviceSeen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	dc, err := h.engine.Authenticate(ctx, h.token(t, "sensor-42"), "sensor-42")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", dc.OwnerID)

	raw, err := h.mr.Get(store.LastSeenKey("sensor-42"))
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Format(time.RFC3339Nano), raw)
	assert.Equal(t, LastSeenTTL, h.mr.TTL(store.LastSeenKey("sensor-42")))

	ok, err := h.mr.SIsMember(store.ActiveDevicesKey, "sensor-42")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ActiveDevicesTTL, h.mr.TTL(store.ActiveDevicesKey))

	ok, err = h.mr.SIsMember(store.KnownDevicesKey, "sensor-42")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthenticateThroughCachedDirectory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	lookup := &countingLookup{}

	e, err := New(discardLogger(), Deps{
		Store:     h.st,
		Publisher: h.pub,
		Directory: directory.NewClient(discardLogger(), h.st, lookup),
		Verifier:  h.tokens,
		Topics:    testTopics,
		Now:       h.clock.Now,
	})
	require.NoError(t, err)

	tok := h.token(t, "sensor-42")

	_, err = e.Authenticate(ctx, tok, "sensor-42")
	require.NoError(t, err)
	assert.Equal(t, int64(1), lookup.calls.Load(), "first authentication looks the device up")

	_, err = e.Authenticate(ctx, tok, "sensor-42")
	require.NoError(t, err)
	assert.Equal(t, int64(1), lookup.calls.Load(), "second authentication within the cache TTL does not")

	h.mr.FastForward(directory.CacheTTL + time.Second)

	_, err = e.Authenticate(ctx, tok, "sensor-42")
	require.NoError(t, err)
	assert.Equal(t, int64(2), lookup.calls.Load(), "authentication after expiry looks up exactly once more")
}

func TestReportHealth(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	h.engine.ReportHealth(ctx, "sensor-42", false, utils.Ptr("sensor drift"))

	ttl := h.mr.TTL(store.HealthKey("sensor-42"))
	assert.GreaterOrEqual(t, ttl, HealthTTL-HealthTTLJitter)
	assert.LessOrEqual(t, ttl, HealthTTL+HealthTTLJitter)

	raw, err := h.mr.Get(store.HealthKey("sensor-42"))
	require.NoError(t, err)

	report, err := utils.FromJSON[types.HealthReport]([]byte(raw))
	require.NoError(t, err)
	assert.False(t, report.IsHealthy)
	assert.Equal(t, "sensor drift", *report.Message)

	msgs := h.pub.Messages(testTopics.Health)
	require.Len(t, msgs, 1)
	assert.Equal(t, "sensor-42", msgs[0].Key)
}

func TestReportHealthSwallowsFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.pub.FailTopic(testTopics.Health, errors.New("down"))
	h.mr.SetError("READONLY")

	h.engine.ReportHealth(context.Background(), "sensor-42", true, nil)

	assert.Empty(t, h.pub.Messages(""))
}

// noopStore answers every read with nothing and accepts every write.
type noopStore struct{}

func (noopStore) Get(context.Context, string) (string, error)                { return "", store.ErrNil }
func (noopStore) SetEx(context.Context, string, string, time.Duration) error { return nil }
func (noopStore) IncrBy(context.Context, string, int64) (int64, error)       { return 0, nil }
func (noopStore) SAdd(context.Context, string, string) error                 { return nil }
func (noopStore) SCard(context.Context, string) (int64, error)               { return 0, nil }
func (noopStore) Expire(context.Context, string, time.Duration) error        { return nil }
func (noopStore) Scan(context.Context, string) ([]string, error)             { return nil, nil }
func (noopStore) Del(context.Context, ...string) (int64, error)              { return 0, nil }
func (noopStore) Ping(context.Context) error                                 { return nil }
