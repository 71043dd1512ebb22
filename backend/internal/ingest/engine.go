// Package ingest is the single entry point for ingress: it authenticates
// devices, forwards batches to the bus, keeps per-device runtime state in the
// store and raises threshold alerts.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"iot-ingestion/backend/internal/alert"
	"iot-ingestion/backend/internal/bus"
	"iot-ingestion/backend/internal/ingest/types"
	"iot-ingestion/backend/internal/metrics"
	"iot-ingestion/backend/internal/store"
	"iot-ingestion/backend/pkg/utils"
)

// Runtime state lifetimes.
const (
	LastSeenTTL      = 24 * time.Hour
	ActiveDevicesTTL = 5 * time.Minute
	DailyCounterTTL  = 7 * 24 * time.Hour
	HealthTTL        = time.Hour
	// HealthTTLJitter spreads health snapshot expiry to either side of HealthTTL.
	HealthTTLJitter = 5 * time.Minute
	// CounterRetention is how many days of daily counters survive cleanup.
	CounterRetention = 7

	unknownDeviceKey = "unknown"
)

// Directory resolves device ids to their registry context.
type Directory interface {
	Resolve(ctx context.Context, deviceID string) (types.DeviceContext, bool)
}

// TokenVerifier checks a device credential.
type TokenVerifier interface {
	Verify(token, deviceID string) error
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Store     store.Store
	Publisher bus.Publisher
	Directory Directory
	Verifier  TokenVerifier
	Topics    bus.Topics
	Metrics   *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine is safe for concurrent use by both ingress paths. Every state
// mutation it performs is a single atomic store command.
type Engine struct {
	l        *slog.Logger
	store    store.Store
	pub      bus.Publisher
	dir      Directory
	verifier TokenVerifier
	topics   bus.Topics
	m        *metrics.Metrics
	now      func() time.Time
	started  time.Time

	processedBatches atomic.Int64
	processingNanos  atomic.Int64
}

func New(l *slog.Logger, deps Deps) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Publisher == nil:
		return nil, errors.New("publisher is required")
	case deps.Directory == nil:
		return nil, errors.New("directory is required")
	case deps.Verifier == nil:
		return nil, errors.New("token verifier is required")
	}

	if err := deps.Topics.Validate(); err != nil {
		return nil, err
	}

	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Engine{
		l:        l.With(slog.String("component", "ingest-engine")),
		store:    deps.Store,
		pub:      deps.Publisher,
		dir:      deps.Directory,
		verifier: deps.Verifier,
		topics:   deps.Topics,
		m:        deps.Metrics,
		now:      deps.Now,
		started:  deps.Now(),
	}, nil
}

// Authenticate checks credential against deviceID and resolves the device.
// Failures are always an *AuthError. A directory outage counts as not found.
func (e *Engine) Authenticate(ctx context.Context, credential, deviceID string) (types.DeviceContext, error) {
	if err := e.verifier.Verify(credential, deviceID); err != nil {
		return types.DeviceContext{}, &AuthError{Kind: AuthInvalid, DeviceID: deviceID, Err: err}
	}

	dc, ok := e.dir.Resolve(ctx, deviceID)
	if !ok {
		return types.DeviceContext{}, &AuthError{Kind: AuthNotFound, DeviceID: deviceID}
	}

	e.markSeen(ctx, deviceID)

	return dc, nil
}

// ProcessBatch forwards req to the data topic and, once the bus has accepted
// it, updates counters and raises alerts. A rejected publish is recorded on
// the errors topic instead and leaves the counters untouched.
func (e *Engine) ProcessBatch(ctx context.Context, req types.IngestionRequest, dc types.DeviceContext, source string) (out types.ProcessOutcome) {
	start := e.now()
	out = types.ProcessOutcome{DeviceID: req.DeviceID, BatchID: req.BatchIDOrEmpty()}

	defer func() {
		if rec := recover(); rec != nil {
			e.l.Error("batch processing panicked", slog.String("device_id", req.DeviceID), slog.Any("panic", rec))
			out = types.ProcessOutcome{
				DeviceID: req.DeviceID,
				BatchID:  req.BatchIDOrEmpty(),
				Error:    fmt.Sprint("internal error: ", rec),
			}
		}
	}()

	env := types.Envelope{
		DeviceID:        req.DeviceID,
		DeviceInfo:      dc,
		Data:            req.Data,
		ReceivedAt:      start.UTC(),
		Source:          source,
		BatchID:         req.BatchID,
		Location:        req.Location,
		FirmwareVersion: req.FirmwareVersion,
		BatteryLevel:    req.BatteryLevel,
	}

	if err := e.pub.Publish(ctx, e.topics.Data, req.DeviceID, env); err != nil {
		out.Error = err.Error()
		out.RecordedToErrors = e.recordFailure(ctx, env, err)

		return out
	}

	n := len(req.Data)
	out.Success = true
	out.PointsAccepted = n

	// The data is on the bus; bookkeeping must not be lost to a client hang-up.
	ctx = context.WithoutCancel(ctx)

	e.markSeen(ctx, req.DeviceID)
	e.countPoints(ctx, req.DeviceID, int64(n), start)
	e.m.AddDataPoints(source, dc.DeviceType, n)

	for _, ev := range alert.EvaluateAll(req.Data, dc, start) {
		ev.ID = utils.NewUUID()

		if err := e.pub.Publish(ctx, e.topics.Alerts, req.DeviceID, ev); err != nil {
			e.l.Warn("failed to publish alert",
				slog.String("device_id", req.DeviceID),
				slog.String("metric", ev.Metric),
				utils.ErrAttr(err),
			)

			continue
		}

		out.AlertsRaised++
		e.m.AddAlert(string(ev.Severity))
	}

	e.observeProcessing(e.now().Sub(start))

	e.l.Debug("batch forwarded",
		slog.String("device_id", req.DeviceID),
		slog.String("source", source),
		slog.Int("points", n),
		slog.Int("alerts", out.AlertsRaised),
	)

	return out
}

// ReportHealth stores a health snapshot and forwards it to the health topic.
// Failures are logged only.
func (e *Engine) ReportHealth(ctx context.Context, deviceID string, isHealthy bool, message *string) {
	report := types.HealthReport{
		DeviceID:  deviceID,
		IsHealthy: isHealthy,
		Message:   message,
		Timestamp: e.now().UTC(),
	}

	data, err := utils.ToJSON(report)
	if err != nil {
		e.l.Error("failed to encode health report", slog.String("device_id", deviceID), utils.ErrAttr(err))
		return
	}

	if err := e.store.SetEx(ctx, store.HealthKey(deviceID), string(data), healthTTL()); err != nil {
		e.l.Warn("failed to store health report", slog.String("device_id", deviceID), utils.ErrAttr(err))
	}

	if err := e.pub.Publish(ctx, e.topics.Health, deviceID, report); err != nil {
		e.l.Warn("failed to publish health report", slog.String("device_id", deviceID), utils.ErrAttr(err))
	}
}

// recordFailure makes the one and only attempt to put a failed batch on the
// errors topic.
func (e *Engine) recordFailure(ctx context.Context, env types.Envelope, cause error) bool {
	key := env.DeviceID
	if key == "" {
		key = unknownDeviceKey
	}

	rec := types.FailureRecord{
		Error:    cause.Error(),
		Data:     env,
		FailedAt: e.now().UTC(),
	}

	if err := e.pub.Publish(context.WithoutCancel(ctx), e.topics.Errors, key, rec); err != nil {
		e.l.Error("failed to record batch on the errors topic",
			slog.String("device_id", env.DeviceID),
			slog.String("cause", cause.Error()),
			utils.ErrAttr(err),
		)

		return false
	}

	e.l.Warn("batch recorded on the errors topic", slog.String("device_id", env.DeviceID), utils.ErrAttr(cause))

	return true
}

func (e *Engine) markSeen(ctx context.Context, deviceID string) {
	now := e.now().UTC()

	if err := e.store.SetEx(ctx, store.LastSeenKey(deviceID), now.Format(time.RFC3339Nano), LastSeenTTL); err != nil {
		e.l.Warn("failed to update last seen", slog.String("device_id", deviceID), utils.ErrAttr(err))
	}

	if err := e.store.SAdd(ctx, store.ActiveDevicesKey, deviceID); err != nil {
		e.l.Warn("failed to mark device active", slog.String("device_id", deviceID), utils.ErrAttr(err))
	}

	if err := e.store.Expire(ctx, store.ActiveDevicesKey, ActiveDevicesTTL); err != nil {
		e.l.Warn("failed to refresh active devices expiry", utils.ErrAttr(err))
	}

	if err := e.store.SAdd(ctx, store.KnownDevicesKey, deviceID); err != nil {
		e.l.Warn("failed to record known device", slog.String("device_id", deviceID), utils.ErrAttr(err))
	}
}

func (e *Engine) countPoints(ctx context.Context, deviceID string, n int64, at time.Time) {
	daily := []string{store.DeviceDailyPointsKey(deviceID, at), store.DailyPointsKey(at)}
	for _, key := range daily {
		if _, err := e.store.IncrBy(ctx, key, n); err != nil {
			e.l.Warn("failed to increment counter", slog.String("key", key), utils.ErrAttr(err))
			continue
		}

		if err := e.store.Expire(ctx, key, DailyCounterTTL); err != nil {
			e.l.Warn("failed to set counter expiry", slog.String("key", key), utils.ErrAttr(err))
		}
	}

	for _, key := range []string{store.DeviceTotalPointsKey(deviceID), store.TotalPointsKey} {
		if _, err := e.store.IncrBy(ctx, key, n); err != nil {
			e.l.Warn("failed to increment counter", slog.String("key", key), utils.ErrAttr(err))
		}
	}
}

func (e *Engine) observeProcessing(d time.Duration) {
	e.processingNanos.Add(int64(d))
	e.processedBatches.Add(1)
}

// averageProcessingMillis is the mean time from receipt to bookkeeping done.
func (e *Engine) averageProcessingMillis() float64 {
	n := e.processedBatches.Load()
	if n == 0 {
		return 0
	}

	return types.Round3(float64(e.processingNanos.Load()) / float64(n) / float64(time.Millisecond))
}

func healthTTL() time.Duration {
	return HealthTTL - HealthTTLJitter + rand.N(2*HealthTTLJitter) //nolint:gosec // Expiry jitter
}
