package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"iot-ingestion/backend/internal/ingest/types"
	"iot-ingestion/backend/internal/store"
	"iot-ingestion/backend/pkg/utils"
)

const msgDeviceNeverSeen = "Device not found or never connected"

// GetStats summarises the pipeline in a fixed number of store reads. It
// never writes to the store.
func (e *Engine) GetStats(ctx context.Context) types.Stats {
	now := e.now()

	return types.Stats{
		TotalDevices:          e.card(ctx, store.KnownDevicesKey),
		ActiveDevices:         e.card(ctx, store.ActiveDevicesKey),
		DataPointsToday:       e.counter(ctx, store.DailyPointsKey(now)),
		DataPointsTotal:       e.counter(ctx, store.TotalPointsKey),
		MessagesInQueue:       e.pub.QueueDepth(),
		AverageProcessingTime: e.averageProcessingMillis(),
		Uptime:                types.FormatUptime(now.Sub(e.started)),
	}
}

// GetDeviceStatus reports the runtime view of a device. The boolean is false
// when the device has not been seen within the last-seen window.
func (e *Engine) GetDeviceStatus(ctx context.Context, deviceID string) (types.DeviceStatus, bool) {
	raw, err := e.store.Get(ctx, store.LastSeenKey(deviceID))
	if err != nil {
		if !errors.Is(err, store.ErrNil) {
			e.l.Warn("failed to read last seen", slog.String("device_id", deviceID), utils.ErrAttr(err))
		}

		return types.DeviceStatus{
			DeviceID: deviceID,
			Status:   types.DeviceStatusUnknown,
			Message:  msgDeviceNeverSeen,
		}, false
	}

	now := e.now()
	status := types.DeviceStatus{
		DeviceID:        deviceID,
		Status:          types.DeviceStatusOffline,
		DataPointsToday: e.counter(ctx, store.DeviceDailyPointsKey(deviceID, now)),
		DataPointsTotal: e.counter(ctx, store.DeviceTotalPointsKey(deviceID)),
		Health:          e.health(ctx, deviceID),
	}

	if lastSeen, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		status.LastSeen = &lastSeen
		status.IsOnline = types.IsOnline(lastSeen, now)
	} else {
		e.l.Warn("unreadable last seen", slog.String("device_id", deviceID), slog.String("value", raw))
	}

	if status.IsOnline {
		status.Status = types.DeviceStatusOnline
	}

	return status, true
}

// RefreshActiveDevices pushes the active device count to the metrics gauge.
func (e *Engine) RefreshActiveDevices(ctx context.Context) {
	e.m.SetActiveDevices(e.card(ctx, store.ActiveDevicesKey))
}

// CleanupExpired deletes daily counters older than the retention window and
// returns how many keys it removed. Keys are found with SCAN, never KEYS.
func (e *Engine) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := e.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -CounterRetention)

	var stale []string

	for _, pattern := range []string{store.DailyPointsPattern, store.GlobalPointsPattern} {
		keys, err := e.store.Scan(ctx, pattern)
		if err != nil {
			return 0, err
		}

		for _, key := range keys {
			if day, ok := store.DayOfCounterKey(key); ok && day.Before(cutoff) {
				stale = append(stale, key)
			}
		}
	}

	if len(stale) == 0 {
		return 0, nil
	}

	deleted, err := e.store.Del(ctx, stale...)
	if err != nil {
		return 0, err
	}

	e.l.Info("expired counters removed", slog.Int64("deleted", deleted))

	return deleted, nil
}

// Ping checks the state store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

func (e *Engine) card(ctx context.Context, key string) int64 {
	n, err := e.store.SCard(ctx, key)
	if err != nil {
		e.l.Warn("failed to read set size", slog.String("key", key), utils.ErrAttr(err))
		return 0
	}

	return n
}

// counter reads an integer counter; missing or unreadable counters are zero.
func (e *Engine) counter(ctx context.Context, key string) int64 {
	raw, err := e.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNil) {
			e.l.Warn("failed to read counter", slog.String("key", key), utils.ErrAttr(err))
		}

		return 0
	}

	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}

	return n
}

func (e *Engine) health(ctx context.Context, deviceID string) *types.HealthReport {
	raw, err := e.store.Get(ctx, store.HealthKey(deviceID))
	if err != nil {
		return nil
	}

	report, err := utils.FromJSON[types.HealthReport]([]byte(raw))
	if err != nil {
		e.l.Warn("unreadable health snapshot", slog.String("device_id", deviceID), utils.ErrAttr(err))
		return nil
	}

	return &report
}
