// Package directory resolves device ids to registry records, caching them
// in the state store.
package directory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"iot-ingestion/backend/internal/ingest/types"
	"iot-ingestion/backend/internal/store"
	"iot-ingestion/backend/pkg/utils"
)

// CacheTTL is how long a resolved record is served from the store.
const CacheTTL = 300 * time.Second

var ErrNotFound = errors.New("device not found")

// Lookup is a registry backend.
type Lookup interface {
	// Get returns ErrNotFound when the registry has no such device.
	Get(ctx context.Context, deviceID string) (Record, error)
	Ping(ctx context.Context) error
}

// Client puts the store cache in front of a Lookup. Concurrent misses for
// the same device share one lookup.
type Client struct {
	l      *slog.Logger
	store  store.Store
	lookup Lookup
	ttl    time.Duration
	group  singleflight.Group
}

func NewClient(l *slog.Logger, st store.Store, lookup Lookup) *Client {
	return &Client{
		l:      l.With(slog.String("component", "directory")),
		store:  st,
		lookup: lookup,
		ttl:    CacheTTL,
	}
}

// Resolve returns the device context, or false when the device is unknown
// or the registry could not be reached.
func (c *Client) Resolve(ctx context.Context, deviceID string) (types.DeviceContext, bool) {
	if dc, ok := c.cached(ctx, deviceID); ok {
		return dc, true
	}

	// A caller that gives up must not fail the others waiting on the same key.
	v, err, _ := c.group.Do(deviceID, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), deviceID)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.l.Info("device not registered", slog.String("device_id", deviceID))
		} else {
			c.l.Warn("registry lookup failed", slog.String("device_id", deviceID), utils.ErrAttr(err))
		}

		return types.DeviceContext{}, false
	}

	dc, _ := v.(types.DeviceContext)

	return dc, true
}

// Ping checks the registry backend.
func (c *Client) Ping(ctx context.Context) error {
	return c.lookup.Ping(ctx)
}

func (c *Client) cached(ctx context.Context, deviceID string) (types.DeviceContext, bool) {
	raw, err := c.store.Get(ctx, store.DeviceInfoKey(deviceID))
	if err != nil {
		if !errors.Is(err, store.ErrNil) {
			c.l.Warn("device cache read failed", slog.String("device_id", deviceID), utils.ErrAttr(err))
		}

		return types.DeviceContext{}, false
	}

	dc, err := utils.FromJSON[types.DeviceContext]([]byte(raw))
	if err != nil || dc.DeviceID == "" {
		c.l.Warn("discarding unreadable cache entry", slog.String("device_id", deviceID))
		return types.DeviceContext{}, false
	}

	return dc, true
}

func (c *Client) fetch(ctx context.Context, deviceID string) (types.DeviceContext, error) {
	rec, err := c.lookup.Get(ctx, deviceID)
	if err != nil {
		return types.DeviceContext{}, err
	}

	dc := rec.Context()

	data, err := utils.ToJSON(dc)
	if err != nil {
		return dc, nil //nolint:nilerr // caching is best effort
	}

	if err := c.store.SetEx(ctx, store.DeviceInfoKey(deviceID), string(data), c.ttl); err != nil {
		c.l.Warn("device cache write failed", slog.String("device_id", deviceID), utils.ErrAttr(err))
	}

	return dc, nil
}
