// Package api is the HTTP ingress: reading submission, device status,
// statistics and device health reports, each translated into engine calls.
package api

import (
	"context"
	"errors"
	"log/slog"

	"iot-ingestion/backend/internal/ingest/types"
	"iot-ingestion/backend/internal/metrics"
)

const (
	CoreGroup      = "Core"
	IngestionGroup = "Data Ingestion"
	DeviceGroup    = "Device Status"
	StatsGroup     = "Statistics"
)

// Engine is the part of the ingestion engine the HTTP ingress drives.
type Engine interface {
	Authenticate(ctx context.Context, credential, deviceID string) (types.DeviceContext, error)
	ProcessBatch(ctx context.Context, req types.IngestionRequest, dc types.DeviceContext, source string) types.ProcessOutcome
	ReportHealth(ctx context.Context, deviceID string, isHealthy bool, message *string)
	GetStats(ctx context.Context) types.Stats
	GetDeviceStatus(ctx context.Context, deviceID string) (types.DeviceStatus, bool)
	RefreshActiveDevices(ctx context.Context)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handler serves the HTTP ingress.
type Handler struct {
	l       *slog.Logger
	engine  Engine
	metrics *metrics.Metrics
	checks  map[string]HealthCheck
}

// NewHandler creates the HTTP ingress handler. checks are run by the health
// endpoint, keyed by dependency name; m may be nil.
func NewHandler(l *slog.Logger, engine Engine, m *metrics.Metrics, checks map[string]HealthCheck) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}

	if checks == nil {
		checks = map[string]HealthCheck{}
	}

	return &Handler{
		l:       l.With(slog.String("component", "api")),
		engine:  engine,
		metrics: m,
		checks:  checks,
	}, nil
}
