package api

import (
	"iot-ingestion/backend/internal/apicommon"
	"iot-ingestion/backend/pkg/router"
)

// Register mounts every route on rb. The ingress routes sit at the root, the
// service routes under /api.
func (h *Handler) Register(rb *router.RouteBuilder, mw *apicommon.MiddlewareHandler) {
	h.l.Info("Registering HTTP handlers...")

	rb.Use(mw.RecoveryMiddleware)
	rb.Use(mw.RequestIDMiddleware)
	rb.Use(mw.LoggerMiddleware)
	rb.Use(mw.MetricsMiddleware)

	h.RegisterRoot("/", rb)
	h.RegisterIngest("/ingest", rb)
	h.RegisterIngestBatch("/ingest/batch", rb)
	h.RegisterDeviceStatus("/device/{deviceID}/status", rb)
	h.RegisterStats("/stats", rb)
	h.RegisterDeviceHealth("/health-check", rb)

	rb.Route("/api", func(rb *router.RouteBuilder) {
		h.RegisterPing("/ping", rb)
		h.RegisterHealth("/health", rb)

		rb.Router().Get("/docs/openapi.json", rb.DocsHandler())
		rb.Router().Get("/docs/openapi.yaml", rb.DocsHandler())
	})

	rb.Router().Handle("/metrics", h.Metrics())

	h.l.Info("HTTP handlers registered successfully")
}
