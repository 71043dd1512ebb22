package api

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"iot-ingestion/backend/internal/apicommon"
	"iot-ingestion/backend/internal/shared/types"
	"iot-ingestion/backend/pkg/router"
	"iot-ingestion/backend/pkg/utils"
)

const (
	serviceName        = "data-ingestion"
	healthCheckTimeout = 3 * time.Second
)

func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) error {
	apicommon.RespondJSON(w, r, http.StatusOK, types.PingResponse{
		Message: "Pong", Status: types.PingStatusOK,
	})

	return nil
}

func (h *Handler) RegisterPing(path string, rb *router.RouteBuilder) {
	rb.MustGet(path, router.RouteSpec{
		OperationID: "ping",
		Summary:     "Ping the server",
		Description: "Check if the server is alive",
		Group:       CoreGroup,
		Handler:     apicommon.ErrorHandler(h.Ping),
		Responses: apicommon.GenerateResponses(map[int]router.ResponseSpec{
			200: {
				Description: "Successful ping response",
				Type:        types.PingResponse{},
				Examples: map[string]any{
					"Success": types.PingResponse{Message: "Pong", Status: types.PingStatusOK},
				},
			},
		}),
	})
}

// Health runs every dependency check concurrently.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	l := apicommon.GetLogger(r.Context())

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]bool, len(h.checks))
	)

	for _, name := range slices.Sorted(maps.Keys(h.checks)) {
		check := h.checks[name]

		wg.Go(func() {
			err := check(ctx)
			if err != nil {
				l.Warn("health check failed", slog.String("check", name), utils.ErrAttr(err))
			}

			mu.Lock()
			checks[name] = err == nil
			mu.Unlock()
		})
	}

	wg.Wait()

	resp := types.NewHealthResponse(checks)

	code := http.StatusOK
	if resp.Status != types.PingStatusOK {
		code = http.StatusServiceUnavailable
	}

	apicommon.RespondJSON(w, r, code, resp)

	return nil
}

func (h *Handler) RegisterHealth(path string, rb *router.RouteBuilder) {
	rb.MustGet(path, router.RouteSpec{
		OperationID: "health",
		Summary:     "Check server health",
		Description: "Check that the state store, the bus, the MQTT feed and the device directory are reachable",
		Group:       CoreGroup,
		Handler:     apicommon.ErrorHandler(h.Health),
		Responses: apicommon.GenerateResponses(map[int]router.ResponseSpec{
			200: {
				Description: "Every dependency is healthy",
				Type:        types.HealthResponse{},
				Examples: map[string]any{
					"Success": types.HealthResponse{
						Status: types.PingStatusOK,
						Checks: map[string]bool{"redis": true, "kafka": true, "mqtt": true, "directory": true},
					},
				},
			},
			503: {
				Description: "At least one dependency is unavailable",
				Type:        types.HealthResponse{},
				Examples: map[string]any{
					"MQTT Unavailable": types.HealthResponse{
						Status: types.PingStatusError,
						Checks: map[string]bool{"redis": true, "kafka": true, "mqtt": false, "directory": true},
					},
				},
			},
		}),
	})
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) error {
	apicommon.RespondJSON(w, r, http.StatusOK, ServiceInfo{
		Status:  "healthy",
		Service: serviceName,
		Version: utils.GetVersionShort(),
	})

	return nil
}

func (h *Handler) RegisterRoot(path string, rb *router.RouteBuilder) {
	rb.MustGet(path, router.RouteSpec{
		OperationID: "serviceInfo",
		Summary:     "Service banner",
		Description: "Name and version of the running service",
		Group:       CoreGroup,
		Handler:     apicommon.ErrorHandler(h.Root),
		Responses: apicommon.GenerateResponses(map[int]router.ResponseSpec{
			200: {
				Description: "Service banner",
				Type:        ServiceInfo{},
				Examples: map[string]any{
					"Success": ServiceInfo{Status: "healthy", Service: serviceName, Version: "v1.0.0"},
				},
			},
		}),
	})
}

// Metrics refreshes the active-devices gauge and serves the registry.
func (h *Handler) Metrics() http.Handler {
	if h.metrics == nil {
		return http.NotFoundHandler()
	}

	promHandler := h.metrics.Handler()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.engine.RefreshActiveDevices(r.Context())
		promHandler.ServeHTTP(w, r)
	})
}
