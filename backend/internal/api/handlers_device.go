package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"iot-ingestion/backend/internal/apicommon"
	"iot-ingestion/backend/internal/ingest/types"
	sharedtypes "iot-ingestion/backend/internal/shared/types"
	"iot-ingestion/backend/pkg/router"
)

// DeviceStatus answers 200 for unknown devices too, with status "unknown".
func (h *Handler) DeviceStatus(w http.ResponseWriter, r *http.Request) error {
	deviceID := chi.URLParam(r, "deviceID")

	status, found := h.engine.GetDeviceStatus(r.Context(), deviceID)
	if !found {
		apicommon.GetLogger(r.Context()).Debug("status requested for unseen device", slog.String("device_id", deviceID))
	}

	apicommon.RespondJSON(w, r, http.StatusOK, status)

	return nil
}

func (h *Handler) RegisterDeviceStatus(path string, rb *router.RouteBuilder) {
	lastSeen := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	rb.MustGet(path, router.RouteSpec{
		OperationID: "getDeviceStatus",
		Summary:     "Get device status",
		Description: "Real-time status of a device: last seen, online flag, latest health report and reading counters.",
		Group:       DeviceGroup,
		Handler:     apicommon.ErrorHandler(h.DeviceStatus),
		Parameters: map[string]router.ParameterSpec{
			"deviceID": {In: router.ParameterInPath, Description: "Device identifier", Required: true, Type: new(string)},
		},
		Responses: apicommon.GenerateResponses(map[int]router.ResponseSpec{
			200: {
				Description: "Device status",
				Type:        types.DeviceStatus{},
				Examples: map[string]any{
					"Online": types.DeviceStatus{
						DeviceID: "sensor-42", Status: types.DeviceStatusOnline, LastSeen: &lastSeen, IsOnline: true,
						DataPointsToday: 120, DataPointsTotal: 48000,
					},
					"Unknown": types.DeviceStatus{
						DeviceID: "sensor-404", Status: types.DeviceStatusUnknown,
						Message: "Device not found or never connected",
					},
				},
			},
		}),
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) error {
	apicommon.RespondJSON(w, r, http.StatusOK, h.engine.GetStats(r.Context()))

	return nil
}

func (h *Handler) RegisterStats(path string, rb *router.RouteBuilder) {
	rb.MustGet(path, router.RouteSpec{
		OperationID: "getStats",
		Summary:     "Get ingestion statistics",
		Description: "Device counts, reading counters, bus queue depth and uptime.",
		Group:       StatsGroup,
		Handler:     apicommon.ErrorHandler(h.Stats),
		Responses: apicommon.GenerateResponses(map[int]router.ResponseSpec{
			200: {
				Description: "Current statistics",
				Type:        types.Stats{},
				Examples: map[string]any{
					"Success": types.Stats{
						TotalDevices: 12, ActiveDevices: 9, DataPointsToday: 5400, DataPointsTotal: 1200000,
						AverageProcessingTime: 3.214, Uptime: "1 day, 2:03:04",
					},
				},
			},
		}),
	})
}

// DeviceHealth records a device-initiated health report. Reports carry no
// credential.
func (h *Handler) DeviceHealth(w http.ResponseWriter, r *http.Request) error {
	req, err := apicommon.DecodeJSON[DeviceHealthRequest](r)
	if err != nil {
		return err
	}

	errs := map[string]string{}

	if n := utf8.RuneCountInString(req.DeviceID); n < types.MinDeviceIDLen || n > types.MaxDeviceIDLen {
		errs["device_id"] = fmt.Sprintf("must be between %d and %d characters", types.MinDeviceIDLen, types.MaxDeviceIDLen)
	}

	if req.IsHealthy == nil {
		errs["is_healthy"] = "is required"
	}

	if len(errs) > 0 {
		return apicommon.NewValidationError(errs)
	}

	h.engine.ReportHealth(r.Context(), req.DeviceID, *req.IsHealthy, req.Message)

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	apicommon.RespondJSON(w, r, http.StatusOK, DeviceHealthResponse{
		Status:    "received",
		DeviceID:  req.DeviceID,
		Timestamp: ts,
	})

	return nil
}

func (h *Handler) RegisterDeviceHealth(path string, rb *router.RouteBuilder) {
	rb.MustPost(path, router.RouteSpec{
		OperationID: "reportDeviceHealth",
		Summary:     "Report device health",
		Description: "Devices report whether they are healthy. The report is stored for about an hour and forwarded to the health topic.",
		Group:       DeviceGroup,
		RequestType: &DeviceHealthRequest{},
		Handler:     apicommon.ErrorHandler(h.DeviceHealth),
		Responses: apicommon.GenerateResponses(map[int]router.ResponseSpec{
			200: {
				Description: "Report received",
				Type:        DeviceHealthResponse{},
				Examples: map[string]any{
					"Success": DeviceHealthResponse{
						Status: "received", DeviceID: "sensor-42",
						Timestamp: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC),
					},
				},
			},
			400: {
				Description: "Invalid report",
				Type:        sharedtypes.ErrorResponse{},
				Examples: map[string]any{
					"Missing Flag": sharedtypes.ErrorResponse{
						Message: "Validation failed",
						Errors:  map[string]string{"is_healthy": "is required"},
					},
				},
			},
		}),
	})
}
