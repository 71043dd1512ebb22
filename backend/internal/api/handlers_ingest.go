package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"iot-ingestion/backend/internal/apicommon"
	"iot-ingestion/backend/internal/ingest/types"
	sharedtypes "iot-ingestion/backend/internal/shared/types"
	"iot-ingestion/backend/pkg/router"
	"iot-ingestion/backend/pkg/utils"
)

// Ingest authenticates the device, forwards the batch and answers once the
// bus has accepted it.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) error {
	l := apicommon.GetLogger(r.Context())

	token, err := bearerToken(r)
	if err != nil {
		return err
	}

	req, err := apicommon.DecodeJSON[types.IngestionRequest](r)
	if err != nil {
		return err
	}

	if err := req.Validate(); err != nil {
		return validationFailure(err)
	}

	l = l.With(slog.String("device_id", req.DeviceID), slog.Int("data_points", len(req.Data)))
	l.Info("data ingestion request")

	dc, err := h.engine.Authenticate(r.Context(), token, req.DeviceID)
	if err != nil {
		l.Warn("device authentication failed", utils.ErrAttr(err))
		return authFailure(err, "Invalid device credentials")
	}

	out := h.engine.ProcessBatch(r.Context(), req, dc, types.SourceHTTP)
	if !out.Success {
		l.Error("data ingestion failed", slog.String("error", out.Error), slog.Bool("recorded_to_errors", out.RecordedToErrors))
		return apicommon.NewError(http.StatusServiceUnavailable, "Failed to process data")
	}

	apicommon.RespondJSON(w, r, http.StatusOK, IngestResponse{
		Success:        true,
		Message:        fmt.Sprintf("Successfully received %d data points", out.PointsAccepted),
		ProcessedCount: out.PointsAccepted,
		BatchID:        req.BatchID,
	})

	return nil
}

func (h *Handler) RegisterIngest(path string, rb *router.RouteBuilder) {
	rb.MustPost(path, router.RouteSpec{
		OperationID: "ingestData",
		Summary:     "Ingest readings",
		Description: "Submit a batch of readings from one device. Requires the device's bearer token.",
		Group:       IngestionGroup,
		RequestType: &types.IngestionRequest{},
		Handler:     apicommon.ErrorHandler(h.Ingest),
		Parameters: map[string]router.ParameterSpec{
			"Authorization": {In: router.ParameterInHeader, Description: "Bearer device token", Required: true, Type: new(string)},
		},
		Responses: apicommon.GenerateResponses(map[int]router.ResponseSpec{
			200: {
				Description: "Readings forwarded",
				Type:        IngestResponse{},
				Examples: map[string]any{
					"Success": IngestResponse{Success: true, Message: "Successfully received 2 data points", ProcessedCount: 2},
				},
			},
			400: {
				Description: "Invalid request",
				Type:        sharedtypes.ErrorResponse{},
				Examples: map[string]any{
					"Validation Failed": sharedtypes.ErrorResponse{
						Message: "Validation failed",
						Errors:  map[string]string{"data[0].data_type": `unknown data type "smell"`},
					},
				},
			},
			401: {
				Description: "Missing or invalid device credentials",
				Type:        sharedtypes.ErrorResponse{},
			},
			503: {
				Description: "The bus did not accept the batch",
				Type:        sharedtypes.ErrorResponse{},
			},
		}),
	})
}

// IngestBatch authenticates every entry before forwarding any of them.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) error {
	l := apicommon.GetLogger(r.Context())

	token, err := bearerToken(r)
	if err != nil {
		return err
	}

	reqs, err := apicommon.DecodeJSON[[]types.IngestionRequest](r)
	if err != nil {
		return err
	}

	if len(reqs) == 0 {
		return apicommon.NewError(http.StatusBadRequest, "Batch must contain at least one request")
	}

	fieldErrs := map[string]string{}
	total := 0

	for i, req := range reqs {
		total += len(req.Data)

		if err := req.Validate(); err != nil {
			var verr *types.ValidationError
			if !errors.As(err, &verr) {
				return err
			}

			prefix := "[" + strconv.Itoa(i) + "]."
			for field, msg := range verr.Fields {
				fieldErrs[prefix+field] = msg
			}
		}
	}

	if len(fieldErrs) > 0 {
		return apicommon.NewValidationError(fieldErrs)
	}

	l = l.With(slog.Int("batch_size", len(reqs)), slog.Int("total_data_points", total))
	l.Info("batch data ingestion request")

	contexts := make([]types.DeviceContext, len(reqs))

	for i, req := range reqs {
		dc, err := h.engine.Authenticate(r.Context(), token, req.DeviceID)
		if err != nil {
			l.Warn("device authentication failed", slog.String("device_id", req.DeviceID), utils.ErrAttr(err))
			return authFailure(err, "Invalid credentials for device "+req.DeviceID)
		}

		contexts[i] = dc
	}

	resp := IngestResponse{Success: true}

	for i, req := range reqs {
		out := h.engine.ProcessBatch(r.Context(), req, contexts[i], types.SourceHTTP)
		if !out.Success {
			resp.Success = false
			resp.Errors = append(resp.Errors, fmt.Sprintf("device %s: %s", req.DeviceID, out.Error))

			continue
		}

		resp.ProcessedCount += out.PointsAccepted
	}

	if resp.ProcessedCount == 0 && !resp.Success {
		l.Error("batch data ingestion failed", slog.Any("errors", resp.Errors))
		return apicommon.NewError(http.StatusServiceUnavailable, "Failed to process batch data")
	}

	if resp.Success {
		resp.Message = fmt.Sprintf("Successfully processed %d data points", resp.ProcessedCount)
	} else {
		l.Warn("batch partially forwarded", slog.Int("failed", len(resp.Errors)))
		resp.Message = fmt.Sprintf("Processed %d of %d data points", resp.ProcessedCount, total)
	}

	apicommon.RespondJSON(w, r, http.StatusOK, resp)

	return nil
}

func (h *Handler) RegisterIngestBatch(path string, rb *router.RouteBuilder) {
	rb.MustPost(path, router.RouteSpec{
		OperationID: "ingestBatch",
		Summary:     "Ingest readings from several devices",
		Description: "Submit a list of batches. Every device is authenticated with the same bearer token before any batch is forwarded.",
		Group:       IngestionGroup,
		RequestType: &[]types.IngestionRequest{},
		Handler:     apicommon.ErrorHandler(h.IngestBatch),
		Parameters: map[string]router.ParameterSpec{
			"Authorization": {In: router.ParameterInHeader, Description: "Bearer device token", Required: true, Type: new(string)},
		},
		Responses: apicommon.GenerateResponses(map[int]router.ResponseSpec{
			200: {
				Description: "Batches forwarded, possibly partially",
				Type:        IngestResponse{},
				Examples: map[string]any{
					"Success": IngestResponse{Success: true, Message: "Successfully processed 5 data points", ProcessedCount: 5},
					"Partial": IngestResponse{
						Success: false, Message: "Processed 3 of 5 data points", ProcessedCount: 3,
						Errors: []string{"device sensor-7: kafka: client has run out of available brokers"},
					},
				},
			},
			400: {Description: "Invalid request", Type: sharedtypes.ErrorResponse{}},
			401: {Description: "A device failed authentication", Type: sharedtypes.ErrorResponse{}},
			503: {Description: "No batch was accepted by the bus", Type: sharedtypes.ErrorResponse{}},
		}),
	})
}
