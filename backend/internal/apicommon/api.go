// Package apicommon holds the HTTP plumbing shared by every handler:
// the server wrapper, middlewares, JSON helpers and error mapping.
package apicommon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"iot-ingestion/backend/internal/metrics"
	"iot-ingestion/backend/internal/shared/types"
	"iot-ingestion/backend/pkg/router"
	"iot-ingestion/backend/pkg/utils"
)

const (
	// MaxBodySize fits a full batch of readings with metadata.
	MaxBodySize     = 4 << 20
	MaxBodyText     = "4MB"
	RequestIDHeader = "X-Request-ID"

	ReadHeaderTimeout = 5 * time.Second
	ReadTimeout       = 30 * time.Second
	WriteTimeout      = 30 * time.Second
	IdleTimeout       = 120 * time.Second
	ShutdownTimeout   = 30 * time.Second
)

const (
	zeroUUID        = "00000000-0000-0000-0000-000000000000"
	maxRequestIDLen = 128
)

type HTTPServer struct {
	l      *slog.Logger
	server *http.Server
}

func NewHTTPServer(l *slog.Logger, addr string, handler http.Handler) *HTTPServer {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
		ErrorLog:          slog.NewLogLogger(l.Handler(), slog.LevelWarn),
	}

	return &HTTPServer{
		l:      l.With(slog.String("component", "http-server")),
		server: srv,
	}
}

// StartOnBackground serves until shutdown; a listen failure calls cancel.
func (s *HTTPServer) StartOnBackground(cancel context.CancelFunc) {
	go func() {
		s.l.Info("starting", slog.String("addr", s.server.Addr))

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("failed", utils.ErrAttr(err))
			cancel()
		}
	}()
}

func (s *HTTPServer) ShutdownWithDefaultTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// MiddlewareHandler holds the dependencies of the middlewares.
type MiddlewareHandler struct {
	l       *slog.Logger
	metrics *metrics.Metrics
}

// NewMiddlewareHandler creates a new middleware handler. m may be nil.
func NewMiddlewareHandler(l *slog.Logger, m *metrics.Metrics) *MiddlewareHandler {
	return &MiddlewareHandler{l: l, metrics: m}
}

// HandlerFunc is a HTTP handler that can return an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// NewError creates a simple error response.
func NewError(statusCode int, message string) *types.ErrorResponse {
	return &types.ErrorResponse{
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewValidationError creates a validation error with field-level details.
func NewValidationError(fieldErrors map[string]string) *types.ErrorResponse {
	return &types.ErrorResponse{
		StatusCode: http.StatusBadRequest,
		Message:    "Validation failed",
		Errors:     fieldErrors,
	}
}

// ErrorHandler adapts a HandlerFunc. *types.ErrorResponse errors are sent
// as-is; anything else is logged and becomes a generic 500.
func ErrorHandler(fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := GetLogger(r.Context())
		requestID := GetRequestID(r.Context())

		err := fn(w, r)
		if err == nil {
			return
		}

		var httpErr *types.ErrorResponse
		if errors.As(err, &httpErr) {
			httpErr.RequestID = requestID
			l.Warn("handler returned HTTP error",
				slog.Int("status", httpErr.StatusCode),
				slog.String("message", httpErr.Message),
			)
			RespondJSON(w, r, httpErr.StatusCode, httpErr)

			return
		}

		l.Error("internal error", utils.ErrAttr(err))
		RespondJSON(w, r, http.StatusInternalServerError, &types.ErrorResponse{
			RequestID: requestID,
			Message:   "Internal Server Error",
		})
	}
}

// RespondJSON sends data as JSON with the given status. A nil data sends
// headers only. Encoding errors are logged; the status is already out.
func RespondJSON(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data == nil {
		return
	}

	if err := utils.ToJSONStream(w, data); err != nil {
		GetLogger(r.Context()).Error("failed to encode JSON response", utils.ErrAttr(err))
	}
}

// DecodeJSON decodes the request body into T, mapping decode failures to
// 400 or 413 responses.
//
//nolint:ireturn // Generic functions must return type parameter T
func DecodeJSON[T any](r *http.Request) (T, error) {
	var zero T

	r.Body = http.MaxBytesReader(nil, r.Body, MaxBodySize)

	res, err := utils.FromJSONStream[T](r.Body)
	if err != nil {
		var (
			syntaxError        *json.SyntaxError
			unmarshalTypeError *json.UnmarshalTypeError
			maxBytesError      *http.MaxBytesError
			extraDataError     *utils.ExtraDataAfterJSONError
		)

		switch {
		case errors.As(err, &syntaxError):
			return zero, NewError(http.StatusBadRequest, fmt.Sprintf("Invalid JSON syntax at position %d", syntaxError.Offset))

		case errors.As(err, &unmarshalTypeError):
			return zero, NewError(http.StatusBadRequest, fmt.Sprintf("Invalid type for field '%s'", unmarshalTypeError.Field))

		case errors.Is(err, io.EOF):
			return zero, NewError(http.StatusBadRequest, "Request body is empty")

		case errors.Is(err, io.ErrUnexpectedEOF):
			return zero, NewError(http.StatusBadRequest, "Malformed JSON")

		case errors.As(err, &maxBytesError):
			return zero, NewError(http.StatusRequestEntityTooLarge, "Request body too large (max "+MaxBodyText+")")

		case errors.As(err, &extraDataError):
			return zero, NewError(http.StatusBadRequest, "Request body contains multiple JSON objects")

		case strings.HasPrefix(err.Error(), "json: unknown field"):
			return zero, NewError(http.StatusBadRequest, err.Error())

		default:
			return zero, NewError(http.StatusBadRequest, "Invalid JSON payload")
		}
	}

	return res, nil
}

// GenerateResponses adds the standard error responses to responses.
func GenerateResponses(responses map[int]router.ResponseSpec) map[int]router.ResponseSpec {
	if _, exists := responses[http.StatusRequestEntityTooLarge]; !exists {
		responses[http.StatusRequestEntityTooLarge] = router.ResponseSpec{
			Description: "Request entity too large",
			Type:        types.ErrorResponse{},
			Examples: map[string]any{
				"Request Entity Too Large": types.ErrorResponse{
					RequestID: zeroUUID,
					Message:   "Request body too large (max " + MaxBodyText + ")",
				},
			},
		}
	}

	if _, exists := responses[http.StatusInternalServerError]; !exists {
		responses[http.StatusInternalServerError] = router.ResponseSpec{
			Description: "Internal Server Error",
			Type:        types.ErrorResponse{},
			Examples: map[string]any{
				"Internal Server Error": types.ErrorResponse{
					RequestID: zeroUUID,
					Message:   "Internal Server Error",
				},
			},
		}
	}

	return responses
}
