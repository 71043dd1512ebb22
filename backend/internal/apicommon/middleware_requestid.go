package apicommon

import (
	"net/http"

	"iot-ingestion/backend/pkg/utils"
)

// RequestIDMiddleware propagates the caller's X-Request-ID, or assigns a new one,
// and echoes it on the response.
func (m *MiddlewareHandler) RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = utils.NewUUID()
		}

		w.Header().Set(RequestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}
