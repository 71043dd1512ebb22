// Package types holds the response bodies shared by every HTTP route.
package types

// ErrorResponse is the body of every non-2xx response. Errors is set for
// validation failures only, keyed by field path.
//
//nolint:errname // ErrorResponse is an API response type, not a traditional error
type ErrorResponse struct {
	StatusCode int               `json:"-"`
	RequestID  string            `json:"request_id"`
	Message    string            `json:"message"`
	Errors     map[string]string `json:"errors,omitempty"`
}

func (e *ErrorResponse) Error() string {
	return e.Message
}

type PingStatus string

const (
	PingStatusOK    PingStatus = "OK"
	PingStatusError PingStatus = "ERROR"
)

type PingResponse struct {
	Message string     `json:"message"`
	Status  PingStatus `json:"status"`
}

// HealthResponse maps each dependency to whether its check passed.
type HealthResponse struct {
	Status PingStatus      `json:"status"`
	Checks map[string]bool `json:"checks"`
}

// NewHealthResponse is OK only when every check passed.
func NewHealthResponse(checks map[string]bool) HealthResponse {
	for _, ok := range checks {
		if !ok {
			return HealthResponse{Status: PingStatusError, Checks: checks}
		}
	}

	return HealthResponse{Status: PingStatusOK, Checks: checks}
}
