package ingest

import (
	"fmt"

	"iot-ingestion/backend/internal/ingest/types"
)

// AuthErrorKind says why a device was refused.
type AuthErrorKind int

const (
	// AuthNotFound means the directory does not know the device or could not be reached.
	AuthNotFound AuthErrorKind = iota + 1
	// AuthInvalid means the credential is missing or does not belong to the device.
	AuthInvalid
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthNotFound:
		return "not_found"
	case AuthInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// AuthError is returned by Authenticate.
type AuthError struct {
	Kind     AuthErrorKind
	DeviceID string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device %s authentication failed (%s): %v", e.DeviceID, e.Kind, e.Err)
	}

	return fmt.Sprintf("device %s authentication failed (%s)", e.DeviceID, e.Kind)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ValidationError is the per-field rejection of a request.
type ValidationError = types.ValidationError
