package api

import (
	"errors"
	"net/http"
	"strings"

	"iot-ingestion/backend/internal/apicommon"
	"iot-ingestion/backend/internal/ingest"
	"iot-ingestion/backend/internal/ingest/types"
)

const bearerPrefix = "bearer "

// bearerToken extracts the credential from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", apicommon.NewError(http.StatusUnauthorized, "Missing bearer token")
	}

	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", apicommon.NewError(http.StatusUnauthorized, "Missing bearer token")
	}

	return token, nil
}

// authFailure maps an authentication error to its HTTP response.
func authFailure(err error, message string) error {
	var authErr *ingest.AuthError
	if errors.As(err, &authErr) {
		return apicommon.NewError(http.StatusUnauthorized, message)
	}

	return err
}

// validationFailure maps a validation error to a 400 with per-field errors.
func validationFailure(err error) error {
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		return apicommon.NewValidationError(verr.Fields)
	}

	return err
}
