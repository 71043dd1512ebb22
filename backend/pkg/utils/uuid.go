package utils

import "github.com/google/uuid"

// NewUUID returns a time-ordered (V7) UUID string.
func NewUUID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}

	return uuid.NewString()
}
