package types

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	MinDeviceIDLen = 3
	MaxDeviceIDLen = 100
	MaxReadings    = 1000
)

// IngestionRequest is a batch of readings from one device.
type IngestionRequest struct {
	DeviceID        string         `json:"device_id"`
	Data            []Reading      `json:"data"`
	BatchID         *string        `json:"batch_id,omitempty"`
	Location        map[string]any `json:"location,omitempty"`
	FirmwareVersion *string        `json:"firmware_version,omitempty"`
	BatteryLevel    *float64       `json:"battery_level,omitempty"`
}

// ValidationError carries one message per offending field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}

	return "validation failed: " + strings.Join(parts, "; ")
}

// Validate returns a *ValidationError describing every problem, or nil.
func (r IngestionRequest) Validate() error {
	errs := map[string]string{}

	switch n := utf8.RuneCountInString(r.DeviceID); {
	case n < MinDeviceIDLen:
		errs["device_id"] = fmt.Sprintf("must be at least %d characters", MinDeviceIDLen)
	case n > MaxDeviceIDLen:
		errs["device_id"] = fmt.Sprintf("must be at most %d characters", MaxDeviceIDLen)
	}

	switch n := len(r.Data); {
	case n == 0:
		errs["data"] = "must contain at least 1 reading"
	case n > MaxReadings:
		errs["data"] = fmt.Sprintf("must contain at most %d readings", MaxReadings)
	}

	if r.BatteryLevel != nil && (*r.BatteryLevel < 0 || *r.BatteryLevel > 100) {
		errs["battery_level"] = "must be between 0 and 100"
	}

	for i, reading := range r.Data {
		for field, msg := range reading.Validate() {
			errs[fmt.Sprintf("data[%d].%s", i, field)] = msg
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}

	return nil
}

// BatchIDOrEmpty is a nil-safe accessor.
func (r IngestionRequest) BatchIDOrEmpty() string {
	if r.BatchID == nil {
		return ""
	}

	return *r.BatchID
}
