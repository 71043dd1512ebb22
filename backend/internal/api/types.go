package api

import (
	"time"
)

// IngestResponse acknowledges a submission once it has been forwarded.
type IngestResponse struct {
	// Whether every reading was forwarded
	Success bool `json:"success"`
	// Human-readable summary
	Message string `json:"message"`
	// Number of readings forwarded to the bus
	ProcessedCount int `json:"processed_count"`
	// Echo of the submitted batch id
	BatchID *string `json:"batch_id,omitempty"`
	// Per-device failures of a multi-device batch
	Errors []string `json:"errors,omitempty"`
}

// DeviceHealthRequest is a device-initiated health report.
type DeviceHealthRequest struct {
	DeviceID  string         `json:"device_id"`
	IsHealthy *bool          `json:"is_healthy"`
	Message   *string        `json:"message,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Metrics   map[string]any `json:"metrics,omitempty"`
}

// DeviceHealthResponse acknowledges a health report.
type DeviceHealthResponse struct {
	Status    string    `json:"status"`
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ServiceInfo is the banner served at the root path.
type ServiceInfo struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}
