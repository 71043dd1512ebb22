package types

import "time"

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertEvent is published once to the alerts topic.
type AlertEvent struct {
	ID         string        `json:"id"`
	DeviceID   string        `json:"device_id"`
	Metric     string        `json:"metric"`
	Value      float64       `json:"value"`
	Threshold  float64       `json:"threshold"`
	Severity   Severity      `json:"severity"`
	Message    string        `json:"message"`
	DeviceInfo DeviceContext `json:"device_info"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Envelope is the enriched batch forwarded to the data topic.
type Envelope struct {
	DeviceID        string         `json:"device_id"`
	DeviceInfo      DeviceContext  `json:"device_info"`
	Data            []Reading      `json:"data"`
	ReceivedAt      time.Time      `json:"received_at"`
	Source          string         `json:"source"`
	BatchID         *string        `json:"batch_id"`
	Location        map[string]any `json:"location"`
	FirmwareVersion *string        `json:"firmware_version"`
	BatteryLevel    *float64       `json:"battery_level"`
}

// FailureRecord is published to the errors topic when forwarding fails.
type FailureRecord struct {
	Error    string    `json:"error"`
	Data     Envelope  `json:"data"`
	FailedAt time.Time `json:"timestamp"`
}

// ProcessOutcome is the terminal result of one batch.
type ProcessOutcome struct {
	Success        bool   `json:"success"`
	DeviceID       string `json:"device_id"`
	BatchID        string `json:"batch_id,omitempty"`
	PointsAccepted int    `json:"points_accepted"`
	AlertsRaised   int    `json:"alerts_raised"`
	// Error is set when the batch went to the error path.
	Error string `json:"error,omitempty"`
	// RecordedToErrors is false only if the error-topic fallback failed too.
	RecordedToErrors bool `json:"recorded_to_errors,omitempty"`
}

// Sources of a batch.
const (
	SourceHTTP = "http"
	SourceMQTT = "mqtt"
)
