package subscriber

import (
	"strings"

	"iot-ingestion/backend/internal/ingest/types"
)

// dataPayload is the body of a data message. The device id comes from the
// topic; a device_id in the body is accepted and ignored, as are fields
// this service does not know.
type dataPayload struct {
	DeviceID        string          `json:"device_id,omitempty"`
	Data            []types.Reading `json:"data"`
	BatchID         *string         `json:"batch_id,omitempty"`
	Location        map[string]any  `json:"location,omitempty"`
	FirmwareVersion *string         `json:"firmware_version,omitempty"`
	BatteryLevel    *float64        `json:"battery_level,omitempty"`
}

func (p dataPayload) request(deviceID string) types.IngestionRequest {
	return types.IngestionRequest{
		DeviceID:        deviceID,
		Data:            p.Data,
		BatchID:         p.BatchID,
		Location:        p.Location,
		FirmwareVersion: p.FirmwareVersion,
		BatteryLevel:    p.BatteryLevel,
	}
}

// healthPayload is the body of a health or status message.
type healthPayload struct {
	IsHealthy *bool   `json:"is_healthy,omitempty"`
	Status    *string `json:"status,omitempty"`
	Message   *string `json:"message,omitempty"`
	Timestamp *string `json:"timestamp,omitempty"`
}

// healthy prefers an explicit is_healthy, then a status word. A bare
// message counts as healthy.
func (p healthPayload) healthy() bool {
	if p.IsHealthy != nil {
		return *p.IsHealthy
	}

	if p.Status != nil {
		switch strings.ToLower(*p.Status) {
		case "online", "ok", "healthy", "up":
			return true
		default:
			return false
		}
	}

	return true
}
