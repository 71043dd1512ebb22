package directory

import (
	"iot-ingestion/backend/internal/ingest/types"
)

// Record is a device as the registry describes it. Fields the pipeline does
// not use are ignored on decode.
type Record struct {
	DeviceID        string                     `json:"device_id"`
	Name            string                     `json:"name"`
	DeviceType      string                     `json:"device_type"`
	Status          string                     `json:"status"`
	OwnerID         string                     `json:"owner_id"`
	FirmwareVersion *string                    `json:"firmware_version,omitempty"`
	Latitude        *string                    `json:"latitude,omitempty"`
	Longitude       *string                    `json:"longitude,omitempty"`
	LocationName    *string                    `json:"location_name,omitempty"`
	Metadata        map[string]any             `json:"metadata,omitempty"`
	Thresholds      map[string]types.Threshold `json:"thresholds,omitempty"`
}

// Context projects the record onto the pipeline's device context.
func (r Record) Context() types.DeviceContext {
	dc := types.DeviceContext{
		DeviceID:   r.DeviceID,
		DeviceType: r.DeviceType,
		OwnerID:    r.OwnerID,
		Name:       r.Name,
		Status:     r.Status,
		Metadata:   r.Metadata,
		Thresholds: r.Thresholds,
	}

	if len(dc.Thresholds) == 0 {
		dc.Thresholds = nil
	}

	loc := map[string]any{}
	if r.Latitude != nil {
		loc["latitude"] = *r.Latitude
	}

	if r.Longitude != nil {
		loc["longitude"] = *r.Longitude
	}

	if r.LocationName != nil {
		loc["name"] = *r.LocationName
	}

	if len(loc) > 0 {
		dc.Location = loc
	}

	return dc
}
