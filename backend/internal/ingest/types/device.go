package types

import (
	"fmt"
	"math"
	"time"
)

// Threshold bounds a metric. A nil side is not checked.
type Threshold struct {
	Max *float64 `json:"max,omitempty"`
	Min *float64 `json:"min,omitempty"`
}

// DeviceContext is the registry's view of a device, read-only inside the pipeline.
type DeviceContext struct {
	DeviceID   string               `json:"device_id"`
	DeviceType string               `json:"device_type"`
	OwnerID    string               `json:"owner_id,omitempty"`
	Name       string               `json:"name,omitempty"`
	Status     string               `json:"status,omitempty"`
	Location   map[string]any       `json:"location,omitempty"`
	Metadata   map[string]any       `json:"metadata,omitempty"`
	Thresholds map[string]Threshold `json:"thresholds,omitempty"`
}

// LightweightContext is the context used when the transport already vouches
// for the device and no registry lookup is made.
func LightweightContext(deviceID string) DeviceContext {
	return DeviceContext{DeviceID: deviceID, DeviceType: "sensor"}
}

// HealthReport is a device-reported health snapshot.
type HealthReport struct {
	DeviceID  string    `json:"device_id"`
	IsHealthy bool      `json:"is_healthy"`
	Message   *string   `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceStatus is the runtime view of one device.
type DeviceStatus struct {
	DeviceID        string        `json:"device_id"`
	Status          string        `json:"status"`
	LastSeen        *time.Time    `json:"last_seen"`
	IsOnline        bool          `json:"is_online"`
	Health          *HealthReport `json:"health"`
	DataPointsToday int64         `json:"data_points_today"`
	DataPointsTotal int64         `json:"data_points_received"`
	Message         string        `json:"message,omitempty"`
}

const (
	DeviceStatusOnline  = "online"
	DeviceStatusOffline = "offline"
	DeviceStatusUnknown = "unknown"
)

// OnlineWindow is how recent last-seen must be for a device to count as online.
const OnlineWindow = 5 * time.Minute

// IsOnline reports whether lastSeen falls within OnlineWindow of now.
func IsOnline(lastSeen, now time.Time) bool {
	return now.Sub(lastSeen) < OnlineWindow
}

// Stats summarises the pipeline.
type Stats struct {
	TotalDevices          int64   `json:"total_devices"`
	ActiveDevices         int64   `json:"active_devices"`
	DataPointsToday       int64   `json:"data_points_today"`
	DataPointsTotal       int64   `json:"data_points_total"`
	MessagesInQueue       int64   `json:"messages_in_queue"`
	AverageProcessingTime float64 `json:"average_processing_time"`
	Uptime                string  `json:"uptime"`
}

// FormatUptime renders d as H:MM:SS, with a day prefix once it exceeds a day.
func FormatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour

	clock := fmt.Sprintf("%d:%02d:%02d", d/time.Hour, (d%time.Hour)/time.Minute, (d%time.Minute)/time.Second)

	switch {
	case days == 1:
		return "1 day, " + clock
	case days > 1:
		return fmt.Sprintf("%d days, %s", days, clock)
	default:
		return clock
	}
}

// Round3 rounds to three decimals, used for averaged timings.
func Round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
