package store

import (
	"strings"
	"time"
)

const (
	// DayLayout is the date suffix used by daily counters.
	DayLayout = "2006-01-02"

	ActiveDevicesKey = "devices:active"
	KnownDevicesKey  = "devices:known"
	TotalPointsKey   = "stats:data_points:total"

	// DailyPointsPattern matches every per-device daily counter.
	DailyPointsPattern = "device:*:data_points:*"
	// GlobalPointsPattern matches the service-wide counters.
	GlobalPointsPattern = "stats:data_points:*"
)

func DeviceInfoKey(deviceID string) string {
	return "device:" + deviceID + ":info"
}

func LastSeenKey(deviceID string) string {
	return "device:" + deviceID + ":last_seen"
}

func HealthKey(deviceID string) string {
	return "device:" + deviceID + ":health"
}

func DeviceDailyPointsKey(deviceID string, day time.Time) string {
	return "device:" + deviceID + ":data_points:" + day.UTC().Format(DayLayout)
}

func DeviceTotalPointsKey(deviceID string) string {
	return "device:" + deviceID + ":data_points:total"
}

func DailyPointsKey(day time.Time) string {
	return "stats:data_points:" + day.UTC().Format(DayLayout)
}

// DayOfCounterKey extracts the date from a daily counter key. It reports
// false for total counters and keys of other shapes.
func DayOfCounterKey(key string) (time.Time, bool) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return time.Time{}, false
	}

	day, err := time.Parse(DayLayout, key[i+1:])
	if err != nil {
		return time.Time{}, false
	}

	return day, true
}
