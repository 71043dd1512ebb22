// Package alert turns readings into threshold alerts. It performs no I/O.
package alert

import (
	"fmt"
	"time"

	"iot-ingestion/backend/internal/ingest/types"
)

// Built-in thresholds used when a device has no thresholds for the metric.
const (
	TemperatureHigh = 50.0
	TemperatureLow  = 0.0
	BatteryLow      = 10.0

	BatteryMetric     = "battery_level"
	TemperatureMetric = "temperature"
)

// Evaluate returns the alerts raised by one reading, in boundary order
// (upper first). Readings whose value is not numeric raise nothing.
func Evaluate(r types.Reading, dc types.DeviceContext, now time.Time) []types.AlertEvent {
	value, ok := r.Value.Float()
	if !ok {
		return nil
	}

	if th, ok := dc.Thresholds[r.MetricName]; ok {
		return evaluateCustom(r, dc, th, value, now)
	}

	var alerts []types.AlertEvent

	if r.DataType == types.DataTypeTemperature || r.MetricName == TemperatureMetric {
		switch {
		case value > TemperatureHigh:
			alerts = append(alerts, newEvent(r, dc, value, TemperatureHigh, types.SeverityHigh,
				fmt.Sprintf("High temperature detected: %s°C", formatValue(value)), now))
		case value < TemperatureLow:
			alerts = append(alerts, newEvent(r, dc, value, TemperatureLow, types.SeverityMedium,
				fmt.Sprintf("Low temperature detected: %s°C", formatValue(value)), now))
		}
	}

	if r.MetricName == BatteryMetric && value < BatteryLow {
		alerts = append(alerts, newEvent(r, dc, value, BatteryLow, types.SeverityHigh,
			fmt.Sprintf("Low battery: %s%%", formatValue(value)), now))
	}

	return alerts
}

// EvaluateAll evaluates readings in order.
func EvaluateAll(readings []types.Reading, dc types.DeviceContext, now time.Time) []types.AlertEvent {
	var alerts []types.AlertEvent
	for _, r := range readings {
		alerts = append(alerts, Evaluate(r, dc, now)...)
	}

	return alerts
}

// Custom thresholds are single-tier: both directions are high severity.
func evaluateCustom(r types.Reading, dc types.DeviceContext, th types.Threshold, value float64, now time.Time) []types.AlertEvent {
	switch {
	case th.Max != nil && value > *th.Max:
		return []types.AlertEvent{newEvent(r, dc, value, *th.Max, types.SeverityHigh,
			fmt.Sprintf("%s above threshold: %s%s > %s", r.MetricName, formatValue(value), unitOf(r), formatValue(*th.Max)), now)}
	case th.Min != nil && value < *th.Min:
		return []types.AlertEvent{newEvent(r, dc, value, *th.Min, types.SeverityHigh,
			fmt.Sprintf("%s below threshold: %s%s < %s", r.MetricName, formatValue(value), unitOf(r), formatValue(*th.Min)), now)}
	default:
		return nil
	}
}

func newEvent(r types.Reading, dc types.DeviceContext, value, threshold float64, sev types.Severity, msg string, now time.Time) types.AlertEvent {
	return types.AlertEvent{
		DeviceID:   dc.DeviceID,
		Metric:     r.MetricName,
		Value:      value,
		Threshold:  threshold,
		Severity:   sev,
		Message:    msg,
		DeviceInfo: dc,
		Timestamp:  now.UTC(),
	}
}

func formatValue(f float64) string {
	return types.NumberValue(f).String()
}

func unitOf(r types.Reading) string {
	if r.Unit == nil {
		return ""
	}

	return *r.Unit
}
