package alert

import (
	"strings"
	"testing"
	"time"

	"iot-ingestion/backend/internal/ingest/types"
	"iot-ingestion/backend/pkg/utils"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func reading(metric string, dt types.DataType, v types.Value) types.Reading {
	return types.NewReading(metric, v, dt, testNow)
}

func TestEvaluateDefaults(t *testing.T) {
	t.Parallel()

	dc := types.DeviceContext{DeviceID: "sensor-42", DeviceType: "sensor"}

	tests := []struct {
		name         string
		reading      types.Reading
		wantSeverity []types.Severity
		wantInMsg    string
	}{
		{
			name:         "hot",
			reading:      reading("temperature", types.DataTypeTemperature, types.NumberValue(55)),
			wantSeverity: []types.Severity{types.SeverityHigh},
			wantInMsg:    "55°C",
		},
		{
			name:         "freezing",
			reading:      reading("temperature", types.DataTypeTemperature, types.NumberValue(-5)),
			wantSeverity: []types.Severity{types.SeverityMedium},
			wantInMsg:    "-5°C",
		},
		{
			name:    "comfortable",
			reading: reading("temperature", types.DataTypeTemperature, types.NumberValue(25)),
		},
		{
			name:    "exactly fifty",
			reading: reading("temperature", types.DataTypeTemperature, types.NumberValue(50)),
		},
		{
			name:         "temperature data type under another name",
			reading:      reading("thermistor_a", types.DataTypeTemperature, types.NumberValue(80)),
			wantSeverity: []types.Severity{types.SeverityHigh},
		},
		{
			name:         "numeric string",
			reading:      reading("temperature", types.DataTypeTemperature, types.StringValue("51.5")),
			wantSeverity: []types.Severity{types.SeverityHigh},
		},
		{
			name:         "battery low",
			reading:      reading("battery_level", types.DataTypeVoltage, types.NumberValue(5)),
			wantSeverity: []types.Severity{types.SeverityHigh},
			wantInMsg:    "Low battery: 5%",
		},
		{
			name:    "battery fine",
			reading: reading("battery_level", types.DataTypeVoltage, types.NumberValue(50)),
		},
		{
			name:    "humidity is not checked",
			reading: reading("humidity", types.DataTypeHumidity, types.NumberValue(99)),
		},
		{
			name:    "non numeric skipped",
			reading: reading("temperature", types.DataTypeTemperature, types.StringValue("hot")),
		},
		{
			name:    "infinite string skipped",
			reading: reading("temperature", types.DataTypeTemperature, types.StringValue("Infinity")),
		},
		{
			name:    "nan string skipped",
			reading: reading("temperature", types.DataTypeTemperature, types.StringValue("NaN")),
		},
		{
			name:    "boolean skipped",
			reading: reading("battery_level", types.DataTypeCustom, types.BoolValue(false)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Evaluate(tt.reading, dc, testNow)
			if len(got) != len(tt.wantSeverity) {
				t.Fatalf("Evaluate() returned %d alerts, want %d: %+v", len(got), len(tt.wantSeverity), got)
			}

			for i, a := range got {
				if a.Severity != tt.wantSeverity[i] {
					t.Errorf("alert[%d].Severity = %v, want %v", i, a.Severity, tt.wantSeverity[i])
				}

				if a.DeviceID != "sensor-42" || a.DeviceInfo.DeviceType != "sensor" {
					t.Errorf("alert[%d] missing device context: %+v", i, a)
				}

				if !a.Timestamp.Equal(testNow) {
					t.Errorf("alert[%d].Timestamp = %v, want %v", i, a.Timestamp, testNow)
				}

				if tt.wantInMsg != "" && !strings.Contains(a.Message, tt.wantInMsg) {
					t.Errorf("alert[%d].Message = %q, want it to contain %q", i, a.Message, tt.wantInMsg)
				}
			}
		})
	}
}

func TestEvaluateCustomThresholdsOverrideDefaults(t *testing.T) {
	t.Parallel()

	dc := types.DeviceContext{
		DeviceID: "freezer-1",
		Thresholds: map[string]types.Threshold{
			"temperature": {Max: utils.Ptr(-10.0), Min: utils.Ptr(-30.0)},
			"pressure":    {Max: utils.Ptr(1100.0)},
		},
	}

	tests := []struct {
		name          string
		reading       types.Reading
		wantAlerts    int
		wantThreshold float64
	}{
		{
			name:       "within custom band but below default low",
			reading:    reading("temperature", types.DataTypeTemperature, types.NumberValue(-20)),
			wantAlerts: 0,
		},
		{
			name:          "above custom max",
			reading:       reading("temperature", types.DataTypeTemperature, types.NumberValue(-5)),
			wantAlerts:    1,
			wantThreshold: -10,
		},
		{
			name:          "below custom min",
			reading:       reading("temperature", types.DataTypeTemperature, types.NumberValue(-35)),
			wantAlerts:    1,
			wantThreshold: -30,
		},
		{
			name:       "one sided threshold ignores min",
			reading:    reading("pressure", types.DataTypePressure, types.NumberValue(-1)),
			wantAlerts: 0,
		},
		{
			name:          "one sided threshold max",
			reading:       reading("pressure", types.DataTypePressure, types.NumberValue(1200)),
			wantAlerts:    1,
			wantThreshold: 1100,
		},
		{
			name:       "battery falls back to default",
			reading:    reading("battery_level", types.DataTypeCustom, types.NumberValue(3)),
			wantAlerts: 1, wantThreshold: BatteryLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Evaluate(tt.reading, dc, testNow)
			if len(got) != tt.wantAlerts {
				t.Fatalf("Evaluate() returned %d alerts, want %d: %+v", len(got), tt.wantAlerts, got)
			}

			if tt.wantAlerts == 1 {
				if got[0].Severity != types.SeverityHigh {
					t.Errorf("Severity = %v, want high", got[0].Severity)
				}

				if got[0].Threshold != tt.wantThreshold {
					t.Errorf("Threshold = %v, want %v", got[0].Threshold, tt.wantThreshold)
				}
			}
		})
	}
}

func TestEvaluateAllKeepsReadingOrder(t *testing.T) {
	t.Parallel()

	dc := types.DeviceContext{DeviceID: "sensor-42"}
	readings := []types.Reading{
		reading("temperature", types.DataTypeTemperature, types.NumberValue(-1)),
		reading("temperature", types.DataTypeTemperature, types.NumberValue(20)),
		reading("battery_level", types.DataTypeCustom, types.NumberValue(2)),
		reading("temperature", types.DataTypeTemperature, types.NumberValue(70)),
	}

	got := EvaluateAll(readings, dc, testNow)

	want := []struct {
		metric string
		value  float64
	}{
		{"temperature", -1},
		{"battery_level", 2},
		{"temperature", 70},
	}

	if len(got) != len(want) {
		t.Fatalf("EvaluateAll() returned %d alerts, want %d", len(got), len(want))
	}

	for i, w := range want {
		if got[i].Metric != w.metric || got[i].Value != w.value {
			t.Errorf("alert[%d] = %s=%v, want %s=%v", i, got[i].Metric, got[i].Value, w.metric, w.value)
		}
	}
}
