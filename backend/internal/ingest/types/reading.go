package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// DataType tags what a reading measures.
type DataType string

const (
	DataTypeTemperature DataType = "temperature"
	DataTypeHumidity    DataType = "humidity"
	DataTypePressure    DataType = "pressure"
	DataTypeLight       DataType = "light"
	DataTypeMotion      DataType = "motion"
	DataTypeVoltage     DataType = "voltage"
	DataTypeCurrent     DataType = "current"
	DataTypePower       DataType = "power"
	DataTypeGPS         DataType = "gps"
	DataTypeCustom      DataType = "custom"
)

// DataTypes lists every accepted data type.
//
//nolint:gochecknoglobals // Closed enumeration
var DataTypes = []DataType{
	DataTypeTemperature, DataTypeHumidity, DataTypePressure, DataTypeLight, DataTypeMotion,
	DataTypeVoltage, DataTypeCurrent, DataTypePower, DataTypeGPS, DataTypeCustom,
}

func (d DataType) Valid() bool {
	for _, v := range DataTypes {
		if d == v {
			return true
		}
	}

	return false
}

// Value holds a reading value: a number, a string or a boolean.
type Value struct {
	v any
}

func NumberValue(f float64) Value { return Value{v: f} }
func StringValue(s string) Value  { return Value{v: s} }
func BoolValue(b bool) Value      { return Value{v: b} }

// IsZero reports whether the value was never set.
func (v Value) IsZero() bool {
	return v.v == nil
}

// Raw returns the underlying float64, string or bool.
func (v Value) Raw() any {
	return v.v
}

// Float returns the value as a finite number. Numeric strings are parsed;
// booleans, other strings, NaN and infinities report false.
func (v Value) Float() (float64, bool) {
	switch x := v.v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch x := v.v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.v)
}

var errInvalidValue = errors.New("value must be a number, string or boolean")

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errInvalidValue
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		v.v = s
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}

		v.v = b
	case 'n', '{', '[':
		return errInvalidValue
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}

		v.v = f
	}

	return nil
}

// Reading is one measurement. Build it with NewReading or by decoding JSON;
// either way the timestamp and quality defaults are applied exactly once.
type Reading struct {
	MetricName string         `json:"metric_name"`
	Value      Value          `json:"value"`
	Unit       *string        `json:"unit,omitempty"`
	DataType   DataType       `json:"data_type"`
	Timestamp  time.Time      `json:"timestamp"`
	Quality    float64        `json:"quality"`
	Metadata   map[string]any `json:"metadata"`

	// decode problems surfaced by Validate
	fieldErrs map[string]string
}

// NewReading builds a reading stamped with now.
func NewReading(metric string, value Value, dataType DataType, now time.Time) Reading {
	return Reading{
		MetricName: metric,
		Value:      value,
		DataType:   dataType,
		Timestamp:  now.UTC(),
		Quality:    1.0,
		Metadata:   map[string]any{},
	}
}

//nolint:gochecknoglobals // Overridden in tests
var nowFunc = time.Now

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unparsable timestamp %q", s)
}

func (r *Reading) UnmarshalJSON(data []byte) error {
	var raw struct {
		MetricName string          `json:"metric_name"`
		Value      json.RawMessage `json:"value"`
		Unit       *string         `json:"unit"`
		DataType   DataType        `json:"data_type"`
		Timestamp  *string         `json:"timestamp"`
		Quality    *float64        `json:"quality"`
		Metadata   map[string]any  `json:"metadata"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Reading{
		MetricName: raw.MetricName,
		Unit:       raw.Unit,
		DataType:   raw.DataType,
		Quality:    1.0,
		Metadata:   raw.Metadata,
	}

	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}

	addErr := func(field, msg string) {
		if out.fieldErrs == nil {
			out.fieldErrs = map[string]string{}
		}

		out.fieldErrs[field] = msg
	}

	if len(raw.Value) == 0 {
		addErr("value", "is required")
	} else if err := out.Value.UnmarshalJSON(raw.Value); err != nil {
		addErr("value", errInvalidValue.Error())
	}

	if raw.Quality != nil {
		out.Quality = *raw.Quality
	}

	if raw.Timestamp == nil || *raw.Timestamp == "" {
		out.Timestamp = nowFunc().UTC()
	} else {
		ts, err := parseTimestamp(*raw.Timestamp)
		if err != nil {
			addErr("timestamp", err.Error())
		}

		out.Timestamp = ts
	}

	*r = out

	return nil
}

// Validate checks a single reading; field names are relative to the reading.
func (r Reading) Validate() map[string]string {
	errs := map[string]string{}
	for k, v := range r.fieldErrs {
		errs[k] = v
	}

	if r.MetricName == "" {
		errs["metric_name"] = "must not be empty"
	}

	if r.DataType == "" {
		errs["data_type"] = "is required"
	} else if !r.DataType.Valid() {
		errs["data_type"] = fmt.Sprintf("unknown data type %q", r.DataType)
	}

	if r.Quality < 0 || r.Quality > 1 {
		errs["quality"] = "must be between 0 and 1"
	}

	if _, ok := errs["value"]; !ok && r.Value.IsZero() {
		errs["value"] = "is required"
	}

	return errs
}
