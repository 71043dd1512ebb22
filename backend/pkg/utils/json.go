package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// ExtraDataAfterJSONError is returned when a decoder finds more than one JSON value.
type ExtraDataAfterJSONError struct{}

func (e *ExtraDataAfterJSONError) Error() string {
	return "extra data after JSON object"
}

// FromJSON decodes data into T. Unknown fields and trailing values are rejected.
// An empty input yields the zero value.
//
//nolint:ireturn // Generic functions must return type parameter T
func FromJSON[T any](data []byte) (T, error) {
	var zero T
	if len(bytes.TrimSpace(data)) == 0 {
		return zero, nil
	}

	return FromJSONStream[T](bytes.NewReader(data))
}

// FromJSONLenient is FromJSON that ignores unknown fields. Trailing values
// are still rejected.
//
//nolint:ireturn // Generic functions must return type parameter T
func FromJSONLenient[T any](data []byte) (T, error) {
	var zero T
	if len(bytes.TrimSpace(data)) == 0 {
		return zero, nil
	}

	return decodeOne[T](json.NewDecoder(bytes.NewReader(data)))
}

// FromJSONStream decodes a single JSON value from r into T.
//
//nolint:ireturn // Generic functions must return type parameter T
func FromJSONStream[T any](r io.Reader) (T, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	return decodeOne[T](dec)
}

//nolint:ireturn // Generic functions must return type parameter T
func decodeOne[T any](dec *json.Decoder) (T, error) {
	var v T

	if err := dec.Decode(&v); err != nil {
		var zero T
		return zero, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		var zero T
		return zero, &ExtraDataAfterJSONError{}
	}

	return v, nil
}

// ToJSON encodes v without HTML escaping and without a trailing newline.
func ToJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := ToJSONStream(&buf, v); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ToJSONIndent is ToJSON with two-space indentation.
func ToJSONIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := ToJSONStreamIndent(&buf, v); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ToJSONStream writes v to w as JSON followed by a newline.
func ToJSONStream(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	return enc.Encode(v)
}

// ToJSONStreamIndent writes v to w as indented JSON followed by a newline.
func ToJSONStreamIndent(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
