package mqtt

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedTopic is returned by ParseTopic.
var ErrMalformedTopic = errors.New("malformed topic")

// DeviceTopic is a topic of the form {namespace}/{deviceID}/{messageType}.
type DeviceTopic struct {
	Namespace   string
	DeviceID    string
	MessageType string
}

func (t DeviceTopic) String() string {
	return t.Namespace + "/" + t.DeviceID + "/" + t.MessageType
}

// DevicePattern is the parameterized pattern for messageType under namespace.
func DevicePattern(namespace, messageType string) string {
	return namespace + "/{deviceID}/" + messageType
}

// ParseTopic splits topic into its three segments. A wrong segment count,
// an empty segment or a foreign namespace is ErrMalformedTopic.
func ParseTopic(namespace, topic string) (DeviceTopic, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return DeviceTopic{}, fmt.Errorf("%w: %q has %d segments, want 3", ErrMalformedTopic, topic, len(parts))
	}

	if parts[0] != namespace {
		return DeviceTopic{}, fmt.Errorf("%w: %q is outside namespace %q", ErrMalformedTopic, topic, namespace)
	}

	if parts[1] == "" || parts[2] == "" {
		return DeviceTopic{}, fmt.Errorf("%w: %q has an empty segment", ErrMalformedTopic, topic)
	}

	return DeviceTopic{Namespace: parts[0], DeviceID: parts[1], MessageType: parts[2]}, nil
}

// validateTopicPattern validates an MQTT topic pattern with {param} placeholders.
// Valid patterns:
// - Parameters must be in {paramName} format (e.g., iot/{deviceID}/data)
// - Parameter names must start with a letter and contain only alphanumeric characters and underscores
// - Wildcards are NOT accepted directly, use a parameter instead.
func validateTopicPattern(topic string) error {
	if topic == "" {
		return errors.New("topic cannot be empty")
	}

	if strings.HasPrefix(topic, "/") {
		return errors.New("leading slash is not allowed")
	}

	if strings.HasSuffix(topic, "/") {
		return errors.New("trailing slash is not allowed")
	}

	for segment := range strings.SplitSeq(topic, "/") {
		if segment == "" {
			return errors.New("empty segments are not allowed")
		}

		if strings.Contains(segment, "#") {
			return errors.New("multi-level wildcard '#' is not supported - use explicit parameters {param} instead")
		}

		if strings.Contains(segment, "+") {
			return errors.New("wildcard '+' is not supported - use parameter syntax {param} instead")
		}

		if strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") {
			paramName := segment[1 : len(segment)-1]
			if !isValidParameterName(paramName) {
				return fmt.Errorf("invalid parameter name '%s' - must start with a letter and contain only alphanumeric characters and underscores", paramName)
			}
		} else if strings.Contains(segment, "{") || strings.Contains(segment, "}") {
			return errors.New("invalid parameter syntax - use {paramName} format")
		}
	}

	return nil
}

// convertTopicToMQTT converts a parameterized topic (iot/{deviceID}/data)
// to an MQTT wildcard pattern (iot/+/data).
func convertTopicToMQTT(topic string) string {
	segments := strings.Split(topic, "/")
	for i, segment := range segments {
		if strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") {
			segments[i] = "+"
		}
	}

	return strings.Join(segments, "/")
}

func isValidParameterName(name string) bool {
	if name == "" {
		return false
	}

	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r == '_' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}

	return true
}
