package mqtt

import "errors"

// QoS represents MQTT quality of service levels.
type QoS byte

const (
	// QoSAtMostOnce means the message is delivered at most once, or it may not be delivered at all.
	QoSAtMostOnce QoS = 0
	// QoSAtLeastOnce means the message is always delivered at least once.
	QoSAtLeastOnce QoS = 1
	// QoSExactlyOnce means the message is always delivered exactly once.
	QoSExactlyOnce QoS = 2
)

func (q QoS) Validate() error {
	if q != QoSAtMostOnce && q != QoSAtLeastOnce && q != QoSExactlyOnce {
		return errors.New("qos must be 0, 1, or 2")
	}

	return nil
}

// SubscriptionSpec describes one topic pattern a Feed subscribes to.
type SubscriptionSpec struct {
	OperationID string // OperationID uniquely names the subscription (e.g., "deviceData").
	Topic       string // Topic is the parameterized pattern (e.g., iot/{deviceID}/data).
	Summary     string // Summary is a short description, used in logs.
	QoS         QoS    // QoS is the quality of service requested from the broker.

	topicMQTT string
}

// TopicMQTT is the wildcard form the broker sees (e.g., iot/+/data).
func (s SubscriptionSpec) TopicMQTT() string {
	return s.topicMQTT
}

func (s SubscriptionSpec) validate() error {
	if s.OperationID == "" {
		return errors.New("operationID is required")
	}

	if s.Summary == "" {
		return errors.New("summary is required")
	}

	if err := validateTopicPattern(s.Topic); err != nil {
		return err
	}

	return s.QoS.Validate()
}
