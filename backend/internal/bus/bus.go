// Package bus forwards enriched payloads to Kafka topics, keyed by device id
// so that each device's messages keep their order within a partition.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Shopify/sarama"

	"iot-ingestion/backend/internal/metrics"
	"iot-ingestion/backend/pkg/utils"
)

// Publisher is the publish-only side of the bus.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value any) error
	// QueueDepth reports publishes that have been issued but not yet acknowledged.
	QueueDepth() int64
}

// Topics are the process-wide topic names.
type Topics struct {
	Data   string
	Alerts string
	Health string
	Errors string
}

// Validate reports a missing topic name.
func (t Topics) Validate() error {
	switch {
	case t.Data == "":
		return errors.New("data topic is required")
	case t.Alerts == "":
		return errors.New("alerts topic is required")
	case t.Health == "":
		return errors.New("health topic is required")
	case t.Errors == "":
		return errors.New("errors topic is required")
	}

	return nil
}

// KafkaOptions configures the producer.
type KafkaOptions struct {
	Brokers  []string
	ClientID string
	// Version is the minimum broker version; idempotent production needs 0.11+.
	Version sarama.KafkaVersion
}

// Kafka is a Publisher backed by a sarama.SyncProducer.
type Kafka struct {
	l        *slog.Logger
	m        *metrics.Metrics
	producer sarama.SyncProducer
	inflight atomic.Int64
	closed   atomic.Bool
}

var _ Publisher = (*Kafka)(nil)

// NewConfig returns the producer configuration: all in-sync replicas must ack,
// keys are hash-partitioned and the producer is idempotent so retries never
// reorder a key.
func NewConfig(opts KafkaOptions) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = opts.ClientID

	cfg.Version = sarama.V2_1_0_0
	if opts.Version != (sarama.KafkaVersion{}) {
		cfg.Version = opts.Version
	}

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Compression = sarama.CompressionGZIP
	cfg.Producer.Flush.Frequency = 10 * time.Millisecond
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	return cfg
}

// NewKafka connects a sync producer to opts.Brokers.
func NewKafka(l *slog.Logger, m *metrics.Metrics, opts KafkaOptions) (*Kafka, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}

	// sarama logs through a package-level logger.
	sarama.Logger = log.New(utils.NewSlogWriter(l.With(slog.String("component", "sarama"))).WithLevel(slog.LevelDebug), "", 0)

	producer, err := sarama.NewSyncProducer(opts.Brokers, NewConfig(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewKafkaWithProducer(l, m, producer), nil
}

// NewKafkaWithProducer wraps an existing producer.
func NewKafkaWithProducer(l *slog.Logger, m *metrics.Metrics, producer sarama.SyncProducer) *Kafka {
	return &Kafka{
		l:        l.With(slog.String("component", "bus-publisher")),
		m:        m,
		producer: producer,
	}
}

// Publish encodes value as JSON and blocks until the broker acknowledges it.
func (k *Kafka) Publish(ctx context.Context, topic, key string, value any) error {
	if k.closed.Load() {
		return errors.New("kafka producer is closed")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := utils.ToJSON(value)
	if err != nil {
		return fmt.Errorf("failed to encode message for %s: %w", topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("content-type"), Value: []byte("application/json")},
		},
	}

	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	k.inflight.Add(1)
	partition, offset, err := k.producer.SendMessage(msg)
	k.inflight.Add(-1)

	k.m.ObservePublish(topic, err)

	if err != nil {
		k.l.Error("publish failed", slog.String("topic", topic), slog.String("key", key), utils.ErrAttr(err))

		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	k.l.Debug("message published",
		slog.String("topic", topic),
		slog.String("key", key),
		slog.Int("partition", int(partition)),
		slog.Int64("offset", offset),
	)

	return nil
}

func (k *Kafka) QueueDepth() int64 {
	return k.inflight.Load()
}

// Healthy reports whether the producer is still open.
func (k *Kafka) Healthy() bool {
	return !k.closed.Load()
}

// Close flushes and closes the producer.
func (k *Kafka) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return nil
	}

	return k.producer.Close()
}
