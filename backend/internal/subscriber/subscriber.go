// Package subscriber turns MQTT feed messages into engine calls. Each
// message is dispatched on its own goroutine; one failing dispatch never
// affects another.
package subscriber

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"iot-ingestion/backend/internal/ingest/types"
	"iot-ingestion/backend/internal/metrics"
	"iot-ingestion/backend/pkg/mqtt"
	"iot-ingestion/backend/pkg/utils"
)

// Message types carried in the last topic segment.
const (
	TypeData   = "data"
	TypeHealth = "health"
	TypeStatus = "status"
	TypeAlert  = "alert"
)

const (
	DefaultMaxInflight  = 512
	DefaultDrainTimeout = 10 * time.Second
)

// Engine is the part of the ingestion engine this ingress drives.
type Engine interface {
	ProcessBatch(ctx context.Context, req types.IngestionRequest, dc types.DeviceContext, source string) types.ProcessOutcome
	ReportHealth(ctx context.Context, deviceID string, isHealthy bool, message *string)
}

// Options configures a Subscriber.
type Options struct {
	Namespace string
	// MaxInflight bounds concurrent dispatches. Defaults to DefaultMaxInflight.
	MaxInflight int64
}

type Subscriber struct {
	l         *slog.Logger
	engine    Engine
	m         *metrics.Metrics
	namespace string
	sem       *semaphore.Weighted
	wg        sync.WaitGroup
	// done is closed once Run has taken every message off its channel.
	done chan struct{}
}

func New(l *slog.Logger, engine Engine, m *metrics.Metrics, opts Options) (*Subscriber, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}

	if opts.Namespace == "" {
		return nil, errors.New("namespace is required")
	}

	if opts.MaxInflight <= 0 {
		opts.MaxInflight = DefaultMaxInflight
	}

	return &Subscriber{
		l:         l.With(slog.String("component", "mqtt-subscriber")),
		engine:    engine,
		m:         m,
		namespace: opts.Namespace,
		sem:       semaphore.NewWeighted(opts.MaxInflight),
		done:      make(chan struct{}),
	}, nil
}

// Specs are the subscriptions the feed must hold for this subscriber.
func (s *Subscriber) Specs() []mqtt.SubscriptionSpec {
	return []mqtt.SubscriptionSpec{
		{OperationID: "deviceData", Topic: mqtt.DevicePattern(s.namespace, TypeData), Summary: "Device readings", QoS: mqtt.QoSAtLeastOnce},
		{OperationID: "deviceHealth", Topic: mqtt.DevicePattern(s.namespace, TypeHealth), Summary: "Device health reports", QoS: mqtt.QoSAtLeastOnce},
		{OperationID: "deviceStatus", Topic: mqtt.DevicePattern(s.namespace, TypeStatus), Summary: "Device status changes", QoS: mqtt.QoSAtLeastOnce},
		{OperationID: "deviceAlert", Topic: mqtt.DevicePattern(s.namespace, TypeAlert), Summary: "Device-raised alerts", QoS: mqtt.QoSAtLeastOnce},
	}
}

// Run dispatches messages until the channel is closed. Dispatches run with
// a context detached from ctx so that they outlive a shutdown signal; use
// Drain to wait for them. Run must be called at most once.
func (s *Subscriber) Run(ctx context.Context, messages <-chan mqtt.Message) {
	defer close(s.done)

	base := context.WithoutCancel(ctx)

	for msg := range messages {
		if err := s.sem.Acquire(base, 1); err != nil {
			continue
		}

		s.wg.Add(1)
		s.m.MQTTDispatchStarted()

		go func() {
			defer func() {
				s.m.MQTTDispatchDone()
				s.sem.Release(1)
				s.wg.Done()
			}()

			s.Dispatch(base, msg)
		}()
	}

	s.l.Info("MQTT message channel closed, no longer dispatching")
}

// Drain waits at most timeout for Run to consume the rest of its closed
// channel and for every dispatch to finish, and reports whether both
// happened. The channel must be closed first, or Drain times out.
func (s *Subscriber) Drain(timeout time.Duration) bool {
	finished := make(chan struct{})

	go func() {
		// No wg.Add can happen once Run has returned.
		<-s.done
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return true
	case <-time.After(timeout):
		s.l.Warn("MQTT drain timed out, abandoning in-flight dispatches", slog.Duration("timeout", timeout))
		return false
	}
}

// Dispatch handles one message synchronously. Malformed topics and payloads
// are logged and dropped.
func (s *Subscriber) Dispatch(ctx context.Context, msg mqtt.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			s.l.Error("MQTT dispatch panicked", slog.String("topic", msg.Topic), slog.Any("panic", rec))
			s.m.ObserveMQTTMessage("unknown", "panic")
		}
	}()

	topic, err := mqtt.ParseTopic(s.namespace, msg.Topic)
	if err != nil {
		s.l.Warn("dropping message on malformed topic", slog.String("topic", msg.Topic), utils.ErrAttr(err))
		s.m.ObserveMQTTMessage("unknown", "malformed_topic")

		return
	}

	l := s.l.With(slog.String("device_id", topic.DeviceID), slog.String("type", topic.MessageType))

	var outcome string

	switch topic.MessageType {
	case TypeData:
		outcome = s.handleData(ctx, l, topic.DeviceID, msg.Payload)
	case TypeHealth, TypeStatus:
		outcome = s.handleHealth(ctx, l, topic.DeviceID, msg.Payload)
	case TypeAlert:
		l.Info("device alert received", slog.String("payload", string(msg.Payload)))
		outcome = "logged"
	default:
		l.Warn("dropping message of unknown type")
		outcome = "unknown_type"
	}

	s.m.ObserveMQTTMessage(topic.MessageType, outcome)
}

// handleData forwards readings. The device is trusted on the strength of
// its broker session; no credential is checked on this path.
func (s *Subscriber) handleData(ctx context.Context, l *slog.Logger, deviceID string, payload []byte) string {
	p, err := utils.FromJSONLenient[dataPayload](payload)
	if err != nil {
		l.Warn("dropping undecodable data payload", utils.ErrAttr(err))
		return "decode_error"
	}

	req := p.request(deviceID)
	if err := req.Validate(); err != nil {
		l.Warn("dropping invalid data payload", utils.ErrAttr(err))
		return "invalid"
	}

	out := s.engine.ProcessBatch(ctx, req, types.LightweightContext(deviceID), types.SourceMQTT)
	if !out.Success {
		l.Warn("MQTT batch not forwarded", slog.String("error", out.Error), slog.Bool("recorded_to_errors", out.RecordedToErrors))
		return "failed"
	}

	l.Debug("MQTT batch forwarded", slog.Int("points", out.PointsAccepted), slog.Int("alerts", out.AlertsRaised))

	return "processed"
}

func (s *Subscriber) handleHealth(ctx context.Context, l *slog.Logger, deviceID string, payload []byte) string {
	p, err := utils.FromJSONLenient[healthPayload](payload)
	if err != nil {
		l.Warn("dropping undecodable health payload", utils.ErrAttr(err))
		return "decode_error"
	}

	s.engine.ReportHealth(ctx, deviceID, p.healthy(), p.Message)

	return "processed"
}
