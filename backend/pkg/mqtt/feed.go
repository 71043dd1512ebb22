// Package mqtt wraps a paho client in a subscription feed with an explicit
// connection state machine and a channel of inbound messages.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"iot-ingestion/backend/pkg/utils"
)

// State is the connection state of a Feed.
//
//	Disconnected -> Connecting -> Connected -> Disconnected   (broker drop)
//	Connected -> ShuttingDown -> Disconnected                 (Disconnect)
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

const (
	// DefaultConnectTimeout bounds the initial connection attempt.
	DefaultConnectTimeout = 5 * time.Second
	defaultBuffer         = 256
	pollInterval          = 50 * time.Millisecond
	disconnectQuiesceMS   = 250
)

var ErrConnectTimeout = errors.New("mqtt connection not established in time")

// Message is one inbound publish.
type Message struct {
	Topic    string
	Payload  []byte
	Received time.Time
}

// FeedOptions contains configuration for creating a Feed.
type FeedOptions struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	// ConnectTimeout bounds Connect. Defaults to DefaultConnectTimeout.
	ConnectTimeout time.Duration
	// Buffer is the capacity of the Messages channel.
	Buffer int
}

// Feed is a long-lived subscription connection. Register subscriptions with
// Subscribe, then Connect; inbound messages arrive on Messages until
// Disconnect closes it.
type Feed struct {
	l       *slog.Logger
	client  mqtt.Client
	timeout time.Duration

	state         atomic.Int32
	started       atomic.Bool
	subscriptions []SubscriptionSpec
	operationIDs  map[string]struct{}

	// stop releases deliveries blocked on a full buffer; mu keeps them from
	// racing the close of messages.
	stop     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
	closed   bool
	messages chan Message
}

func NewFeed(l *slog.Logger, opts FeedOptions) (*Feed, error) {
	l = l.With(slog.String("component", "mqtt-feed"))

	if opts.BrokerURL == "" {
		return nil, errors.New("broker URL is required")
	}

	if opts.ClientID == "" {
		opts.ClientID = "iot-ingestion-" + utils.NewUUID()
	}

	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}

	f := &Feed{
		l:            l,
		timeout:      opts.ConnectTimeout,
		operationIDs: make(map[string]struct{}),
		stop:         make(chan struct{}),
		messages:     make(chan Message, opts.Buffer),
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}

	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	clientOpts.SetCleanSession(true)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(false)
	clientOpts.SetConnectTimeout(opts.ConnectTimeout)
	clientOpts.SetMaxReconnectInterval(15 * time.Second)
	clientOpts.SetKeepAlive(60 * time.Second)
	// Dispatch downstream is concurrent, so delivery order is not kept here either.
	clientOpts.SetOrderMatters(false)

	clientOpts.SetOnConnectHandler(f.onConnect)
	clientOpts.SetConnectionLostHandler(f.onConnectionLost)
	clientOpts.SetReconnectingHandler(f.onReconnecting)

	f.client = mqtt.NewClient(clientOpts)

	l.Info("MQTT feed created", slog.String("broker", opts.BrokerURL), slog.String("clientID", opts.ClientID))

	return f, nil
}

// Subscribe registers a subscription. Subscriptions are (re)issued every
// time the connection is established.
func (f *Feed) Subscribe(spec SubscriptionSpec) error {
	if f.started.Load() {
		return errors.New("cannot register subscription after connecting to MQTT broker")
	}

	if err := spec.validate(); err != nil {
		return fmt.Errorf("invalid subscription spec: %w", err)
	}

	if _, exists := f.operationIDs[spec.OperationID]; exists {
		return fmt.Errorf("duplicate operationID: %s", spec.OperationID)
	}

	spec.topicMQTT = convertTopicToMQTT(spec.Topic)

	f.operationIDs[spec.OperationID] = struct{}{}
	f.subscriptions = append(f.subscriptions, spec)

	f.l.Info("Registered MQTT subscription", slog.String("operationID", spec.OperationID), slog.String("topic", spec.topicMQTT))

	return nil
}

// Connect starts the connection and polls until it reaches Connected or the
// connect timeout passes. A Feed that fails to connect is left Disconnected.
func (f *Feed) Connect(ctx context.Context) error {
	if !f.started.CompareAndSwap(false, true) {
		return errors.New("feed already started")
	}

	f.setState(StateConnecting)
	f.l.Info("Connecting to MQTT broker", slog.Duration("timeout", f.timeout))

	token := f.client.Connect()
	connectDone := token.Done()

	deadline := time.NewTimer(f.timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for f.State() != StateConnected {
		select {
		case <-ctx.Done():
			f.abort()
			return ctx.Err()
		case <-deadline.C:
			f.abort()

			if err := token.Error(); err != nil {
				return fmt.Errorf("%w: %w", ErrConnectTimeout, err)
			}

			return ErrConnectTimeout
		case <-connectDone:
			if err := token.Error(); err != nil {
				f.abort()
				return fmt.Errorf("failed to connect to MQTT broker: %w", err)
			}

			// Connected is entered once the subscriptions are in place.
			connectDone = nil
		case <-ticker.C:
		}
	}

	f.l.Info("Connected to MQTT broker")

	return nil
}

// Messages delivers inbound publishes. It is closed by Disconnect.
func (f *Feed) Messages() <-chan Message {
	return f.messages
}

func (f *Feed) State() State {
	return State(f.state.Load())
}

// Disconnect stops accepting messages, disconnects from the broker and
// closes Messages. It is safe to call more than once.
func (f *Feed) Disconnect() {
	if f.State() == StateConnected {
		f.setState(StateShuttingDown)
	}

	f.stopOnce.Do(func() { close(f.stop) })

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}

	f.closed = true
	close(f.messages)
	f.mu.Unlock()

	if f.client.IsConnected() {
		f.l.Info("Disconnecting from MQTT broker...")
		f.client.Disconnect(disconnectQuiesceMS)
	}

	f.setState(StateDisconnected)
	f.l.Info("Disconnected from MQTT broker")
}

// deliver hands a publish to the consumer. It blocks while the buffer is
// full, which applies backpressure to the broker, until Disconnect.
func (f *Feed) deliver(_ mqtt.Client, msg mqtt.Message) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return
	}

	select {
	case <-f.stop:
		return
	default:
	}

	select {
	case f.messages <- Message{Topic: msg.Topic(), Payload: msg.Payload(), Received: time.Now()}:
	case <-f.stop:
	}
}

func (f *Feed) abort() {
	f.client.Disconnect(0)
	f.setState(StateDisconnected)
}

func (f *Feed) setState(s State) {
	if prev := State(f.state.Swap(int32(s))); prev != s {
		f.l.Debug("MQTT feed state changed", slog.String("from", prev.String()), slog.String("to", s.String()))
	}
}

// onConnect is called when the client connects or reconnects to the broker.
func (f *Feed) onConnect(client mqtt.Client) {
	if f.State() == StateShuttingDown {
		return
	}

	f.l.Info("Connected to MQTT broker, subscribing to topics", slog.Int("subscriptionCount", len(f.subscriptions)))

	for _, spec := range f.subscriptions {
		token := client.Subscribe(spec.topicMQTT, byte(spec.QoS), f.deliver)
		token.Wait()

		if err := token.Error(); err != nil {
			f.l.Error("Failed to subscribe", slog.String("topic", spec.topicMQTT), slog.String("operationID", spec.OperationID), utils.ErrAttr(err))
			continue
		}

		f.l.Info("Subscribed", slog.String("topic", spec.topicMQTT), slog.String("operationID", spec.OperationID))
	}

	f.setState(StateConnected)
}

// onConnectionLost is called when the broker drops the connection.
func (f *Feed) onConnectionLost(_ mqtt.Client, err error) {
	f.l.Warn("Connection to MQTT broker lost", utils.ErrAttr(err))
	f.setState(StateDisconnected)
}

func (f *Feed) onReconnecting(_ mqtt.Client, opts *mqtt.ClientOptions) {
	f.setState(StateConnecting)
	f.l.Info("Reconnecting to MQTT broker", slog.String("broker", opts.Servers[0].String()))
}
