package mqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	mqttbroker "github.com/mochi-mqtt/server/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	return port
}

// startBroker runs an embedded broker and returns it with its tcp:// URL
// and an idempotent stop function.
func startBroker(t *testing.T) (*mqttbroker.Server, string, func()) {
	t.Helper()

	addr := "127.0.0.1:" + strconv.Itoa(freePort(t))

	server, err := NewBroker(discardLogger(), addr)
	require.NoError(t, err)
	require.NoError(t, server.Serve())

	var once sync.Once
	stop := func() { once.Do(func() { _ = server.Close() }) }
	t.Cleanup(stop)

	return server, "tcp://" + addr, stop
}

func newTestFeed(t *testing.T, url string) *Feed {
	t.Helper()

	f, err := NewFeed(discardLogger(), FeedOptions{BrokerURL: url, ConnectTimeout: 2 * time.Second})
	require.NoError(t, err)

	require.NoError(t, f.Subscribe(SubscriptionSpec{
		OperationID: "deviceData",
		Topic:       DevicePattern("iot", "data"),
		Summary:     "Device readings",
		QoS:         QoSAtLeastOnce,
	}))

	return f
}

func receive(t *testing.T, f *Feed) Message {
	t.Helper()

	select {
	case msg, ok := <-f.Messages():
		require.True(t, ok, "messages channel closed")
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestFeedLifecycle(t *testing.T) {
	t.Parallel()

	broker, url, _ := startBroker(t)
	f := newTestFeed(t, url)

	assert.Equal(t, StateDisconnected, f.State())

	require.NoError(t, f.Connect(context.Background()))
	assert.Equal(t, StateConnected, f.State())

	err := f.Subscribe(SubscriptionSpec{OperationID: "late", Topic: "iot/late", Summary: "late"})
	assert.Error(t, err, "subscribing after connect must fail")

	require.NoError(t, broker.Publish("iot/sensor-42/data", []byte(`{"data":[]}`), false, 1))

	msg := receive(t, f)
	assert.Equal(t, "iot/sensor-42/data", msg.Topic)
	assert.JSONEq(t, `{"data":[]}`, string(msg.Payload))

	require.NoError(t, broker.Publish("iot/sensor-42/health", []byte(`{}`), false, 1))
	require.NoError(t, broker.Publish("iot/sensor-43/data", []byte(`{"n":2}`), false, 1))

	msg = receive(t, f)
	assert.Equal(t, "iot/sensor-43/data", msg.Topic, "unsubscribed message types are not delivered")

	f.Disconnect()
	assert.Equal(t, StateDisconnected, f.State())

	_, open := <-f.Messages()
	assert.False(t, open, "Disconnect closes the messages channel")

	f.Disconnect()
}

func TestFeedBrokerDropLeavesConnectedState(t *testing.T) {
	t.Parallel()

	_, url, stop := startBroker(t)
	f := newTestFeed(t, url)
	t.Cleanup(f.Disconnect)

	require.NoError(t, f.Connect(context.Background()))
	stop()

	assert.Eventually(t, func() bool {
		return f.State() != StateConnected
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFeedConnectFailsWithoutBroker(t *testing.T) {
	t.Parallel()

	url := "tcp://127.0.0.1:" + strconv.Itoa(freePort(t))
	f := newTestFeed(t, url)

	start := time.Now()
	err := f.Connect(context.Background())

	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, StateDisconnected, f.State())

	err = f.Connect(context.Background())
	assert.Error(t, err, "a feed connects once")

	f.Disconnect()
}

func TestFeedConnectHonoursContext(t *testing.T) {
	t.Parallel()

	// A listener that accepts but never answers CONNECT.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		var conns []net.Conn
		for {
			conn, err := ln.Accept()
			if err != nil {
				for _, c := range conns {
					_ = c.Close()
				}

				return
			}

			conns = append(conns, conn)
		}
	}()

	f, err := NewFeed(discardLogger(), FeedOptions{BrokerURL: "tcp://" + ln.Addr().String(), ConnectTimeout: 3 * time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = f.Connect(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Connect() error = %v, want context.DeadlineExceeded", err)
	}

	assert.Equal(t, StateDisconnected, f.State())
}

func TestNewFeedValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewFeed(discardLogger(), FeedOptions{}); err == nil {
		t.Error("NewFeed() without broker error = nil, want error")
	}

	f, err := NewFeed(discardLogger(), FeedOptions{BrokerURL: "tcp://127.0.0.1:1"})
	require.NoError(t, err)

	spec := SubscriptionSpec{OperationID: "a", Topic: "iot/{deviceID}/data", Summary: "a"}
	require.NoError(t, f.Subscribe(spec))
	assert.Equal(t, "iot/+/data", f.subscriptions[0].TopicMQTT())

	assert.Error(t, f.Subscribe(spec), "duplicate operationID")
	assert.Error(t, f.Subscribe(SubscriptionSpec{OperationID: "b", Topic: "iot/+/data", Summary: "b"}))
	assert.Error(t, f.Subscribe(SubscriptionSpec{OperationID: "c", Topic: "iot/x", Summary: "c", QoS: 3}))
	assert.Error(t, f.Subscribe(SubscriptionSpec{Topic: "iot/x", Summary: "d"}))
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateShuttingDown: "shutting_down",
		State(42):         "unknown",
	}

	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
