package mqtt

import (
	"fmt"
	"log/slog"

	mqttbroker "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
)

// NewBroker builds an embedded broker with a TCP listener on addr. It
// accepts every client; the caller starts it with Serve and stops it with
// Close. The inline client is enabled so that the process can publish
// without a network connection.
func NewBroker(l *slog.Logger, addr string) (*mqttbroker.Server, error) {
	server := mqttbroker.New(&mqttbroker.Options{
		Logger:       l.With(slog.String("component", "mqtt-broker")),
		InlineClient: true,
	})

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("failed to add auth hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: addr})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("failed to add listener on %s: %w", addr, err)
	}

	return server, nil
}
