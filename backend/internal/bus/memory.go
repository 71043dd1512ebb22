package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Message is a publish recorded by Memory.
type Message struct {
	Topic string
	Key   string
	Value any
}

// Memory is an in-process Publisher. The local deployment uses it when no
// Kafka brokers are configured; tests use it to observe publishes and to
// inject failures per topic.
type Memory struct {
	l     *slog.Logger
	limit int

	mu       sync.Mutex
	messages []Message
	failures map[string]error
}

var _ Publisher = (*Memory)(nil)

// NewMemory keeps at most limit messages, dropping the oldest. A limit of
// zero keeps everything.
func NewMemory(l *slog.Logger, limit int) *Memory {
	return &Memory{
		l:        l.With(slog.String("component", "bus-memory")),
		limit:    limit,
		failures: map[string]error{},
	}
}

func (m *Memory) Publish(ctx context.Context, topic, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failures[topic]; err != nil {
		return err
	}

	m.messages = append(m.messages, Message{Topic: topic, Key: key, Value: value})
	if m.limit > 0 && len(m.messages) > m.limit {
		m.messages = m.messages[len(m.messages)-m.limit:]
	}

	m.l.Debug("message published", slog.String("topic", topic), slog.String("key", key))

	return nil
}

// QueueDepth is always zero: publishes complete synchronously.
func (m *Memory) QueueDepth() int64 {
	return 0
}

// FailTopic makes every publish to topic return err. A nil err clears it.
func (m *Memory) FailTopic(topic string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.failures, topic)
		return
	}

	m.failures[topic] = err
}

// Messages returns the recorded messages for topic, oldest first. An empty
// topic returns all of them.
func (m *Memory) Messages(topic string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, 0, len(m.messages))
	for _, msg := range m.messages {
		if topic == "" || msg.Topic == topic {
			out = append(out, msg)
		}
	}

	return out
}
