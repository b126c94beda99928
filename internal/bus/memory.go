package bus

import (
	"context"
	"sync"
)

// Memory delivers synchronously to every subscribed handler, in subscription
// order. Each subscription is its own group, matching the Kafka semantics of
// one distinct group per subscriber. Publishing the same payload twice
// exercises at-least-once behavior in tests.
type Memory struct {
	mu   sync.RWMutex
	subs map[string][]Handler
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]Handler)}
}

func (m *Memory) Subscribe(topic, _ string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[topic] = append(m.subs[topic], h)
}

// Publish delivers to all handlers for the topic. Handler errors are
// swallowed here: a real substrate would redeliver, and tests assert on
// state, not on delivery errors.
func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.RLock()
	handlers := make([]Handler, len(m.subs[topic]))
	copy(handlers, m.subs[topic])
	m.mu.RUnlock()

	for _, h := range handlers {
		_ = h(ctx, payload)
	}
	return nil
}
