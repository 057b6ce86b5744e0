package events

import (
	"context"
	"sync"
)

// MemoryEventBus delivers events synchronously inside the process.
// It is the default bus when Kafka is disabled, and what tests use.
type MemoryEventBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	closed   bool
}

func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{handlers: make(map[string][]EventHandler)}
}

func (m *MemoryEventBus) Publish(ctx context.Context, event Event) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil
	}
	handlers := append([]EventHandler(nil), m.handlers[event.Type]...)
	handlers = append(handlers, m.handlers[""]...)
	m.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers handler for eventType. An empty eventType
// receives every event.
func (m *MemoryEventBus) Subscribe(eventType string, handler EventHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[eventType] = append(m.handlers[eventType], handler)
	return nil
}

func (m *MemoryEventBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.handlers = make(map[string][]EventHandler)
	return nil
}
