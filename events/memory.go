package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultBuffer = 64

// MemoryBus is an in-process fan-out bus. Each subscriber gets its own
// buffered channel; a subscriber that falls behind loses events rather
// than blocking publishers.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	buffer      int
	logger      *zap.Logger
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBus{
		subscribers: make(map[int]chan Event),
		buffer:      defaultBuffer,
		logger:      logger.With(zap.String("component", "event_bus")),
	}
}

// Publish fans the event out to all current subscribers. Never blocks.
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Warn("subscriber buffer full, dropping event",
				zap.Int("subscriber_id", id),
				zap.String("type", string(event.Type)),
				zap.String("workflow_id", event.WorkflowID))
		}
	}
	return nil
}

// Subscribe registers a new subscriber. The returned cancel function is
// idempotent and closes the channel.
func (b *MemoryBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
