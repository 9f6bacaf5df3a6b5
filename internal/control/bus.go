package control

import (
	"sync"

	"go.uber.org/zap"
)

const subscriberBuffer = 100

// Bus fans out outbound messages (status updates, command results) to any
// number of subscribers. Publishing never blocks: a subscriber that cannot
// keep up loses events rather than stalling the orchestrator. Per-subscriber
// order is preserved for whatever is delivered.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan any
	logger      *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger.Named("bus"),
	}
}

func (b *Bus) Subscribe() <-chan any {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, subscriberBuffer)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

func (b *Bus) Unsubscribe(ch <-chan any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub)
			break
		}
	}
}

func (b *Bus) Publish(event any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Warn("Subscriber full, dropping event")
		}
	}
}

// Close releases every subscriber. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
