package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/optimizer"
)

// Ensure EventBus implements optimizer.EventPublisher
var _ optimizer.EventPublisher = (*EventBus)(nil)

const subscriberBuffer = 64

// EventBus fans events out to in-process subscribers. Slow subscribers drop
// events instead of blocking publishers.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[chan domain.Event]struct{}
	logger *zap.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subs:   make(map[chan domain.Event]struct{}),
		logger: logger.With(zap.String("component", "event-bus")),
	}
}

// Publish delivers an event to every subscriber.
func (b *EventBus) Publish(ctx context.Context, event domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Warn("Dropping event for slow subscriber", zap.String("type", string(event.Type)))
		}
	}
	return nil
}

// Subscribe returns a channel of events that closes when ctx is done.
func (b *EventBus) Subscribe(ctx context.Context) <-chan domain.Event {
	ch := make(chan domain.Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}
