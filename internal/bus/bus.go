package bus

import (
	"log/slog"
	"sync"
	"time"

	"bridgebot/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus carries inbound events from the adapters to the router over a
// buffered channel.
type InMemoryBus struct {
	events chan domain.Event
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// New creates a bus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		events: make(chan domain.Event, bufferSize),
		logger: logger.With("component", "bus"),
	}
}

// Publish blocks up to 10 seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(ev domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	conv := ev.Message.Conversation().Key.String()
	select {
	case b.events <- ev:
	default:
		b.logger.Warn("bus full, waiting", "conversation", conv)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.events <- ev:
			b.logger.Info("event delivered after wait", "conversation", conv)
		case <-timer.C:
			b.logger.Error("event dropped: bus full for 10s",
				"conversation", conv,
				"kind", ev.Kind.String(),
			)
		}
	}
}

// Subscribe returns the event stream. It is closed by Close.
func (b *InMemoryBus) Subscribe() <-chan domain.Event {
	return b.events
}

// Pending reports the number of buffered events.
func (b *InMemoryBus) Pending() int {
	return len(b.events)
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.events)
	}
}
