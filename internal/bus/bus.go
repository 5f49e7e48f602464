package bus

import (
	"log/slog"
	"sync"
	"time"

	"aina/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus carries inbound events from channels to the intake loop.
type InMemoryBus struct {
	inbound chan domain.InboundEvent
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
	timeout time.Duration
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound: make(chan domain.InboundEvent, bufferSize),
		logger:  logger,
		timeout: publishTimeout,
	}
}

// Publish enqueues an event. When the buffer is full it waits up to the
// publish timeout, then drops the event with an error log.
func (b *InMemoryBus) Publish(ev domain.InboundEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "channel", ev.Channel, "sender", ev.SenderID)
		return
	}

	select {
	case b.inbound <- ev:
	default:
		b.logger.Warn("inbound bus full, waiting", "channel", ev.Channel, "sender", ev.SenderID)
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		select {
		case b.inbound <- ev:
			b.logger.Info("event delivered after wait", "channel", ev.Channel)
		case <-timer.C:
			b.logger.Error("event dropped: bus full",
				"channel", ev.Channel,
				"sender", ev.SenderID,
				"kind", ev.Kind,
				"waited", b.timeout,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundEvent {
	return b.inbound
}

// Close stops accepting events. Buffered events stay readable until drained.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
