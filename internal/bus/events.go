package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is an internal notification about something the gateway did.
type Event struct {
	Type      string
	Channel   string
	SenderID  string
	Detail    map[string]any
	Timestamp time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe bus for lifecycle events.
// Subscribers such as the metrics collector observe the router without the
// router knowing about them.
type EventBus struct {
	handlers map[string][]namedHandler
	mu       sync.RWMutex
	logger   *slog.Logger
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]namedHandler),
		logger:   logger,
	}
}

// On registers a handler for the given event type. "*" receives every event.
// Returns the handler ID for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eventType + "-" + uuid.NewString()
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit calls every matching handler synchronously, in registration order.
// A panicking handler is logged and skipped. Emit on a nil bus is a no-op.
func (eb *EventBus) Emit(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.RUnlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

const (
	EventMessageReceived  = "message.received"
	EventWelcomeSent      = "onboarding.welcome"
	EventProfileSaved     = "onboarding.profile_saved"
	EventFormatRejected   = "onboarding.format_rejected"
	EventTranscribed      = "speech.transcribed"
	EventTranscriptFailed = "speech.failed"
	EventReplyGenerated   = "generator.reply"
	EventHandlerPanic     = "intake.panic"
)
