package metrics

import (
	"time"

	"aina/internal/bus"
)

// Subscribe updates the pre-defined counters from router lifecycle events.
// It returns a func that removes the subscription.
func Subscribe(eb *bus.EventBus) func() {
	routes := map[string]func(bus.Event){
		bus.EventMessageReceived: func(bus.Event) { MessagesTotal.Inc() },
		bus.EventWelcomeSent:     func(bus.Event) { WelcomesTotal.Inc() },
		bus.EventProfileSaved:    func(bus.Event) { ProfilesSaved.Inc() },
		bus.EventFormatRejected:  func(bus.Event) { FormatRejections.Inc() },
		bus.EventTranscribed: func(e bus.Event) {
			TranscriptionsOK.Inc()
			observeElapsed(TranscriptionLatency, e)
		},
		bus.EventTranscriptFailed: func(e bus.Event) {
			TranscriptionsFail.Inc()
			observeElapsed(TranscriptionLatency, e)
		},
		bus.EventReplyGenerated: func(bus.Event) { RepliesGenerated.Inc() },
		bus.EventHandlerPanic:   func(bus.Event) { HandlerPanics.Inc() },
	}

	ids := make(map[string]string, len(routes))
	for typ, fn := range routes {
		ids[typ] = eb.On(typ, fn)
	}
	return func() {
		for typ, id := range ids {
			eb.Off(typ, id)
		}
	}
}

func observeElapsed(h *Histogram, e bus.Event) {
	if d, ok := e.Detail["elapsed"].(time.Duration); ok {
		h.Observe(d.Seconds())
	}
}
