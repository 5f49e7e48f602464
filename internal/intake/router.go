// Package intake classifies inbound events and drives the onboarding flow:
// unknown senders are welcomed, onboarding messages are parsed into a
// profile, and onboarded senders get generated replies.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"aina/internal/bus"
	"aina/internal/config"
	"aina/internal/convlog"
	"aina/internal/domain"
	"aina/internal/responder"
	"aina/internal/speech"
)

// Generator produces replies for onboarded senders.
type Generator interface {
	Context(profile *domain.SenderProfile) responder.PromptContext
	Complete(ctx context.Context, pc responder.PromptContext, input string) string
}

// Dispatcher delivers replies and exposes channels for media download.
type Dispatcher interface {
	Deliver(ctx context.Context, channel, recipient, text string)
	Channel(name string) (domain.Channel, error)
}

type RouterConfig struct {
	Sessions    domain.SessionStore
	Transcriber speech.Transcriber
	Generator   Generator
	Dispatcher  Dispatcher
	Recorder    convlog.Recorder // optional
	Events      *bus.EventBus    // optional
	Extractor   Extractor        // default RegexExtractor
	Messages    config.Messages
	Language    string // transcription hint
	Logger      *slog.Logger
}

// Router handles one inbound event at a time per sender.
type Router struct {
	sessions    domain.SessionStore
	transcriber speech.Transcriber
	generator   Generator
	dispatcher  Dispatcher
	recorder    convlog.Recorder
	events      *bus.EventBus
	extractor   Extractor
	msgs        config.Messages
	language    string
	logger      *slog.Logger
	locks       KeyedMutex
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Extractor == nil {
		cfg.Extractor = RegexExtractor{}
	}
	if cfg.Messages == (config.Messages{}) {
		cfg.Messages = config.DefaultMessages()
	}
	if cfg.Language == "" {
		cfg.Language = speech.DefaultLanguage
	}
	if cfg.Recorder == nil {
		cfg.Recorder = convlog.NopLogger{Logger: cfg.Logger}
	}
	return &Router{
		sessions:    cfg.Sessions,
		transcriber: cfg.Transcriber,
		generator:   cfg.Generator,
		dispatcher:  cfg.Dispatcher,
		recorder:    cfg.Recorder,
		events:      cfg.Events,
		extractor:   cfg.Extractor,
		msgs:        cfg.Messages,
		language:    cfg.Language,
		logger:      cfg.Logger,
	}
}

// outcome is what handling an event decided: the reply, plus the turn to
// persist once the reply has been dispatched.
type outcome struct {
	reply   string
	turn    *domain.ConversationTurn
	profile *domain.SenderProfile
}

// Handle processes ev and dispatches exactly one reply. It never panics and
// never returns an error.
func (r *Router) Handle(ctx context.Context, ev domain.InboundEvent) {
	unlock := r.locks.Lock(ev.Channel + ":" + ev.SenderID)
	defer unlock()

	r.emit(bus.EventMessageReceived, ev, map[string]any{"kind": string(ev.Kind)})

	out := r.safeRoute(ctx, ev)
	r.dispatcher.Deliver(ctx, ev.Channel, ev.SenderID, out.reply)

	if out.turn != nil {
		r.recorder.Record(*out.turn, out.profile)
	}
}

func (r *Router) safeRoute(ctx context.Context, ev domain.InboundEvent) (out outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while handling event",
				"channel", ev.Channel,
				"sender", ev.SenderID,
				"kind", ev.Kind,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			r.emit(bus.EventHandlerPanic, ev, map[string]any{"panic": fmt.Sprint(rec)})
			out = outcome{reply: r.msgs.GenericError}
		}
	}()
	return r.route(ctx, ev)
}

func (r *Router) route(ctx context.Context, ev domain.InboundEvent) outcome {
	if ev.Kind == domain.KindUnsupported {
		r.logger.Info("unsupported message type", "channel", ev.Channel, "sender", ev.SenderID)
		return outcome{reply: r.msgs.Unsupported}
	}

	text := ev.Text
	if ev.Kind.IsMedia() {
		transcript, ok := r.transcribe(ctx, ev)
		if !ok {
			if ev.Kind == domain.KindVoice {
				return outcome{reply: r.msgs.VoiceNotUnderstood}
			}
			return outcome{reply: r.msgs.AudioNotUnderstood}
		}
		text = transcript
	}

	profile, err := r.sessions.GetProfile(ctx, ev.SenderID)
	if err != nil {
		r.logger.Error("session lookup failed, treating sender as new", "sender", ev.SenderID, "err", err)
		profile = nil
	}
	state := domain.StateOf(profile)

	// A sender who already got the welcome and introduces themselves is
	// answered with the format instruction even without the other markers.
	ex := r.extractor.Extract(text)
	if ex.Marker || (state == domain.StateAwaitingInfo && ex.SelfIdentified) {
		return r.onboard(ctx, ev, ex, state)
	}

	switch state {
	case domain.StateUnknown:
		if err := r.sessions.Touch(ctx, ev.SenderID); err != nil {
			r.logger.Error("cannot record first contact", "sender", ev.SenderID, "err", err)
		}
		r.emit(bus.EventWelcomeSent, ev, map[string]any{"state": string(domain.StateUnknown)})
		return outcome{reply: r.msgs.Welcome}
	case domain.StateAwaitingInfo:
		r.emit(bus.EventWelcomeSent, ev, map[string]any{"state": string(domain.StateAwaitingInfo)})
		return outcome{reply: r.msgs.Welcome}
	}

	start := time.Now()
	reply := r.generator.Complete(ctx, r.generator.Context(profile), text)
	r.emit(bus.EventReplyGenerated, ev, map[string]any{"elapsed": time.Since(start)})

	return outcome{
		reply: reply,
		turn: &domain.ConversationTurn{
			SenderID:  ev.SenderID,
			Channel:   ev.Channel,
			Kind:      ev.TurnKind(),
			Input:     text,
			Response:  reply,
			Timestamp: ev.ReceivedAt,
		},
		profile: profile,
	}
}

func (r *Router) onboard(ctx context.Context, ev domain.InboundEvent, ex Extraction, state domain.OnboardingState) outcome {
	if !ex.Complete() {
		if state == domain.StateUnknown {
			if err := r.sessions.Touch(ctx, ev.SenderID); err != nil {
				r.logger.Error("cannot record first contact", "sender", ev.SenderID, "err", err)
			}
		}
		r.logger.Info("incomplete onboarding message", "sender", ev.SenderID,
			"name", ex.Name != "", "specialty", ex.Specialty != "", "orientation", ex.Orientation != "")
		r.emit(bus.EventFormatRejected, ev, nil)
		return outcome{reply: r.msgs.FormatInstruction}
	}

	profile, err := r.sessions.UpsertProfile(ctx, ev.SenderID, ex.Name, ex.Specialty, ex.Orientation)
	if err != nil {
		r.logger.Error("cannot save profile", "sender", ev.SenderID, "err", err)
		return outcome{reply: r.msgs.ProfileError}
	}

	r.logger.Info("profile saved",
		"sender", ev.SenderID,
		"specialty", profile.Specialty,
		"orientation", profile.Orientation,
	)
	r.emit(bus.EventProfileSaved, ev, nil)
	return outcome{reply: r.msgs.ProfileSaved}
}

func (r *Router) transcribe(ctx context.Context, ev domain.InboundEvent) (string, bool) {
	start := time.Now()
	fail := func(reason string, err error) (string, bool) {
		r.logger.Warn("audio not transcribed", "sender", ev.SenderID, "kind", ev.Kind, "reason", reason, "err", err)
		r.emit(bus.EventTranscriptFailed, ev, map[string]any{"reason": reason, "elapsed": time.Since(start)})
		return "", false
	}

	if ev.Media == nil {
		return fail("no media reference", nil)
	}
	ch, err := r.dispatcher.Channel(ev.Channel)
	if err != nil {
		return fail("unknown channel", err)
	}
	audio, err := ch.FetchMedia(ctx, *ev.Media)
	if err != nil {
		return fail("media fetch", err)
	}

	text, ok := r.transcriber.Transcribe(ctx, audio, r.language)
	if !ok {
		return fail("empty transcript", nil)
	}

	r.emit(bus.EventTranscribed, ev, map[string]any{"elapsed": time.Since(start), "chars": len(text)})
	return text, true
}

func (r *Router) emit(typ string, ev domain.InboundEvent, detail map[string]any) {
	r.events.Emit(bus.Event{
		Type:     typ,
		Channel:  ev.Channel,
		SenderID: ev.SenderID,
		Detail:   detail,
	})
}
