package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"aina/internal/bus"
	"aina/internal/config"
	"aina/internal/domain"
	"aina/internal/outbound"
	"aina/internal/responder"
	"aina/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testChannel = "whatsapp"
	sender      = "5215550001"
	fullProfile = "Soy María González, especialidad Clínica, orientación TCC"
)

var msgs = config.DefaultMessages()

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- fakes ---

type sent struct {
	to, text string
}

type fakeChannel struct {
	mu         sync.Mutex
	sent       []sent
	deliverErr error
	media      []byte
	mediaErr   error
	fetches    int
}

func (f *fakeChannel) Name() string { return testChannel }

func (f *fakeChannel) Deliver(ctx context.Context, recipient, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{recipient, text})
	return f.deliverErr
}

func (f *fakeChannel) FetchMedia(ctx context.Context, ref domain.MediaRef) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.media, f.mediaErr
}

func (f *fakeChannel) replies() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeChannel) repliesTo(to string) []string {
	var out []string
	for _, s := range f.replies() {
		if s.to == to {
			out = append(out, s.text)
		}
	}
	return out
}

type fakeTranscriber struct {
	text  string
	ok    bool
	calls atomic.Int32
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, hint string) (string, bool) {
	f.calls.Add(1)
	return f.text, f.ok
}

type fakeGenerator struct {
	reply  string
	panics bool
	delay  time.Duration

	mu      sync.Mutex
	inputs  []string
	systems []responder.PromptContext
	active  map[string]int
	overlap bool
}

func (f *fakeGenerator) Context(p *domain.SenderProfile) responder.PromptContext {
	return responder.PromptContext{System: "sys", Profile: p}
}

func (f *fakeGenerator) Complete(ctx context.Context, pc responder.PromptContext, input string) string {
	if f.panics {
		panic("generator exploded")
	}
	id := pc.Profile.SenderID
	f.mu.Lock()
	if f.active == nil {
		f.active = make(map[string]int)
	}
	f.active[id]++
	if f.active[id] > 1 {
		f.overlap = true
	}
	f.inputs = append(f.inputs, input)
	f.systems = append(f.systems, pc)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.active[id]--
	f.mu.Unlock()
	return f.reply
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

type fakeRecorder struct {
	mu    sync.Mutex
	turns []domain.ConversationTurn
}

func (f *fakeRecorder) Record(turn domain.ConversationTurn, profile *domain.SenderProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turn)
}

func (f *fakeRecorder) Close() {}

func (f *fakeRecorder) recorded() []domain.ConversationTurn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ConversationTurn(nil), f.turns...)
}

// flakySessions wraps a store and fails selected operations.
type flakySessions struct {
	domain.SessionStore
	getErr    error
	upsertErr error
}

func (f *flakySessions) GetProfile(ctx context.Context, id string) (*domain.SenderProfile, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.SessionStore.GetProfile(ctx, id)
}

func (f *flakySessions) UpsertProfile(ctx context.Context, id, n, s, o string) (*domain.SenderProfile, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	return f.SessionStore.UpsertProfile(ctx, id, n, s, o)
}

type harness struct {
	router   *Router
	sessions domain.SessionStore
	channel  *fakeChannel
	speech   *fakeTranscriber
	gen      *fakeGenerator
	recorder *fakeRecorder
	events   *bus.EventBus
}

func newHarness(t *testing.T, opts ...func(*harness)) *harness {
	t.Helper()
	h := &harness{
		sessions: session.NewMemoryStore(),
		channel:  &fakeChannel{media: []byte("OggS")},
		speech:   &fakeTranscriber{},
		gen:      &fakeGenerator{reply: "respuesta generada"},
		recorder: &fakeRecorder{},
		events:   bus.NewEventBus(testLogger()),
	}
	for _, opt := range opts {
		opt(h)
	}

	d := outbound.New(testLogger())
	d.Register(h.channel)
	h.router = NewRouter(RouterConfig{
		Sessions:    h.sessions,
		Transcriber: h.speech,
		Generator:   h.gen,
		Dispatcher:  d,
		Recorder:    h.recorder,
		Events:      h.events,
		Messages:    msgs,
		Logger:      testLogger(),
	})
	return h
}

func text(from, body string) domain.InboundEvent {
	return domain.InboundEvent{Channel: testChannel, SenderID: from, ReceivedAt: time.Now(), Kind: domain.KindText, Text: body}
}

func voice(from string) domain.InboundEvent {
	return domain.InboundEvent{
		Channel:  testChannel,
		SenderID: from,
		Kind:     domain.KindVoice,
		Media:    &domain.MediaRef{ID: "media-1", MimeType: "audio/ogg"},
	}
}

func (h *harness) onboard(t *testing.T, from string) {
	t.Helper()
	if _, err := h.sessions.UpsertProfile(context.Background(), from, "María González", "Clínica", "TCC"); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
}

func (h *harness) state(t *testing.T, from string) domain.OnboardingState {
	t.Helper()
	p, err := h.sessions.GetProfile(context.Background(), from)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	return domain.StateOf(p)
}

func onlyReply(t *testing.T, h *harness, from string) string {
	t.Helper()
	replies := h.channel.repliesTo(from)
	if len(replies) != 1 {
		t.Fatalf("expected exactly one reply to %s, got %d: %v", from, len(replies), replies)
	}
	return replies[0]
}

// --- properties ---

func TestHandle_FirstContactGetsWelcome(t *testing.T) {
	for _, body := range []string{"Hola", "¿Qué es la TCC?", "", "buenas tardes"} {
		h := newHarness(t)
		h.router.Handle(context.Background(), text(sender, body))

		if got := onlyReply(t, h, sender); got != msgs.Welcome {
			t.Fatalf("body %q: expected welcome, got %q", body, got)
		}
		if h.gen.calls() != 0 {
			t.Fatalf("body %q: generator must not be called for a new sender", body)
		}
		if st := h.state(t, sender); st != domain.StateAwaitingInfo {
			t.Fatalf("body %q: expected awaiting_info after first contact, got %s", body, st)
		}
	}
}

func TestHandle_AwaitingInfoGetsWelcomeAgain(t *testing.T) {
	h := newHarness(t)
	h.router.Handle(context.Background(), text(sender, "Hola"))
	h.router.Handle(context.Background(), text(sender, "¿Sigues ahí?"))

	replies := h.channel.repliesTo(sender)
	if len(replies) != 2 || replies[1] != msgs.Welcome {
		t.Fatalf("expected welcome twice, got %v", replies)
	}
	if h.gen.calls() != 0 {
		t.Fatal("generator must not be called before onboarding")
	}
}

func TestHandle_FullProfileOnboards(t *testing.T) {
	h := newHarness(t)
	h.router.Handle(context.Background(), text(sender, "Hola"))
	h.router.Handle(context.Background(), text(sender, fullProfile))

	replies := h.channel.repliesTo(sender)
	if len(replies) != 2 || replies[1] != msgs.ProfileSaved {
		t.Fatalf("expected profile saved confirmation, got %v", replies)
	}

	p, err := h.sessions.GetProfile(context.Background(), sender)
	if err != nil || p == nil {
		t.Fatalf("expected profile, got %v, %v", p, err)
	}
	if p.DisplayName != "María González" || p.Specialty != "Clínica" || p.Orientation != "TCC" || !p.Onboarded {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if h.gen.calls() != 0 {
		t.Fatal("onboarding message must not reach the generator")
	}
}

func TestHandle_FullProfileFromUnknown(t *testing.T) {
	h := newHarness(t)
	h.router.Handle(context.Background(), text(sender, fullProfile))

	if got := onlyReply(t, h, sender); got != msgs.ProfileSaved {
		t.Fatalf("expected profile saved, got %q", got)
	}
	if st := h.state(t, sender); st != domain.StateOnboarded {
		t.Fatalf("expected onboarded, got %s", st)
	}
}

func TestHandle_IncompleteProfileGetsFormatInstruction(t *testing.T) {
	h := newHarness(t)
	h.router.Handle(context.Background(), text(sender, "Hola"))
	h.router.Handle(context.Background(), text(sender, "Soy Juan"))

	replies := h.channel.repliesTo(sender)
	if len(replies) != 2 || replies[1] != msgs.FormatInstruction {
		t.Fatalf("expected format instruction, got %v", replies)
	}
	if st := h.state(t, sender); st != domain.StateAwaitingInfo {
		t.Fatalf("expected sender to remain awaiting_info, got %s", st)
	}
}

func TestHandle_PartialMarkerFromUnknown(t *testing.T) {
	h := newHarness(t)
	h.router.Handle(context.Background(), text(sender, "Soy Juan, especialidad Clínica"))

	if got := onlyReply(t, h, sender); got != msgs.FormatInstruction {
		t.Fatalf("expected format instruction, got %q", got)
	}
	if st := h.state(t, sender); st != domain.StateAwaitingInfo {
		t.Fatalf("expected awaiting_info, got %s", st)
	}
}

func TestHandle_VoiceNotUnderstood(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *harness)
		ev     func() domain.InboundEvent
		fetch  int
		speech int32
		want   string
	}{
		{
			name:   "transcription absent",
			setup:  func(h *harness) { h.speech.text, h.speech.ok = "", false },
			ev:     func() domain.InboundEvent { return voice(sender) },
			fetch:  1,
			speech: 1,
			want:   msgs.VoiceNotUnderstood,
		},
		{
			name:   "media fetch fails",
			setup:  func(h *harness) { h.channel.mediaErr = errors.New("HTTP 404") },
			ev:     func() domain.InboundEvent { return voice(sender) },
			fetch:  1,
			speech: 0,
			want:   msgs.VoiceNotUnderstood,
		},
		{
			name:  "no media reference",
			setup: func(h *harness) {},
			ev: func() domain.InboundEvent {
				ev := voice(sender)
				ev.Media = nil
				return ev
			},
			want: msgs.VoiceNotUnderstood,
		},
		{
			name:  "audio payload",
			setup: func(h *harness) {},
			ev: func() domain.InboundEvent {
				ev := voice(sender)
				ev.Kind = domain.KindAudio
				return ev
			},
			fetch:  1,
			speech: 1,
			want:   msgs.AudioNotUnderstood,
		},
	}

	for _, tt := range tests {
		for _, onboarded := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/onboarded=%v", tt.name, onboarded), func(t *testing.T) {
				h := newHarness(t)
				tt.setup(h)
				if onboarded {
					h.onboard(t, sender)
				}
				h.router.Handle(context.Background(), tt.ev())

				if got := onlyReply(t, h, sender); got != tt.want {
					t.Fatalf("expected %q, got %q", tt.want, got)
				}
				if h.gen.calls() != 0 {
					t.Fatal("generator must not be called")
				}
				if h.channel.fetches != tt.fetch {
					t.Fatalf("expected %d media fetches, got %d", tt.fetch, h.channel.fetches)
				}
				if h.speech.calls.Load() != tt.speech {
					t.Fatalf("expected %d transcriptions, got %d", tt.speech, h.speech.calls.Load())
				}
			})
		}
	}
}

func TestHandle_VoiceTranscriptReachesGenerator(t *testing.T) {
	h := newHarness(t)
	h.speech.text, h.speech.ok = "¿cómo trabajo la evitación?", true
	h.onboard(t, sender)

	h.router.Handle(context.Background(), voice(sender))

	if got := onlyReply(t, h, sender); got != "respuesta generada" {
		t.Fatalf("expected generated reply, got %q", got)
	}
	if h.gen.inputs[0] != "¿cómo trabajo la evitación?" {
		t.Fatalf("generator got %q", h.gen.inputs[0])
	}
	turns := h.recorder.recorded()
	if len(turns) != 1 || turns[0].Kind != domain.TurnVoice || turns[0].Input != "¿cómo trabajo la evitación?" {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}

func TestHandle_VoiceOnboarding(t *testing.T) {
	h := newHarness(t)
	h.speech.text, h.speech.ok = fullProfile, true

	h.router.Handle(context.Background(), voice(sender))

	if got := onlyReply(t, h, sender); got != msgs.ProfileSaved {
		t.Fatalf("expected profile saved from a voice note, got %q", got)
	}
}

func TestHandle_OnboardedGetsGeneratedReply(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, sender)

	ev := text(sender, "¿Qué es la defusión cognitiva?")
	ev.ReceivedAt = time.Unix(1700000000, 0).UTC()
	h.router.Handle(context.Background(), ev)

	if got := onlyReply(t, h, sender); got != "respuesta generada" {
		t.Fatalf("expected generated reply, got %q", got)
	}
	pc := h.gen.systems[0]
	if pc.Profile == nil || pc.Profile.DisplayName != "María González" {
		t.Fatalf("generator should receive the sender profile, got %+v", pc.Profile)
	}

	turns := h.recorder.recorded()
	if len(turns) != 1 {
		t.Fatalf("expected one recorded turn, got %d", len(turns))
	}
	turn := turns[0]
	if turn.SenderID != sender || turn.Channel != testChannel || turn.Kind != domain.TurnText ||
		turn.Input != "¿Qué es la defusión cognitiva?" || turn.Response != "respuesta generada" {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if !turn.Timestamp.Equal(ev.ReceivedAt) {
		t.Fatalf("turn timestamp = %v, want the receive time %v", turn.Timestamp, ev.ReceivedAt)
	}
}

func TestHandle_ReonboardingOverwrites(t *testing.T) {
	h := newHarness(t)
	h.router.Handle(context.Background(), text(sender, fullProfile))
	h.router.Handle(context.Background(), text(sender, fullProfile))
	h.router.Handle(context.Background(), text(sender, "Soy María G., especialidad Educativa, orientación ACT"))

	for _, r := range h.channel.repliesTo(sender) {
		if r != msgs.ProfileSaved {
			t.Fatalf("expected only confirmations, got %q", r)
		}
	}
	p, _ := h.sessions.GetProfile(context.Background(), sender)
	if p.DisplayName != "María G" || p.Specialty != "Educativa" || p.Orientation != "ACT" {
		t.Fatalf("expected overwritten profile, got %+v", p)
	}
}

func TestHandle_UnsupportedKind(t *testing.T) {
	h := newHarness(t)
	h.router.Handle(context.Background(), domain.InboundEvent{Channel: testChannel, SenderID: sender, Kind: domain.KindUnsupported})

	if got := onlyReply(t, h, sender); got != msgs.Unsupported {
		t.Fatalf("expected unsupported reply, got %q", got)
	}
	if h.state(t, sender) != domain.StateUnknown {
		t.Fatal("unsupported message must not touch the session")
	}
}

func TestHandle_UnsupportedWithoutRecipient(t *testing.T) {
	h := newHarness(t)
	h.router.Handle(context.Background(), domain.InboundEvent{Channel: testChannel, Kind: domain.KindUnsupported})

	if n := len(h.channel.replies()); n != 0 {
		t.Fatalf("nothing should be sent without a recipient, got %d", n)
	}
}

func TestHandle_SessionReadFailureSendsWelcome(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.sessions = &flakySessions{SessionStore: session.NewMemoryStore(), getErr: errors.New("db locked")}
	})
	h.router.Handle(context.Background(), text(sender, "Hola"))

	if got := onlyReply(t, h, sender); got != msgs.Welcome {
		t.Fatalf("expected welcome on read failure, got %q", got)
	}
}

func TestHandle_UpsertFailureSendsProfileError(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.sessions = &flakySessions{SessionStore: session.NewMemoryStore(), upsertErr: domain.ErrPersistence}
	})
	h.router.Handle(context.Background(), text(sender, fullProfile))

	if got := onlyReply(t, h, sender); got != msgs.ProfileError {
		t.Fatalf("expected profile error, got %q", got)
	}
}

func TestHandle_GeneratorPanicSendsGenericError(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.gen.panics = true })
	h.onboard(t, sender)

	h.router.Handle(context.Background(), text(sender, "hola"))

	if got := onlyReply(t, h, sender); got != msgs.GenericError {
		t.Fatalf("expected generic error, got %q", got)
	}
	if len(h.recorder.recorded()) != 0 {
		t.Fatal("failed event should not be recorded")
	}
}

type failingBackend struct{}

func (failingBackend) Name() string                      { return "failing" }
func (failingBackend) Healthy(ctx context.Context) error { return errors.New("down") }
func (failingBackend) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return nil, errors.New("HTTP 503")
}

func TestHandle_GeneratorFailureSendsApology(t *testing.T) {
	sessions := session.NewMemoryStore()
	ch := &fakeChannel{}
	d := outbound.New(testLogger())
	d.Register(ch)
	r := NewRouter(RouterConfig{
		Sessions:    sessions,
		Transcriber: &fakeTranscriber{},
		Generator:   responder.New(responder.Config{Backend: failingBackend{}, Logger: testLogger()}),
		Dispatcher:  d,
		Logger:      testLogger(),
	})
	if _, err := sessions.UpsertProfile(context.Background(), sender, "a", "b", "c"); err != nil {
		t.Fatal(err)
	}

	r.Handle(context.Background(), text(sender, "hola"))

	replies := ch.repliesTo(sender)
	if len(replies) != 1 || replies[0] != msgs.GenerationError {
		t.Fatalf("expected generation apology, got %v", replies)
	}
}

func TestHandle_DeliveryFailureCompletes(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.channel.deliverErr = errors.New("HTTP 400") })
	h.onboard(t, sender)

	h.router.Handle(context.Background(), text(sender, "hola"))

	if n := len(h.channel.replies()); n != 1 {
		t.Fatalf("expected a single delivery attempt, got %d", n)
	}
	if len(h.recorder.recorded()) != 1 {
		t.Fatal("turn should still be recorded after a failed delivery")
	}
}

func TestHandle_EmitsLifecycleEvents(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var types []string
	h.events.On("*", func(e bus.Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	})

	h.router.Handle(context.Background(), text(sender, "Hola"))
	h.router.Handle(context.Background(), text(sender, fullProfile))

	want := []string{bus.EventMessageReceived, bus.EventWelcomeSent, bus.EventMessageReceived, bus.EventProfileSaved}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
}

func TestHandle_ConcurrentDistinctSenders(t *testing.T) {
	h := newHarness(t)
	var wg sync.WaitGroup
	const n = 50
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("sender-%02d", i)
			body := fmt.Sprintf("Soy Persona %d, especialidad Clínica, orientación TCC", i)
			h.router.Handle(context.Background(), text(id, body))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("sender-%02d", i)
		p, err := h.sessions.GetProfile(context.Background(), id)
		if err != nil || p == nil {
			t.Fatalf("%s: missing profile: %v", id, err)
		}
		if want := fmt.Sprintf("Persona %d", i); p.DisplayName != want {
			t.Fatalf("%s: name %q, want %q", id, p.DisplayName, want)
		}
		if got := h.channel.repliesTo(id); len(got) != 1 || got[0] != msgs.ProfileSaved {
			t.Fatalf("%s: replies %v", id, got)
		}
	}
}

func TestHandle_SameSenderSerialized(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.gen.delay = 5 * time.Millisecond })
	h.onboard(t, sender)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.router.Handle(context.Background(), text(sender, "pregunta"))
		}()
	}
	wg.Wait()

	if h.gen.overlap {
		t.Fatal("events for the same sender overlapped")
	}
	if got := len(h.channel.repliesTo(sender)); got != 6 {
		t.Fatalf("expected 6 replies, got %d", got)
	}
}
