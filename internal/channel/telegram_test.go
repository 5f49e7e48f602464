package channel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"aina/internal/domain"
)

func TestTelegram_ToEvent(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Token: "x", Logger: testLogger()})
	base := func() *tgbotapi.Message {
		return &tgbotapi.Message{
			Date: 1700000000,
			From: &tgbotapi.User{ID: 42},
			Chat: &tgbotapi.Chat{ID: 4242},
		}
	}

	text := base()
	text.Text = "  Hola  "
	voice := base()
	voice.Voice = &tgbotapi.Voice{FileID: "voice-file", MimeType: "audio/ogg"}
	audio := base()
	audio.Audio = &tgbotapi.Audio{FileID: "audio-file", MimeType: "audio/mpeg"}
	sticker := base()

	tests := []struct {
		name  string
		msg   *tgbotapi.Message
		kind  domain.PayloadKind
		text  string
		media string
	}{
		{"text", text, domain.KindText, "Hola", ""},
		{"voice", voice, domain.KindVoice, "", "voice-file"},
		{"audio", audio, domain.KindAudio, "", "audio-file"},
		{"unsupported", sticker, domain.KindUnsupported, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := tg.toEvent(tt.msg)
			if ev.Channel != "telegram" || ev.SenderID != "4242" {
				t.Fatalf("unexpected routing fields: %+v", ev)
			}
			if !ev.ReceivedAt.Equal(time.Unix(1700000000, 0)) {
				t.Fatalf("unexpected time %v", ev.ReceivedAt)
			}
			if ev.Kind != tt.kind || ev.Text != tt.text {
				t.Fatalf("got kind=%s text=%q", ev.Kind, ev.Text)
			}
			if tt.media == "" && ev.Media != nil {
				t.Fatalf("unexpected media %+v", ev.Media)
			}
			if tt.media != "" && (ev.Media == nil || ev.Media.ID != tt.media) {
				t.Fatalf("expected media %q, got %+v", tt.media, ev.Media)
			}
		})
	}
}

func TestTelegram_AllowList(t *testing.T) {
	tg := NewTelegram(TelegramConfig{AllowFrom: []string{"1", " 2 ", "bad"}, Logger: testLogger()})
	if !tg.isAllowed(1) || !tg.isAllowed(2) {
		t.Fatal("listed users should be allowed")
	}
	if tg.isAllowed(3) {
		t.Fatal("unlisted user should be rejected")
	}
	if !NewTelegram(TelegramConfig{Logger: testLogger()}).isAllowed(99) {
		t.Fatal("empty allow list should allow everyone")
	}
}

func TestTelegram_DeliverWithoutBot(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Logger: testLogger()})
	if err := tg.Deliver(context.Background(), "1", "hola"); !errors.Is(err, domain.ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
}

func TestSplitMessage(t *testing.T) {
	if chunks := splitMessage("short message", 100); len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}

	long := strings.Repeat("word ", 100)
	chunks := splitMessage(long, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 50 {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
	}
	if strings.Join(chunks, "") != long {
		t.Fatal("chunks should reassemble to the original text")
	}

	lines := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	if got := splitMessage(lines, 40); len(got) != 2 || got[0] != strings.Repeat("a", 30) {
		t.Fatalf("expected split at newline, got %q", got)
	}

	accents := strings.Repeat("ó", 30) // 2 bytes each
	for _, c := range splitMessage(accents, 15) {
		if !strings.HasPrefix(c, "ó") || len(c)%2 != 0 {
			t.Fatalf("chunk split a rune: %q", c)
		}
	}
}
