package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"aina/internal/domain"
	"aina/internal/provider"
)

const (
	telegramMaxMsgLen     = 4000
	telegramPollTimeout   = 30
	telegramClientTimeout = 60 * time.Second
)

// Telegram implements domain.Channel for a Telegram bot using long polling.
// The chat ID is the sender ID, so replies go back to the same chat.
type Telegram struct {
	token       string
	apiEndpoint string
	allowFrom   []int64 // empty = allow all
	parseMode   string

	bot    *tgbotapi.BotAPI
	client *http.Client
	logger *slog.Logger
}

type TelegramConfig struct {
	Token       string
	AllowFrom   []string // user IDs as strings
	ParseMode   string   // "" sends plain text
	APIEndpoint string   // default tgbotapi.APIEndpoint
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = provider.SharedHTTPClient(telegramClientTimeout)
	}
	return &Telegram{
		token:       cfg.Token,
		apiEndpoint: cfg.APIEndpoint,
		allowFrom:   allowed,
		parseMode:   cfg.ParseMode,
		client:      cfg.HTTPClient,
		logger:      cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Connect authenticates the bot. Start calls it when needed.
func (t *Telegram) Connect() error {
	if t.bot != nil {
		return nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.apiEndpoint, t.client)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	return nil
}

// Start polls for updates and publishes them until ctx is done.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	if err := t.Connect(); err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(bus, update)
		}
	}
}

func (t *Telegram) handleUpdate(bus domain.MessageBus, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	if !t.isAllowed(msg.From.ID) {
		t.logger.Warn("unauthorized telegram user", "user_id", msg.From.ID, "username", msg.From.UserName)
		return
	}

	ev := t.toEvent(msg)
	t.logger.Info("telegram message received", "sender", ev.SenderID, "kind", ev.Kind)
	bus.Publish(ev)
}

// toEvent maps a Telegram message to an inbound event. Text (including
// commands), voice notes and audio files are supported.
func (t *Telegram) toEvent(msg *tgbotapi.Message) domain.InboundEvent {
	ev := domain.InboundEvent{
		Channel:    t.Name(),
		SenderID:   strconv.FormatInt(msg.Chat.ID, 10),
		ReceivedAt: time.Unix(int64(msg.Date), 0).UTC(),
		Kind:       domain.KindUnsupported,
	}

	switch {
	case msg.Voice != nil:
		ev.Kind = domain.KindVoice
		ev.Media = &domain.MediaRef{ID: msg.Voice.FileID, MimeType: msg.Voice.MimeType}
	case msg.Audio != nil:
		ev.Kind = domain.KindAudio
		ev.Media = &domain.MediaRef{ID: msg.Audio.FileID, MimeType: msg.Audio.MimeType}
	case strings.TrimSpace(msg.Text) != "":
		ev.Kind = domain.KindText
		ev.Text = strings.TrimSpace(msg.Text)
	}
	return ev
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// Deliver sends text to a chat, split into chunks under the Telegram limit.
// One attempt per chunk; a markup parse error falls back to plain text.
func (t *Telegram) Deliver(ctx context.Context, recipient, text string) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not connected: %w", domain.ErrDelivery)
	}
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", recipient, domain.ErrValidation)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("empty message: %w", domain.ErrValidation)
	}

	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.sendChunk(chatID, chunk); err != nil {
			return fmt.Errorf("telegram send: %w: %w", domain.ErrDelivery, err)
		}
	}
	return nil
}

func (t *Telegram) sendChunk(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = t.parseMode

	_, err := t.bot.Send(msg)
	if err != nil && msg.ParseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
		t.logger.Warn("telegram markup parse error, sending as plain text", "err", err, "parseMode", t.parseMode)
		_, err = t.bot.Send(tgbotapi.NewMessage(chatID, text))
	}
	return err
}

// FetchMedia downloads a file by its FileID.
func (t *Telegram) FetchMedia(ctx context.Context, ref domain.MediaRef) ([]byte, error) {
	if t.bot == nil {
		return nil, fmt.Errorf("telegram bot not connected")
	}
	link, err := t.bot.GetFileDirectURL(ref.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve telegram file %s: %w", ref.ID, err)
	}

	resp, err := provider.DoWithRetry(ctx, t.client, 0, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	}, t.logger)
	if err != nil {
		return nil, fmt.Errorf("download telegram file %s: %w", ref.ID, err)
	}
	defer resp.Body.Close()

	return io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
}

// splitMessage cuts text into chunks of at most maxLen bytes, preferring a
// newline in the second half of the window.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			// Do not split a multi-byte rune.
			for cutAt > 0 && !isRuneStart(text[cutAt]) {
				cutAt--
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
