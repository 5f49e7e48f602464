package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"aina/internal/config"
	"aina/internal/domain"
	"aina/internal/provider"
)

const (
	whatsappAPIBase       = "https://graph.facebook.com/v18.0"
	whatsappWebhookPath   = "/api/whatsapp/webhook"
	whatsappObject        = "whatsapp_business_account"
	maxWebhookBody        = 1 << 20
	maxMediaBytes         = 16 << 20
	whatsappClientTimeout = 30 * time.Second
)

// WhatsApp implements domain.Channel for the WhatsApp Business Cloud API:
// webhook intake, text delivery, media download and phone number status.
type WhatsApp struct {
	cfg     config.WhatsAppConfig
	apiBase string
	bus     domain.MessageBus
	logger  *slog.Logger
	client  *http.Client
	now     func() time.Time
}

type WhatsAppChannelConfig struct {
	Config     config.WhatsAppConfig
	Bus        domain.MessageBus
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewWhatsApp(cfg WhatsAppChannelConfig) *WhatsApp {
	base := cfg.Config.APIBase
	if base == "" {
		base = whatsappAPIBase
	}
	if cfg.Config.WebhookPath == "" {
		cfg.Config.WebhookPath = whatsappWebhookPath
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = provider.SharedHTTPClient(whatsappClientTimeout)
	}
	return &WhatsApp{
		cfg:     cfg.Config,
		apiBase: base,
		bus:     cfg.Bus,
		logger:  cfg.Logger,
		client:  cfg.HTTPClient,
		now:     time.Now,
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// WebhookPath is where Handler expects to be mounted.
func (w *WhatsApp) WebhookPath() string { return w.cfg.WebhookPath }

// Handler returns the webhook handler (GET verification, POST delivery).
func (w *WhatsApp) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+w.cfg.WebhookPath, w.handleVerification)
	mux.HandleFunc("POST "+w.cfg.WebhookPath, w.handleIncoming)
	return mux
}

// --- Webhook handlers ---

func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "" || token == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Bad Request"})
		return
	}
	if mode != "subscribe" || w.cfg.VerifyToken == "" ||
		!hmac.Equal([]byte(token), []byte(w.cfg.VerifyToken)) {
		w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
		writeJSON(rw, http.StatusForbidden, map[string]string{"error": "Forbidden"})
		return
	}

	w.logger.Info("whatsapp webhook verified")
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	io.WriteString(rw, challenge)
}

func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Bad Request"})
		return
	}

	if w.cfg.AppSecret != "" && !w.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		w.logger.Warn("whatsapp invalid signature")
		writeJSON(rw, http.StatusForbidden, map[string]string{"error": "Forbidden"})
		return
	}

	events, err := w.ParseWebhook(body)
	switch {
	case errors.Is(err, errNotWhatsApp):
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "Not Found"})
		return
	case err != nil:
		w.logger.Warn("whatsapp bad payload", "err", err)
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Bad Request"})
		return
	}

	for _, ev := range events {
		w.logger.Info("whatsapp message received", "sender", ev.SenderID, "kind", ev.Kind)
		w.bus.Publish(ev)
	}

	// The platform redelivers on anything but 200, so replies are never
	// awaited here.
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

var errNotWhatsApp = errors.New("not a whatsapp business account payload")

// ParseWebhook converts a webhook body into inbound events. Status updates
// and entries without messages produce no events. A message without a
// sender, or an audio message without a media id, rejects the whole
// payload with domain.ErrValidation.
func (w *WhatsApp) ParseWebhook(body []byte) ([]domain.InboundEvent, error) {
	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook: %w: %w", domain.ErrValidation, err)
	}
	if payload.Object != whatsappObject {
		return nil, errNotWhatsApp
	}

	var events []domain.InboundEvent
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if err := validateMessage(msg); err != nil {
					return nil, err
				}
				events = append(events, w.toEvent(msg))
			}
		}
	}
	return events, nil
}

func validateMessage(msg waMessage) error {
	if msg.From == "" {
		return fmt.Errorf("message %s: missing sender: %w", msg.ID, domain.ErrValidation)
	}
	var media *waMedia
	switch domain.ParsePayloadKind(msg.Type) {
	case domain.KindAudio:
		media = msg.Audio
	case domain.KindVoice:
		media = msg.Voice
	default:
		return nil
	}
	if media == nil || media.ID == "" {
		return fmt.Errorf("message %s: %s without media id: %w", msg.ID, msg.Type, domain.ErrValidation)
	}
	return nil
}

func (w *WhatsApp) toEvent(msg waMessage) domain.InboundEvent {
	ev := domain.InboundEvent{
		Channel:    w.Name(),
		SenderID:   msg.From,
		ReceivedAt: parseEpoch(msg.Timestamp, w.now),
		Kind:       domain.ParsePayloadKind(msg.Type),
	}

	switch ev.Kind {
	case domain.KindText:
		if msg.Text == nil {
			ev.Kind = domain.KindUnsupported
			break
		}
		ev.Text = msg.Text.Body
	case domain.KindAudio, domain.KindVoice:
		media := msg.Audio
		if ev.Kind == domain.KindVoice {
			media = msg.Voice
		}
		if media.Voice {
			ev.Kind = domain.KindVoice
		}
		ev.Media = &domain.MediaRef{ID: media.ID, URL: media.URL, MimeType: media.MimeType}
	}
	return ev
}

func parseEpoch(s string, now func() time.Time) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs <= 0 {
		return now()
	}
	return time.Unix(secs, 0).UTC()
}

// verifySignature checks the X-Hub-Signature-256 header.
func (w *WhatsApp) verifySignature(body []byte, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	expected := signature[7:]

	mac := hmac.New(sha256.New, []byte(w.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}

// --- Graph API client ---

// Deliver sends a text message. One attempt.
func (w *WhatsApp) Deliver(ctx context.Context, to, text string) error {
	payload := waSendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
	}
	payload.Text.Body = text

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", w.apiBase, w.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w: %w", domain.ErrDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("whatsapp API %d: %s: %w", resp.StatusCode, graphErrorMessage(resp.Body), domain.ErrDelivery)
	}
	return nil
}

// FetchMedia resolves a media ID to its download URL and fetches the bytes.
// Both requests carry the access token; transient failures are retried
// channels.whatsapp.mediaRetries times.
func (w *WhatsApp) FetchMedia(ctx context.Context, ref domain.MediaRef) ([]byte, error) {
	if ref.ID == "" {
		return nil, fmt.Errorf("media reference without id: %w", domain.ErrValidation)
	}

	metaURL := fmt.Sprintf("%s/%s", w.apiBase, url.PathEscape(ref.ID))
	resp, err := provider.DoWithRetry(ctx, w.client, w.cfg.MediaRetries, w.authGet(ctx, metaURL), w.logger)
	if err != nil {
		return nil, fmt.Errorf("resolve media %s: %w", ref.ID, err)
	}
	var meta waMediaMeta
	err = json.NewDecoder(resp.Body).Decode(&meta)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("decode media %s: %w", ref.ID, err)
	}
	if meta.URL == "" {
		return nil, fmt.Errorf("media %s has no download url", ref.ID)
	}

	resp, err = provider.DoWithRetry(ctx, w.client, w.cfg.MediaRetries, w.authGet(ctx, meta.URL), w.logger)
	if err != nil {
		return nil, fmt.Errorf("download media %s: %w", ref.ID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, fmt.Errorf("read media %s: %w", ref.ID, err)
	}
	w.logger.Debug("whatsapp media downloaded", "media", ref.ID, "bytes", len(data), "mime", meta.MimeType)
	return data, nil
}

func (w *WhatsApp) authGet(ctx context.Context, target string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)
		return req, nil
	}
}

// WhatsAppStatus describes the configured business phone number.
type WhatsAppStatus struct {
	Connected     bool   `json:"connected"`
	PhoneNumber   string `json:"phoneNumber,omitempty"`
	VerifiedName  string `json:"verifiedName,omitempty"`
	QualityRating string `json:"qualityRating,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Status queries the Graph API for the phone number. Failures are reported
// in the returned status rather than as an error.
func (w *WhatsApp) Status(ctx context.Context) WhatsAppStatus {
	target := fmt.Sprintf("%s/%s?fields=display_phone_number,verified_name,quality_rating",
		w.apiBase, url.PathEscape(w.cfg.PhoneNumberID))

	resp, err := provider.DoWithRetry(ctx, w.client, 0, w.authGet(ctx, target), w.logger)
	if err != nil {
		var se *provider.StatusError
		if errors.As(err, &se) {
			return WhatsAppStatus{Error: graphErrorMessage(bytes.NewReader([]byte(se.Body)))}
		}
		return WhatsAppStatus{Error: err.Error()}
	}
	defer resp.Body.Close()

	var info waPhoneNumber
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return WhatsAppStatus{Error: fmt.Sprintf("decode status: %v", err)}
	}
	return WhatsAppStatus{
		Connected:     true,
		PhoneNumber:   info.DisplayPhoneNumber,
		VerifiedName:  info.VerifiedName,
		QualityRating: info.QualityRating,
	}
}

// graphErrorMessage extracts error.message from a Graph API error body,
// falling back to the raw body.
func graphErrorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var ge struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &ge) == nil && ge.Error.Message != "" {
		return ge.Error.Message
	}
	return string(raw)
}

// --- WhatsApp payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From      string   `json:"from"`
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	Type      string   `json:"type"`
	Text      *waText  `json:"text,omitempty"`
	Audio     *waMedia `json:"audio,omitempty"`
	Voice     *waMedia `json:"voice,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID       string `json:"id"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Voice    bool   `json:"voice,omitempty"`
}

type waMediaMeta struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

type waPhoneNumber struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	VerifiedName       string `json:"verified_name"`
	QualityRating      string `json:"quality_rating"`
}

type waSendRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
