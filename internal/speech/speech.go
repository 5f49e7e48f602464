// Package speech turns voice notes into text. It never fails loudly: any
// problem yields ("", false) and the caller sends its fallback reply.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"aina/internal/domain"
)

const DefaultLanguage = "es"

// Transcriber is the contract the intake router depends on.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, languageHint string) (string, bool)
}

type Config struct {
	Backend  domain.SpeechProvider
	Language string        // used when the caller passes no hint
	Filename string        // container hint sent to the backend, default "audio.ogg"
	Timeout  time.Duration // per call, 0 means the caller's deadline only
	Logger   *slog.Logger
}

// Adapter wraps a speech backend with the fail-closed contract.
type Adapter struct {
	backend  domain.SpeechProvider
	language string
	filename string
	timeout  time.Duration
	logger   *slog.Logger
}

func New(cfg Config) *Adapter {
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Filename == "" {
		cfg.Filename = "audio.ogg"
	}
	return &Adapter{
		backend:  cfg.Backend,
		language: cfg.Language,
		filename: cfg.Filename,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

// Transcribe returns the trimmed transcript, or ok=false when the input is
// empty, the backend errors or panics, or the transcript is blank.
func (a *Adapter) Transcribe(ctx context.Context, audio []byte, languageHint string) (text string, ok bool) {
	if len(audio) == 0 {
		a.logger.Warn("transcription skipped: empty audio")
		return "", false
	}
	if a.backend == nil {
		a.logger.Error("transcription unavailable", "err", domain.ErrTranscriptionUnavailable)
		return "", false
	}

	lang := languageHint
	if lang == "" {
		lang = a.language
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("transcription backend panic", "backend", a.backend.Name(), "panic", fmt.Sprint(r))
			text, ok = "", false
		}
	}()

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := a.backend.Transcribe(ctx, bytes.NewReader(audio), a.filename, lang)
	if err != nil {
		a.logger.Error("transcription failed",
			"backend", a.backend.Name(),
			"bytes", len(audio),
			"err", fmt.Errorf("%w: %w", domain.ErrTranscriptionUnavailable, err),
		)
		return "", false
	}
	if res == nil || strings.TrimSpace(res.Text) == "" {
		a.logger.Warn("transcription empty", "backend", a.backend.Name(), "bytes", len(audio))
		return "", false
	}

	text = strings.TrimSpace(res.Text)
	a.logger.Info("audio transcribed",
		"backend", a.backend.Name(),
		"bytes", len(audio),
		"chars", len(text),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return text, true
}
