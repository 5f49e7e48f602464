package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"aina/internal/channel"
	"aina/internal/config"
	"aina/internal/domain"
	"aina/internal/memory"
	"aina/internal/metrics"
	"aina/internal/provider"
	"aina/internal/responder"
	"aina/internal/session"
	"aina/internal/speech"
)

// app holds the adapters every command shares. Fields a command does not
// need stay nil when the config disables them.
type app struct {
	cfg    *config.Config
	msgs   config.Messages
	logger *slog.Logger

	db            *sql.DB
	sessions      domain.SessionStore
	conversations *memory.SQLiteStore
	responder     *responder.Responder
	transcriber   *speech.Adapter
	speechBackend domain.SpeechProvider
	speechName    string
	whatsapp      *channel.WhatsApp
	telegram      *channel.Telegram

	closers []func() error
}

// openApp builds the stores and adapters from cfg. bus receives webhook
// events and may be nil for commands that never serve HTTP.
func openApp(ctx context.Context, cfg *config.Config, bus domain.MessageBus, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	msgs, err := config.LoadMessages(cfg.General.MessagesFile)
	if err != nil {
		return nil, err
	}
	a.msgs = msgs

	if cfg.Memory.Enabled || cfg.Session.Backend == "sqlite" {
		db, err := memory.Open(cfg.Memory.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
	}
	if cfg.Memory.Enabled {
		a.conversations = memory.NewSQLiteStoreFromDB(a.db, logger)
	}

	sessions, err := session.Open(cfg.Session, a.db, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("session store: %w", err)
	}
	a.sessions = sessions
	// Runs before the database handle is closed.
	a.closers = append([]func() error{sessions.Close}, a.closers...)

	factory := provider.NewFactory(cfg, logger)

	backend, err := factory.Generator(ctx)
	if err != nil {
		logger.Warn("no chat backend, replies will use the generation fallback", "err", err)
	}
	gc := cfg.Generator
	a.responder = responder.New(responder.Config{
		Backend:      backend,
		Model:        gc.Model,
		SystemPrompt: gc.SystemPrompt,
		MaxTokens:    gc.MaxTokens,
		Temperature:  gc.Temperature,
		Timeout:      time.Duration(gc.TimeoutSeconds) * time.Second,
		Limiter:      responder.NewRateLimiter(gc.RateBurst, float64(gc.RatePerMinute)),
		Messages:     msgs,
		Logger:       logger,
	})
	a.responder.OnCall(func(op string, d time.Duration, ok bool) {
		metrics.GenerationLatency.Observe(d.Seconds())
	})

	stt, err := factory.Speech()
	if err != nil {
		logger.Warn("no speech backend, audio will get the fallback reply", "err", err)
	} else {
		a.speechBackend = stt
		a.speechName = stt.Name()
	}
	a.transcriber = speech.New(speech.Config{
		Backend:  stt,
		Language: cfg.Speech.Language,
		Timeout:  time.Duration(gc.TimeoutSeconds) * time.Second,
		Logger:   logger,
	})

	if wc := cfg.Channels.WhatsApp; wc.Enabled {
		a.whatsapp = channel.NewWhatsApp(channel.WhatsAppChannelConfig{
			Config: wc,
			Bus:    bus,
			Logger: logger,
		})
	}
	if tc := cfg.Channels.Telegram; tc.Enabled {
		a.telegram = channel.NewTelegram(channel.TelegramConfig{
			Token:     tc.Token,
			AllowFrom: tc.AllowFrom,
			Logger:    logger,
		})
	}

	return a, nil
}

// channels returns the enabled outbound channels.
func (a *app) channels() []domain.Channel {
	var out []domain.Channel
	if a.whatsapp != nil {
		out = append(out, a.whatsapp)
	}
	if a.telegram != nil {
		out = append(out, a.telegram)
	}
	return out
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
