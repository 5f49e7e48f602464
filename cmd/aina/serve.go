package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"aina/internal/bus"
	"aina/internal/convlog"
	"aina/internal/intake"
	"aina/internal/metrics"
	"aina/internal/outbound"
	"aina/internal/server"
)

const (
	busBufferSize   = 100
	shutdownTimeout = 10 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway (HTTP webhook, Telegram polling, intake loop)",
		Long:  "Starts the HTTP server, every enabled channel and the intake loop. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg.General)
	if err != nil {
		return err
	}
	defer closeLog.Close()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(busBufferSize, logger)

	a, err := openApp(ctx, cfg, messageBus, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.responder.Healthy(ctx); err != nil {
		logger.Warn("chat backend unhealthy at startup", "backend", a.responder.BackendName(), "err", err)
	} else {
		logger.Info("chat backend healthy", "backend", a.responder.BackendName())
	}

	dispatcher := outbound.New(logger)
	for _, ch := range a.channels() {
		dispatcher.Register(ch)
	}

	var recorder convlog.Recorder = convlog.NopLogger{Logger: logger}
	if a.conversations != nil {
		recorder = convlog.New(a.conversations, cfg.Memory.QueueSize, logger)
	}

	events := bus.NewEventBus(logger)
	if cfg.Metrics.Enabled {
		unsubscribe := metrics.Subscribe(events)
		defer unsubscribe()
	}

	router := intake.NewRouter(intake.RouterConfig{
		Sessions:    a.sessions,
		Transcriber: a.transcriber,
		Generator:   a.responder,
		Dispatcher:  dispatcher,
		Recorder:    recorder,
		Events:      events,
		Messages:    a.msgs,
		Language:    cfg.Speech.Language,
		Logger:      logger,
	})
	loop := intake.NewLoop(intake.LoopConfig{
		Bus:          messageBus,
		Handler:      router,
		Concurrency:  cfg.General.MaxConcurrentMessages,
		EventTimeout: time.Duration(cfg.General.EventTimeoutSeconds) * time.Second,
		Logger:       logger,
	})

	srvCfg := server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		Assistant:      a.responder,
		Sessions:       a.sessions,
		Transcriber:    a.transcriber,
		Language:       cfg.Speech.Language,
		Model:          cfg.Generator.Model,
		SpeechProvider: a.speechName,
		Messages:       a.msgs,
		Logger:         logger,
	}
	if a.whatsapp != nil {
		srvCfg.WhatsApp = a.whatsapp
	}
	if cfg.Metrics.Enabled {
		srvCfg.Metrics = metrics.Collector.Handler()
		srvCfg.MetricsPath = cfg.Metrics.Endpoint
	}
	srv := server.New(srvCfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if a.telegram != nil {
		g.Go(func() error {
			// Telegram failures are logged; the webhook keeps serving.
			if err := a.telegram.Start(gctx, messageBus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
			return nil
		})
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(gctx)
	}()

	logger.Info("gateway started. Press Ctrl+C to stop.",
		"version", version,
		"channels", dispatcher.Channels(),
		"session_backend", cfg.Session.Backend,
	)

	runErr := g.Wait()
	logger.Info("shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Every producer has returned, so closing the bus lets the loop drain
	// what the webhook already acknowledged.
	done := make(chan struct{})
	go func() {
		defer close(done)
		messageBus.Close()
		<-loopDone
		recorder.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		if runErr == nil {
			runErr = fmt.Errorf("shutdown timed out")
		}
	}
	return runErr
}
