package intake

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"aina/internal/domain"
	"aina/internal/metrics"
)

const (
	defaultConcurrency  = 10
	defaultEventTimeout = 120 * time.Second
)

// Handler processes one inbound event.
type Handler interface {
	Handle(ctx context.Context, ev domain.InboundEvent)
}

type LoopConfig struct {
	Bus          domain.MessageBus
	Handler      Handler
	Concurrency  int           // max events handled at once
	EventTimeout time.Duration // upper bound for one event
	Logger       *slog.Logger
}

// Loop consumes the inbound bus with bounded concurrency.
type Loop struct {
	bus         domain.MessageBus
	handler     Handler
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = defaultEventTimeout
	}
	return &Loop{
		bus:         cfg.Bus,
		handler:     cfg.Handler,
		concurrency: cfg.Concurrency,
		timeout:     cfg.EventTimeout,
		logger:      cfg.Logger,
	}
}

// Run handles events until the bus is closed and drained. Cancelling ctx
// does not stop intake: every accepted event was already acknowledged to
// its platform, so the loop keeps draining until the bus is closed and the
// last handler has returned.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("intake loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()
	var wg sync.WaitGroup
	defer wg.Wait()

	stopping := ctx.Done()
	for {
		select {
		case <-stopping:
			l.logger.Info("intake loop draining until the bus closes")
			stopping = nil
		case ev, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound bus closed, intake loop stopping")
				return
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(ev domain.InboundEvent) {
				defer wg.Done()
				defer func() { <-sem }()
				l.process(ctx, ev)
			}(ev)
		}
	}
}

func (l *Loop) process(parent context.Context, ev domain.InboundEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), l.timeout)
	defer cancel()

	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("event handler panic", "channel", ev.Channel, "sender", ev.SenderID, "panic", rec)
		}
	}()

	l.handler.Handle(ctx, ev)
}
