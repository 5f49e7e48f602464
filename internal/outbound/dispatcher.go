// Package outbound delivers replies through the channel an event arrived on.
package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"aina/internal/domain"
	"aina/internal/metrics"
)

// Dispatcher routes replies to registered channels. Failures are logged
// and swallowed; a reply is attempted exactly once.
type Dispatcher struct {
	mu       sync.RWMutex
	channels map[string]domain.Channel
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		channels: make(map[string]domain.Channel),
		logger:   logger,
	}
}

// Register adds a channel under its Name.
func (d *Dispatcher) Register(ch domain.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.Name()] = ch
}

// Channel returns the named channel.
func (d *Dispatcher) Channel(name string) (domain.Channel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownChannel, name)
	}
	return ch, nil
}

// Channels lists the registered channel names.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	return names
}

// Deliver sends text to recipient through channel. It never returns an
// error; the outcome is logged and counted.
func (d *Dispatcher) Deliver(ctx context.Context, channel, recipient, text string) {
	if recipient == "" {
		d.logger.Warn("reply without recipient dropped", "channel", channel)
		metrics.DeliveriesFailed.Inc()
		return
	}

	ch, err := d.Channel(channel)
	if err != nil {
		d.logger.Error("cannot deliver reply", "sender", recipient, "err", err)
		metrics.DeliveriesFailed.Inc()
		return
	}

	if err := ch.Deliver(ctx, recipient, text); err != nil {
		d.logger.Error("delivery failed",
			"channel", channel,
			"sender", recipient,
			"err", fmt.Errorf("%w: %w", domain.ErrDelivery, err),
		)
		metrics.DeliveriesFailed.Inc()
		return
	}

	metrics.DeliveriesOK.Inc()
	d.logger.Debug("reply delivered", "channel", channel, "sender", recipient, "len", len(text))
}
