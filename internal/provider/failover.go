package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"aina/internal/domain"
)

// FailoverProvider tries chat providers in order, falling back to the next
// one when the current fails. Each provider gets exactly one attempt.
type FailoverProvider struct {
	providers []domain.ChatProvider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover chain. At least one provider is required.
func NewFailoverProvider(providers []domain.ChatProvider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{
		providers: providers,
		logger:    logger,
	}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	for _, p := range fp.providers {
		if err := p.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy provider in failover chain")
}

// Chat returns the first successful response. A provider that answers with
// blank content counts as failed so the next one gets a chance.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if len(fp.providers) == 0 {
		return nil, fmt.Errorf("failover chain is empty: %w", domain.ErrGeneration)
	}
	var lastErr error
	for i, p := range fp.providers {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("failover aborted: %w", ctx.Err())
		}
		resp, err := p.Chat(ctx, req)
		if err == nil && resp != nil && strings.TrimSpace(resp.Content) != "" {
			if i > 0 {
				fp.logger.Info("failover: used fallback provider",
					"provider", p.Name(),
					"attempt", i+1,
				)
			}
			return resp, nil
		}
		if err == nil {
			err = fmt.Errorf("%s returned empty content", p.Name())
		}
		lastErr = err
		fp.logger.Warn("failover: provider failed, trying next",
			"provider", p.Name(),
			"attempt", i+1,
			"err", err,
		)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}
