package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"aina/internal/config"
	"aina/internal/domain"
)

// ChatConstructor creates a chat provider from a config entry.
type ChatConstructor func(ctx context.Context, name string, pc config.ProviderConfig, logger *slog.Logger) (domain.ChatProvider, error)

// Factory creates and caches chat providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ChatConstructor
	cache        map[string]domain.ChatProvider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ChatConstructor),
		cache:        make(map[string]domain.ChatProvider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a chat constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ChatConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func (f *Factory) httpClient() *http.Client {
	return SharedHTTPClient(time.Duration(f.cfg.Generator.TimeoutSeconds) * time.Second)
}

func (f *Factory) registerDefaults() {
	f.constructors["openai"] = func(_ context.Context, name string, pc config.ProviderConfig, logger *slog.Logger) (domain.ChatProvider, error) {
		return NewOpenAI(OpenAIConfig{
			Name:       name,
			APIKey:     pc.APIKey,
			APIBase:    pc.APIBase,
			Model:      pc.DefaultModel,
			HTTPClient: f.httpClient(),
			Logger:     logger,
		}), nil
	}

	f.constructors["gemini"] = func(ctx context.Context, _ string, pc config.ProviderConfig, logger *slog.Logger) (domain.ChatProvider, error) {
		return NewGemini(ctx, GeminiConfig{
			APIKey:     pc.APIKey,
			APIBase:    pc.APIBase,
			Model:      pc.DefaultModel,
			HTTPClient: f.httpClient(),
			Logger:     logger,
		})
	}
}

// Get returns the chat provider with the given name, or the generator's
// configured provider if name is empty. Instances are cached.
func (f *Factory) Get(ctx context.Context, name string) (domain.ChatProvider, error) {
	if name == "" {
		name = f.cfg.Generator.Provider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	ctor, found := f.constructors[name]
	if !found {
		if pc.APIBase == "" {
			return nil, fmt.Errorf("provider %s: no constructor registered and no API base configured", name)
		}
		// Unknown names with an API base are treated as OpenAI-compatible.
		ctor = f.constructors["openai"]
	}

	p, err := ctor(ctx, name, pc, f.logger)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	f.cache[name] = p
	return p, nil
}

// Generator returns the provider used for replies: the failover chain when
// one is configured, otherwise the single named provider.
func (f *Factory) Generator(ctx context.Context) (domain.ChatProvider, error) {
	chain := f.cfg.Generator.FailoverChain
	if len(chain) == 0 {
		return f.Get(ctx, "")
	}

	providers := make([]domain.ChatProvider, 0, len(chain))
	for _, name := range chain {
		p, err := f.Get(ctx, name)
		if err != nil {
			f.logger.Warn("skipping provider in failover chain", "provider", name, "err", err)
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no usable provider in failover chain %v", chain)
	}
	if len(providers) == 1 {
		return providers[0], nil
	}
	return NewFailoverProvider(providers, f.logger), nil
}

// Speech builds the configured speech-to-text backend.
func (f *Factory) Speech() (domain.SpeechProvider, error) {
	sc := f.cfg.Speech
	hc := SharedHTTPClient(defaultHTTPTimeout)
	switch sc.Provider {
	case "openai", "whisper":
		// "whisper" names a self-hosted or third-party server speaking the
		// same /audio/transcriptions API.
		return NewOpenAISpeech(OpenAISpeechConfig{
			Name:       sc.Provider,
			APIKey:     sc.APIKey,
			APIBase:    sc.APIBase,
			Model:      sc.Model,
			HTTPClient: hc,
			Logger:     f.logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown speech provider: %s", sc.Provider)
	}
}
