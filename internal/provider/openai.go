package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"aina/internal/domain"
)

// OpenAI implements domain.ChatProvider on top of the official SDK. It also
// serves OpenAI-compatible endpoints when APIBase points elsewhere.
type OpenAI struct {
	name   string
	model  string
	client openai.Client
	logger *slog.Logger
}

type OpenAIConfig struct {
	Name       string // reported by Name(); defaults to "openai"
	APIKey     string
	APIBase    string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(defaultHTTPTimeout)
	}
	return &OpenAI{
		name:   cfg.Name,
		model:  cfg.Model,
		client: openai.NewClient(openAIOptions(cfg.APIKey, cfg.APIBase, cfg.HTTPClient)...),
		logger: cfg.Logger,
	}
}

// openAIOptions builds SDK options. Retries are disabled: callers get exactly
// one attempt per request.
func openAIOptions(apiKey, apiBase string, hc *http.Client) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	return opts
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Healthy(ctx context.Context) error {
	if _, err := o.client.Models.List(ctx); err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%s: invalid API key", o.name)
		}
		return fmt.Errorf("%s not reachable: %w", o.name, err)
	}
	return nil
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s chat: %w", o.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty response (no choices)", o.name)
	}

	choice := resp.Choices[0]
	result := &domain.ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}

	o.logger.Debug("chat completion",
		"provider", o.name,
		"model", model,
		"tokens", result.Usage.TotalTokens,
		"latency_ms", result.LatencyMs,
	)
	return result, nil
}

func toOpenAIMessages(msgs []domain.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
