package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"aina/internal/domain"
)

// Gemini implements domain.ChatProvider with the Google GenAI SDK.
type Gemini struct {
	model  string
	client *genai.Client
	logger *slog.Logger
}

type GeminiConfig struct {
	APIKey     string
	APIBase    string // overrides the Gemini API endpoint (tests, proxies)
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(defaultHTTPTimeout)
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.APIBase != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.APIBase}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &Gemini{model: cfg.Model, client: client, logger: cfg.Logger}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Healthy(ctx context.Context) error {
	if _, err := g.client.Models.Get(ctx, g.model, nil); err != nil {
		return fmt.Errorf("gemini not reachable: %w", err)
	}
	return nil
}

func (g *Gemini) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	var system []*genai.Part
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system":
			system = append(system, genai.NewPartFromText(m.Content))
		case "assistant":
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: system}
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini: empty response (no candidates)")
	}

	cand := resp.Candidates[0]
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		sb.WriteString(part.Text)
	}

	result := &domain.ChatResponse{
		Content:      sb.String(),
		FinishReason: strings.ToLower(string(cand.FinishReason)),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	if u := resp.UsageMetadata; u != nil {
		result.Usage = domain.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}

	g.logger.Debug("chat completion",
		"provider", "gemini",
		"model", model,
		"tokens", result.Usage.TotalTokens,
		"latency_ms", result.LatencyMs,
	)
	return result, nil
}
