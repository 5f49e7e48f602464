// Package responder turns a sender's input into a reply through a chat
// backend. Every operation returns text: failures become a fixed apology.
package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"aina/internal/config"
	"aina/internal/domain"
)

const (
	DefaultMaxTokens    = 800
	DefaultTemperature  = 0.3
	projectiveMaxTokens = 1000
	reportMaxTokens     = 1200
)

// PromptContext is the per-call instruction: the system prompt plus the
// profile of the sender, if any.
type PromptContext struct {
	System  string
	Profile *domain.SenderProfile
}

// Render returns the system instruction with the profile projection appended.
func (pc PromptContext) Render() string {
	if pc.Profile == nil {
		return pc.System
	}
	var sb strings.Builder
	sb.WriteString(pc.System)
	sb.WriteString(profileHeader)
	sb.WriteString("\n- Nombre: " + pc.Profile.DisplayName)
	sb.WriteString("\n- Especialidad: " + pc.Profile.Specialty)
	sb.WriteString("\n- Orientación terapéutica: " + pc.Profile.Orientation)
	return sb.String()
}

type Config struct {
	Backend      domain.ChatProvider
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration // per call; 0 leaves the caller's deadline
	Limiter      *RateLimiter  // optional
	Messages     config.Messages
	Logger       *slog.Logger
}

// Responder is the generation adapter used by the intake router and the
// HTTP helper routes.
type Responder struct {
	backend     domain.ChatProvider
	model       string
	system      string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	limiter     *RateLimiter
	msgs        config.Messages
	logger      *slog.Logger
	observe     func(op string, d time.Duration, ok bool)
}

func New(cfg Config) *Responder {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Messages == (config.Messages{}) {
		cfg.Messages = config.DefaultMessages()
	}
	return &Responder{
		backend:     cfg.Backend,
		model:       cfg.Model,
		system:      cfg.SystemPrompt,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		limiter:     cfg.Limiter,
		msgs:        cfg.Messages,
		logger:      cfg.Logger,
		observe:     func(string, time.Duration, bool) {},
	}
}

// OnCall registers a hook invoked after every backend call with the
// operation name, latency and outcome.
func (r *Responder) OnCall(fn func(op string, d time.Duration, ok bool)) {
	if fn != nil {
		r.observe = fn
	}
}

// Context returns the PromptContext for a sender profile.
func (r *Responder) Context(profile *domain.SenderProfile) PromptContext {
	return PromptContext{System: r.system, Profile: profile}
}

// BackendName reports the chat backend in use, for status pages.
func (r *Responder) BackendName() string {
	if r.backend == nil {
		return ""
	}
	return r.backend.Name()
}

// Healthy reports whether the chat backend is reachable.
func (r *Responder) Healthy(ctx context.Context) error {
	if r.backend == nil {
		return fmt.Errorf("no chat backend configured: %w", domain.ErrGeneration)
	}
	return r.backend.Healthy(ctx)
}

// Complete generates a reply for input. One attempt; any failure, empty
// reply or blank content yields the generation apology.
func (r *Responder) Complete(ctx context.Context, pc PromptContext, input string) string {
	reply, err := r.generate(ctx, "complete", pc.Render(), input, r.maxTokens)
	if err != nil {
		r.logger.Error("generation failed", "op", "complete", "err", err)
		return r.msgs.GenerationError
	}
	return reply
}

// AnalyzeProjective interprets a projective technique (HTP, TAT...) from
// its description.
func (r *Responder) AnalyzeProjective(ctx context.Context, description, testType string) string {
	prompt := fmt.Sprintf(projectivePrompt, testType, description)
	reply, err := r.generate(ctx, "projective", r.system, prompt, projectiveMaxTokens)
	if err != nil {
		r.logger.Error("generation failed", "op", "projective", "test_type", testType, "err", err)
		return r.msgs.ProjectiveError
	}
	return reply
}

// ClinicalReport drafts a report in the standard clinical format.
func (r *Responder) ClinicalReport(ctx context.Context, patientData, sessionData map[string]any) string {
	patient, err1 := json.MarshalIndent(patientData, "", "  ")
	session, err2 := json.MarshalIndent(sessionData, "", "  ")
	if err1 != nil || err2 != nil {
		r.logger.Error("report input not encodable", "patient_err", err1, "session_err", err2)
		return r.msgs.ReportError
	}
	prompt := fmt.Sprintf(reportPrompt, patient, session)
	reply, err := r.generate(ctx, "report", r.system, prompt, reportMaxTokens)
	if err != nil {
		r.logger.Error("generation failed", "op", "report", "err", err)
		return r.msgs.ReportError
	}
	return reply
}

func (r *Responder) generate(ctx context.Context, op, system, input string, maxTokens int) (reply string, err error) {
	if r.backend == nil {
		return "", fmt.Errorf("no chat backend configured: %w", domain.ErrGeneration)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("backend panic: %v: %w", rec, domain.ErrGeneration)
		}
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit: %w: %w", domain.ErrGeneration, err)
		}
	}

	start := time.Now()
	resp, err := r.backend.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: input},
		},
		Model:       r.model,
		MaxTokens:   maxTokens,
		Temperature: r.temperature,
	})
	elapsed := time.Since(start)
	if err != nil {
		r.observe(op, elapsed, false)
		return "", fmt.Errorf("%s: %w: %w", r.backend.Name(), domain.ErrGeneration, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		r.observe(op, elapsed, false)
		return "", fmt.Errorf("%s returned no content: %w", r.backend.Name(), domain.ErrGeneration)
	}

	r.observe(op, elapsed, true)
	r.logger.Info("reply generated",
		"op", op,
		"backend", r.backend.Name(),
		"tokens", resp.Usage.TotalTokens,
		"finish", resp.FinishReason,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return strings.TrimSpace(resp.Content), nil
}
