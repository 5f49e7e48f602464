package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/openai/openai-go/v3"

	"aina/internal/domain"
)

// OpenAISpeech implements domain.SpeechProvider with the SDK's audio
// transcription endpoint. With APIBase set it also serves any
// OpenAI-compatible Whisper server (Groq, faster-whisper-server,
// whisper.cpp's server with the /v1 prefix).
type OpenAISpeech struct {
	name   string
	model  string
	client openai.Client
	logger *slog.Logger
}

type OpenAISpeechConfig struct {
	Name       string // default "openai"
	APIKey     string
	APIBase    string
	Model      string // default "whisper-1"
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewOpenAISpeech(cfg OpenAISpeechConfig) *OpenAISpeech {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.AudioModelWhisper1)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(defaultHTTPTimeout)
	}
	return &OpenAISpeech{
		name:   cfg.Name,
		model:  cfg.Model,
		client: openai.NewClient(openAIOptions(cfg.APIKey, cfg.APIBase, cfg.HTTPClient)...),
		logger: cfg.Logger,
	}
}

func (s *OpenAISpeech) Name() string { return s.name }

func (s *OpenAISpeech) Transcribe(ctx context.Context, audio io.Reader, filename, language string) (*domain.TranscriptionResult, error) {
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(audio, filename, contentType),
		Model: openai.AudioModel(s.model),
	}
	if language != "" {
		params.Language = openai.String(language)
	}

	resp, err := s.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s transcription: %w", s.name, err)
	}

	s.logger.Info("transcription complete", "provider", s.name, "text_len", len(resp.Text), "language", language)
	return &domain.TranscriptionResult{Text: resp.Text, Language: language}, nil
}
