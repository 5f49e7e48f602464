package domain

import (
	"context"
	"io"
)

// ChatProvider is a generative text backend.
type ChatProvider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Healthy(ctx context.Context) error
}

// SpeechProvider is a speech-to-text backend.
type SpeechProvider interface {
	Name() string
	// Transcribe converts audio to text. filename carries the container
	// extension (e.g. "audio.ogg") so backends can detect the encoding.
	Transcribe(ctx context.Context, audio io.Reader, filename, language string) (*TranscriptionResult, error)
}

type ChatRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Content      string
	FinishReason string // stop | length | content_filter
	Usage        Usage
	LatencyMs    int64
}

type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TranscriptionResult contains the result of a transcription.
type TranscriptionResult struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}
