package domain

import "errors"

// Error taxonomy shared across adapters. Wrap with fmt.Errorf("...: %w", Err...).
var (
	ErrValidation               = errors.New("validation error")
	ErrTranscriptionUnavailable = errors.New("transcription unavailable")
	ErrGeneration               = errors.New("generation failure")
	ErrDelivery                 = errors.New("delivery failure")
	ErrPersistence              = errors.New("persistence failure")
	ErrUnknownChannel           = errors.New("unknown channel")
)
