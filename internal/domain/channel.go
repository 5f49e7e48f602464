package domain

import "context"

// Channel is a messaging platform the gateway can reply through.
type Channel interface {
	Name() string
	// Deliver sends a plain-text message to recipient.
	Deliver(ctx context.Context, recipient, text string) error
	// FetchMedia downloads the bytes behind a media reference.
	FetchMedia(ctx context.Context, ref MediaRef) ([]byte, error)
}
