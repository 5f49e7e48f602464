package domain

import (
	"context"
	"time"
)

// SenderProfile is the onboarding state kept per sender.
type SenderProfile struct {
	SenderID    string    `json:"sender_id" msgpack:"sender_id"`
	DisplayName string    `json:"display_name,omitempty" msgpack:"display_name"`
	Specialty   string    `json:"specialty,omitempty" msgpack:"specialty"`
	Orientation string    `json:"orientation,omitempty" msgpack:"orientation"`
	Onboarded   bool      `json:"onboarded" msgpack:"onboarded"`
	CreatedAt   time.Time `json:"created_at" msgpack:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" msgpack:"updated_at"`
}

// OnboardingState is the per-sender position in the onboarding flow.
type OnboardingState string

const (
	StateUnknown      OnboardingState = "unknown"
	StateAwaitingInfo OnboardingState = "awaiting_info"
	StateOnboarded    OnboardingState = "onboarded"
)

// StateOf derives the onboarding state from a (possibly nil) profile.
func StateOf(p *SenderProfile) OnboardingState {
	switch {
	case p == nil:
		return StateUnknown
	case p.Onboarded:
		return StateOnboarded
	default:
		return StateAwaitingInfo
	}
}

// SessionStore holds sender profiles. Implementations must be safe for
// concurrent use and atomic per sender.
type SessionStore interface {
	// GetProfile returns nil, nil when the sender has never been seen.
	GetProfile(ctx context.Context, senderID string) (*SenderProfile, error)
	// UpsertProfile overwrites all profile fields and marks the sender onboarded.
	UpsertProfile(ctx context.Context, senderID, name, specialty, orientation string) (*SenderProfile, error)
	// HasContacted reports whether any profile record exists for the sender.
	HasContacted(ctx context.Context, senderID string) (bool, error)
	// Touch records first contact. It never modifies an existing profile.
	Touch(ctx context.Context, senderID string) error
	ListProfiles(ctx context.Context, limit int) ([]SenderProfile, error)
	Close() error
}
