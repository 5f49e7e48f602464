package domain

import (
	"strings"
	"time"
)

// PayloadKind classifies the body of an inbound event.
type PayloadKind string

const (
	KindText        PayloadKind = "text"
	KindAudio       PayloadKind = "audio"
	KindVoice       PayloadKind = "voice"
	KindUnsupported PayloadKind = "unsupported"
)

// ParsePayloadKind maps a platform message type to a PayloadKind.
func ParsePayloadKind(s string) PayloadKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text":
		return KindText
	case "audio":
		return KindAudio
	case "voice":
		return KindVoice
	default:
		return KindUnsupported
	}
}

// IsMedia reports whether the payload carries audio that must be transcribed.
func (k PayloadKind) IsMedia() bool {
	return k == KindAudio || k == KindVoice
}

// MediaRef points at a media object held by the channel.
type MediaRef struct {
	ID       string
	URL      string
	MimeType string
}

// InboundEvent is one message delivered by a channel. Immutable once built.
type InboundEvent struct {
	Channel    string // channel name the reply is dispatched through
	SenderID   string
	ReceivedAt time.Time
	Kind       PayloadKind
	Text       string    // set for KindText
	Media      *MediaRef // set for KindAudio / KindVoice
}

// TurnKind returns the conversation turn kind matching the payload.
func (e InboundEvent) TurnKind() TurnKind {
	switch e.Kind {
	case KindVoice:
		return TurnVoice
	case KindAudio:
		return TurnAudio
	default:
		return TurnText
	}
}
