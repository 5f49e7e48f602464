package domain

import (
	"context"
	"time"
)

// TurnKind is the input modality of a conversation turn.
type TurnKind string

const (
	TurnText  TurnKind = "text"
	TurnVoice TurnKind = "voice"
	TurnAudio TurnKind = "audio"
)

// ConversationTurn is one input/response pair. Write-once.
type ConversationTurn struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Channel   string    `json:"channel,omitempty"`
	Kind      TurnKind  `json:"kind"`
	Input     string    `json:"input"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the persisted document for a sender: a profile snapshot
// plus the append-only list of turns.
type Conversation struct {
	SenderID  string             `json:"sender_id"`
	Profile   *SenderProfile     `json:"profile,omitempty"`
	Turns     []ConversationTurn `json:"turns,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ConversationStore persists conversation documents.
type ConversationStore interface {
	AppendTurn(ctx context.Context, turn ConversationTurn, profile *SenderProfile) error
	GetConversation(ctx context.Context, senderID string, turnLimit int) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]Conversation, error)
	Close() error
}
