package realtime

import (
	"github.com/google/uuid"

	"github.com/CoveTalks/CoveTalksApp/internal/models"
)

const (
	EventMessageNew = "message.new"
	EventPresence   = "presence"
	EventError      = "error"
)

const (
	FrameMessage = "message"
	FrameTyping  = "typing"
)

// Event is the hub-to-client envelope. A message.new payload carries the row
// as stored (ids only, no display fields); clients denormalize sender details
// with a follow-up fetch.
type Event struct {
	Type       string                `json:"type"`
	Message    *models.Message       `json:"message,omitempty"`
	ChannelKey string                `json:"channel_key,omitempty"`
	Typing     []models.TypingSignal `json:"typing,omitempty"`
	Error      string                `json:"error,omitempty"`
	Timestamp  string                `json:"timestamp"`
}

// Frame is the client-to-hub envelope.
type Frame struct {
	Type           string     `json:"type"`
	RecipientID    uuid.UUID  `json:"recipient_id,omitempty"`
	Subject        string     `json:"subject,omitempty"`
	Body           string     `json:"body,omitempty"`
	ParentID       *uuid.UUID `json:"parent_id,omitempty"`
	CounterpartyID uuid.UUID  `json:"counterparty_id,omitempty"`
	IsTyping       bool       `json:"is_typing,omitempty"`
	DisplayName    string     `json:"display_name,omitempty"`
}
