package models

import (
	"github.com/google/uuid"
)

type MemberType string

const (
	MemberTypeSpeaker      MemberType = "speaker"
	MemberTypeOrganization MemberType = "organization"
)

// MemberSnippet is the denormalized profile slice attached to messages and
// conversation summaries.
type MemberSnippet struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	MemberType      MemberType `json:"member_type"`
	ProfileImageURL string     `json:"profile_image_url,omitempty"`
}

// TypingSignal is the ephemeral presence tuple broadcast on a conversation
// channel. It is never persisted.
type TypingSignal struct {
	MemberID    uuid.UUID `json:"member_id"`
	DisplayName string    `json:"display_name"`
	IsTyping    bool      `json:"is_typing"`
}
