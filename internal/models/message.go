package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageStatus string

const (
	MessageStatusUnread   MessageStatus = "unread"
	MessageStatusRead     MessageStatus = "read"
	MessageStatusArchived MessageStatus = "archived"
)

const DefaultSubject = "New Message"

type Message struct {
	ID          uuid.UUID     `json:"id"`
	SenderID    uuid.UUID     `json:"sender_id"`
	RecipientID uuid.UUID     `json:"recipient_id"`
	Subject     string        `json:"subject"`
	Body        string        `json:"body"`
	Status      MessageStatus `json:"status"`
	ReadAt      *time.Time    `json:"read_at,omitempty"`
	ParentID    *uuid.UUID    `json:"parent_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// CounterpartyOf returns the other participant of the message relative to memberID.
func (m *Message) CounterpartyOf(memberID uuid.UUID) uuid.UUID {
	if m.SenderID == memberID {
		return m.RecipientID
	}
	return m.SenderID
}

// InboundFor reports whether memberID is the recipient of the message.
func (m *Message) InboundFor(memberID uuid.UUID) bool {
	return m.RecipientID == memberID
}

// UnreadFor reports whether the message is still unread from memberID's side.
func (m *Message) UnreadFor(memberID uuid.UUID) bool {
	return m.RecipientID == memberID && m.Status == MessageStatusUnread
}
