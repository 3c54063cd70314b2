// Package inbox derives the conversation list for a member from the flat
// message set. Conversations are never persisted; the index is recomputed from
// scratch whenever the message set changes, so it cannot drift from it.
package inbox

import (
	"github.com/google/uuid"

	"github.com/CoveTalks/CoveTalksApp/internal/models"
)

// Conversation summarizes the exchange with one counterparty.
type Conversation struct {
	CounterpartyID uuid.UUID             `json:"counterparty_id"`
	Counterparty   *models.MemberSnippet `json:"counterparty,omitempty"`
	LastMessage    models.Message        `json:"last_message"`
	UnreadCount    int                   `json:"unread_count"`
}

// Index is the derived conversation list, ordered by message recency.
type Index struct {
	Conversations []Conversation
	positions     map[uuid.UUID]int
}

// Rebuild folds a newest-first message slice into an Index. The first message
// seen for a counterparty fixes the conversation's last message, so ordering
// follows recency for free. Unread counting covers every message regardless of
// whether the conversation entry already exists.
func Rebuild(messages []models.Message, currentUserID uuid.UUID) *Index {
	ix := &Index{
		Conversations: make([]Conversation, 0, len(messages)),
		positions:     make(map[uuid.UUID]int),
	}

	for i := range messages {
		msg := messages[i]
		counterparty := msg.CounterpartyOf(currentUserID)
		if counterparty == currentUserID {
			continue
		}

		pos, seen := ix.positions[counterparty]
		if !seen {
			pos = len(ix.Conversations)
			ix.positions[counterparty] = pos
			ix.Conversations = append(ix.Conversations, Conversation{
				CounterpartyID: counterparty,
				LastMessage:    msg,
			})
		}

		if msg.UnreadFor(currentUserID) {
			ix.Conversations[pos].UnreadCount++
		}
	}

	return ix
}

// Get returns the conversation with the given counterparty, if any.
func (ix *Index) Get(counterpartyID uuid.UUID) (Conversation, bool) {
	pos, ok := ix.positions[counterpartyID]
	if !ok {
		return Conversation{}, false
	}
	return ix.Conversations[pos], true
}

func (ix *Index) Len() int {
	return len(ix.Conversations)
}

// UnreadTotal sums unread counters across all conversations.
func (ix *Index) UnreadTotal() int {
	total := 0
	for i := range ix.Conversations {
		total += ix.Conversations[i].UnreadCount
	}
	return total
}

// CounterpartyIDs lists counterparties in index order.
func (ix *Index) CounterpartyIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(ix.Conversations))
	for i := range ix.Conversations {
		ids = append(ids, ix.Conversations[i].CounterpartyID)
	}
	return ids
}

// AttachSnippets fills in counterparty profile snippets after a batch fetch.
// Counterparties missing from the map keep a nil snippet.
func (ix *Index) AttachSnippets(snippets map[uuid.UUID]models.MemberSnippet) {
	for i := range ix.Conversations {
		if snippet, ok := snippets[ix.Conversations[i].CounterpartyID]; ok {
			s := snippet
			ix.Conversations[i].Counterparty = &s
		}
	}
}
