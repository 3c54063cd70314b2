// Package thread maintains the ordered, duplicate-free message list for one
// open conversation. Messages arrive from three origins (history fetch,
// optimistic local send, real-time echo) in arbitrary order; correctness rests
// on merge-by-id plus a stable re-sort, never on arrival order.
package thread

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CoveTalks/CoveTalksApp/internal/models"
)

// Entry wraps a message with its confirmation state. Pending entries carry a
// locally generated temp id until the server write is confirmed.
type Entry struct {
	Message models.Message
	Pending bool
}

// MergeResult reports what MergeIncoming did with a message.
type MergeResult struct {
	Inserted      bool
	InboundUnread bool
}

type Store struct {
	mu           sync.Mutex
	me           uuid.UUID
	counterparty uuid.UUID
	entries      []Entry
}

func NewStore(me, counterparty uuid.UUID) *Store {
	return &Store{me: me, counterparty: counterparty}
}

func (s *Store) Counterparty() uuid.UUID {
	return s.counterparty
}

// LoadHistory replaces the store contents with a server-fetched history.
// The input is expected ascending by creation time; it is re-sorted anyway so
// an out-of-order fetch cannot break the ordering invariant.
func (s *Store) LoadHistory(messages []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make([]Entry, 0, len(messages))
	for i := range messages {
		s.entries = append(s.entries, Entry{Message: messages[i]})
	}
	s.sortLocked()
}

// AppendOptimistic records a locally sent message before the server round trip
// completes and returns its temporary id.
func (s *Store) AppendOptimistic(subject, body string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	tempID := uuid.New()
	s.entries = append(s.entries, Entry{
		Message: models.Message{
			ID:          tempID,
			SenderID:    s.me,
			RecipientID: s.counterparty,
			Subject:     subject,
			Body:        body,
			Status:      models.MessageStatusUnread,
			CreatedAt:   time.Now().UTC(),
		},
		Pending: true,
	})
	s.sortLocked()
	return tempID
}

// ConfirmSent replaces the pending entry identified by tempID with the
// authoritative server copy. Returns false if no such pending entry exists
// (already confirmed, or rolled back).
func (s *Store) ConfirmSent(tempID uuid.UUID, server models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The real-time echo may have landed before the send response. Dedup by
	// server id first so the message never appears twice.
	for i := range s.entries {
		if !s.entries[i].Pending && s.entries[i].Message.ID == server.ID {
			s.removePendingLocked(tempID)
			return true
		}
	}

	for i := range s.entries {
		if s.entries[i].Pending && s.entries[i].Message.ID == tempID {
			s.entries[i] = Entry{Message: server}
			s.sortLocked()
			return true
		}
	}
	return false
}

// Rollback removes the pending entry for a failed send and returns the
// original body so the caller can restore it for retry.
func (s *Store) Rollback(tempID uuid.UUID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].Pending && s.entries[i].Message.ID == tempID {
			body := s.entries[i].Message.Body
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return body, true
		}
	}
	return "", false
}

// MergeIncoming inserts a server message in time-sorted position. A message
// whose id is already present is dropped; id equality is the sole mechanism
// keeping a twice-delivered event from appearing twice.
func (s *Store) MergeIncoming(msg models.Message) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].Message.ID == msg.ID {
			return MergeResult{}
		}
	}

	s.entries = append(s.entries, Entry{Message: msg})
	s.sortLocked()
	return MergeResult{
		Inserted:      true,
		InboundUnread: msg.UnreadFor(s.me),
	}
}

// ApplyRead transitions the given messages to read locally. Only inbound
// unread messages move; the transition is one-way.
func (s *Store) ApplyRead(ids []uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		msg := &s.entries[i].Message
		if !msg.UnreadFor(s.me) {
			continue
		}
		for _, id := range ids {
			if msg.ID == id {
				msg.Status = models.MessageStatusRead
				readAt := at
				msg.ReadAt = &readAt
				break
			}
		}
	}
}

// Messages returns a copy of the current ordered message list.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Message, 0, len(s.entries))
	for i := range s.entries {
		out = append(out, s.entries[i].Message)
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) sortLocked() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].Message.CreatedAt.Before(s.entries[j].Message.CreatedAt)
	})
}

func (s *Store) removePendingLocked(tempID uuid.UUID) {
	for i := range s.entries {
		if s.entries[i].Pending && s.entries[i].Message.ID == tempID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}
