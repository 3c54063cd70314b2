package realtime

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/CoveTalks/CoveTalksApp/internal/models"
)

// channelRegistry tracks typing state per conversation channel. State is
// last-write-wins per member; an absent member means not typing, so false
// signals simply clear the entry.
type channelRegistry struct {
	channels map[string]map[uuid.UUID]models.TypingSignal
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{channels: make(map[string]map[uuid.UUID]models.TypingSignal)}
}

// update applies one signal and returns the resulting channel snapshot.
func (r *channelRegistry) update(key string, signal models.TypingSignal) []models.TypingSignal {
	members, ok := r.channels[key]
	if !ok {
		if !signal.IsTyping {
			return nil
		}
		members = make(map[uuid.UUID]models.TypingSignal)
		r.channels[key] = members
	}

	if signal.IsTyping {
		members[signal.MemberID] = signal
	} else {
		delete(members, signal.MemberID)
		if len(members) == 0 {
			delete(r.channels, key)
		}
	}

	return r.snapshot(key)
}

// drop clears a member from every channel and returns the snapshot of each
// channel that changed, so the hub can push final presence to the remaining
// participant.
func (r *channelRegistry) drop(memberID uuid.UUID) map[string][]models.TypingSignal {
	changed := make(map[string][]models.TypingSignal)
	for key, members := range r.channels {
		if _, ok := members[memberID]; !ok {
			continue
		}
		delete(members, memberID)
		if len(members) == 0 {
			delete(r.channels, key)
		}
		changed[key] = r.snapshot(key)
	}
	return changed
}

func (r *channelRegistry) snapshot(key string) []models.TypingSignal {
	members := r.channels[key]
	snapshot := make([]models.TypingSignal, 0, len(members))
	for _, signal := range members {
		snapshot = append(snapshot, signal)
	}
	return snapshot
}

// channelParticipants recovers the two member ids from a channel key.
func channelParticipants(key string) ([2]uuid.UUID, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 2 {
		return [2]uuid.UUID{}, fmt.Errorf("malformed channel key %q", key)
	}

	var participants [2]uuid.UUID
	for i, part := range parts {
		id, err := uuid.Parse(part)
		if err != nil {
			return [2]uuid.UUID{}, fmt.Errorf("malformed channel key %q: %w", key, err)
		}
		participants[i] = id
	}
	return participants, nil
}
