// Package presence implements the ephemeral typing channel for one open
// conversation. State is last-write-wins per member and expires after a fixed
// silence window driven by the local member's own timer.
package presence

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CoveTalks/CoveTalksApp/internal/models"
)

// DefaultSilence is the typing expiry window: with no further keystroke for
// this long, the channel broadcasts is_typing = false.
const DefaultSilence = 3 * time.Second

// Broadcaster publishes the local member's typing state on the channel.
type Broadcaster interface {
	Track(ctx context.Context, signal models.TypingSignal) error
}

// ChannelKey derives the shared channel identity for a participant pair.
// The ids are sorted so both sides compute the same key regardless of which
// one is the sender in the UI.
func ChannelKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if strings.Compare(y, x) < 0 {
		x, y = y, x
	}
	return x + ":" + y
}

type Channel struct {
	mu          sync.Mutex
	key         string
	memberID    uuid.UUID
	displayName string
	broadcaster Broadcaster
	silence     time.Duration
	timer       *time.Timer
	closed      bool
}

// NewChannel opens a typing channel between memberID and counterpartyID.
// A non-positive silence falls back to DefaultSilence.
func NewChannel(memberID, counterpartyID uuid.UUID, displayName string, broadcaster Broadcaster, silence time.Duration) *Channel {
	if silence <= 0 {
		silence = DefaultSilence
	}
	return &Channel{
		key:         ChannelKey(memberID, counterpartyID),
		memberID:    memberID,
		displayName: displayName,
		broadcaster: broadcaster,
		silence:     silence,
	}
}

func (c *Channel) Key() string {
	return c.key
}

// SetTyping broadcasts the local typing state. Typing true (re)arms the
// silence timer; each keystroke resets it, and expiry broadcasts false.
func (c *Channel) SetTyping(ctx context.Context, isTyping bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	if isTyping {
		c.timer = time.AfterFunc(c.silence, c.expire)
	}
	c.mu.Unlock()

	return c.broadcaster.Track(ctx, models.TypingSignal{
		MemberID:    c.memberID,
		DisplayName: c.displayName,
		IsTyping:    isTyping,
	})
}

// Close tears the channel down: the timer stops and a final not-typing state
// is broadcast best-effort so the counterparty is not left with a stale
// indicator.
func (c *Channel) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopTimerLocked()
	c.mu.Unlock()

	return c.broadcaster.Track(ctx, models.TypingSignal{
		MemberID:    c.memberID,
		DisplayName: c.displayName,
		IsTyping:    false,
	})
}

func (c *Channel) expire() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	_ = c.broadcaster.Track(context.Background(), models.TypingSignal{
		MemberID:    c.memberID,
		DisplayName: c.displayName,
		IsTyping:    false,
	})
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// ApplySync reduces a presence snapshot to "someone else is typing" plus the
// first such member's display name for the indicator text.
func ApplySync(snapshot []models.TypingSignal, self uuid.UUID) (bool, string) {
	for _, signal := range snapshot {
		if signal.MemberID != self && signal.IsTyping {
			return true, signal.DisplayName
		}
	}
	return false, ""
}
