package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoveTalks/CoveTalksApp/internal/models"
)

var (
	speaker = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	org     = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
)

type recordingBroadcaster struct {
	mu      sync.Mutex
	signals []models.TypingSignal
}

func (b *recordingBroadcaster) Track(_ context.Context, signal models.TypingSignal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signals = append(b.signals, signal)
	return nil
}

func (b *recordingBroadcaster) recorded() []models.TypingSignal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.TypingSignal, len(b.signals))
	copy(out, b.signals)
	return out
}

func TestChannelKeyIsSymmetric(t *testing.T) {
	assert.Equal(t, ChannelKey(speaker, org), ChannelKey(org, speaker))
	assert.NotEqual(t, ChannelKey(speaker, org), ChannelKey(speaker, speaker))
}

func TestTypingExpiresAfterSilence(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	channel := NewChannel(speaker, org, "Alice Rivers", broadcaster, 50*time.Millisecond)

	require.NoError(t, channel.SetTyping(context.Background(), true))

	require.Eventually(t, func() bool {
		signals := broadcaster.recorded()
		return len(signals) == 2 && !signals[1].IsTyping
	}, time.Second, 10*time.Millisecond, "expected expiry broadcast")

	signals := broadcaster.recorded()
	assert.True(t, signals[0].IsTyping)
	assert.Equal(t, "Alice Rivers", signals[0].DisplayName)
}

func TestKeystrokeResetsSilenceTimer(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	channel := NewChannel(speaker, org, "Alice Rivers", broadcaster, 80*time.Millisecond)

	require.NoError(t, channel.SetTyping(context.Background(), true))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, channel.SetTyping(context.Background(), true))
	time.Sleep(50 * time.Millisecond)

	// Two typing=true broadcasts, but no expiry yet: the second keystroke
	// rearmed the timer.
	for _, signal := range broadcaster.recorded() {
		assert.True(t, signal.IsTyping)
	}

	require.Eventually(t, func() bool {
		signals := broadcaster.recorded()
		return len(signals) == 3 && !signals[2].IsTyping
	}, time.Second, 10*time.Millisecond)
}

func TestCloseBroadcastsNotTypingAndStopsTimer(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	channel := NewChannel(speaker, org, "Alice Rivers", broadcaster, 40*time.Millisecond)

	require.NoError(t, channel.SetTyping(context.Background(), true))
	require.NoError(t, channel.Close(context.Background()))

	time.Sleep(100 * time.Millisecond)
	signals := broadcaster.recorded()
	require.Len(t, signals, 2)
	assert.False(t, signals[1].IsTyping)

	// After close, further calls are inert.
	require.NoError(t, channel.SetTyping(context.Background(), true))
	assert.Len(t, broadcaster.recorded(), 2)
}

func TestApplySyncIgnoresSelf(t *testing.T) {
	snapshot := []models.TypingSignal{
		{MemberID: speaker, DisplayName: "Alice Rivers", IsTyping: true},
	}

	typing, name := ApplySync(snapshot, speaker)
	assert.False(t, typing)
	assert.Empty(t, name)

	typing, name = ApplySync(snapshot, org)
	assert.True(t, typing)
	assert.Equal(t, "Alice Rivers", name)
}
