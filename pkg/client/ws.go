package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	websocket "github.com/fasthttp/websocket"
	"github.com/google/uuid"

	"github.com/CoveTalks/CoveTalksApp/internal/feed"
	"github.com/CoveTalks/CoveTalksApp/internal/models"
	"github.com/CoveTalks/CoveTalksApp/internal/realtime"
)

// wsSubscription wraps one websocket connection as a feed subscription. Done
// closes when the read loop exits for any reason, which is what triggers the
// subscriber's resubscribe cycle.
type wsSubscription struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (s *wsSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *wsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.conn.Close()
		close(s.done)
	})
	return err
}

// Subscribe implements feed.Source: dial the realtime endpoint and start a
// read loop that forwards message events to the subscriber and applies
// presence snapshots locally.
func (m *Messenger) Subscribe(ctx context.Context, _ uuid.UUID, deliver func(feed.Event)) (feed.Subscription, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+m.cfg.Token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.wsURL, header)
	if err != nil {
		return nil, err
	}

	sub := &wsSubscription{conn: conn, done: make(chan struct{})}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	go m.readLoop(sub, deliver)
	return sub, nil
}

func (m *Messenger) readLoop(sub *wsSubscription, deliver func(feed.Event)) {
	defer func() {
		m.connMu.Lock()
		if m.conn == sub.conn {
			m.conn = nil
		}
		m.connMu.Unlock()
		_ = sub.Close()
	}()

	for {
		_, payload, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}

		var event realtime.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			m.log.Warn().Err(err).Msg("discarding malformed realtime event")
			continue
		}

		switch event.Type {
		case realtime.EventMessageNew:
			if event.Message == nil {
				continue
			}
			deliver(feed.Event{
				MessageID:   event.Message.ID,
				SenderID:    event.Message.SenderID,
				RecipientID: event.Message.RecipientID,
			})
		case realtime.EventPresence:
			m.applyPresence(event.ChannelKey, event.Typing)
		case realtime.EventError:
			m.log.Warn().Str("error", event.Error).Msg("realtime error event")
		}
	}
}

// applyPresence keeps the latest typing snapshot for the active conversation
// only; snapshots for other channels are dropped rather than leaking into the
// open thread's indicator.
func (m *Messenger) applyPresence(channelKey string, typing []models.TypingSignal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.typing == nil || m.typing.Key() != channelKey {
		return
	}
	m.lastPresence = typing
}

// typingBroadcaster sends a conversation's typing frames over the live
// websocket connection.
type typingBroadcaster struct {
	messenger      *Messenger
	counterpartyID uuid.UUID
}

func (b *typingBroadcaster) Track(ctx context.Context, signal models.TypingSignal) error {
	return b.messenger.writeFrame(realtime.Frame{
		Type:           realtime.FrameTyping,
		CounterpartyID: b.counterpartyID,
		IsTyping:       signal.IsTyping,
		DisplayName:    signal.DisplayName,
	})
}

func (m *Messenger) writeFrame(frame realtime.Frame) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == nil {
		return errors.New("client: realtime connection is not open")
	}
	return m.conn.WriteJSON(frame)
}
