// Package client is the Go messaging client: it dials the realtime endpoint,
// keeps one live change-feed subscription, and reconciles the open thread,
// conversation list, typing presence and read state against the server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	websocket "github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CoveTalks/CoveTalksApp/internal/feed"
	"github.com/CoveTalks/CoveTalksApp/internal/inbox"
	"github.com/CoveTalks/CoveTalksApp/internal/models"
	"github.com/CoveTalks/CoveTalksApp/internal/presence"
	"github.com/CoveTalks/CoveTalksApp/internal/readstate"
	"github.com/CoveTalks/CoveTalksApp/internal/thread"
)

const threadPageLimit = 100

var ErrNoOpenThread = errors.New("client: no open thread")

// Notifier is the best-effort "new message" cue raised for conversations
// other than the open one. Failures inside it are the caller's business.
type Notifier func(msg models.Message, sender models.MemberSnippet)

// SendError carries the original text of a failed send back to the caller so
// the input can be restored for retry.
type SendError struct {
	Body string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

type Config struct {
	// BaseURL is the server root, e.g. https://api.covetalks.example.
	BaseURL string
	// WSURL overrides the realtime endpoint; derived from BaseURL when empty.
	WSURL       string
	Token       string
	MemberID    uuid.UUID
	DisplayName string
	// TypingSilence overrides the typing expiry window (default 3s).
	TypingSilence time.Duration
	HTTPClient    *http.Client
	Logger        zerolog.Logger
	Notifier      Notifier
}

type Messenger struct {
	cfg   Config
	wsURL string
	http  *http.Client
	log   zerolog.Logger

	subscriber *feed.Subscriber
	reconciler *readstate.Reconciler

	mu            sync.Mutex
	store         *thread.Store
	typing        *presence.Channel
	conversations []inbox.Conversation
	lastPresence  []models.TypingSignal

	connMu sync.Mutex
	conn   *websocket.Conn
}

func New(cfg Config) (*Messenger, error) {
	if cfg.MemberID == uuid.Nil {
		return nil, errors.New("client: member id is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("client: token is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("client: base url is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	m := &Messenger{
		cfg:   cfg,
		wsURL: cfg.WSURL,
		http:  httpClient,
		log:   cfg.Logger,
	}
	if m.wsURL == "" {
		m.wsURL = deriveWSURL(cfg.BaseURL)
	}

	m.subscriber = feed.NewSubscriber(cfg.MemberID, m, m, m, m.log)
	m.reconciler = readstate.NewReconciler(cfg.MemberID, m, m, m.log)
	return m, nil
}

// Connect opens the change-feed subscription. Exactly one is held per
// Messenger; the subscriber resubscribes with backoff until Close.
func (m *Messenger) Connect(ctx context.Context) error {
	return m.subscriber.Open(ctx)
}

// Close tears down the open thread, the presence channel and the
// subscription.
func (m *Messenger) Close(ctx context.Context) {
	m.CloseThread(ctx)
	m.subscriber.Close()
}

func (m *Messenger) FeedState() feed.State {
	return m.subscriber.State()
}

// OpenThread loads the conversation with a counterparty and makes it the
// active thread. The server marks fetched inbound messages read as part of
// the history load. Any previous thread's presence channel is torn down first
// so typing state cannot leak across conversations.
func (m *Messenger) OpenThread(ctx context.Context, counterpartyID uuid.UUID) ([]models.Message, error) {
	if counterpartyID == uuid.Nil || counterpartyID == m.cfg.MemberID {
		return nil, errors.New("client: invalid counterparty")
	}

	messages, err := m.fetchThread(ctx, counterpartyID)
	if err != nil {
		return nil, err
	}

	store := thread.NewStore(m.cfg.MemberID, counterpartyID)
	store.LoadHistory(messages)

	m.mu.Lock()
	previous := m.typing
	m.store = store
	m.typing = presence.NewChannel(
		m.cfg.MemberID,
		counterpartyID,
		m.cfg.DisplayName,
		&typingBroadcaster{messenger: m, counterpartyID: counterpartyID},
		m.cfg.TypingSilence,
	)
	m.lastPresence = nil
	m.mu.Unlock()

	if previous != nil {
		_ = previous.Close(ctx)
	}

	m.RefreshInbox(ctx)
	return store.Messages(), nil
}

// CloseThread leaves the active conversation.
func (m *Messenger) CloseThread(ctx context.Context) {
	m.mu.Lock()
	typing := m.typing
	m.store = nil
	m.typing = nil
	m.lastPresence = nil
	m.mu.Unlock()

	if typing != nil {
		_ = typing.Close(ctx)
	}
}

// SendMessage performs the optimistic send round trip: append a pending entry,
// post, then confirm with the server copy or roll back. On failure the typed
// text is returned inside *SendError.
func (m *Messenger) SendMessage(ctx context.Context, subject, body string) (*models.Message, error) {
	m.mu.Lock()
	store := m.store
	m.mu.Unlock()
	if store == nil {
		return nil, ErrNoOpenThread
	}

	tempID := store.AppendOptimistic(subject, body)

	message, err := m.postMessage(ctx, store.Counterparty(), subject, body)
	if err != nil {
		restored, _ := store.Rollback(tempID)
		return nil, &SendError{Body: restored, Err: err}
	}

	store.ConfirmSent(tempID, *message)
	return message, nil
}

// SetTyping broadcasts typing intent on the active conversation's channel.
func (m *Messenger) SetTyping(ctx context.Context, isTyping bool) error {
	m.mu.Lock()
	typing := m.typing
	m.mu.Unlock()
	if typing == nil {
		return ErrNoOpenThread
	}
	return typing.SetTyping(ctx, isTyping)
}

// PeerTyping reports whether the counterparty is typing, with their display
// name for the indicator text.
func (m *Messenger) PeerTyping() (bool, string) {
	m.mu.Lock()
	snapshot := m.lastPresence
	m.mu.Unlock()
	return presence.ApplySync(snapshot, m.cfg.MemberID)
}

// ThreadMessages returns the active thread's ordered message list.
func (m *Messenger) ThreadMessages() []models.Message {
	m.mu.Lock()
	store := m.store
	m.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Messages()
}

// Conversations returns the most recently fetched conversation list.
func (m *Messenger) Conversations() []inbox.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]inbox.Conversation, len(m.conversations))
	copy(out, m.conversations)
	return out
}

// ActiveCounterparty implements feed.Handler.
func (m *Messenger) ActiveCounterparty() (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return uuid.Nil, false
	}
	return m.store.Counterparty(), true
}

// MergeIncoming implements feed.Handler: route a live message into the open
// thread and mark it read immediately, since it is on screen.
func (m *Messenger) MergeIncoming(ctx context.Context, msg models.Message) {
	m.mu.Lock()
	store := m.store
	m.mu.Unlock()
	if store == nil {
		return
	}

	result := store.MergeIncoming(msg)
	if result.Inserted && result.InboundUnread {
		m.reconciler.MarkMessageRead(ctx, msg, store)
	}
}

// Notify implements feed.Handler.
func (m *Messenger) Notify(msg models.Message, sender models.MemberSnippet) {
	if m.cfg.Notifier != nil {
		m.cfg.Notifier(msg, sender)
	}
}

// RefreshInbox implements feed.Handler and readstate.Refresher: re-derive the
// conversation list from the server. Failures leave the previous list in
// place.
func (m *Messenger) RefreshInbox(ctx context.Context) {
	var payload struct {
		Conversations []inbox.Conversation `json:"conversations"`
	}
	if err := m.doJSON(ctx, http.MethodGet, "/api/v1/inbox", nil, &payload); err != nil {
		m.log.Error().Err(err).Msg("refresh inbox failed")
		return
	}

	m.mu.Lock()
	m.conversations = payload.Conversations
	m.mu.Unlock()
}

// FetchMessage implements feed.Fetcher: resolve a raw feed event to the full
// row plus the sender's profile snippet.
func (m *Messenger) FetchMessage(ctx context.Context, id uuid.UUID) (models.Message, models.MemberSnippet, error) {
	var payload struct {
		Message *models.Message       `json:"message"`
		Sender  *models.MemberSnippet `json:"sender"`
	}
	if err := m.doJSON(ctx, http.MethodGet, "/api/v1/messages/"+id.String(), nil, &payload); err != nil {
		return models.Message{}, models.MemberSnippet{}, err
	}
	if payload.Message == nil {
		return models.Message{}, models.MemberSnippet{}, errors.New("client: empty message payload")
	}

	var sender models.MemberSnippet
	if payload.Sender != nil {
		sender = *payload.Sender
	}
	return *payload.Message, sender, nil
}

// MarkRead implements readstate.Marker.
func (m *Messenger) MarkRead(ctx context.Context, _ uuid.UUID, messageIDs []uuid.UUID) error {
	body := map[string][]uuid.UUID{"message_ids": messageIDs}
	return m.doJSON(ctx, http.MethodPost, "/api/v1/messages/read", body, nil)
}

func (m *Messenger) fetchThread(ctx context.Context, counterpartyID uuid.UUID) ([]models.Message, error) {
	var payload struct {
		Messages []models.Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/v1/messages/thread/%s?page=1&limit=%d", counterpartyID, threadPageLimit)
	if err := m.doJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Messages, nil
}

func (m *Messenger) postMessage(ctx context.Context, recipientID uuid.UUID, subject, body string) (*models.Message, error) {
	request := map[string]any{
		"recipient_id": recipientID,
		"subject":      subject,
		"body":         body,
	}
	var payload struct {
		Message *models.Message `json:"message"`
	}
	if err := m.doJSON(ctx, http.MethodPost, "/api/v1/messages", request, &payload); err != nil {
		return nil, err
	}
	if payload.Message == nil {
		return nil, errors.New("client: empty send response")
	}
	return payload.Message, nil
}

func (m *Messenger) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func deriveWSURL(baseURL string) string {
	wsURL := baseURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	return strings.TrimSuffix(wsURL, "/") + "/api/v1/ws"
}
