package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoveTalks/CoveTalksApp/internal/models"
)

type fakeServer struct {
	t *testing.T

	mu         sync.Mutex
	thread     []models.Message
	sendReply  *models.Message
	sendStatus int
	readIDs    []uuid.UUID

	srv *httptest.Server
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{t: t, sendStatus: http.StatusCreated}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/inbox", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"conversations": []any{}})
	})
	mux.HandleFunc("GET /api/v1/messages/thread/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"messages": f.thread})
	})
	mux.HandleFunc("POST /api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.sendStatus != http.StatusCreated {
			w.WriteHeader(f.sendStatus)
			json.NewEncoder(w).Encode(map[string]string{"error": "send rejected"})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"message": f.sendReply})
	})
	mux.HandleFunc("POST /api/v1/messages/read", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			MessageIDs []uuid.UUID `json:"message_ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		f.mu.Lock()
		f.readIDs = append(f.readIDs, payload.MessageIDs...)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestMessenger(t *testing.T, f *fakeServer, me uuid.UUID) *Messenger {
	m, err := New(Config{
		BaseURL:     f.srv.URL,
		Token:       "test-token",
		MemberID:    me,
		DisplayName: "Test Speaker",
	})
	require.NoError(t, err)
	return m
}

func historyMessage(sender, recipient uuid.UUID, body string, at time.Time) models.Message {
	return models.Message{
		ID:          uuid.New(),
		SenderID:    sender,
		RecipientID: recipient,
		Subject:     "New Message",
		Body:        body,
		Status:      models.MessageStatusRead,
		CreatedAt:   at,
	}
}

func TestNewRequiresIdentity(t *testing.T) {
	_, err := New(Config{BaseURL: "http://localhost", Token: "t"})
	if err == nil {
		t.Fatal("expected error for missing member id")
	}

	_, err = New(Config{BaseURL: "http://localhost", MemberID: uuid.New()})
	if err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestOpenThreadLoadsHistory(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	base := time.Now().Add(-time.Hour)

	f := newFakeServer(t)
	f.thread = []models.Message{
		historyMessage(other, me, "hello", base),
		historyMessage(me, other, "hi back", base.Add(time.Minute)),
	}

	m := newTestMessenger(t, f, me)
	messages, err := m.OpenThread(context.Background(), other)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "hello", messages[0].Body)
	assert.Equal(t, "hi back", messages[1].Body)

	active, ok := m.ActiveCounterparty()
	require.True(t, ok)
	assert.Equal(t, other, active)
}

func TestOpenThreadRejectsSelf(t *testing.T) {
	me := uuid.New()
	m := newTestMessenger(t, newFakeServer(t), me)

	_, err := m.OpenThread(context.Background(), me)
	require.Error(t, err)

	_, err = m.OpenThread(context.Background(), uuid.Nil)
	require.Error(t, err)
}

func TestSendMessageConfirmsOptimisticEntry(t *testing.T) {
	me := uuid.New()
	other := uuid.New()

	f := newFakeServer(t)
	serverCopy := models.Message{
		ID:          uuid.New(),
		SenderID:    me,
		RecipientID: other,
		Subject:     "New Message",
		Body:        "on my way",
		Status:      models.MessageStatusUnread,
		CreatedAt:   time.Now(),
	}
	f.sendReply = &serverCopy

	m := newTestMessenger(t, f, me)
	_, err := m.OpenThread(context.Background(), other)
	require.NoError(t, err)

	sent, err := m.SendMessage(context.Background(), "", "on my way")
	require.NoError(t, err)
	assert.Equal(t, serverCopy.ID, sent.ID)

	messages := m.ThreadMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, serverCopy.ID, messages[0].ID)
}

func TestSendMessageRollbackReturnsBody(t *testing.T) {
	me := uuid.New()
	other := uuid.New()

	f := newFakeServer(t)
	f.sendStatus = http.StatusInternalServerError

	m := newTestMessenger(t, f, me)
	_, err := m.OpenThread(context.Background(), other)
	require.NoError(t, err)

	_, err = m.SendMessage(context.Background(), "", "my lost draft")
	require.Error(t, err)

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "my lost draft", sendErr.Body)

	// the pending entry must be gone again
	assert.Empty(t, m.ThreadMessages())
}

func TestSendMessageWithoutThread(t *testing.T) {
	m := newTestMessenger(t, newFakeServer(t), uuid.New())

	_, err := m.SendMessage(context.Background(), "", "hello")
	require.ErrorIs(t, err, ErrNoOpenThread)
}

func TestMarkReadPostsIDs(t *testing.T) {
	me := uuid.New()
	f := newFakeServer(t)
	m := newTestMessenger(t, f, me)

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	require.NoError(t, m.MarkRead(context.Background(), me, ids))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, ids, f.readIDs)
}

func TestCloseThreadDropsTypingState(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	m := newTestMessenger(t, newFakeServer(t), me)

	_, err := m.OpenThread(context.Background(), other)
	require.NoError(t, err)

	m.CloseThread(context.Background())

	_, ok := m.ActiveCounterparty()
	assert.False(t, ok)
	assert.Nil(t, m.ThreadMessages())

	err = m.SetTyping(context.Background(), true)
	require.ErrorIs(t, err, ErrNoOpenThread)
}

func TestDeriveWSURL(t *testing.T) {
	cases := map[string]string{
		"https://api.covetalks.example":  "wss://api.covetalks.example/api/v1/ws",
		"http://localhost:8080":          "ws://localhost:8080/api/v1/ws",
		"https://api.covetalks.example/": "wss://api.covetalks.example/api/v1/ws",
	}
	for in, want := range cases {
		if got := deriveWSURL(in); got != want {
			t.Fatalf("deriveWSURL(%q) = %q, want %q", in, got, want)
		}
	}
}
