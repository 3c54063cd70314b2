package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/CoveTalks/CoveTalksApp/internal/inbox"
	"github.com/CoveTalks/CoveTalksApp/internal/models"
	"github.com/CoveTalks/CoveTalksApp/internal/realtime"
	"github.com/CoveTalks/CoveTalksApp/internal/services"
)

var (
	testMemberID       = uuid.MustParse("00000000-0000-0000-0000-000000000042")
	testCounterpartyID = uuid.MustParse("00000000-0000-0000-0000-000000000007")
)

type stubMessagingService struct {
	inboxResult        []inbox.Conversation
	inboxErr           error
	threadResult       *services.ThreadPage
	threadErr          error
	sendResult         *services.Delivery
	sendErr            error
	markReadErr        error
	lastMemberID       uuid.UUID
	lastCounterpartyID uuid.UUID
	lastRecipientID    uuid.UUID
	lastPage           int
	lastLimit          int
	lastMarkedIDs      []uuid.UUID
}

func (s *stubMessagingService) ListInbox(_ context.Context, memberID uuid.UUID) ([]inbox.Conversation, error) {
	s.lastMemberID = memberID
	return s.inboxResult, s.inboxErr
}

func (s *stubMessagingService) OpenThread(_ context.Context, memberID, counterpartyID uuid.UUID, page, limit int) (*services.ThreadPage, error) {
	s.lastMemberID = memberID
	s.lastCounterpartyID = counterpartyID
	s.lastPage = page
	s.lastLimit = limit
	return s.threadResult, s.threadErr
}

func (s *stubMessagingService) Send(_ context.Context, senderID, recipientID uuid.UUID, _, _ string, _ *uuid.UUID) (*services.Delivery, error) {
	s.lastMemberID = senderID
	s.lastRecipientID = recipientID
	return s.sendResult, s.sendErr
}

func (s *stubMessagingService) MarkRead(_ context.Context, memberID uuid.UUID, ids []uuid.UUID) error {
	s.lastMemberID = memberID
	s.lastMarkedIDs = ids
	return s.markReadErr
}

func (s *stubMessagingService) Archive(_ context.Context, memberID, _ uuid.UUID) (*models.Message, error) {
	s.lastMemberID = memberID
	return nil, pgx.ErrNoRows
}

func (s *stubMessagingService) GetMessage(_ context.Context, memberID, _ uuid.UUID) (*models.Message, *models.MemberSnippet, error) {
	s.lastMemberID = memberID
	return nil, nil, pgx.ErrNoRows
}

func newTestApp(handler *MessageHandler) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("member_id", testMemberID.String())
		c.Locals("member_type", "speaker")
		return c.Next()
	})
	app.Get("/api/v1/inbox", handler.ListInbox)
	app.Post("/api/v1/messages", handler.SendMessage)
	app.Get("/api/v1/messages/thread/:memberId", handler.GetThread)
	app.Post("/api/v1/messages/read", handler.MarkRead)
	return app
}

func TestListInboxReturnsConversationSummaries(t *testing.T) {
	service := &stubMessagingService{
		inboxResult: []inbox.Conversation{
			{
				CounterpartyID: testCounterpartyID,
				Counterparty:   &models.MemberSnippet{ID: testCounterpartyID, Name: "TechCorp Events", MemberType: models.MemberTypeOrganization},
				LastMessage: models.Message{
					ID:          uuid.MustParse("dd000000-0000-0000-0000-000000000003"),
					SenderID:    testCounterpartyID,
					RecipientID: testMemberID,
					Body:        "See you at the summit",
					Status:      models.MessageStatusUnread,
					CreatedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
				},
				UnreadCount: 2,
			},
		},
	}
	handler := NewMessageHandler(service, realtime.NewHub(zerolog.Nop()), "secret")
	app := newTestApp(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/inbox", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastMemberID != testMemberID {
		t.Fatalf("unexpected member id: %s", service.lastMemberID)
	}

	var body struct {
		Conversations []inbox.Conversation `json:"conversations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Conversations) != 1 || body.Conversations[0].UnreadCount != 2 {
		t.Fatalf("unexpected response: %+v", body.Conversations)
	}
}

func TestSendMessageReturnsCreatedMessage(t *testing.T) {
	sent := &models.Message{
		ID:          uuid.MustParse("dd000000-0000-0000-0000-000000000009"),
		SenderID:    testMemberID,
		RecipientID: testCounterpartyID,
		Subject:     models.DefaultSubject,
		Body:        "Hello",
		Status:      models.MessageStatusUnread,
		CreatedAt:   time.Now().UTC(),
	}
	service := &stubMessagingService{
		sendResult: &services.Delivery{Message: sent, RecipientID: testCounterpartyID},
	}
	handler := NewMessageHandler(service, realtime.NewHub(zerolog.Nop()), "secret")
	app := newTestApp(handler)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages",
		strings.NewReader(`{"recipient_id":"`+testCounterpartyID.String()+`","body":"Hello"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if service.lastRecipientID != testCounterpartyID {
		t.Fatalf("expected recipient %s, got %s", testCounterpartyID, service.lastRecipientID)
	}
}

func TestSendMessageMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		expected int
	}{
		{"invalid input", services.ErrInvalidInput, http.StatusBadRequest},
		{"recipient missing", services.ErrRecipientNotFound, http.StatusNotFound},
		{"forbidden", services.ErrForbidden, http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubMessagingService{sendErr: tc.err}
			handler := NewMessageHandler(service, realtime.NewHub(zerolog.Nop()), "secret")
			app := newTestApp(handler)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/messages",
				strings.NewReader(`{"recipient_id":"`+testCounterpartyID.String()+`","body":"Hello"}`))
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.expected {
				t.Fatalf("expected %d, got %d", tc.expected, resp.StatusCode)
			}
		})
	}
}

func TestGetThreadPassesPaginationAndReturnsMeta(t *testing.T) {
	service := &stubMessagingService{
		threadResult: &services.ThreadPage{
			Messages: []models.Message{
				{
					ID:          uuid.MustParse("dd000000-0000-0000-0000-000000000005"),
					SenderID:    testCounterpartyID,
					RecipientID: testMemberID,
					Body:        "Hi",
					Status:      models.MessageStatusRead,
					CreatedAt:   time.Now().UTC(),
				},
			},
			Total:           41,
			UnreadRemaining: 4,
		},
	}
	handler := NewMessageHandler(service, realtime.NewHub(zerolog.Nop()), "secret")
	app := newTestApp(handler)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/messages/thread/"+testCounterpartyID.String()+"?page=2&limit=15", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastCounterpartyID != testCounterpartyID || service.lastPage != 2 || service.lastLimit != 15 {
		t.Fatalf("unexpected call: counterparty=%s page=%d limit=%d",
			service.lastCounterpartyID, service.lastPage, service.lastLimit)
	}

	var body struct {
		Pagination      models.PaginationMeta `json:"pagination"`
		UnreadRemaining int                   `json:"unread_remaining"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Pagination.Total != 41 || body.Pagination.TotalPages != 3 {
		t.Fatalf("unexpected pagination: %+v", body.Pagination)
	}
	if body.UnreadRemaining != 4 {
		t.Fatalf("expected unread_remaining 4, got %d", body.UnreadRemaining)
	}
}

func TestGetThreadRejectsMalformedMemberID(t *testing.T) {
	handler := NewMessageHandler(&stubMessagingService{}, realtime.NewHub(zerolog.Nop()), "secret")
	app := newTestApp(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/thread/not-a-uuid", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestMarkReadForwardsIDs(t *testing.T) {
	service := &stubMessagingService{}
	handler := NewMessageHandler(service, realtime.NewHub(zerolog.Nop()), "secret")
	app := newTestApp(handler)

	id := uuid.MustParse("dd000000-0000-0000-0000-000000000011")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages/read",
		strings.NewReader(`{"message_ids":["`+id.String()+`"]}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if len(service.lastMarkedIDs) != 1 || service.lastMarkedIDs[0] != id {
		t.Fatalf("unexpected marked ids: %v", service.lastMarkedIDs)
	}
}
