package handlers

import (
	"context"
	"errors"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/CoveTalks/CoveTalksApp/internal/inbox"
	"github.com/CoveTalks/CoveTalksApp/internal/models"
	"github.com/CoveTalks/CoveTalksApp/internal/realtime"
	"github.com/CoveTalks/CoveTalksApp/internal/services"
	"github.com/CoveTalks/CoveTalksApp/pkg/utils"
)

type messagingService interface {
	ListInbox(ctx context.Context, memberID uuid.UUID) ([]inbox.Conversation, error)
	OpenThread(ctx context.Context, memberID, counterpartyID uuid.UUID, page, limit int) (*services.ThreadPage, error)
	Send(ctx context.Context, senderID, recipientID uuid.UUID, subject, body string, parentID *uuid.UUID) (*services.Delivery, error)
	MarkRead(ctx context.Context, memberID uuid.UUID, messageIDs []uuid.UUID) error
	Archive(ctx context.Context, memberID, messageID uuid.UUID) (*models.Message, error)
	GetMessage(ctx context.Context, memberID, messageID uuid.UUID) (*models.Message, *models.MemberSnippet, error)
}

type MessageHandler struct {
	service   messagingService
	hub       *realtime.Hub
	jwtSecret string
}

type sendMessageRequest struct {
	RecipientID uuid.UUID  `json:"recipient_id"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	ParentID    *uuid.UUID `json:"parent_id,omitempty"`
}

type markReadRequest struct {
	MessageIDs []uuid.UUID `json:"message_ids"`
}

func NewMessageHandler(service messagingService, hub *realtime.Hub, jwtSecret string) *MessageHandler {
	return &MessageHandler{
		service:   service,
		hub:       hub,
		jwtSecret: jwtSecret,
	}
}

func (h *MessageHandler) ListInbox(c *fiber.Ctx) error {
	memberID, err := parseMemberID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversations, err := h.service.ListInbox(c.Context(), memberID)
	if err != nil {
		return mapMessagingError(c, err)
	}

	return c.JSON(fiber.Map{"conversations": conversations})
}

func (h *MessageHandler) SendMessage(c *fiber.Ctx) error {
	memberID, err := parseMemberID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	delivery, err := h.service.Send(c.Context(), memberID, req.RecipientID, req.Subject, req.Body, req.ParentID)
	if err != nil {
		return mapMessagingError(c, err)
	}

	// REST sends still get a realtime echo to both participants.
	h.hub.NotifyDelivery(delivery)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": delivery.Message})
}

func (h *MessageHandler) GetThread(c *fiber.Ctx) error {
	memberID, err := parseMemberID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	counterpartyID, err := uuid.Parse(c.Params("memberId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid member id"})
	}

	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	threadPage, err := h.service.OpenThread(c.Context(), memberID, counterpartyID, page, limit)
	if err != nil {
		return mapMessagingError(c, err)
	}

	return c.JSON(fiber.Map{
		"messages":         threadPage.Messages,
		"unread_remaining": threadPage.UnreadRemaining,
		"pagination":       buildPaginationMeta(page, limit, threadPage.Total),
	})
}

func (h *MessageHandler) GetMessage(c *fiber.Ctx) error {
	memberID, err := parseMemberID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	messageID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	message, sender, err := h.service.GetMessage(c.Context(), memberID, messageID)
	if err != nil {
		return mapMessagingError(c, err)
	}

	return c.JSON(fiber.Map{"message": message, "sender": sender})
}

func (h *MessageHandler) MarkRead(c *fiber.Ctx) error {
	memberID, err := parseMemberID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req markReadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := h.service.MarkRead(c.Context(), memberID, req.MessageIDs); err != nil {
		return mapMessagingError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *MessageHandler) ArchiveMessage(c *fiber.Ctx) error {
	memberID, err := parseMemberID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	messageID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	message, err := h.service.Archive(c.Context(), memberID, messageID)
	if err != nil {
		return mapMessagingError(c, err)
	}

	return c.JSON(fiber.Map{"message": message})
}

func (h *MessageHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("member_id", claims.MemberID)
	c.Locals("member_type", claims.MemberType)
	return c.Next()
}

func (h *MessageHandler) HandleWebSocket(conn *websocket.Conn) {
	rawID, _ := conn.Locals("member_id").(string)
	memberID, err := uuid.Parse(rawID)
	if err != nil {
		_ = conn.Close()
		return
	}

	client := realtime.NewClient(h.hub, conn, memberID)

	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(h.service)
}

func (h *MessageHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func parseMemberID(c *fiber.Ctx) (uuid.UUID, error) {
	raw, ok := c.Locals("member_id").(string)
	if !ok {
		return uuid.Nil, errors.New("missing member id")
	}
	return uuid.Parse(raw)
}

func mapMessagingError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrRecipientNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Recipient not found"})
	case errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Message not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process messaging request"})
	}
}
