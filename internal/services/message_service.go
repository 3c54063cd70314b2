package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/CoveTalks/CoveTalksApp/internal/inbox"
	"github.com/CoveTalks/CoveTalksApp/internal/models"
	"github.com/CoveTalks/CoveTalksApp/internal/repository"
)

type memberReader interface {
	GetSnippet(ctx context.Context, id uuid.UUID) (*models.MemberSnippet, error)
	GetSnippets(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.MemberSnippet, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type MessageService struct {
	db          *pgxpool.Pool
	messageRepo *repository.MessageRepository
	memberRepo  memberReader
	log         zerolog.Logger
}

// Delivery is what the realtime hub needs to fan a confirmed send out to both
// participants.
type Delivery struct {
	Message     *models.Message
	RecipientID uuid.UUID
}

// ThreadPage is one window of a conversation. Pages are cut from the newest
// end, so UnreadRemaining tells the caller whether older pages still hold
// unread inbound messages after this one was marked read.
type ThreadPage struct {
	Messages        []models.Message
	Total           int
	UnreadRemaining int
}

func NewMessageService(
	db *pgxpool.Pool,
	messageRepo *repository.MessageRepository,
	memberRepo memberReader,
	log zerolog.Logger,
) *MessageService {
	return &MessageService{
		db:          db,
		messageRepo: messageRepo,
		memberRepo:  memberRepo,
		log:         log,
	}
}

// ListInbox derives the conversation list from the member's full message set.
// Conversations are never stored; the reducer recomputes them on every call.
func (s *MessageService) ListInbox(ctx context.Context, memberID uuid.UUID) ([]inbox.Conversation, error) {
	messages, err := s.messageRepo.ListForMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	index := inbox.Rebuild(messages, memberID)

	snippets, err := s.memberRepo.GetSnippets(ctx, index.CounterpartyIDs())
	if err != nil {
		return nil, err
	}
	index.AttachSnippets(snippets)

	return index.Conversations, nil
}

// OpenThread loads one page of the thread with a counterparty and, in the same
// transaction, marks the fetched inbound unread messages as read.
func (s *MessageService) OpenThread(
	ctx context.Context,
	memberID uuid.UUID,
	counterpartyID uuid.UUID,
	page int,
	limit int,
) (*ThreadPage, error) {
	if counterpartyID == uuid.Nil || counterpartyID == memberID || page <= 0 || limit <= 0 {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := repository.NewMessageRepository(tx)

	messages, total, err := txMessageRepo.ListBetween(
		ctx,
		memberID,
		counterpartyID,
		limit,
		(page-1)*limit,
	)
	if err != nil {
		return nil, err
	}

	unreadIDs := make([]uuid.UUID, 0, len(messages))
	for i := range messages {
		if messages[i].UnreadFor(memberID) {
			unreadIDs = append(unreadIDs, messages[i].ID)
		}
	}

	if err := txMessageRepo.MarkRead(ctx, unreadIDs, memberID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	// Only the fetched window was marked read; count what is still unread on
	// the older pages so the caller can surface or fetch it.
	unreadRemaining, err := s.messageRepo.UnreadCountFrom(ctx, memberID, counterpartyID)
	if err != nil {
		return nil, err
	}

	readAt := time.Now().UTC()
	for i := range messages {
		if messages[i].UnreadFor(memberID) {
			messages[i].Status = models.MessageStatusRead
			at := readAt
			messages[i].ReadAt = &at
		}
	}

	return &ThreadPage{Messages: messages, Total: total, UnreadRemaining: unreadRemaining}, nil
}

// Send validates and persists a new message and returns the delivery record
// for realtime fan-out.
func (s *MessageService) Send(
	ctx context.Context,
	senderID uuid.UUID,
	recipientID uuid.UUID,
	subject string,
	body string,
	parentID *uuid.UUID,
) (*Delivery, error) {
	if recipientID == uuid.Nil || recipientID == senderID {
		return nil, ErrInvalidInput
	}

	trimmedBody := strings.TrimSpace(body)
	if trimmedBody == "" {
		return nil, ErrInvalidInput
	}

	trimmedSubject := strings.TrimSpace(subject)
	if trimmedSubject == "" {
		trimmedSubject = models.DefaultSubject
	}

	exists, err := s.memberRepo.Exists(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrRecipientNotFound
	}

	message, err := s.messageRepo.Create(ctx, senderID, recipientID, trimmedSubject, trimmedBody, parentID)
	if err != nil {
		return nil, err
	}

	return &Delivery{Message: message, RecipientID: recipientID}, nil
}

// MarkRead is the single server-side mutation behind every read transition.
// It is idempotent and scoped to messages the member received.
func (s *MessageService) MarkRead(ctx context.Context, memberID uuid.UUID, messageIDs []uuid.UUID) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return s.messageRepo.MarkRead(ctx, messageIDs, memberID)
}

// Archive moves one received message to archived.
func (s *MessageService) Archive(ctx context.Context, memberID uuid.UUID, messageID uuid.UUID) (*models.Message, error) {
	if messageID == uuid.Nil {
		return nil, ErrInvalidInput
	}
	return s.messageRepo.Archive(ctx, messageID, memberID)
}

// GetMessage returns one message plus the sender's profile snippet. Only the
// two participants may fetch it; the change-feed subscriber uses this to
// denormalize raw events.
func (s *MessageService) GetMessage(
	ctx context.Context,
	memberID uuid.UUID,
	messageID uuid.UUID,
) (*models.Message, *models.MemberSnippet, error) {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}

	if message.SenderID != memberID && message.RecipientID != memberID {
		return nil, nil, ErrForbidden
	}

	sender, err := s.memberRepo.GetSnippet(ctx, message.SenderID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	return message, sender, nil
}

// FormatTimestamp renders message timestamps for wire payloads.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}
