package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/CoveTalks/CoveTalksApp/internal/models"
)

const messageColumns = `id, sender_id, recipient_id, subject, body, status, read_at, parent_id, created_at`

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

func scanMessage(row interface{ Scan(dest ...any) error }, message *models.Message) error {
	return row.Scan(
		&message.ID,
		&message.SenderID,
		&message.RecipientID,
		&message.Subject,
		&message.Body,
		&message.Status,
		&message.ReadAt,
		&message.ParentID,
		&message.CreatedAt,
	)
}

func (r *MessageRepository) Create(
	ctx context.Context,
	senderID uuid.UUID,
	recipientID uuid.UUID,
	subject string,
	body string,
	parentID *uuid.UUID,
) (*models.Message, error) {
	query := `
		INSERT INTO messages (sender_id, recipient_id, subject, body, status, parent_id)
		VALUES ($1, $2, $3, $4, 'unread', $5)
		RETURNING ` + messageColumns

	var message models.Message
	if err := scanMessage(r.db.QueryRow(ctx, query, senderID, recipientID, subject, body, parentID), &message); err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE id = $1
	`
	var message models.Message
	if err := scanMessage(r.db.QueryRow(ctx, query, id), &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// ListBetween returns one page of the thread between two members, plus the
// total count for pagination. Pages are windowed from the newest end, so page
// 1 is the most recent slice; each page is returned ascending by creation
// time, the order the thread view renders in.
func (r *MessageRepository) ListBetween(
	ctx context.Context,
	memberID uuid.UUID,
	counterpartyID uuid.UUID,
	limit int,
	offset int,
) ([]models.Message, int, error) {
	totalQuery := `
		SELECT COUNT(*)
		FROM messages
		WHERE (sender_id = $1 AND recipient_id = $2)
		   OR (sender_id = $2 AND recipient_id = $1)
	`

	var total int
	if err := r.db.QueryRow(ctx, totalQuery, memberID, counterpartyID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = $1 AND recipient_id = $2)
		   OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Query(ctx, query, memberID, counterpartyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var message models.Message
		if err := scanMessage(rows, &message); err != nil {
			return nil, 0, err
		}
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// fetched newest-first; flip to ascending for the caller
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, total, nil
}

// ListForMember returns every message the member sent or received, newest
// first, the order the conversation index reducer expects.
func (r *MessageRepository) ListForMember(ctx context.Context, memberID uuid.UUID) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE sender_id = $1 OR recipient_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.db.Query(ctx, query, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var message models.Message
		if err := scanMessage(rows, &message); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

// MarkRead transitions the given messages to read for the recipient. The
// status guard makes the update idempotent and one-way, and the recipient
// scope keeps senders from marking their own messages.
func (r *MessageRepository) MarkRead(
	ctx context.Context,
	messageIDs []uuid.UUID,
	recipientID uuid.UUID,
) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE messages
		SET status = 'read', read_at = NOW()
		WHERE id = ANY($1)
		  AND recipient_id = $2
		  AND status = 'unread'
	`, messageIDs, recipientID)
	return err
}

// Archive moves a message to archived for its recipient. Already archived
// rows are left untouched.
func (r *MessageRepository) Archive(
	ctx context.Context,
	messageID uuid.UUID,
	recipientID uuid.UUID,
) (*models.Message, error) {
	query := `
		UPDATE messages
		SET status = 'archived'
		WHERE id = $1
		  AND recipient_id = $2
		  AND status <> 'archived'
		RETURNING ` + messageColumns

	var message models.Message
	if err := scanMessage(r.db.QueryRow(ctx, query, messageID, recipientID), &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// UnreadCountFrom counts unread messages the member has received from one
// counterparty.
func (r *MessageRepository) UnreadCountFrom(
	ctx context.Context,
	memberID uuid.UUID,
	counterpartyID uuid.UUID,
) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE recipient_id = $1
		  AND sender_id = $2
		  AND status = 'unread'
	`, memberID, counterpartyID).Scan(&count)
	return count, err
}
