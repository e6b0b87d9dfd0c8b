package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"bizlink/messaging-service/internal/models"
)

type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	// History returns one page of the viewer's visible messages, oldest
	// first. Pagination walks newest-first so page 1 is the most recent.
	History(ctx context.Context, conversationID, viewerID string, page, pageSize int) ([]*models.Message, error)
	MarkRead(ctx context.Context, messageID string, readAt time.Time) error
	// MarkConversationRead marks every unread message addressed to userID
	// in the conversation and returns how many were affected.
	MarkConversationRead(ctx context.Context, conversationID, userID string) (int, error)
	SoftDelete(ctx context.Context, messageID, userID string) error
	InitializeTables() error
}

type messageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) MessageRepository {
	return &messageRepository{
		db: db,
	}
}

func (r *messageRepository) InitializeTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender_id UUID NOT NULL,
		receiver_id UUID NOT NULL,
		business_id UUID NOT NULL,
		content TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'text',
		attachments JSONB,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		read_at TIMESTAMP,
		deleted_for TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_receiver_unread ON messages(receiver_id) WHERE is_read = FALSE;
	`

	_, err := r.db.Exec(query)
	return err
}

func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	var attachments []byte
	if len(msg.Attachments) > 0 {
		var err error
		attachments, err = json.Marshal(msg.Attachments)
		if err != nil {
			return err
		}
	}

	query := `
	INSERT INTO messages (id, conversation_id, sender_id, receiver_id, business_id, content, message_type, attachments, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	RETURNING created_at
	`

	var createdAt time.Time
	err := r.db.QueryRowContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID,
		msg.BusinessID, msg.Content, msg.Type, attachments,
	).Scan(&createdAt)
	if err != nil {
		return err
	}

	msg.CreatedAt = createdAt
	return nil
}

const messageColumns = `
	id, conversation_id, sender_id, receiver_id, business_id,
	content, message_type, attachments, is_read, read_at, deleted_for, created_at`

func scanMessage(row interface{ Scan(...interface{}) error }) (*models.Message, error) {
	var msg models.Message
	var attachments []byte
	var readAt sql.NullTime
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.ReceiverID, &msg.BusinessID,
		&msg.Content, &msg.Type, &attachments, &msg.IsRead, &readAt,
		pq.Array(&msg.DeletedFor), &msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if readAt.Valid {
		msg.ReadAt = &readAt.Time
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	query := `
	SELECT ` + messageColumns + `
	FROM messages
	WHERE id = $1
	`

	msg, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	return msg, nil
}

func (r *messageRepository) History(ctx context.Context, conversationID, viewerID string, page, pageSize int) ([]*models.Message, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	query := `
	SELECT ` + messageColumns + `
	FROM messages
	WHERE conversation_id = $1
	  AND NOT ($2 = ANY(deleted_for))
	ORDER BY created_at DESC
	LIMIT $3 OFFSET $4
	`

	rows, err := r.db.QueryContext(ctx, query, conversationID, viewerID, pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Pages are fetched newest-first; clients render oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, messageID string, readAt time.Time) error {
	// read_at is set exactly once; a second mark leaves the original.
	query := `
	UPDATE messages
	SET is_read = TRUE, read_at = $2
	WHERE id = $1 AND is_read = FALSE
	`

	_, err := r.db.ExecContext(ctx, query, messageID, readAt)
	return err
}

func (r *messageRepository) MarkConversationRead(ctx context.Context, conversationID, userID string) (int, error) {
	query := `
	UPDATE messages
	SET is_read = TRUE, read_at = NOW()
	WHERE conversation_id = $1 AND receiver_id = $2 AND is_read = FALSE
	RETURNING id
	`

	rows, err := r.db.QueryContext(ctx, query, conversationID, userID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}

	return count, rows.Err()
}

func (r *messageRepository) SoftDelete(ctx context.Context, messageID, userID string) error {
	query := `
	UPDATE messages
	SET deleted_for = array_append(deleted_for, $2)
	WHERE id = $1 AND NOT ($2 = ANY(deleted_for))
	`

	result, err := r.db.ExecContext(ctx, query, messageID, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1)`, messageID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrMessageNotFound
		}
	}
	return nil
}
