package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"bizlink/messaging-service/internal/models"
)

type ConversationRepository interface {
	// CreateIfAbsent inserts the conversation unless a row with the same
	// deterministic id already exists. It reports whether the insert won;
	// on a lost race the caller re-reads the winner's row.
	CreateIfAbsent(ctx context.Context, conv *models.Conversation) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error)
	RecordLastMessage(ctx context.Context, conversationID, messageID, snippet string, at time.Time) error
	IncrementUnread(ctx context.Context, conversationID string, role models.Role) error
	ResetUnread(ctx context.Context, conversationID string, role models.Role) error
	AggregateUnread(ctx context.Context, userID string) (int, error)
	SoftDelete(ctx context.Context, conversationID, userID string) error
	InitializeTables() error
}

type conversationRepository struct {
	db *sql.DB
}

func NewConversationRepository(db *sql.DB) ConversationRepository {
	return &conversationRepository{
		db: db,
	}
}

func (r *conversationRepository) InitializeTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		business_id UUID NOT NULL,
		customer_id UUID NOT NULL,
		business_owner_id UUID NOT NULL,
		last_message_id UUID,
		last_message_content TEXT NOT NULL DEFAULT '',
		last_message_time TIMESTAMP,
		unread_customer INTEGER NOT NULL DEFAULT 0 CHECK (unread_customer >= 0),
		unread_business INTEGER NOT NULL DEFAULT 0 CHECK (unread_business >= 0),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		deleted_for TEXT[] NOT NULL DEFAULT '{}',
		last_activity TIMESTAMP NOT NULL DEFAULT NOW(),
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		UNIQUE(customer_id, business_id)
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_customer ON conversations(customer_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(business_owner_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_activity ON conversations(last_activity);
	`

	_, err := r.db.Exec(query)
	return err
}

func (r *conversationRepository) CreateIfAbsent(ctx context.Context, conv *models.Conversation) (bool, error) {
	query := `
	INSERT INTO conversations (conversation_id, business_id, customer_id, business_owner_id, is_active, last_activity, created_at, updated_at)
	VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW(), NOW())
	ON CONFLICT (conversation_id) DO NOTHING
	RETURNING created_at
	`

	var createdAt time.Time
	err := r.db.QueryRowContext(ctx, query,
		conv.ID, conv.BusinessID, conv.CustomerID, conv.BusinessOwnerID,
	).Scan(&createdAt)

	if err != nil {
		if err == sql.ErrNoRows {
			// Lost the insert race; the existing row wins.
			return false, nil
		}
		return false, err
	}

	conv.IsActive = true
	conv.CreatedAt = createdAt
	conv.LastActivity = createdAt
	conv.UpdatedAt = createdAt
	return true, nil
}

const conversationColumns = `
	conversation_id, business_id, customer_id, business_owner_id,
	last_message_id, last_message_content, last_message_time,
	unread_customer, unread_business, is_active, deleted_for,
	last_activity, created_at, updated_at`

func scanConversation(row interface{ Scan(...interface{}) error }) (*models.Conversation, error) {
	var conv models.Conversation
	var lastMessageID sql.NullString
	var lastMessageTime sql.NullTime
	err := row.Scan(
		&conv.ID, &conv.BusinessID, &conv.CustomerID, &conv.BusinessOwnerID,
		&lastMessageID, &conv.LastMessageText, &lastMessageTime,
		&conv.UnreadCustomer, &conv.UnreadBusiness, &conv.IsActive,
		pq.Array(&conv.DeletedFor),
		&conv.LastActivity, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastMessageID.Valid {
		conv.LastMessageID = &lastMessageID.String
	}
	if lastMessageTime.Valid {
		conv.LastMessageTime = &lastMessageTime.Time
	}
	return &conv, nil
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	query := `
	SELECT ` + conversationColumns + `
	FROM conversations
	WHERE conversation_id = $1
	`

	conv, err := scanConversation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	return conv, nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	query := `
	SELECT ` + conversationColumns + `
	FROM conversations
	WHERE (customer_id = $1 OR business_owner_id = $1)
	  AND is_active = TRUE
	  AND NOT ($1 = ANY(deleted_for))
	ORDER BY last_activity DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}

	return conversations, rows.Err()
}

func (r *conversationRepository) RecordLastMessage(ctx context.Context, conversationID, messageID, snippet string, at time.Time) error {
	query := `
	UPDATE conversations
	SET last_message_id = $2,
	    last_message_content = $3,
	    last_message_time = $4,
	    last_activity = $4,
	    updated_at = NOW()
	WHERE conversation_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, conversationID, messageID, snippet, at)
	if err != nil {
		return err
	}
	return expectOneRow(result, ErrConversationNotFound)
}

func (r *conversationRepository) IncrementUnread(ctx context.Context, conversationID string, role models.Role) error {
	query := `
	UPDATE conversations
	SET unread_customer = unread_customer + 1, updated_at = NOW()
	WHERE conversation_id = $1
	`
	if role == models.RoleBusinessOwner {
		query = `
		UPDATE conversations
		SET unread_business = unread_business + 1, updated_at = NOW()
		WHERE conversation_id = $1
		`
	}

	result, err := r.db.ExecContext(ctx, query, conversationID)
	if err != nil {
		return err
	}
	return expectOneRow(result, ErrConversationNotFound)
}

func (r *conversationRepository) ResetUnread(ctx context.Context, conversationID string, role models.Role) error {
	query := `
	UPDATE conversations
	SET unread_customer = 0, updated_at = NOW()
	WHERE conversation_id = $1
	`
	if role == models.RoleBusinessOwner {
		query = `
		UPDATE conversations
		SET unread_business = 0, updated_at = NOW()
		WHERE conversation_id = $1
		`
	}

	result, err := r.db.ExecContext(ctx, query, conversationID)
	if err != nil {
		return err
	}
	return expectOneRow(result, ErrConversationNotFound)
}

// AggregateUnread sums, per conversation, whichever role counter belongs to
// userID. There is no separately maintained global counter.
func (r *conversationRepository) AggregateUnread(ctx context.Context, userID string) (int, error) {
	query := `
	SELECT COALESCE(SUM(
		CASE WHEN customer_id = $1 THEN unread_customer ELSE unread_business END
	), 0)
	FROM conversations
	WHERE (customer_id = $1 OR business_owner_id = $1)
	  AND is_active = TRUE
	  AND NOT ($1 = ANY(deleted_for))
	`

	var total int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *conversationRepository) SoftDelete(ctx context.Context, conversationID, userID string) error {
	query := `
	UPDATE conversations
	SET deleted_for = array_append(deleted_for, $2), updated_at = NOW()
	WHERE conversation_id = $1 AND NOT ($2 = ANY(deleted_for))
	`

	// Zero rows affected means either an unknown conversation or an
	// already-deleted view; distinguish them for the caller.
	result, err := r.db.ExecContext(ctx, query, conversationID, userID)
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
			`SELECT EXISTS(SELECT 1 FROM conversations WHERE conversation_id = $1)`,
			conversationID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrConversationNotFound
		}
	}
	return nil
}

func expectOneRow(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
