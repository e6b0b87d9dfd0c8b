package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"bizlink/messaging-service/internal/models"
)

// setupTestDB connects to the database named by MESSAGING_TEST_DSN and
// skips the test when it is not set.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("MESSAGING_TEST_DSN")
	if dsn == "" {
		t.Skip("Skipping: MESSAGING_TEST_DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Skipf("Skipping: could not connect to test database: %v", err)
		return nil
	}
	if err := db.Ping(); err != nil {
		t.Skipf("Skipping: could not ping test database: %v", err)
		return nil
	}

	t.Cleanup(func() {
		db.Exec("DELETE FROM messages")
		db.Exec("DELETE FROM conversations")
		db.Close()
	})
	return db
}

func TestConversationCreateIfAbsentEnforcesUniqueness(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db)
	if err := repo.InitializeTables(); err != nil {
		t.Fatalf("InitializeTables: %v", err)
	}
	ctx := context.Background()

	customerID := uuid.NewString()
	businessID := uuid.NewString()
	conv := &models.Conversation{
		ID:              models.ConversationID(customerID, businessID),
		BusinessID:      businessID,
		CustomerID:      customerID,
		BusinessOwnerID: uuid.NewString(),
	}

	created, err := repo.CreateIfAbsent(ctx, conv)
	if err != nil {
		t.Fatalf("CreateIfAbsent: %v", err)
	}
	if !created {
		t.Fatal("first insert should win")
	}

	duplicate := *conv
	created, err = repo.CreateIfAbsent(ctx, &duplicate)
	if err != nil {
		t.Fatalf("CreateIfAbsent duplicate: %v", err)
	}
	if created {
		t.Fatal("second insert for the same id must lose")
	}

	stored, err := repo.GetByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.CustomerID != customerID {
		t.Fatalf("unexpected stored row: %+v", stored)
	}
}

func TestMessageSoftDeleteOverlay(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	if err := repo.InitializeTables(); err != nil {
		t.Fatalf("InitializeTables: %v", err)
	}
	ctx := context.Background()

	sender := uuid.NewString()
	receiver := uuid.NewString()
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: models.ConversationID(sender, uuid.NewString()),
		SenderID:       sender,
		ReceiverID:     receiver,
		BusinessID:     uuid.NewString(),
		Content:        "hello",
		Type:           models.MessageTypeText,
	}
	if err := repo.Create(ctx, msg); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.SoftDelete(ctx, msg.ID, sender); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	// Idempotent for the same user.
	if err := repo.SoftDelete(ctx, msg.ID, sender); err != nil {
		t.Fatalf("second SoftDelete: %v", err)
	}

	senderView, err := repo.History(ctx, msg.ConversationID, sender, 1, 50)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(senderView) != 0 {
		t.Fatalf("deleter should not see the message, got %d rows", len(senderView))
	}

	receiverView, err := repo.History(ctx, msg.ConversationID, receiver, 1, 50)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(receiverView) != 1 {
		t.Fatalf("receiver's view must be unaffected, got %d rows", len(receiverView))
	}

	stored, err := repo.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Content != "hello" {
		t.Fatal("soft delete must never remove content")
	}
}

func TestMarkReadIsSetExactlyOnce(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	if err := repo.InitializeTables(); err != nil {
		t.Fatalf("InitializeTables: %v", err)
	}
	ctx := context.Background()

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: "conv",
		SenderID:       uuid.NewString(),
		ReceiverID:     uuid.NewString(),
		BusinessID:     uuid.NewString(),
		Content:        "hi",
		Type:           models.MessageTypeText,
	}
	if err := repo.Create(ctx, msg); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	if err := repo.MarkRead(ctx, msg.ID, first); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := repo.MarkRead(ctx, msg.ID, time.Now()); err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}

	stored, err := repo.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.ReadAt == nil || !stored.ReadAt.UTC().Truncate(time.Second).Equal(first) {
		t.Fatalf("readAt must keep the first mark, got %v", stored.ReadAt)
	}
}
