package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bizlink/messaging-service/internal/models"
	"bizlink/messaging-service/internal/repository"
)

var (
	ErrNotParticipant   = errors.New("user is not a participant in this conversation")
	ErrMissingRecipient = errors.New("receiverId and businessId are required")
	ErrNotReceiver      = errors.New("only the receiver can mark a message read")
	ErrSelfMessage      = errors.New("cannot message yourself")
	ErrEmptyContent     = errors.New("message content is required")
	ErrContentTooLong   = errors.New("message content exceeds the allowed length")
	ErrBadAttachment    = errors.New("attachment requires a url")
)

// SendInput is a validated send request. Sender identity comes from the
// authenticated connection, never the payload.
type SendInput struct {
	SenderID    string
	SenderType  models.UserType
	ReceiverID  string
	BusinessID  string
	Content     string
	Type        models.MessageType
	Attachments []models.Attachment
}

// SendResult carries everything the delivery layer needs to fan out.
type SendResult struct {
	Message      *models.Message
	Conversation *models.Conversation
	ReceiverRole models.Role
}

type MessagingService interface {
	// StartConversation is the customer-initiated find-or-create path.
	StartConversation(ctx context.Context, customerID, businessID string) (*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID, requesterID string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	SendMessage(ctx context.Context, in SendInput) (*SendResult, error)
	History(ctx context.Context, conversationID, viewerID string, page, pageSize int) ([]*models.Message, error)
	MarkMessageRead(ctx context.Context, messageID, requesterID string) (*models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, requesterID string) (int, error)
	UnreadTotal(ctx context.Context, userID string) (int, error)
	DeleteMessage(ctx context.Context, messageID, requesterID string) (*models.Message, error)
	DeleteConversation(ctx context.Context, conversationID, requesterID string) error
	OwnsBusiness(ctx context.Context, userID, businessID string) (bool, error)
}

const (
	defaultHistoryPageSize = 50
	maxHistoryPageSize     = 100
)

type messagingService struct {
	conversations   repository.ConversationRepository
	messages        repository.MessageRepository
	businesses      repository.BusinessDirectory
	historyPageSize int
	logger          *logrus.Logger
}

// NewMessagingService builds the service. historyPageSize is the page size
// used when a history request does not specify one; 0 selects the default.
func NewMessagingService(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	businesses repository.BusinessDirectory,
	historyPageSize int,
	logger *logrus.Logger,
) MessagingService {
	if historyPageSize <= 0 {
		historyPageSize = defaultHistoryPageSize
	}
	return &messagingService{
		conversations:   conversations,
		messages:        messages,
		businesses:      businesses,
		historyPageSize: historyPageSize,
		logger:          logger,
	}
}

// findOrCreate converges both initiation paths on the deterministic id.
// Storage enforces uniqueness on the id; a lost insert race falls back to
// re-reading the winner's row.
func (s *messagingService) findOrCreate(ctx context.Context, customerID, businessID string) (*models.Conversation, error) {
	id := models.ConversationID(customerID, businessID)

	conv, err := s.conversations.GetByID(ctx, id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, repository.ErrConversationNotFound) {
		return nil, err
	}

	business, err := s.businesses.Lookup(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if customerID == business.OwnerID {
		return nil, ErrSelfMessage
	}

	conv = &models.Conversation{
		ID:              id,
		BusinessID:      businessID,
		CustomerID:      customerID,
		BusinessOwnerID: business.OwnerID,
	}

	created, err := s.conversations.CreateIfAbsent(ctx, conv)
	if err != nil {
		return nil, err
	}
	if !created {
		return s.conversations.GetByID(ctx, id)
	}

	s.logger.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"customer_id":     customerID,
		"business_id":     businessID,
	}).Info("Conversation created")

	return conv, nil
}

func (s *messagingService) StartConversation(ctx context.Context, customerID, businessID string) (*models.Conversation, error) {
	conv, err := s.findOrCreate(ctx, customerID, businessID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to start conversation")
		return nil, err
	}
	return conv, nil
}

func (s *messagingService) GetConversation(ctx context.Context, conversationID, requesterID string) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(requesterID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

func (s *messagingService) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	conversations, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list conversations")
		return nil, err
	}
	return conversations, nil
}

func validateSend(in SendInput) error {
	if in.ReceiverID == "" || in.BusinessID == "" {
		return ErrMissingRecipient
	}
	if in.SenderID == in.ReceiverID {
		return ErrSelfMessage
	}
	if in.Content == "" && len(in.Attachments) == 0 {
		return ErrEmptyContent
	}
	if len(in.Content) > models.MaxContentLength {
		return ErrContentTooLong
	}
	for _, att := range in.Attachments {
		if att.URL == "" {
			return ErrBadAttachment
		}
	}
	return nil
}

func (s *messagingService) SendMessage(ctx context.Context, in SendInput) (*SendResult, error) {
	if err := validateSend(in); err != nil {
		return nil, err
	}

	// The customer position is canonical: an owner-initiated send treats
	// the intended recipient as the customer, so both sides derive the
	// same conversation id. Ownership is checked before findOrCreate so
	// a denied send leaves no conversation behind.
	customerID := in.SenderID
	if in.SenderType == models.UserTypeBusiness {
		business, err := s.businesses.Lookup(ctx, in.BusinessID)
		if err != nil {
			return nil, err
		}
		if business.OwnerID != in.SenderID {
			return nil, ErrNotParticipant
		}
		customerID = in.ReceiverID
	}

	conv, err := s.findOrCreate(ctx, customerID, in.BusinessID)
	if err != nil {
		return nil, err
	}
	if !conv.IsActive {
		return nil, repository.ErrConversationNotFound
	}
	if !conv.IsParticipant(in.SenderID) {
		return nil, ErrNotParticipant
	}

	receiverID := conv.OtherParticipant(in.SenderID)
	receiverRole, _ := conv.RoleOf(receiverID)

	msgType := in.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}

	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		ReceiverID:     receiverID,
		BusinessID:     conv.BusinessID,
		Content:        in.Content,
		Type:           msgType,
		Attachments:    in.Attachments,
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		s.logger.WithError(err).Error("Failed to persist message")
		return nil, err
	}

	if err := s.conversations.RecordLastMessage(ctx, conv.ID, msg.ID, msg.Snippet(), msg.CreatedAt); err != nil {
		s.logger.WithError(err).Error("Failed to update conversation snapshot")
		return nil, err
	}
	if err := s.conversations.IncrementUnread(ctx, conv.ID, receiverRole); err != nil {
		s.logger.WithError(err).Error("Failed to increment unread counter")
		return nil, err
	}

	conv.LastMessageID = &msg.ID
	conv.LastMessageText = msg.Snippet()
	conv.LastMessageTime = &msg.CreatedAt
	conv.LastActivity = msg.CreatedAt
	if receiverRole == models.RoleCustomer {
		conv.UnreadCustomer++
	} else {
		conv.UnreadBusiness++
	}

	s.logger.WithFields(logrus.Fields{
		"message_id":      msg.ID,
		"conversation_id": conv.ID,
		"sender_id":       in.SenderID,
	}).Info("Message sent")

	return &SendResult{
		Message:      msg,
		Conversation: conv,
		ReceiverRole: receiverRole,
	}, nil
}

func (s *messagingService) History(ctx context.Context, conversationID, viewerID string, page, pageSize int) ([]*models.Message, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(viewerID) {
		return nil, ErrNotParticipant
	}

	if pageSize <= 0 {
		pageSize = s.historyPageSize
	}
	if pageSize > maxHistoryPageSize {
		pageSize = maxHistoryPageSize
	}

	return s.messages.History(ctx, conversationID, viewerID, page, pageSize)
}

func (s *messagingService) MarkMessageRead(ctx context.Context, messageID, requesterID string) (*models.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ReceiverID != requesterID {
		return nil, ErrNotReceiver
	}

	now := time.Now()
	if err := s.messages.MarkRead(ctx, messageID, now); err != nil {
		s.logger.WithError(err).Error("Failed to mark message read")
		return nil, err
	}
	if !msg.IsRead {
		msg.IsRead = true
		msg.ReadAt = &now
	}

	conv, err := s.conversations.GetByID(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	role, _ := conv.RoleOf(requesterID)
	if err := s.conversations.ResetUnread(ctx, conv.ID, role); err != nil {
		s.logger.WithError(err).Error("Failed to reset unread counter")
		return nil, err
	}

	return msg, nil
}

func (s *messagingService) MarkConversationRead(ctx context.Context, conversationID, requesterID string) (int, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	role, ok := conv.RoleOf(requesterID)
	if !ok {
		return 0, ErrNotParticipant
	}

	count, err := s.messages.MarkConversationRead(ctx, conversationID, requesterID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to mark conversation read")
		return 0, err
	}
	if err := s.conversations.ResetUnread(ctx, conversationID, role); err != nil {
		s.logger.WithError(err).Error("Failed to reset unread counter")
		return 0, err
	}

	return count, nil
}

func (s *messagingService) UnreadTotal(ctx context.Context, userID string) (int, error) {
	return s.conversations.AggregateUnread(ctx, userID)
}

func (s *messagingService) DeleteMessage(ctx context.Context, messageID, requesterID string) (*models.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID && msg.ReceiverID != requesterID {
		return nil, ErrNotParticipant
	}

	if err := s.messages.SoftDelete(ctx, messageID, requesterID); err != nil {
		s.logger.WithError(err).Error("Failed to delete message")
		return nil, err
	}

	return msg, nil
}

func (s *messagingService) DeleteConversation(ctx context.Context, conversationID, requesterID string) error {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsParticipant(requesterID) {
		return ErrNotParticipant
	}

	return s.conversations.SoftDelete(ctx, conversationID, requesterID)
}

func (s *messagingService) OwnsBusiness(ctx context.Context, userID, businessID string) (bool, error) {
	business, err := s.businesses.Lookup(ctx, businessID)
	if err != nil {
		if errors.Is(err, repository.ErrBusinessNotFound) {
			return false, nil
		}
		return false, err
	}
	return business.OwnerID == userID, nil
}
