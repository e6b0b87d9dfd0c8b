package realtime

import (
	"encoding/json"

	"bizlink/messaging-service/internal/models"
)

// Client-to-server events.
const (
	EventJoinBusiness  = "join-business"
	EventSendMessage   = "send-message"
	EventMarkRead      = "mark-read"
	EventTypingStart   = "typing-start"
	EventTypingStop    = "typing-stop"
	EventDeleteMessage = "delete-message"
	EventUserStatus    = "user-status"
)

// Server-to-client events.
const (
	EventConnected         = "connected"
	EventMessageSent       = "message-sent"
	EventNewMessage        = "new-message"
	EventBusinessMessage   = "business-message"
	EventMessageError      = "message-error"
	EventMarkReadSuccess   = "mark-read-success"
	EventMarkReadError     = "mark-read-error"
	EventMessageRead       = "message-read"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventDeleteSuccess     = "delete-message-success"
	EventDeleteError       = "delete-message-error"
	EventMessageDeleted    = "message-deleted"
	EventUserStatusChange  = "user-status-change"
	EventError             = "error"
)

// Error codes carried on error events.
const (
	CodeValidationFailure    = "validation_failure"
	CodeAuthorizationFailure = "authorization_failure"
	CodeNotFound             = "not_found"
	CodeInternalError        = "internal_error"
)

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

func encode(event string, data interface{}) ([]byte, error) {
	return json.Marshal(envelope{Event: event, Data: data})
}

type joinBusinessPayload struct {
	BusinessID string `json:"businessId"`
}

type sendMessagePayload struct {
	ReceiverID  string              `json:"receiverId"`
	BusinessID  string              `json:"businessId"`
	Content     string              `json:"content"`
	MessageType models.MessageType  `json:"messageType,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

type markReadPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type typingPayload struct {
	ReceiverID     string `json:"receiverId"`
	BusinessID     string `json:"businessId"`
	ConversationID string `json:"conversationId"`
}

type deleteMessagePayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type userStatusPayload struct {
	Status string `json:"status"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type messageEventPayload struct {
	Message      *models.Message      `json:"message"`
	Conversation *models.Conversation `json:"conversation,omitempty"`
}

type messageReadPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
}

type messageDeletedPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	DeletedBy      string `json:"deletedBy"`
}

type typingEventPayload struct {
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName,omitempty"`
	ConversationID string `json:"conversationId"`
	Text           string `json:"text,omitempty"`
}

type statusChangePayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type connectedPayload struct {
	UserID   string          `json:"userId"`
	UserType models.UserType `json:"userType"`
}
