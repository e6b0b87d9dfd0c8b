package models

import (
	"time"
	"unicode/utf8"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// MaxContentLength bounds message text; longer payloads are rejected before
// any persistence attempt.
const MaxContentLength = 2000

// LastMessageSnippetLength bounds the denormalized snapshot kept on the
// conversation row.
const LastMessageSnippetLength = 100

type Attachment struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"sender"`
	ReceiverID     string       `json:"receiver"`
	BusinessID     string       `json:"businessId"`
	Content        string       `json:"content"`
	Type           MessageType  `json:"messageType"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	IsRead         bool         `json:"isRead"`
	ReadAt         *time.Time   `json:"readAt,omitempty"`
	DeletedFor     []string     `json:"-"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// DeletedForUser reports whether the message is hidden from userID's view.
func (m *Message) DeletedForUser(userID string) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// Snippet returns the truncated content used for the conversation's
// denormalized last-message snapshot. Truncation happens on a rune
// boundary so the snapshot stays valid UTF-8.
func (m *Message) Snippet() string {
	if len(m.Content) <= LastMessageSnippetLength {
		return m.Content
	}
	cut := LastMessageSnippetLength
	for cut > 0 && !utf8.RuneStart(m.Content[cut]) {
		cut--
	}
	return m.Content[:cut]
}
