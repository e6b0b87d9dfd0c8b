package models

import (
	"time"
)

// Role is one of the two fixed positions in a conversation.
type Role string

const (
	RoleCustomer      Role = "customer"
	RoleBusinessOwner Role = "businessOwner"
)

// ConversationID derives the deterministic identity for a customer/business
// pair. The customer is always first, so both initiation paths converge on
// the same record. Both ids are UUIDs, so the separator is unambiguous.
func ConversationID(customerID, businessID string) string {
	return customerID + "_" + businessID
}

type Conversation struct {
	ID              string     `json:"conversationId"`
	BusinessID      string     `json:"businessId"`
	CustomerID      string     `json:"customer"`
	BusinessOwnerID string     `json:"businessOwner"`
	LastMessageID   *string    `json:"lastMessage,omitempty"`
	LastMessageText string     `json:"lastMessageContent,omitempty"`
	LastMessageTime *time.Time `json:"lastMessageTime,omitempty"`
	UnreadCustomer  int        `json:"unreadCustomer"`
	UnreadBusiness  int        `json:"unreadBusinessOwner"`
	IsActive        bool       `json:"isActive"`
	DeletedFor      []string   `json:"-"`
	LastActivity    time.Time  `json:"lastActivity"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// IsParticipant reports whether userID holds either role in the conversation.
func (c *Conversation) IsParticipant(userID string) bool {
	return userID == c.CustomerID || userID == c.BusinessOwnerID
}

// RoleOf returns the role userID holds in the conversation. The second
// return is false when the user is not a participant.
func (c *Conversation) RoleOf(userID string) (Role, bool) {
	switch userID {
	case c.CustomerID:
		return RoleCustomer, true
	case c.BusinessOwnerID:
		return RoleBusinessOwner, true
	}
	return "", false
}

// OtherParticipant returns the participant opposite to userID.
func (c *Conversation) OtherParticipant(userID string) string {
	if userID == c.CustomerID {
		return c.BusinessOwnerID
	}
	return c.CustomerID
}

// UnreadFor returns the counter for the given role.
func (c *Conversation) UnreadFor(role Role) int {
	if role == RoleCustomer {
		return c.UnreadCustomer
	}
	return c.UnreadBusiness
}
