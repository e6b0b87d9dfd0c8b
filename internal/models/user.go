package models

import (
	"time"
)

type UserType string

const (
	UserTypeCustomer UserType = "customer"
	UserTypeBusiness UserType = "business"
)

// Account is the slice of the marketplace's user record this service reads.
// Account issuance and authentication live in the accounts service; here an
// account only gates connection admission and names event payloads.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UserType  UserType  `json:"userType"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// Business is the slice of the business directory this service reads to
// resolve a conversation's second participant.
type Business struct {
	ID       string `json:"id"`
	OwnerID  string `json:"ownerId"`
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
}
