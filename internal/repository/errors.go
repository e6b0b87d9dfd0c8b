package repository

import "errors"

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrAccountNotFound      = errors.New("account not found")
	ErrBusinessNotFound     = errors.New("business not found")
)
