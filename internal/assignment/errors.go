package assignment

import "errors"

var (
	// ErrConversationNotFound is returned when the conversation ID is unknown
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrUnknownProvider is returned when the target provider is not registered
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrConversationClosed is returned when mutating a closed conversation
	ErrConversationClosed = errors.New("conversation is closed")

	// ErrTransferNotAllowed is returned when the conversation forbids transfers
	ErrTransferNotAllowed = errors.New("transfer not allowed for this conversation")
)
