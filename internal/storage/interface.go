// Package storage defines the persistence contract of the routing engine:
// routing rules, provider records and conversation routing aggregates.
// Backends register factories against the default registry; the engine only
// sees the Storage interface.
package storage

import (
	"conversation-router/internal/assignment"
	"conversation-router/internal/providers"
	"conversation-router/internal/routing"
)

// Storage is the full persistence surface. The assignment manager depends
// only on its conversation subset (assignment.ConversationStore), which
// every adapter satisfies.
type Storage interface {
	// Connection management
	Close() error
	Health() error

	// Routing rules. Admin edits land here; the engine reloads the whole
	// ruleset as one snapshot via GetRules.
	SaveRule(rule *routing.RouteRule) error
	GetRules() ([]*routing.RouteRule, error)
	DeleteRule(ruleID string) error

	// Providers
	SaveProvider(provider *providers.ProviderAvailability) error
	GetProviders() ([]*providers.ProviderAvailability, error)

	// Conversations. Archived conversations stay readable: the audit trail
	// is never erased.
	SaveConversation(conv *assignment.ConversationRouting) error
	GetConversation(conversationID string) (*assignment.ConversationRouting, error)
	ListConversationsByClient(clientID string, limit, offset int) ([]*assignment.ConversationRouting, error)
	ArchiveConversation(conversationID string) error
}

// StorageConfig is implemented by each backend's config type.
type StorageConfig interface {
	Validate() error
	GetType() string
}

// StorageFactory creates a storage adapter from its config.
type StorageFactory interface {
	Create(config StorageConfig) (Storage, error)
	GetType() string
}
