package assignment

import (
	"time"

	"conversation-router/internal/providers"
)

// RoutingMethod records how a routing decision was made.
type RoutingMethod string

const (
	// MethodAutomatic means the scorer picked the provider
	MethodAutomatic RoutingMethod = "automatic"
	// MethodManual means a human picked the provider
	MethodManual RoutingMethod = "manual"
	// MethodTransfer marks history entries written by a transfer, whatever
	// triggered it; the transfer call itself carries manual vs automatic
	MethodTransfer RoutingMethod = "transfer"
)

// initialProvider is the fromProvider of the first history entry.
const initialProvider = "none"

// HistoryEntry is one write-once line of a conversation's audit trail.
type HistoryEntry struct {
	Timestamp    time.Time     `json:"timestamp"`
	FromProvider string        `json:"from_provider"`
	ToProvider   string        `json:"to_provider"`
	Method       RoutingMethod `json:"method"`
	Reason       string        `json:"reason"`
	Score        *float64      `json:"score,omitempty"`
}

// ConversationRouting is the aggregate the engine owns per conversation.
//
// History is append-only: it is the full audit trail and is never truncated
// or reordered. A conversation is created exactly once when it opens and is
// archived when it closes, never deleted, so the trail survives the
// conversation.
type ConversationRouting struct {
	ConversationID      string                 `json:"conversation_id"`
	ClientID            string                 `json:"client_id"`
	CurrentProviderID   string                 `json:"current_provider_id"`
	CurrentProviderType providers.ProviderType `json:"current_provider_type"`
	RoutingMethod       RoutingMethod          `json:"routing_method"`
	RoutingReason       string                 `json:"routing_reason"`
	RoutingScore        *float64               `json:"routing_score,omitempty"`
	CanTransfer         bool                   `json:"can_transfer"`
	TransferRequested   bool                   `json:"transfer_requested"`
	TransferReason      string                 `json:"transfer_reason,omitempty"`
	Closed              bool                   `json:"closed"`
	History             []HistoryEntry         `json:"history"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// clone returns a deep copy so callers can never mutate the audit trail.
func (c *ConversationRouting) clone() *ConversationRouting {
	copied := *c
	copied.History = append([]HistoryEntry(nil), c.History...)
	if c.RoutingScore != nil {
		score := *c.RoutingScore
		copied.RoutingScore = &score
	}
	return &copied
}

// Suggestion is the advisory result of re-scoring a conversation against a
// new message. It never mutates state; a human or an explicit Transfer call
// must act on it.
type Suggestion struct {
	ShouldSuggest bool                   `json:"should_suggest"`
	ProviderID    string                 `json:"provider_id,omitempty"`
	ProviderType  providers.ProviderType `json:"provider_type,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	Confidence    float64                `json:"confidence"`
}

// RoutingEvent is emitted to the external messaging transport after every
// successful assignment mutation.
type RoutingEvent struct {
	ConversationID string                 `json:"conversation_id"`
	ClientID       string                 `json:"client_id"`
	FromProvider   string                 `json:"from_provider"`
	ToProvider     string                 `json:"to_provider"`
	ProviderType   providers.ProviderType `json:"provider_type"`
	Method         RoutingMethod          `json:"method"`
	Reason         string                 `json:"reason"`
	Score          *float64               `json:"score,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// ConversationStore is the persistence seam the manager writes through.
// Storage adapters in internal/storage implement it.
type ConversationStore interface {
	SaveConversation(conv *ConversationRouting) error
	GetConversation(conversationID string) (*ConversationRouting, error)
	ArchiveConversation(conversationID string) error
}

// EventPublisher delivers routing events to the messaging transport.
// Publishing is best-effort: a delivery failure never rolls back routing.
type EventPublisher interface {
	PublishRoutingEvent(event *RoutingEvent) error
}
