// Package assignment owns the conversation routing records: initial
// assignment, the append-only transfer history, and mid-conversation
// re-routing suggestions.
package assignment

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"conversation-router/internal/common/logging"
	"conversation-router/internal/metrics"
	"conversation-router/internal/providers"
	"conversation-router/internal/routing"
)

// suggestionThreshold is the confidence a re-score must exceed before a
// reassignment is suggested.
const suggestionThreshold = 0.7

// manualReason is the routing reason recorded for manual assignments.
const manualReason = "manual selection"

// Manager is the only component allowed to mutate a ConversationRouting.
// Side effects are confined to appending history, moving the current
// provider pointers, and load deltas on the provider registry.
//
// Records are serialized per conversation: Transfer is a read-modify-append
// sequence that must not race a concurrent Transfer or suggestion on the
// same conversation, so each record carries its own mutex while scoring
// stays lock-free.
type Manager struct {
	mu      sync.RWMutex
	records map[string]*record

	scorer    *routing.Scorer
	registry  *providers.Registry
	store     ConversationStore
	publisher EventPublisher
	logger    logging.Logger
	now       func() time.Time
	newID     func() string
}

type record struct {
	mu   sync.Mutex
	conv *ConversationRouting
}

// NewManager creates an assignment manager. store and publisher are
// required; use storage adapters and transport.NoopPublisher respectively.
func NewManager(scorer *routing.Scorer, registry *providers.Registry, store ConversationStore, publisher EventPublisher) *Manager {
	return &Manager{
		records:   make(map[string]*record),
		scorer:    scorer,
		registry:  registry,
		store:     store,
		publisher: publisher,
		logger:    logging.GetGlobalLogger(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// CreateConversation opens a conversation and assigns its first provider.
//
// Manual assignments use the caller-supplied provider verbatim after
// validating it against the registry; automatic assignments delegate to the
// scorer. Exactly one history entry is written, with fromProvider "none".
// Nothing is persisted when the manual provider is unknown.
func (m *Manager) CreateConversation(clientID, message string, clientCtx *routing.ClientContext, method RoutingMethod, manualProviderID string) (*ConversationRouting, error) {
	now := m.now()
	conv := &ConversationRouting{
		ConversationID: m.newID(),
		ClientID:       clientID,
		RoutingMethod:  method,
		CanTransfer:    true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	switch method {
	case MethodManual:
		if !m.registry.Exists(manualProviderID) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, manualProviderID)
		}
		providerType, err := m.registry.ProviderType(manualProviderID)
		if err != nil {
			return nil, err
		}
		conv.CurrentProviderID = manualProviderID
		conv.CurrentProviderType = providerType
		conv.RoutingReason = manualReason

	case MethodAutomatic:
		result := m.scorer.Score(message, clientCtx)
		conv.CurrentProviderID = result.ProviderID
		conv.CurrentProviderType = result.ProviderType
		conv.RoutingReason = result.Reason
		score := result.Score
		conv.RoutingScore = &score
		if result.Fallback {
			metrics.FallbackRoutes.Inc()
		}

	default:
		return nil, fmt.Errorf("unsupported routing method: %s", method)
	}

	conv.History = []HistoryEntry{{
		Timestamp:    now,
		FromProvider: initialProvider,
		ToProvider:   conv.CurrentProviderID,
		Method:       method,
		Reason:       conv.RoutingReason,
		Score:        conv.RoutingScore,
	}}

	if err := m.store.SaveConversation(conv); err != nil {
		return nil, fmt.Errorf("persisting conversation: %w", err)
	}

	m.mu.Lock()
	m.records[conv.ConversationID] = &record{conv: conv}
	m.mu.Unlock()

	if err := m.registry.RecordLoadDelta(conv.CurrentProviderID, 1); err != nil {
		// The fallback provider may be absent from the registry; routing
		// still succeeded, only load accounting is skipped.
		m.logger.Warn("load accounting skipped for assignment",
			logging.String("provider_id", conv.CurrentProviderID),
			logging.Err(err),
		)
	}

	m.publish(conv, initialProvider, method, conv.RoutingReason, conv.RoutingScore)
	metrics.ConversationsCreated.WithLabelValues(string(method)).Inc()

	m.logger.Info("conversation assigned",
		logging.String("conversation_id", conv.ConversationID),
		logging.String("client_id", clientID),
		logging.String("provider_id", conv.CurrentProviderID),
		logging.String("method", string(method)),
		logging.String("reason", conv.RoutingReason),
	)
	return conv.clone(), nil
}

// Transfer moves a conversation to a new provider and audits the move.
//
// The history append and the current-provider update commit as one step: the
// mutation is built on a copy, persisted, and only then swapped in, so a
// failed persist leaves neither a dangling history entry nor a stale
// pointer. Load shifts one unit from the old provider to the new one.
func (m *Manager) Transfer(conversationID, newProviderID string, newProviderType providers.ProviderType, reason string, method RoutingMethod) error {
	rec, err := m.record(conversationID)
	if err != nil {
		return err
	}
	if !m.registry.Exists(newProviderID) {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, newProviderID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.conv.Closed {
		return fmt.Errorf("%w: %s", ErrConversationClosed, conversationID)
	}
	if !rec.conv.CanTransfer {
		return fmt.Errorf("%w: %s", ErrTransferNotAllowed, conversationID)
	}

	oldProviderID := rec.conv.CurrentProviderID
	now := m.now()

	next := rec.conv.clone()
	next.History = append(next.History, HistoryEntry{
		Timestamp:    now,
		FromProvider: oldProviderID,
		ToProvider:   newProviderID,
		Method:       MethodTransfer,
		Reason:       reason,
	})
	next.CurrentProviderID = newProviderID
	next.CurrentProviderType = newProviderType
	next.TransferRequested = false
	next.TransferReason = reason
	next.UpdatedAt = now

	if err := m.store.SaveConversation(next); err != nil {
		return fmt.Errorf("persisting transfer: %w", err)
	}
	rec.conv = next

	if err := m.registry.RecordLoadDelta(oldProviderID, -1); err != nil {
		m.logger.Warn("load accounting skipped for transfer source",
			logging.String("provider_id", oldProviderID), logging.Err(err))
	}
	if err := m.registry.RecordLoadDelta(newProviderID, 1); err != nil {
		m.logger.Warn("load accounting skipped for transfer target",
			logging.String("provider_id", newProviderID), logging.Err(err))
	}

	m.publish(next, oldProviderID, method, reason, nil)
	metrics.Transfers.Inc()

	m.logger.Info("conversation transferred",
		logging.String("conversation_id", conversationID),
		logging.String("from_provider", oldProviderID),
		logging.String("to_provider", newProviderID),
		logging.String("reason", reason),
	)
	return nil
}

// SuggestReassignment re-runs the scorer against the latest message only —
// prior conversation context is deliberately not consulted, so the engine
// reacts to topic shifts. The result is advisory and mutates nothing.
func (m *Manager) SuggestReassignment(conversationID, newMessage string, clientCtx *routing.ClientContext) (*Suggestion, error) {
	rec, err := m.record(conversationID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	closed := rec.conv.Closed
	rec.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: %s", ErrConversationClosed, conversationID)
	}

	result := m.scorer.Score(newMessage, clientCtx)
	suggestion := &Suggestion{Confidence: result.Score}

	if result.Score > suggestionThreshold {
		suggestion.ShouldSuggest = true
		suggestion.ProviderID = result.ProviderID
		suggestion.ProviderType = result.ProviderType
		suggestion.Reason = result.Reason
	}

	metrics.Suggestions.WithLabelValues(fmt.Sprintf("%t", suggestion.ShouldSuggest)).Inc()
	return suggestion, nil
}

// CloseConversation releases the provider and archives the record. The
// history survives: conversations are archived, never erased. Closing an
// already closed conversation is a no-op.
func (m *Manager) CloseConversation(conversationID string) error {
	rec, err := m.record(conversationID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.conv.Closed {
		return nil
	}

	next := rec.conv.clone()
	next.Closed = true
	next.UpdatedAt = m.now()

	if err := m.store.SaveConversation(next); err != nil {
		return fmt.Errorf("persisting close: %w", err)
	}
	if err := m.store.ArchiveConversation(conversationID); err != nil {
		return fmt.Errorf("archiving conversation: %w", err)
	}
	rec.conv = next

	if err := m.registry.RecordLoadDelta(next.CurrentProviderID, -1); err != nil {
		m.logger.Warn("load accounting skipped for close",
			logging.String("provider_id", next.CurrentProviderID), logging.Err(err))
	}

	m.logger.Info("conversation closed",
		logging.String("conversation_id", conversationID),
		logging.String("provider_id", next.CurrentProviderID),
	)
	return nil
}

// GetConversation returns a deep copy of the routing record.
func (m *Manager) GetConversation(conversationID string) (*ConversationRouting, error) {
	rec, err := m.record(conversationID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.conv.clone(), nil
}

// RequestTransfer flags a conversation as awaiting a transfer decision.
// Advisory bookkeeping for the operator UI; the routing itself is unchanged
// until Transfer is called.
func (m *Manager) RequestTransfer(conversationID, reason string) error {
	rec, err := m.record(conversationID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.conv.Closed {
		return fmt.Errorf("%w: %s", ErrConversationClosed, conversationID)
	}

	next := rec.conv.clone()
	next.TransferRequested = true
	next.TransferReason = reason
	next.UpdatedAt = m.now()

	if err := m.store.SaveConversation(next); err != nil {
		return fmt.Errorf("persisting transfer request: %w", err)
	}
	rec.conv = next
	return nil
}

// record finds the in-memory record, falling back to the store so routing
// survives a restart.
func (m *Manager) record(conversationID string) (*record, error) {
	m.mu.RLock()
	rec, ok := m.records[conversationID]
	m.mu.RUnlock()
	if ok {
		return rec, nil
	}

	conv, err := m.store.GetConversation(conversationID)
	if err != nil || conv == nil {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[conversationID]; ok {
		return existing, nil
	}
	rec = &record{conv: conv}
	m.records[conversationID] = rec
	return rec, nil
}

func (m *Manager) publish(conv *ConversationRouting, fromProvider string, method RoutingMethod, reason string, score *float64) {
	event := &RoutingEvent{
		ConversationID: conv.ConversationID,
		ClientID:       conv.ClientID,
		FromProvider:   fromProvider,
		ToProvider:     conv.CurrentProviderID,
		ProviderType:   conv.CurrentProviderType,
		Method:         method,
		Reason:         reason,
		Score:          score,
		Timestamp:      conv.UpdatedAt,
	}
	if err := m.publisher.PublishRoutingEvent(event); err != nil {
		m.logger.Warn("routing event not delivered",
			logging.String("conversation_id", conv.ConversationID),
			logging.Err(err),
		)
	}
}
