package assignment

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-router/internal/providers"
	"conversation-router/internal/routing"
)

// memoryStore is an in-memory ConversationStore for tests.
type memoryStore struct {
	mu       sync.Mutex
	saved    map[string]*ConversationRouting
	archived map[string]bool
	saveErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		saved:    make(map[string]*ConversationRouting),
		archived: make(map[string]bool),
	}
}

func (s *memoryStore) SaveConversation(conv *ConversationRouting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved[conv.ConversationID] = conv.clone()
	return nil
}

func (s *memoryStore) GetConversation(conversationID string) (*ConversationRouting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.saved[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s not found", conversationID)
	}
	return conv.clone(), nil
}

func (s *memoryStore) ArchiveConversation(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.saved[conversationID]; !ok {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	s.archived[conversationID] = true
	return nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// capturePublisher records published routing events.
type capturePublisher struct {
	mu     sync.Mutex
	events []*RoutingEvent
}

func (p *capturePublisher) PublishRoutingEvent(event *RoutingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) all() []*RoutingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*RoutingEvent(nil), p.events...)
}

type managerFixture struct {
	manager   *Manager
	registry  *providers.Registry
	store     *memoryStore
	publisher *capturePublisher
}

// newFixture wires a manager over one partner rule: messages mentioning
// "expédition" route to partner-sn with score 1.0, everything else falls
// back to official-support.
func newFixture(t *testing.T) *managerFixture {
	t.Helper()

	registry := providers.NewRegistry()
	require.NoError(t, registry.Register(&providers.ProviderAvailability{
		ProviderID:   "partner-sn",
		ProviderType: providers.TypeCompany,
		Available:    true,
		MaxCapacity:  5,
	}))
	require.NoError(t, registry.Register(&providers.ProviderAvailability{
		ProviderID:   "official-support",
		ProviderType: providers.TypeOfficialSupport,
		Available:    true,
	}))

	ruleStore := routing.NewRuleStore()
	require.NoError(t, ruleStore.Replace([]*routing.RouteRule{{
		ID:       "shipping",
		Name:     "shipping goes to the Senegal partner",
		Priority: 10,
		Conditions: []routing.RuleCondition{
			{Type: routing.ConditionKeyword, Operator: routing.OperatorContains, Value: []string{"expédition"}, Weight: 1},
		},
		TargetProviderID:   "partner-sn",
		TargetProviderType: providers.TypeCompany,
		Active:             true,
	}}))

	scorer := routing.NewScorer(ruleStore, routing.NewConditionEvaluator(), "official-support")
	store := newMemoryStore()
	publisher := &capturePublisher{}

	manager := NewManager(scorer, registry, store, publisher)
	manager.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }

	return &managerFixture{
		manager:   manager,
		registry:  registry,
		store:     store,
		publisher: publisher,
	}
}

func TestCreateConversationAutomatic(t *testing.T) {
	f := newFixture(t)

	conv, err := f.manager.CreateConversation("client-1", "expédition maritime vers Dakar", nil, MethodAutomatic, "")
	require.NoError(t, err)

	assert.Equal(t, "partner-sn", conv.CurrentProviderID)
	assert.Equal(t, providers.TypeCompany, conv.CurrentProviderType)
	assert.Equal(t, MethodAutomatic, conv.RoutingMethod)
	require.NotNil(t, conv.RoutingScore)
	assert.InDelta(t, 1.0, *conv.RoutingScore, 1e-9)
	assert.True(t, conv.CanTransfer)

	require.Len(t, conv.History, 1)
	assert.Equal(t, "none", conv.History[0].FromProvider)
	assert.Equal(t, "partner-sn", conv.History[0].ToProvider)

	load, err := f.registry.CurrentLoad("partner-sn")
	require.NoError(t, err)
	assert.Equal(t, 1, load)

	events := f.publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, conv.ConversationID, events[0].ConversationID)
	assert.Equal(t, "none", events[0].FromProvider)
	assert.Equal(t, "partner-sn", events[0].ToProvider)

	assert.Equal(t, 1, f.store.count())
}

func TestCreateConversationFallback(t *testing.T) {
	f := newFixture(t)

	conv, err := f.manager.CreateConversation("client-1", "bonjour", nil, MethodAutomatic, "")
	require.NoError(t, err)

	assert.Equal(t, "official-support", conv.CurrentProviderID)
	assert.Equal(t, providers.TypeOfficialSupport, conv.CurrentProviderType)
	require.NotNil(t, conv.RoutingScore)
	assert.InDelta(t, 0.1, *conv.RoutingScore, 1e-9)
	assert.Equal(t, "no routing rule matched", conv.RoutingReason)
}

func TestCreateConversationManual(t *testing.T) {
	f := newFixture(t)

	conv, err := f.manager.CreateConversation("client-1", "peu importe", nil, MethodManual, "partner-sn")
	require.NoError(t, err)

	assert.Equal(t, "partner-sn", conv.CurrentProviderID)
	assert.Equal(t, MethodManual, conv.RoutingMethod)
	assert.Equal(t, "manual selection", conv.RoutingReason)
	assert.Nil(t, conv.RoutingScore)
}

func TestCreateConversationManualUnknownProvider(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.CreateConversation("client-1", "message", nil, MethodManual, "ghost")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	// Nothing persisted, nothing published, no load recorded.
	assert.Equal(t, 0, f.store.count())
	assert.Empty(t, f.publisher.all())
}

func TestTransferAppendsHistoryAndShiftsLoad(t *testing.T) {
	f := newFixture(t)

	conv, err := f.manager.CreateConversation("client-1", "expédition maritime", nil, MethodAutomatic, "")
	require.NoError(t, err)

	err = f.manager.Transfer(conv.ConversationID, "official-support", providers.TypeOfficialSupport, "client asked for support", MethodManual)
	require.NoError(t, err)

	after, err := f.manager.GetConversation(conv.ConversationID)
	require.NoError(t, err)

	assert.Equal(t, "official-support", after.CurrentProviderID)
	require.Len(t, after.History, 2)
	assert.Equal(t, "partner-sn", after.History[1].FromProvider)
	assert.Equal(t, "official-support", after.History[1].ToProvider)
	assert.Equal(t, MethodTransfer, after.History[1].Method)
	assert.Equal(t, "client asked for support", after.History[1].Reason)
	assert.False(t, after.History[1].Timestamp.Before(after.History[0].Timestamp))

	// One unit moved from the old provider to the new one.
	oldLoad, _ := f.registry.CurrentLoad("partner-sn")
	assert.Equal(t, 0, oldLoad)

	events := f.publisher.all()
	require.Len(t, events, 2)
	assert.Equal(t, "partner-sn", events[1].FromProvider)
	assert.Equal(t, "official-support", events[1].ToProvider)
	assert.Equal(t, "client asked for support", events[1].Reason)
}

func TestTransferFailedPersistLeavesNoTrace(t *testing.T) {
	f := newFixture(t)

	conv, err := f.manager.CreateConversation("client-1", "expédition maritime", nil, MethodAutomatic, "")
	require.NoError(t, err)

	f.store.saveErr = fmt.Errorf("disk full")
	err = f.manager.Transfer(conv.ConversationID, "official-support", providers.TypeOfficialSupport, "r", MethodManual)
	require.Error(t, err)
	f.store.saveErr = nil

	after, err := f.manager.GetConversation(conv.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "partner-sn", after.CurrentProviderID)
	assert.Len(t, after.History, 1)
}

func TestTransferErrors(t *testing.T) {
	f := newFixture(t)

	conv, err := f.manager.CreateConversation("client-1", "expédition maritime", nil, MethodAutomatic, "")
	require.NoError(t, err)

	err = f.manager.Transfer("missing", "partner-sn", providers.TypeCompany, "r", MethodManual)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	err = f.manager.Transfer(conv.ConversationID, "ghost", providers.TypeCompany, "r", MethodManual)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	require.NoError(t, f.manager.CloseConversation(conv.ConversationID))
	err = f.manager.Transfer(conv.ConversationID, "official-support", providers.TypeOfficialSupport, "r", MethodManual)
	assert.ErrorIs(t, err, ErrConversationClosed)
}

func TestSuggestReassignment(t *testing.T) {
	f := newFixture(t)

	conv, err := f.manager.CreateConversation("client-1", "bonjour", nil, MethodAutomatic, "")
	require.NoError(t, err)

	// Topic shift to shipping scores 1.0, above the suggestion threshold.
	suggestion, err := f.manager.SuggestReassignment(conv.ConversationID, "expédition maritime vers Dakar", nil)
	require.NoError(t, err)
	assert.True(t, suggestion.ShouldSuggest)
	assert.Equal(t, "partner-sn", suggestion.ProviderID)
	assert.InDelta(t, 1.0, suggestion.Confidence, 1e-9)

	// A suggestion never mutates the conversation.
	after, err := f.manager.GetConversation(conv.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "official-support", after.CurrentProviderID)
	assert.Len(t, after.History, 1)

	// A weak match stays below the threshold.
	weak, err := f.manager.SuggestReassignment(conv.ConversationID, "encore bonjour", nil)
	require.NoError(t, err)
	assert.False(t, weak.ShouldSuggest)
	assert.Empty(t, weak.ProviderID)
}

func TestCloseConversationIsIdempotent(t *testing.T) {
	f := newFixture(t)

	conv, err := f.manager.CreateConversation("client-1", "expédition maritime", nil, MethodAutomatic, "")
	require.NoError(t, err)

	require.NoError(t, f.manager.CloseConversation(conv.ConversationID))
	require.NoError(t, f.manager.CloseConversation(conv.ConversationID))

	load, _ := f.registry.CurrentLoad("partner-sn")
	assert.Equal(t, 0, load, "double close must not decrement twice")

	assert.True(t, f.store.archived[conv.ConversationID])

	// The record stays readable after closing.
	after, err := f.manager.GetConversation(conv.ConversationID)
	require.NoError(t, err)
	assert.True(t, after.Closed)
	assert.Len(t, after.History, 1)
}

func TestGetConversationReturnsCopy(t *testing.T) {
	f := newFixture(t)

	conv, err := f.manager.CreateConversation("client-1", "expédition maritime", nil, MethodAutomatic, "")
	require.NoError(t, err)

	got, err := f.manager.GetConversation(conv.ConversationID)
	require.NoError(t, err)
	got.History[0].Reason = "tampered"
	got.CurrentProviderID = "tampered"

	again, err := f.manager.GetConversation(conv.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "partner-sn", again.CurrentProviderID)
	assert.NotEqual(t, "tampered", again.History[0].Reason)
}

func TestRequestTransferFlagsRecord(t *testing.T) {
	f := newFixture(t)

	conv, err := f.manager.CreateConversation("client-1", "expédition maritime", nil, MethodAutomatic, "")
	require.NoError(t, err)

	require.NoError(t, f.manager.RequestTransfer(conv.ConversationID, "wrong department"))

	after, err := f.manager.GetConversation(conv.ConversationID)
	require.NoError(t, err)
	assert.True(t, after.TransferRequested)
	assert.Equal(t, "wrong department", after.TransferReason)
	// The flag is advisory: routing is unchanged.
	assert.Equal(t, "partner-sn", after.CurrentProviderID)
}

func TestManagerRecoversFromStore(t *testing.T) {
	f := newFixture(t)

	conv, err := f.manager.CreateConversation("client-1", "expédition maritime", nil, MethodAutomatic, "")
	require.NoError(t, err)

	// A fresh manager over the same store sees the conversation.
	restarted := NewManager(f.manager.scorer, f.registry, f.store, f.publisher)
	after, err := restarted.GetConversation(conv.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "partner-sn", after.CurrentProviderID)
}
