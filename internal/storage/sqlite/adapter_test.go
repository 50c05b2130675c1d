package sqlite

import (
	"testing"
	"time"

	"conversation-router/internal/assignment"
	"conversation-router/internal/common/errors"
	"conversation-router/internal/providers"
	"conversation-router/internal/routing"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(&Config{DatabasePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func TestAdapterHealth(t *testing.T) {
	adapter := testAdapter(t)
	if err := adapter.Health(); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
}

func TestAdapterRejectsEmptyPath(t *testing.T) {
	if _, err := NewAdapter(&Config{}); err == nil {
		t.Fatal("expected config validation error")
	}
}

func TestRuleRoundTrip(t *testing.T) {
	adapter := testAdapter(t)

	rule := &routing.RouteRule{
		ID:       "maritime-sn",
		Name:     "maritime shipping",
		Priority: 8,
		Conditions: []routing.RuleCondition{
			{Type: routing.ConditionKeyword, Operator: routing.OperatorContains, Value: []interface{}{"expédition maritime", "dakar"}, Weight: 0.7},
			{Type: routing.ConditionLocation, Operator: routing.OperatorEquals, Value: "SN", Weight: 0.3},
		},
		TargetProviderID:   "partner-sn",
		TargetProviderType: providers.TypeCompany,
		Active:             true,
		Description:        "sea freight to Senegal",
	}
	if err := adapter.SaveRule(rule); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}

	rules, err := adapter.GetRules()
	if err != nil {
		t.Fatalf("GetRules failed: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}

	got := rules[0]
	if got.ID != rule.ID || got.Name != rule.Name || got.Priority != rule.Priority {
		t.Errorf("rule fields lost: %+v", got)
	}
	if !got.Active || got.TargetProviderType != providers.TypeCompany {
		t.Errorf("rule flags lost: %+v", got)
	}
	if len(got.Conditions) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(got.Conditions))
	}
	if got.Conditions[0].Type != routing.ConditionKeyword || got.Conditions[0].Weight != 0.7 {
		t.Errorf("condition lost: %+v", got.Conditions[0])
	}
	if got.Conditions[1].Value != "SN" {
		t.Errorf("condition value lost: %v", got.Conditions[1].Value)
	}
}

func TestGetRulesKeepsFirstSavedOrder(t *testing.T) {
	adapter := testAdapter(t)

	for _, id := range []string{"third-alphabetically", "a-first-saved", "m-middle"} {
		rule := &routing.RouteRule{
			ID:       id,
			Name:     id,
			Priority: 5,
			Conditions: []routing.RuleCondition{
				{Type: routing.ConditionKeyword, Operator: routing.OperatorContains, Value: []string{"x"}, Weight: 0.5},
			},
			TargetProviderID:   "p",
			TargetProviderType: providers.TypeCompany,
			Active:             true,
		}
		if err := adapter.SaveRule(rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}
	}

	// An update must not move the rule to the back.
	update := &routing.RouteRule{
		ID:       "third-alphabetically",
		Name:     "renamed",
		Priority: 6,
		Conditions: []routing.RuleCondition{
			{Type: routing.ConditionKeyword, Operator: routing.OperatorContains, Value: []string{"y"}, Weight: 0.5},
		},
		TargetProviderID:   "p",
		TargetProviderType: providers.TypeCompany,
		Active:             true,
	}
	if err := adapter.SaveRule(update); err != nil {
		t.Fatalf("SaveRule update failed: %v", err)
	}

	rules, err := adapter.GetRules()
	if err != nil {
		t.Fatalf("GetRules failed: %v", err)
	}
	want := []string{"third-alphabetically", "a-first-saved", "m-middle"}
	for i, id := range want {
		if rules[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, rules[i].ID)
		}
	}
	if rules[0].Name != "renamed" {
		t.Errorf("update lost: %+v", rules[0])
	}
}

func TestDeleteRule(t *testing.T) {
	adapter := testAdapter(t)

	rule := &routing.RouteRule{
		ID:       "r",
		Name:     "r",
		Priority: 5,
		Conditions: []routing.RuleCondition{
			{Type: routing.ConditionKeyword, Operator: routing.OperatorContains, Value: []string{"x"}, Weight: 0.5},
		},
		TargetProviderID:   "p",
		TargetProviderType: providers.TypeCompany,
	}
	if err := adapter.SaveRule(rule); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}

	if err := adapter.DeleteRule("r"); err != nil {
		t.Fatalf("DeleteRule failed: %v", err)
	}
	if err := adapter.DeleteRule("r"); !errors.IsType(err, errors.ErrTypeNotFound) {
		t.Errorf("expected not_found error, got %v", err)
	}
}

func TestProviderRoundTrip(t *testing.T) {
	adapter := testAdapter(t)

	provider := &providers.ProviderAvailability{
		ProviderID:             "partner-sn",
		ProviderType:           providers.TypeCompany,
		Available:              true,
		CurrentLoad:            2,
		MaxCapacity:            10,
		AverageResponseMinutes: 15,
		Specialties:            []string{"maritime", "customs"},
		WorkingHours: providers.WorkingHours{
			StartLocal: 8,
			EndLocal:   18,
			Timezone:   "Africa/Dakar",
			DaysOfWeek: []time.Weekday{time.Monday, time.Tuesday},
		},
	}
	if err := adapter.SaveProvider(provider); err != nil {
		t.Fatalf("SaveProvider failed: %v", err)
	}

	// Upsert updates in place.
	provider.Available = false
	if err := adapter.SaveProvider(provider); err != nil {
		t.Fatalf("SaveProvider upsert failed: %v", err)
	}

	list, err := adapter.GetProviders()
	if err != nil {
		t.Fatalf("GetProviders failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(list))
	}

	got := list[0]
	if got.Available {
		t.Error("upsert did not apply")
	}
	if got.MaxCapacity != 10 || got.AverageResponseMinutes != 15 {
		t.Errorf("capacity fields lost: %+v", got)
	}
	if len(got.Specialties) != 2 || got.Specialties[0] != "maritime" {
		t.Errorf("specialties lost: %v", got.Specialties)
	}
	if got.WorkingHours.StartLocal != 8 || got.WorkingHours.Timezone != "Africa/Dakar" {
		t.Errorf("working hours lost: %+v", got.WorkingHours)
	}
	if len(got.WorkingHours.DaysOfWeek) != 2 {
		t.Errorf("days of week lost: %v", got.WorkingHours.DaysOfWeek)
	}
}

func testConversation(id, clientID string, createdAt time.Time) *assignment.ConversationRouting {
	score := 0.81
	return &assignment.ConversationRouting{
		ConversationID:      id,
		ClientID:            clientID,
		CurrentProviderID:   "partner-sn",
		CurrentProviderType: providers.TypeCompany,
		RoutingMethod:       assignment.MethodAutomatic,
		RoutingReason:       "maritime shipping",
		RoutingScore:        &score,
		CanTransfer:         true,
		History: []assignment.HistoryEntry{{
			Timestamp:    createdAt,
			FromProvider: "none",
			ToProvider:   "partner-sn",
			Method:       assignment.MethodAutomatic,
			Reason:       "maritime shipping",
			Score:        &score,
		}},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestConversationRoundTrip(t *testing.T) {
	adapter := testAdapter(t)
	createdAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	conv := testConversation("conv-1", "client-1", createdAt)
	if err := adapter.SaveConversation(conv); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	got, err := adapter.GetConversation("conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.ClientID != "client-1" || got.CurrentProviderID != "partner-sn" {
		t.Errorf("conversation fields lost: %+v", got)
	}
	if got.RoutingScore == nil || *got.RoutingScore != 0.81 {
		t.Errorf("routing score lost: %v", got.RoutingScore)
	}
	if len(got.History) != 1 || got.History[0].FromProvider != "none" {
		t.Errorf("history lost: %+v", got.History)
	}
	if got.History[0].Score == nil || *got.History[0].Score != 0.81 {
		t.Errorf("history score lost: %+v", got.History[0])
	}

	if _, err := adapter.GetConversation("missing"); !errors.IsType(err, errors.ErrTypeNotFound) {
		t.Errorf("expected not_found error, got %v", err)
	}
}

func TestConversationWithoutScore(t *testing.T) {
	adapter := testAdapter(t)
	createdAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	conv := testConversation("conv-1", "client-1", createdAt)
	conv.RoutingMethod = assignment.MethodManual
	conv.RoutingScore = nil
	conv.History[0].Score = nil
	if err := adapter.SaveConversation(conv); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	got, err := adapter.GetConversation("conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.RoutingScore != nil {
		t.Errorf("expected nil score, got %v", *got.RoutingScore)
	}
}

func TestListConversationsByClient(t *testing.T) {
	adapter := testAdapter(t)
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		conv := testConversation(
			"conv-"+string(rune('a'+i)),
			"client-1",
			base.Add(time.Duration(i)*time.Hour),
		)
		if err := adapter.SaveConversation(conv); err != nil {
			t.Fatalf("SaveConversation failed: %v", err)
		}
	}
	other := testConversation("conv-other", "client-2", base)
	if err := adapter.SaveConversation(other); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	page, err := adapter.ListConversationsByClient("client-1", 3, 0)
	if err != nil {
		t.Fatalf("ListConversationsByClient failed: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(page))
	}
	// Newest first.
	if page[0].ConversationID != "conv-e" {
		t.Errorf("expected conv-e first, got %s", page[0].ConversationID)
	}

	rest, err := adapter.ListConversationsByClient("client-1", 3, 3)
	if err != nil {
		t.Fatalf("second page failed: %v", err)
	}
	if len(rest) != 2 {
		t.Errorf("expected 2 conversations on the second page, got %d", len(rest))
	}
}

func TestArchiveConversationKeepsRecord(t *testing.T) {
	adapter := testAdapter(t)
	conv := testConversation("conv-1", "client-1", time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	if err := adapter.SaveConversation(conv); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	if err := adapter.ArchiveConversation("conv-1"); err != nil {
		t.Fatalf("ArchiveConversation failed: %v", err)
	}

	// The audit trail stays readable after archiving.
	got, err := adapter.GetConversation("conv-1")
	if err != nil {
		t.Fatalf("archived conversation not readable: %v", err)
	}
	if len(got.History) != 1 {
		t.Errorf("history lost on archive: %+v", got.History)
	}

	if err := adapter.ArchiveConversation("missing"); !errors.IsType(err, errors.ErrTypeNotFound) {
		t.Errorf("expected not_found error, got %v", err)
	}
}
