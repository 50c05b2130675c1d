package routing

import (
	"errors"
	"testing"

	"conversation-router/internal/providers"
)

func validRule(id string) *RouteRule {
	return &RouteRule{
		ID:       id,
		Name:     "rule " + id,
		Priority: 5,
		Conditions: []RuleCondition{
			{Type: ConditionKeyword, Operator: OperatorContains, Value: []string{"colis"}, Weight: 0.5},
		},
		TargetProviderID:   "provider-1",
		TargetProviderType: providers.TypeCompany,
		Active:             true,
	}
}

func TestRuleStoreReplaceAndSnapshot(t *testing.T) {
	store := NewRuleStore()
	if store.Len() != 0 {
		t.Fatalf("new store must be empty, has %d rules", store.Len())
	}

	rules := []*RouteRule{validRule("a"), validRule("b"), validRule("c")}
	if err := store.Replace(rules); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	snapshot := store.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(snapshot))
	}
	for i, id := range []string{"a", "b", "c"} {
		if snapshot[i].ID != id {
			t.Errorf("registration order lost: position %d is %s, expected %s", i, snapshot[i].ID, id)
		}
	}
}

func TestRuleStoreReplaceCopiesInput(t *testing.T) {
	store := NewRuleStore()
	rule := validRule("a")
	if err := store.Replace([]*RouteRule{rule}); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	// Mutating the caller's rule must not leak into the snapshot.
	rule.Name = "mutated"
	rule.Conditions[0].Weight = 0.99

	got := store.Snapshot()[0]
	if got.Name != "rule a" {
		t.Errorf("snapshot name mutated to %q", got.Name)
	}
	if got.Conditions[0].Weight != 0.5 {
		t.Errorf("snapshot condition mutated to %v", got.Conditions[0].Weight)
	}
}

func TestRuleStoreReplaceSwapsAtomically(t *testing.T) {
	store := NewRuleStore()
	if err := store.Replace([]*RouteRule{validRule("old")}); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	before := store.Snapshot()

	if err := store.Replace([]*RouteRule{validRule("new-1"), validRule("new-2")}); err != nil {
		t.Fatalf("second Replace failed: %v", err)
	}

	// The old snapshot stays intact for readers that captured it.
	if len(before) != 1 || before[0].ID != "old" {
		t.Errorf("previous snapshot changed: %+v", before)
	}
	if store.Len() != 2 {
		t.Errorf("expected 2 rules after swap, got %d", store.Len())
	}
}

func TestRuleStoreReplaceRejectsInvalidSets(t *testing.T) {
	makeInvalid := func(mutate func(*RouteRule)) []*RouteRule {
		rule := validRule("x")
		mutate(rule)
		return []*RouteRule{rule}
	}

	tests := []struct {
		name  string
		rules []*RouteRule
	}{
		{"missing ID", makeInvalid(func(r *RouteRule) { r.ID = "" })},
		{"missing name", makeInvalid(func(r *RouteRule) { r.Name = "" })},
		{"priority below one", makeInvalid(func(r *RouteRule) { r.Priority = 0 })},
		{"missing target", makeInvalid(func(r *RouteRule) { r.TargetProviderID = "" })},
		{"no conditions", makeInvalid(func(r *RouteRule) { r.Conditions = nil })},
		{"zero weight", makeInvalid(func(r *RouteRule) { r.Conditions[0].Weight = 0 })},
		{"weight above one", makeInvalid(func(r *RouteRule) { r.Conditions[0].Weight = 1.5 })},
		{"unknown condition type", makeInvalid(func(r *RouteRule) { r.Conditions[0].Type = "mood" })},
		{"unknown operator", makeInvalid(func(r *RouteRule) { r.Conditions[0].Operator = "near" })},
		{"duplicate IDs", []*RouteRule{validRule("dup"), validRule("dup")}},
		{"nil rule", []*RouteRule{nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewRuleStore()
			if err := store.Replace(tt.rules); err == nil {
				t.Error("expected validation error, got nil")
			}
			// A failed replace leaves the store untouched.
			if store.Len() != 0 {
				t.Errorf("store mutated by failed replace: %d rules", store.Len())
			}
		})
	}
}

func TestRuleStoreActiveRules(t *testing.T) {
	store := NewRuleStore()
	active := validRule("active")
	inactive := validRule("inactive")
	inactive.Active = false

	if err := store.Replace([]*RouteRule{inactive, active}); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	rules := store.ActiveRules()
	if len(rules) != 1 || rules[0].ID != "active" {
		t.Fatalf("expected only the active rule, got %+v", rules)
	}
}

func TestRuleStoreGetRule(t *testing.T) {
	store := NewRuleStore()
	if err := store.Replace([]*RouteRule{validRule("a")}); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	rule, err := store.GetRule("a")
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}

	// The returned rule is a copy.
	rule.Conditions[0].Weight = 0.9
	if store.Snapshot()[0].Conditions[0].Weight != 0.5 {
		t.Error("GetRule leaked a mutable reference")
	}

	if _, err := store.GetRule("missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}
