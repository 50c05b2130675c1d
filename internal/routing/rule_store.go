package routing

import (
	"fmt"
	"sync/atomic"
	"time"
)

// RuleStore holds the ordered set of routing rules. Rules live in an
// immutable slice behind an atomic pointer: readers always see a consistent
// snapshot and a ruleset reload never blocks in-flight scoring.
//
// The slice order is the registration order and doubles as the tie-break key
// for the scorer, so rules are kept as an explicit list, never a map.
type RuleStore struct {
	snapshot atomic.Value // []*RouteRule
}

// NewRuleStore creates a store with an empty ruleset.
func NewRuleStore() *RuleStore {
	s := &RuleStore{}
	s.snapshot.Store([]*RouteRule{})
	return s
}

// Replace validates the whole ruleset and swaps it in as one snapshot.
// Admin edits surface as a reload of the full set; there is no per-rule
// mutation on a live snapshot. The previous snapshot stays untouched so
// scoring that started before the swap completes on consistent data.
func (s *RuleStore) Replace(rules []*RouteRule) error {
	next := make([]*RouteRule, 0, len(rules))
	seen := make(map[string]bool, len(rules))

	for i, rule := range rules {
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		if seen[rule.ID] {
			return fmt.Errorf("%w: duplicate rule ID %q", ErrInvalidRule, rule.ID)
		}
		seen[rule.ID] = true

		copied := *rule
		copied.Conditions = append([]RuleCondition(nil), rule.Conditions...)
		next = append(next, &copied)
	}

	s.snapshot.Store(next)
	return nil
}

// Snapshot returns the current ruleset in registration order. The returned
// slice is shared and must not be mutated.
func (s *RuleStore) Snapshot() []*RouteRule {
	return s.snapshot.Load().([]*RouteRule)
}

// ActiveRules returns the active rules in registration order.
func (s *RuleStore) ActiveRules() []*RouteRule {
	snapshot := s.Snapshot()
	active := make([]*RouteRule, 0, len(snapshot))
	for _, rule := range snapshot {
		if rule.Active {
			active = append(active, rule)
		}
	}
	return active
}

// GetRule returns a copy of the rule with the given ID.
func (s *RuleStore) GetRule(ruleID string) (*RouteRule, error) {
	for _, rule := range s.Snapshot() {
		if rule.ID == ruleID {
			copied := *rule
			copied.Conditions = append([]RuleCondition(nil), rule.Conditions...)
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
}

// Len returns the number of stored rules.
func (s *RuleStore) Len() int {
	return len(s.Snapshot())
}

func validateRule(rule *RouteRule) error {
	if rule == nil {
		return ErrInvalidRule
	}
	if rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidRule)
	}
	if rule.Name == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalidRule)
	}
	if rule.Priority < 1 {
		return fmt.Errorf("%w: priority must be at least 1", ErrInvalidRule)
	}
	if rule.TargetProviderID == "" {
		return fmt.Errorf("%w: target provider is required", ErrInvalidRule)
	}
	if len(rule.Conditions) == 0 {
		// A rule with no conditions can never score above zero and can
		// never win; storing one is a configuration mistake.
		return fmt.Errorf("%w: must have at least one condition", ErrInvalidRule)
	}
	for i, cond := range rule.Conditions {
		if err := validateCondition(&cond); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

func validateCondition(cond *RuleCondition) error {
	switch cond.Type {
	case ConditionKeyword, ConditionTimeWindow, ConditionLanguage,
		ConditionLocation, ConditionClientType, ConditionUrgency:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedConditionType, cond.Type)
	}

	switch cond.Operator {
	case OperatorContains, OperatorEquals, OperatorInRange, OperatorMatches:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedOperator, cond.Operator)
	}

	if cond.Weight <= 0 || cond.Weight > 1 {
		return fmt.Errorf("%w: weight must be in (0,1]", ErrInvalidCondition)
	}
	return nil
}

// StampRules fills in CreatedAt/UpdatedAt on rules that lack them. Used when
// loading hand-written rulesets that omit timestamps.
func StampRules(rules []*RouteRule, now time.Time) {
	for _, rule := range rules {
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = now
		}
		if rule.UpdatedAt.IsZero() {
			rule.UpdatedAt = now
		}
	}
}
