package routing

import (
	"time"

	"conversation-router/internal/providers"
)

// ConditionType identifies which part of the evaluation context a routing
// condition tests.
type ConditionType string

const (
	// ConditionKeyword matches literal phrases in the message text
	ConditionKeyword ConditionType = "keyword"
	// ConditionTimeWindow matches the hour of the evaluation instant
	ConditionTimeWindow ConditionType = "time_window"
	// ConditionLanguage matches the client's language
	ConditionLanguage ConditionType = "language"
	// ConditionLocation matches the client's region code
	ConditionLocation ConditionType = "location"
	// ConditionClientType matches the client account type
	ConditionClientType ConditionType = "client_type"
	// ConditionUrgency matches the reported urgency level
	ConditionUrgency ConditionType = "urgency"
)

// ConditionOperator is the comparison applied by a condition.
type ConditionOperator string

const (
	// OperatorContains checks for case-insensitive substring matches
	OperatorContains ConditionOperator = "contains"
	// OperatorEquals checks for exact equality
	OperatorEquals ConditionOperator = "equals"
	// OperatorInRange checks list membership, or an hour window for time conditions
	OperatorInRange ConditionOperator = "in_range"
	// OperatorMatches is reserved for pattern matching
	OperatorMatches ConditionOperator = "matches"
)

// RuleCondition is a single weighted condition of a routing rule.
// Conditions are immutable once the rule is stored.
type RuleCondition struct {
	Type     ConditionType     `json:"type"`
	Operator ConditionOperator `json:"operator"`
	Value    interface{}       `json:"value"`  // string or list of strings
	Weight   float64           `json:"weight"` // in (0,1]
}

// RouteRule recommends a target provider when its weighted conditions match.
//
// Priority is a direct multiplier (priority/10) on the rule's raw score, not
// an ordinal rank: a rule with priority 1 contributes a tenth of the weight
// of a rule with priority 10. Choose priority values deliberately.
type RouteRule struct {
	ID                 string                 `json:"id"`
	Name               string                 `json:"name"`
	Priority           int                    `json:"priority"`
	Conditions         []RuleCondition        `json:"conditions"`
	TargetProviderID   string                 `json:"target_provider_id"`
	TargetProviderType providers.ProviderType `json:"target_provider_type"`
	Active             bool                   `json:"active"`
	Description        string                 `json:"description"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// ClientContext is the client metadata half of the evaluation context.
// Absent fields simply score 0 on the conditions that need them.
type ClientContext struct {
	Location   string `json:"location,omitempty"`
	Language   string `json:"language,omitempty"`
	ClientType string `json:"client_type,omitempty"`
	Urgency    string `json:"urgency,omitempty"`
}

// Candidate is one scored rule target.
type Candidate struct {
	ProviderID   string                 `json:"provider_id"`
	ProviderType providers.ProviderType `json:"provider_type"`
	Score        float64                `json:"score"`
	RuleID       string                 `json:"rule_id"`
	RuleName     string                 `json:"rule_name"`
}

// ScoreResult is the scorer's recommendation: the winning provider, why it
// won, and the next-ranked alternatives. Fallback is set when no rule
// produced a positive score and the default support desk was returned.
type ScoreResult struct {
	ProviderID   string                 `json:"provider_id"`
	ProviderType providers.ProviderType `json:"provider_type"`
	Score        float64                `json:"score"`
	Reason       string                 `json:"reason"`
	Fallback     bool                   `json:"fallback"`
	Alternatives []Candidate            `json:"alternatives"` // top 3, excluding the winner
}
