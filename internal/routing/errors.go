package routing

import "errors"

var (
	// ErrInvalidRule is returned when a routing rule fails validation
	ErrInvalidRule = errors.New("invalid routing rule")

	// ErrInvalidCondition is returned when a rule condition is malformed
	ErrInvalidCondition = errors.New("invalid rule condition")

	// ErrRuleNotFound is returned when a routing rule is not in the active set
	ErrRuleNotFound = errors.New("routing rule not found")

	// ErrUnsupportedConditionType is returned for unknown condition types
	ErrUnsupportedConditionType = errors.New("unsupported condition type")

	// ErrUnsupportedOperator is returned for unknown condition operators
	ErrUnsupportedOperator = errors.New("unsupported operator")
)
