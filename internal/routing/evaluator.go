package routing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"conversation-router/internal/common/logging"
)

// ConditionEvaluator scores a single routing condition against an inbound
// message and the client's metadata. Scores are always in [0,1]; a malformed
// condition scores 0 and is logged rather than failing the evaluation, so
// one bad rule never breaks routing for everyone.
type ConditionEvaluator struct {
	logger logging.Logger
	now    func() time.Time
}

// NewConditionEvaluator creates an evaluator using the wall clock for
// time-window conditions.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{
		logger: logging.GetGlobalLogger(),
		now:    time.Now,
	}
}

// Evaluate returns the match score of one condition.
//
// The score is a fraction for keyword conditions (matched phrases over listed
// phrases) and binary for everything else. An empty candidate list, an absent
// context field, or an unknown type/operator pair all score 0.
func (e *ConditionEvaluator) Evaluate(cond *RuleCondition, message string, clientCtx *ClientContext) float64 {
	if cond == nil {
		return 0
	}
	if clientCtx == nil {
		clientCtx = &ClientContext{}
	}

	switch cond.Type {
	case ConditionKeyword:
		if cond.Operator == OperatorContains {
			return e.scoreKeywords(cond.Value, message)
		}

	case ConditionLocation:
		switch cond.Operator {
		case OperatorEquals:
			return binaryScore(clientCtx.Location != "" && equalsValue(cond.Value, clientCtx.Location))
		case OperatorInRange:
			return binaryScore(clientCtx.Location != "" && listContains(toStringList(cond.Value), clientCtx.Location))
		}

	case ConditionUrgency:
		if cond.Operator == OperatorEquals {
			return binaryScore(clientCtx.Urgency != "" && equalsValue(cond.Value, clientCtx.Urgency))
		}

	case ConditionLanguage:
		if cond.Operator == OperatorEquals {
			return binaryScore(clientCtx.Language != "" && equalsValue(cond.Value, clientCtx.Language))
		}

	case ConditionClientType:
		if cond.Operator == OperatorEquals {
			return binaryScore(clientCtx.ClientType != "" && equalsValue(cond.Value, clientCtx.ClientType))
		}

	case ConditionTimeWindow:
		if cond.Operator == OperatorInRange {
			return e.scoreTimeWindow(cond.Value)
		}
	}

	e.logger.Warn("unsupported condition scored as zero",
		logging.Field{Key: "type", Value: string(cond.Type)},
		logging.Field{Key: "operator", Value: string(cond.Operator)},
	)
	return 0
}

// scoreKeywords returns the fraction of listed phrases found as
// case-insensitive substrings of the message.
func (e *ConditionEvaluator) scoreKeywords(value interface{}, message string) float64 {
	phrases := toStringList(value)
	if len(phrases) == 0 || message == "" {
		return 0
	}

	lowered := strings.ToLower(message)
	matched := 0
	for _, phrase := range phrases {
		if phrase == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(phrase)) {
			matched++
		}
	}
	return float64(matched) / float64(len(phrases))
}

// scoreTimeWindow matches the current hour against a [startHour, endHour]
// window. A window with start > end wraps midnight: [22, 8] covers 22:00
// through 07:59 the next day. No partial credit.
func (e *ConditionEvaluator) scoreTimeWindow(value interface{}) float64 {
	window := toStringList(value)
	if len(window) != 2 {
		e.logger.Warn("time window condition requires [startHour, endHour]",
			logging.Field{Key: "value", Value: fmt.Sprintf("%v", value)},
		)
		return 0
	}

	start, okStart := toHour(window[0])
	end, okEnd := toHour(window[1])
	if !okStart || !okEnd {
		e.logger.Warn("time window hours must be integers 0-23",
			logging.Field{Key: "value", Value: fmt.Sprintf("%v", value)},
		)
		return 0
	}

	hour := e.now().Hour()
	if start > end {
		return binaryScore(hour >= start || hour <= end)
	}
	return binaryScore(hour >= start && hour <= end)
}

func listContains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func binaryScore(matched bool) float64 {
	if matched {
		return 1
	}
	return 0
}

func equalsValue(value interface{}, field string) bool {
	s, ok := toStringValue(value)
	return ok && s == field
}

// toStringValue coerces a condition value to a single string.
func toStringValue(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}

// toStringList coerces a condition value to a list of strings. Rules loaded
// from JSON arrive as []interface{}; comma-separated strings are supported
// for hand-written rules.
func toStringList(value interface{}) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []interface{}:
		list := make([]string, 0, len(v))
		for _, item := range v {
			list = append(list, fmt.Sprintf("%v", item))
		}
		return list
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	default:
		return nil
	}
}

// toHour parses an hour value in [0,23].
func toHour(s string) (int, bool) {
	hour, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	return hour, true
}
