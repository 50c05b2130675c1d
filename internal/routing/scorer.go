package routing

import (
	"sort"

	"conversation-router/internal/common/logging"
	"conversation-router/internal/providers"
)

const (
	// fallbackScore is the fixed low confidence reported when no rule matched.
	fallbackScore = 0.1
	// fallbackReason is the explicit reason attached to fallback routing.
	fallbackReason = "no routing rule matched"
	// maxAlternatives caps the ranked alternatives returned beside the winner.
	maxAlternatives = 3
	// priorityDivisor turns a rule priority into its score multiplier.
	priorityDivisor = 10.0
)

// Scorer ranks all active routing rules against an inbound message and
// returns the winning provider plus alternatives. Scoring is pure: it reads
// the ruleset snapshot and writes nothing, so concurrent calls need no
// coordination.
type Scorer struct {
	store      *RuleStore
	evaluator  *ConditionEvaluator
	fallbackID string
	logger     logging.Logger
}

// NewScorer creates a scorer. fallbackProviderID is the official support
// desk returned when no rule produces a positive score; routing never fails
// with "no provider".
func NewScorer(store *RuleStore, evaluator *ConditionEvaluator, fallbackProviderID string) *Scorer {
	return &Scorer{
		store:      store,
		evaluator:  evaluator,
		fallbackID: fallbackProviderID,
		logger:     logging.GetGlobalLogger(),
	}
}

// Score evaluates every active rule and returns the best target.
//
// Per rule: raw = Σ conditionScore·weight over its conditions; rules with
// raw > 0 become candidates with final = raw · priority/10. Candidates are
// sorted by final score descending; equal scores keep registration order, so
// the first-registered rule wins ties and results are deterministic for
// identical input.
func (s *Scorer) Score(message string, clientCtx *ClientContext) *ScoreResult {
	candidates := make([]Candidate, 0)

	for _, rule := range s.store.ActiveRules() {
		raw := 0.0
		for i := range rule.Conditions {
			raw += s.evaluator.Evaluate(&rule.Conditions[i], message, clientCtx) * rule.Conditions[i].Weight
		}
		if raw <= 0 {
			continue
		}

		candidates = append(candidates, Candidate{
			ProviderID:   rule.TargetProviderID,
			ProviderType: rule.TargetProviderType,
			Score:        raw * float64(rule.Priority) / priorityDivisor,
			RuleID:       rule.ID,
			RuleName:     rule.Name,
		})
	}

	if len(candidates) == 0 {
		s.logger.Debug("no routing rule matched, using fallback provider",
			logging.Field{Key: "fallback_provider", Value: s.fallbackID},
		)
		return &ScoreResult{
			ProviderID:   s.fallbackID,
			ProviderType: providers.TypeOfficialSupport,
			Score:        fallbackScore,
			Reason:       fallbackReason,
			Fallback:     true,
			Alternatives: []Candidate{},
		}
	}

	// Stable sort over the registration-ordered candidates guarantees the
	// first-registered rule wins ties.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	best := candidates[0]
	alternatives := candidates[1:]
	if len(alternatives) > maxAlternatives {
		alternatives = alternatives[:maxAlternatives]
	}

	return &ScoreResult{
		ProviderID:   best.ProviderID,
		ProviderType: best.ProviderType,
		Score:        best.Score,
		Reason:       best.RuleName,
		Fallback:     false,
		Alternatives: append([]Candidate{}, alternatives...),
	}
}
