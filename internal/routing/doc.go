// Package routing implements the scoring half of the conversation routing
// engine: weighted condition evaluation, the active ruleset snapshot, and the
// scorer that turns an inbound message plus client metadata into a provider
// recommendation.
//
// The routing system consists of three components:
//
//  1. ConditionEvaluator: pure scoring of a single condition against the
//     evaluation context, always in [0,1], never failing.
//  2. RuleStore: the ordered, snapshot-swapped set of routing rules.
//  3. Scorer: combines condition scores into per-rule scores, ranks rules,
//     and falls back to the default support desk when nothing matches.
//
// Scoring is side-effect-free and safe to run concurrently; the only shared
// state is the immutable ruleset snapshot behind an atomic pointer.
//
// Example usage:
//
//	store := routing.NewRuleStore()
//	_ = store.Replace([]*routing.RouteRule{
//		{
//			ID:       "sn-maritime",
//			Name:     "Senegal maritime",
//			Priority: 8,
//			Active:   true,
//			Conditions: []routing.RuleCondition{
//				{Type: routing.ConditionKeyword, Operator: routing.OperatorContains,
//					Value: []string{"maritime", "expédition"}, Weight: 0.7},
//				{Type: routing.ConditionLocation, Operator: routing.OperatorEquals,
//					Value: "SN", Weight: 0.3},
//			},
//			TargetProviderID:   "partner-sn",
//			TargetProviderType: providers.TypeCompany,
//		},
//	})
//
//	scorer := routing.NewScorer(store, routing.NewConditionEvaluator(), "official-support")
//	result := scorer.Score("expédition maritime vers Dakar", &routing.ClientContext{Location: "SN"})
package routing
