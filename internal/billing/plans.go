// Package billing provides the plan hierarchy and plan-change classification
// logic for the subscription lifecycle engine.
package billing

import "learnloop/internal/types"

// planOrder is the authoritative total order over plan tiers. Rank grows
// with price/features. Institution is present for comparison purposes only;
// it is excluded from every automatic transition path and routes to manual
// sales contact.
var planOrder = []types.PlanTier{
	types.PlanFree,
	types.PlanPlus,
	types.PlanPremium,
	types.PlanInstitution,
}

// planRanks is the inverse lookup of planOrder, built once at init.
var planRanks = func() map[types.PlanTier]int {
	m := make(map[types.PlanTier]int, len(planOrder))
	for i, p := range planOrder {
		m[p] = i
	}
	return m
}()

// PlanRank returns the rank of a plan in the fixed tier ordering
// (free=0 .. institution=3). Unknown identifiers fail with
// validation_invalid_plan before any write happens.
func PlanRank(plan types.PlanTier) (int, error) {
	rank, ok := planRanks[plan]
	if !ok {
		return 0, types.NewInvalidPlanError(plan)
	}
	return rank, nil
}

// IsKnownPlan reports whether the identifier names a real tier.
func IsKnownPlan(plan types.PlanTier) bool {
	_, ok := planRanks[plan]
	return ok
}

// SelfServePlans returns the tiers a user can move between without sales
// involvement, in ascending rank order.
func SelfServePlans() []types.PlanTier {
	out := make([]types.PlanTier, 0, len(planOrder)-1)
	for _, p := range planOrder {
		if p != types.PlanInstitution {
			out = append(out, p)
		}
	}
	return out
}
