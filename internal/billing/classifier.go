package billing

import (
	"time"

	"learnloop/internal/types"
)

// Outcome is the tagged result of classifying a plan-change request.
// Exactly one of the concrete variants is returned:
//
//	Immediate    - upgrade or new subscription; entitlement written now,
//	               payment handled via external checkout.
//	Deferred     - downgrade or cancellation; a pending-change marker is
//	               scheduled and applied later by the sweep.
//	Reactivate   - clears any scheduled downgrade/cancellation and restores
//	               active status without changing the plan.
//	ContactSales - either side of the change is the institution tier.
//	NoChange     - requested plan equals the current plan; success no-op.
type Outcome interface {
	isOutcome()
}

// Immediate grants the new plan in a single direct write.
type Immediate struct {
	NewPlan types.PlanTier
}

func (Immediate) isOutcome() {}

// Deferred schedules a pending change to be applied at its effective date.
type Deferred struct {
	Change types.PendingChange
}

func (Deferred) isOutcome() {}

// Reactivate cancels a previously scheduled downgrade/cancellation.
type Reactivate struct{}

func (Reactivate) isOutcome() {}

// ContactSales short-circuits institution-tier requests to manual sales.
type ContactSales struct{}

func (ContactSales) isOutcome() {}

// NoChange reports an equal-rank request as a successful no-op.
type NoChange struct{}

func (NoChange) isOutcome() {}

// Classifier decides whether a plan change is immediate, deferred, a
// cancellation, or a reactivation. It is pure: the only inputs are the
// request, the caller-captured now, and the configured deferral windows.
type Classifier struct {
	// gracePeriod delays downgrades; billingPeriod is the access retained
	// after a cancellation request. Both are 30 days in the current design.
	gracePeriod   time.Duration
	billingPeriod time.Duration
}

// NewClassifier creates a Classifier with the given deferral windows.
func NewClassifier(gracePeriod, billingPeriod time.Duration) *Classifier {
	return &Classifier{
		gracePeriod:   gracePeriod,
		billingPeriod: billingPeriod,
	}
}

// Classify maps (currentPlan, newPlan, action) to an Outcome.
//
// Rules, checked in order:
//  1. reactivate -> Reactivate (newPlan is ignored).
//  2. cancel -> Deferred(cancel, effective = now + billingPeriod). A free
//     user has nothing to cancel; that is a NoChange.
//  3. Either plan institution -> ContactSales.
//  4. newPlan == currentPlan -> NoChange.
//  5. rank(newPlan) > rank(currentPlan) -> Immediate (upgrades and new
//     subscriptions from free alike).
//  6. rank(newPlan) < rank(currentPlan) -> Deferred(downgrade, effective =
//     now + gracePeriod). Downgrading to free goes through the same marker
//     with free as the target.
//
// Unknown plan identifiers are rejected with validation_invalid_plan before
// any rule is applied.
func (c *Classifier) Classify(currentPlan, newPlan types.PlanTier, action types.ChangeAction, now time.Time) (Outcome, error) {
	// An absent current plan means the user has never subscribed.
	if currentPlan == "" {
		currentPlan = types.PlanFree
	}

	currentRank, err := PlanRank(currentPlan)
	if err != nil {
		return nil, err
	}

	switch action {
	case types.ActionReactivate:
		return Reactivate{}, nil

	case types.ActionCancel:
		if currentPlan == types.PlanFree {
			return NoChange{}, nil
		}
		if currentPlan == types.PlanInstitution {
			return ContactSales{}, nil
		}
		return Deferred{Change: types.CancelChange{
			EffectiveDate: now.Add(c.billingPeriod),
		}}, nil

	case types.ActionChange:
		newRank, err := PlanRank(newPlan)
		if err != nil {
			return nil, err
		}

		if currentPlan == types.PlanInstitution || newPlan == types.PlanInstitution {
			return ContactSales{}, nil
		}

		switch {
		case newRank == currentRank:
			return NoChange{}, nil
		case newRank > currentRank:
			return Immediate{NewPlan: newPlan}, nil
		default:
			return Deferred{Change: types.DowngradeChange{
				NewPlan:       newPlan,
				EffectiveDate: now.Add(c.gracePeriod),
			}}, nil
		}

	default:
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidAction,
			"requested action must be one of change, cancel, reactivate",
			nil,
		)
	}
}
