package types

import "time"

// Entitlement is the subscription sub-record embedded in a user's profile
// document. It is owned exclusively by the lifecycle engine: created the
// first time a plan is assigned, mutated by the immediate-change path, the
// deferred-change path, and the sweep/manual application path. It is never
// deleted; reverting to free is itself a plan value.
type Entitlement struct {
	Plan      PlanTier           `bson:"plan" json:"plan"`
	Status    SubscriptionStatus `bson:"status" json:"status"`
	Pending   PendingChange      `bson:"-" json:"-"`
	ExpiresAt *time.Time         `bson:"expiresAt,omitempty" json:"expires_at,omitempty"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updated_at"`
}

// DefaultEntitlement returns the implicit record for a user that has never
// been assigned a plan.
func DefaultEntitlement() Entitlement {
	return Entitlement{
		Plan:    PlanFree,
		Status:  SubStatusInactive,
		Pending: NoPendingChange{},
	}
}

// PendingChange is the tagged variant representing the deferred half of a
// plan change. The stored wire shape is a nullable {type, newPlan,
// effectiveDate} sub-document; in Go it is one of NoPendingChange,
// DowngradeChange, or CancelChange so the apply switch is exhaustive at
// compile time.
//
// At most one pending change exists per user; scheduling a new one
// overwrites the prior marker rather than queuing.
type PendingChange interface {
	// isPendingChange seals the variant set to this package.
	isPendingChange()
}

// NoPendingChange is the absent marker: nothing is scheduled.
type NoPendingChange struct{}

func (NoPendingChange) isPendingChange() {}

// DowngradeChange defers a move to a lower paid tier until EffectiveDate.
type DowngradeChange struct {
	NewPlan       PlanTier
	EffectiveDate time.Time
}

func (DowngradeChange) isPendingChange() {}

// CancelChange defers the revert to free until EffectiveDate, preserving
// paid access for the remainder of the billing period.
type CancelChange struct {
	EffectiveDate time.Time
}

func (CancelChange) isPendingChange() {}

// EffectiveDate returns the instant a pending change becomes due, and false
// for NoPendingChange.
func EffectiveDate(c PendingChange) (time.Time, bool) {
	switch v := c.(type) {
	case DowngradeChange:
		return v.EffectiveDate, true
	case CancelChange:
		return v.EffectiveDate, true
	default:
		return time.Time{}, false
	}
}

// TargetPlan returns the plan a pending change resolves to once applied.
// Cancellation always resolves to free. Returns false for NoPendingChange.
func TargetPlan(c PendingChange) (PlanTier, bool) {
	switch v := c.(type) {
	case DowngradeChange:
		return v.NewPlan, true
	case CancelChange:
		return PlanFree, true
	default:
		return "", false
	}
}

// HasPending reports whether a change is actually scheduled.
func HasPending(c PendingChange) bool {
	_, ok := EffectiveDate(c)
	return ok
}

// SweepResult summarizes one end-to-end pass of the sweep processor.
// Both the scheduled entry point and the manual trigger return this shape.
type SweepResult struct {
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Batches   int       `json:"batches"`
	Timestamp time.Time `json:"timestamp"`
}

// EntitlementEvent is the message published after a pending change has been
// committed, consumed by the downstream notification workers. The engine
// only guarantees the entitlement write; publishing is best-effort.
type EntitlementEvent struct {
	EventID      string    `json:"event_id"`
	UserID       string    `json:"user_id"`
	PreviousPlan PlanTier  `json:"previous_plan"`
	Plan         PlanTier  `json:"plan"`
	ChangeType   string    `json:"change_type"`
	AppliedAt    time.Time `json:"applied_at"`
}
