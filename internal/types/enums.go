package types

// PlanTier identifies the subscription plan for a user.
// Tiers form a total order used to classify plan changes; see billing.PlanRank.
type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanPlus    PlanTier = "plus"
	PlanPremium PlanTier = "premium"
	// PlanInstitution is a terminal tier sold through manual sales contact.
	// It participates in rank comparisons but is excluded from every
	// automatic transition path.
	PlanInstitution PlanTier = "institution"
)

// SubscriptionStatus represents the entitlement state of a user.
// Derived from the plan: free implies inactive, any paid tier implies active.
type SubscriptionStatus string

const (
	SubStatusInactive SubscriptionStatus = "inactive"
	SubStatusActive   SubscriptionStatus = "active"
)

// StatusForPlan returns the derived subscription status for a plan tier.
func StatusForPlan(plan PlanTier) SubscriptionStatus {
	if plan == PlanFree {
		return SubStatusInactive
	}
	return SubStatusActive
}

// PendingChangeType discriminates the kind of deferred plan change stored
// on a user's record.
type PendingChangeType string

const (
	PendingDowngrade PendingChangeType = "downgrade"
	PendingCancel    PendingChangeType = "cancel"
)

// ChangeAction is the action requested by the synchronous plan-change endpoint.
type ChangeAction string

const (
	ActionChange     ChangeAction = "change"
	ActionCancel     ChangeAction = "cancel"
	ActionReactivate ChangeAction = "reactivate"
)

// UserRole defines authorization levels supplied by the identity provider.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleTeacher UserRole = "teacher"
	RoleStudent UserRole = "student"
)
