// Package subscription implements the plan-change lifecycle: classifying a
// requested change against the current entitlement record, committing
// immediate changes, scheduling deferred ones, and sweeping pending changes
// once they fall due.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"learnloop/internal/billing"
	"learnloop/internal/types"
)

// RecordStore is the slice of the entitlement store the change service needs.
type RecordStore interface {
	Get(ctx context.Context, userID string) (types.Entitlement, error)
	SetPlan(ctx context.Context, userID string, plan types.PlanTier, expiresAt *time.Time) error
	SchedulePendingChange(ctx context.Context, userID string, change types.PendingChange) error
	ClearPendingChange(ctx context.Context, userID string, refreshExpiry *time.Time) error
}

// CheckoutProvider creates a hosted payment session for paid-tier upgrades.
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, userID string, plan types.PlanTier) (string, error)
}

// ChangeRequest is a validated plan-change request for a single user.
type ChangeRequest struct {
	NewPlan types.PlanTier
	Action  types.ChangeAction
}

// ChangeResult reports what the service did with a request. Exactly one of
// the optional fields is set depending on Status.
type ChangeResult struct {
	Status        ChangeStatus   `json:"status"`
	Plan          types.PlanTier `json:"plan"`
	CheckoutURL   string         `json:"checkout_url,omitempty"`
	EffectiveDate *time.Time     `json:"effective_date,omitempty"`
}

// ChangeStatus enumerates the observable outcomes of a change request.
type ChangeStatus string

const (
	StatusUpgraded           ChangeStatus = "upgraded"
	StatusScheduledDowngrade ChangeStatus = "scheduled_downgrade"
	StatusScheduledCancel    ChangeStatus = "scheduled_cancellation"
	StatusReactivated        ChangeStatus = "reactivated"
	StatusNoChange           ChangeStatus = "no_change"
	StatusContactSales       ChangeStatus = "contact_sales"
)

// ChangeService coordinates classification and the entitlement writes that
// follow from it.
type ChangeService struct {
	store         RecordStore
	checkout      CheckoutProvider
	classifier    *billing.Classifier
	billingPeriod time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

func NewChangeService(store RecordStore, checkout CheckoutProvider, classifier *billing.Classifier, billingPeriod time.Duration, logger *slog.Logger) *ChangeService {
	return &ChangeService{
		store:         store,
		checkout:      checkout,
		classifier:    classifier,
		billingPeriod: billingPeriod,
		logger:        logger,
		now:           time.Now,
	}
}

// GetEntitlement returns the user's current entitlement record. Users with no
// record yet are reported on the default free tier.
func (s *ChangeService) GetEntitlement(ctx context.Context, userID string) (types.Entitlement, error) {
	return s.store.Get(ctx, userID)
}

// RequestChange classifies and executes a plan-change request. Every outcome
// is reported back to the caller; a failed write is always surfaced as an
// error, never swallowed.
func (s *ChangeService) RequestChange(ctx context.Context, userID string, req ChangeRequest) (ChangeResult, error) {
	ent, err := s.store.Get(ctx, userID)
	if err != nil {
		return ChangeResult{}, err
	}

	now := s.now()
	outcome, err := s.classifier.Classify(ent.Plan, req.NewPlan, req.Action, now)
	if err != nil {
		return ChangeResult{}, err
	}

	switch o := outcome.(type) {
	case billing.Immediate:
		return s.applyImmediate(ctx, userID, o.NewPlan, now)
	case billing.Deferred:
		return s.scheduleDeferred(ctx, userID, ent.Plan, o.Change)
	case billing.Reactivate:
		return s.reactivate(ctx, userID, ent, now)
	case billing.ContactSales:
		s.logger.InfoContext(ctx, "plan change routed to sales",
			"user_id", userID,
			"current_plan", ent.Plan,
			"requested_plan", req.NewPlan)
		return ChangeResult{Status: StatusContactSales, Plan: ent.Plan}, nil
	case billing.NoChange:
		return ChangeResult{Status: StatusNoChange, Plan: ent.Plan}, nil
	default:
		return ChangeResult{}, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("unhandled classification outcome %T", outcome), nil)
	}
}

func (s *ChangeService) applyImmediate(ctx context.Context, userID string, plan types.PlanTier, now time.Time) (ChangeResult, error) {
	checkoutURL, err := s.checkout.CreateCheckoutSession(ctx, userID, plan)
	if err != nil {
		return ChangeResult{}, err
	}

	expiresAt := now.Add(s.billingPeriod)
	if err := s.store.SetPlan(ctx, userID, plan, &expiresAt); err != nil {
		return ChangeResult{}, err
	}

	s.logger.InfoContext(ctx, "plan upgraded",
		"user_id", userID,
		"plan", plan,
		"expires_at", expiresAt)

	return ChangeResult{Status: StatusUpgraded, Plan: plan, CheckoutURL: checkoutURL}, nil
}

func (s *ChangeService) scheduleDeferred(ctx context.Context, userID string, currentPlan types.PlanTier, change types.PendingChange) (ChangeResult, error) {
	// Scheduling overwrites any pending change already on the record; the
	// latest request wins.
	if err := s.store.SchedulePendingChange(ctx, userID, change); err != nil {
		return ChangeResult{}, err
	}

	switch c := change.(type) {
	case types.DowngradeChange:
		s.logger.InfoContext(ctx, "downgrade scheduled",
			"user_id", userID,
			"current_plan", currentPlan,
			"new_plan", c.NewPlan,
			"effective_date", c.EffectiveDate)
		eff := c.EffectiveDate
		return ChangeResult{Status: StatusScheduledDowngrade, Plan: currentPlan, EffectiveDate: &eff}, nil
	case types.CancelChange:
		s.logger.InfoContext(ctx, "cancellation scheduled",
			"user_id", userID,
			"current_plan", currentPlan,
			"effective_date", c.EffectiveDate)
		eff := c.EffectiveDate
		return ChangeResult{Status: StatusScheduledCancel, Plan: currentPlan, EffectiveDate: &eff}, nil
	default:
		return ChangeResult{}, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("unhandled pending change %T", change), nil)
	}
}

func (s *ChangeService) reactivate(ctx context.Context, userID string, ent types.Entitlement, now time.Time) (ChangeResult, error) {
	if ent.Plan == types.PlanFree {
		return ChangeResult{}, types.NewAppError(types.ErrCodeValidationInvalidChange,
			"no paid subscription to reactivate", nil)
	}

	// Keep the existing billing window unless it has already lapsed.
	var refresh *time.Time
	if ent.ExpiresAt == nil || ent.ExpiresAt.Before(now) {
		exp := now.Add(s.billingPeriod)
		refresh = &exp
	}

	if err := s.store.ClearPendingChange(ctx, userID, refresh); err != nil {
		return ChangeResult{}, err
	}

	s.logger.InfoContext(ctx, "subscription reactivated",
		"user_id", userID,
		"plan", ent.Plan)

	return ChangeResult{Status: StatusReactivated, Plan: ent.Plan}, nil
}
