// Package handlers contains the HTTP handler implementations for the
// LearnLoop subscription API: the self-serve plan-change endpoints and the
// admin trigger for applying pending changes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"learnloop/internal/core"
	"learnloop/internal/subscription"
	"learnloop/internal/types"
)

// SubscriptionService is the service contract the handler consumes.
// Implemented by subscription.ChangeService; injected for test mocking.
type SubscriptionService interface {
	GetEntitlement(ctx context.Context, userID string) (types.Entitlement, error)
	RequestChange(ctx context.Context, userID string, req subscription.ChangeRequest) (subscription.ChangeResult, error)
}

// SweepRunner triggers one pass of the pending-change processor.
// Implemented by subscription.SweepProcessor.
type SweepRunner interface {
	Run(ctx context.Context, now time.Time, ignoreEffectiveDate bool) (types.SweepResult, error)
}

// ChangeSubscriptionRequest is the body for POST /v1/subscription/change.
type ChangeSubscriptionRequest struct {
	Action string `json:"action" validate:"required,oneof=change cancel reactivate"`
	Plan   string `json:"plan" validate:"omitempty,oneof=free plus premium institution"`
}

// entitlementResponse is the read shape for GET /v1/subscription.
type entitlementResponse struct {
	Plan          types.PlanTier           `json:"plan"`
	Status        types.SubscriptionStatus `json:"status"`
	PendingChange *pendingChangeView       `json:"pending_change,omitempty"`
	ExpiresAt     *time.Time               `json:"expires_at,omitempty"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

type pendingChangeView struct {
	Type          types.PendingChangeType `json:"type"`
	NewPlan       types.PlanTier          `json:"new_plan,omitempty"`
	EffectiveDate time.Time               `json:"effective_date"`
}

// SubscriptionHandler handles the subscription lifecycle endpoints.
type SubscriptionHandler struct {
	service   SubscriptionService
	sweeper   SweepRunner
	validator *core.Validator
	logger    *slog.Logger
}

func NewSubscriptionHandler(svc SubscriptionService, sweeper SweepRunner, v *core.Validator, l *slog.Logger) *SubscriptionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SubscriptionHandler{
		service:   svc,
		sweeper:   sweeper,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the subscription endpoints. The parent router has
// already applied authentication; the admin trigger additionally requires
// the admin role.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/subscription", h.GetSubscription)
	r.Post("/subscription/change", h.ChangeSubscription)
	r.With(requireMinRole(types.RoleAdmin)).Post("/admin/subscriptions/apply-pending", h.ApplyPending)
}

// requireMinRole gates a route on the actor's role without referencing
// core.Server, keeping the handler package self-contained.
func requireMinRole(minRole types.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := types.GetActor(r.Context())
			if !ok {
				core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
				return
			}
			if !actor.RoleHasAtLeast(minRole) {
				core.Error(w, r, types.NewAppError(types.ErrCodePermissionRole, "Insufficient role for this operation", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetSubscription handles GET /v1/subscription: the caller's own
// entitlement record.
func (h *SubscriptionHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	ent, err := h.service.GetEntitlement(r.Context(), actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toEntitlementResponse(ent)})
}

// ChangeSubscription handles POST /v1/subscription/change. The requested
// action is classified server-side; the response says what actually
// happened (an immediate change, a scheduled one, or a sales referral).
func (h *SubscriptionHandler) ChangeSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	var req ChangeSubscriptionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.Action == string(types.ActionChange) && req.Plan == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"plan is required when action is change", nil))
		return
	}

	result, err := h.service.RequestChange(r.Context(), actor.UserID, subscription.ChangeRequest{
		NewPlan: types.PlanTier(req.Plan),
		Action:  types.ChangeAction(req.Action),
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// ApplyPending handles POST /v1/admin/subscriptions/apply-pending: a manual
// trigger that applies every pending change regardless of effective date.
func (h *SubscriptionHandler) ApplyPending(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())
	h.logger.InfoContext(r.Context(), "manual pending-change apply triggered",
		"admin_user_id", actor.UserID)

	result, err := h.sweeper.Run(r.Context(), time.Now().UTC(), true)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

func toEntitlementResponse(ent types.Entitlement) entitlementResponse {
	resp := entitlementResponse{
		Plan:      ent.Plan,
		Status:    ent.Status,
		ExpiresAt: ent.ExpiresAt,
		UpdatedAt: ent.UpdatedAt,
	}

	switch c := ent.Pending.(type) {
	case types.DowngradeChange:
		resp.PendingChange = &pendingChangeView{
			Type:          types.PendingDowngrade,
			NewPlan:       c.NewPlan,
			EffectiveDate: c.EffectiveDate,
		}
	case types.CancelChange:
		resp.PendingChange = &pendingChangeView{
			Type:          types.PendingCancel,
			EffectiveDate: c.EffectiveDate,
		}
	}

	return resp
}
