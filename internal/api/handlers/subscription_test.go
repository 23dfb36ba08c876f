package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"learnloop/internal/core"
	"learnloop/internal/subscription"
	"learnloop/internal/types"
)

// mockSubscriptionService implements SubscriptionService for testing.
type mockSubscriptionService struct {
	getEntitlementFn func(ctx context.Context, userID string) (types.Entitlement, error)
	requestChangeFn  func(ctx context.Context, userID string, req subscription.ChangeRequest) (subscription.ChangeResult, error)
}

func (m *mockSubscriptionService) GetEntitlement(ctx context.Context, userID string) (types.Entitlement, error) {
	if m.getEntitlementFn != nil {
		return m.getEntitlementFn(ctx, userID)
	}
	return types.Entitlement{
		Plan:    types.PlanPlus,
		Status:  types.SubStatusActive,
		Pending: types.NoPendingChange{},
	}, nil
}

func (m *mockSubscriptionService) RequestChange(ctx context.Context, userID string, req subscription.ChangeRequest) (subscription.ChangeResult, error) {
	if m.requestChangeFn != nil {
		return m.requestChangeFn(ctx, userID, req)
	}
	return subscription.ChangeResult{Status: subscription.StatusNoChange, Plan: types.PlanPlus}, nil
}

// mockSweepRunner implements SweepRunner for testing.
type mockSweepRunner struct {
	runFn func(ctx context.Context, now time.Time, ignoreEffectiveDate bool) (types.SweepResult, error)
	calls int
}

func (m *mockSweepRunner) Run(ctx context.Context, now time.Time, ignoreEffectiveDate bool) (types.SweepResult, error) {
	m.calls++
	if m.runFn != nil {
		return m.runFn(ctx, now, ignoreEffectiveDate)
	}
	return types.SweepResult{Timestamp: now}, nil
}

var (
	_ SubscriptionService = (*mockSubscriptionService)(nil)
	_ SweepRunner         = (*mockSweepRunner)(nil)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestRouter(svc SubscriptionService, sweeper SweepRunner) *chi.Mux {
	h := NewSubscriptionHandler(svc, sweeper, core.NewValidator(), testLogger())
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func contextWithActor(userID string, role types.UserRole) context.Context {
	ctx := types.WithRequestID(context.Background(), "req_test_1")
	return types.WithActor(ctx, types.Actor{UserID: userID, Role: role})
}

func makeRequest(method, path string, body interface{}, ctx context.Context) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	return req
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error body: %v\nbody: %s", err, rr.Body.String())
	}
	return resp.Error.Code
}

func TestGetSubscription_ReturnsRecord(t *testing.T) {
	expires := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	svc := &mockSubscriptionService{
		getEntitlementFn: func(ctx context.Context, userID string) (types.Entitlement, error) {
			if userID != "user_1" {
				t.Errorf("expected lookup for user_1, got %s", userID)
			}
			return types.Entitlement{
				Plan:      types.PlanPremium,
				Status:    types.SubStatusActive,
				Pending:   types.DowngradeChange{NewPlan: types.PlanPlus, EffectiveDate: expires},
				ExpiresAt: &expires,
			}, nil
		},
	}
	router := newTestRouter(svc, &mockSweepRunner{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest("GET", "/subscription", nil, contextWithActor("user_1", types.RoleStudent)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Data entitlementResponse `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	if resp.Data.Plan != types.PlanPremium {
		t.Errorf("expected plan premium, got %s", resp.Data.Plan)
	}
	if resp.Data.PendingChange == nil {
		t.Fatal("expected pending change in response")
	}
	if resp.Data.PendingChange.Type != types.PendingDowngrade || resp.Data.PendingChange.NewPlan != types.PlanPlus {
		t.Errorf("unexpected pending change: %+v", resp.Data.PendingChange)
	}
}

func TestGetSubscription_UserNotFound(t *testing.T) {
	svc := &mockSubscriptionService{
		getEntitlementFn: func(ctx context.Context, userID string) (types.Entitlement, error) {
			return types.Entitlement{}, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		},
	}
	router := newTestRouter(svc, &mockSweepRunner{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest("GET", "/subscription", nil, contextWithActor("user_x", types.RoleStudent)))

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != string(types.ErrCodeNotFoundUser) {
		t.Errorf("expected code %s, got %s", types.ErrCodeNotFoundUser, code)
	}
}

func TestChangeSubscription_ForwardsRequest(t *testing.T) {
	var gotReq subscription.ChangeRequest
	svc := &mockSubscriptionService{
		requestChangeFn: func(ctx context.Context, userID string, req subscription.ChangeRequest) (subscription.ChangeResult, error) {
			gotReq = req
			return subscription.ChangeResult{
				Status:      subscription.StatusUpgraded,
				Plan:        types.PlanPremium,
				CheckoutURL: "https://checkout.stripe.com/c/test",
			}, nil
		},
	}
	router := newTestRouter(svc, &mockSweepRunner{})

	body := ChangeSubscriptionRequest{Action: "change", Plan: "premium"}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest("POST", "/subscription/change", body, contextWithActor("user_1", types.RoleStudent)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotReq.Action != types.ActionChange || gotReq.NewPlan != types.PlanPremium {
		t.Errorf("unexpected forwarded request: %+v", gotReq)
	}

	var resp struct {
		Data subscription.ChangeResult `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	if resp.Data.Status != subscription.StatusUpgraded {
		t.Errorf("expected status upgraded, got %s", resp.Data.Status)
	}
	if resp.Data.CheckoutURL == "" {
		t.Error("expected checkout URL in response")
	}
}

func TestChangeSubscription_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		body interface{}
	}{
		{"missing action", ChangeSubscriptionRequest{Plan: "plus"}},
		{"unknown action", ChangeSubscriptionRequest{Action: "upgrade", Plan: "plus"}},
		{"unknown plan", ChangeSubscriptionRequest{Action: "change", Plan: "gold"}},
		{"change without plan", ChangeSubscriptionRequest{Action: "change"}},
		{"unknown field", map[string]string{"action": "change", "tier": "plus"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockSubscriptionService{
				requestChangeFn: func(ctx context.Context, userID string, req subscription.ChangeRequest) (subscription.ChangeResult, error) {
					t.Error("service must not be called for invalid input")
					return subscription.ChangeResult{}, nil
				},
			}
			router := newTestRouter(svc, &mockSweepRunner{})

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, makeRequest("POST", "/subscription/change", tc.body, contextWithActor("user_1", types.RoleStudent)))

			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestChangeSubscription_NoActorIs401(t *testing.T) {
	router := newTestRouter(&mockSubscriptionService{}, &mockSweepRunner{})

	body := ChangeSubscriptionRequest{Action: "cancel"}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest("POST", "/subscription/change", body, nil))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestApplyPending_AdminTriggersForcedSweep(t *testing.T) {
	var gotForce bool
	sweeper := &mockSweepRunner{
		runFn: func(ctx context.Context, now time.Time, ignoreEffectiveDate bool) (types.SweepResult, error) {
			gotForce = ignoreEffectiveDate
			return types.SweepResult{Processed: 7, Batches: 1, Timestamp: now}, nil
		},
	}
	router := newTestRouter(&mockSubscriptionService{}, sweeper)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest("POST", "/admin/subscriptions/apply-pending", nil, contextWithActor("admin_1", types.RoleAdmin)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !gotForce {
		t.Error("expected manual trigger to ignore effective dates")
	}

	var resp struct {
		Data types.SweepResult `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	if resp.Data.Processed != 7 {
		t.Errorf("expected 7 processed, got %d", resp.Data.Processed)
	}
}

func TestApplyPending_NonAdminIs403(t *testing.T) {
	sweeper := &mockSweepRunner{}
	router := newTestRouter(&mockSubscriptionService{}, sweeper)

	for _, role := range []types.UserRole{types.RoleStudent, types.RoleTeacher} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, makeRequest("POST", "/admin/subscriptions/apply-pending", nil, contextWithActor("user_1", role)))

		if rr.Code != http.StatusForbidden {
			t.Errorf("role %s: expected 403, got %d", role, rr.Code)
		}
	}
	if sweeper.calls != 0 {
		t.Errorf("expected no sweep runs, got %d", sweeper.calls)
	}
}

func TestApplyPending_SweepFailureIsSurfaced(t *testing.T) {
	sweeper := &mockSweepRunner{
		runFn: func(ctx context.Context, now time.Time, ignoreEffectiveDate bool) (types.SweepResult, error) {
			return types.SweepResult{}, types.NewAppError(types.ErrCodeStoreUnavailable, "mongo down", nil)
		},
	}
	router := newTestRouter(&mockSubscriptionService{}, sweeper)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest("POST", "/admin/subscriptions/apply-pending", nil, contextWithActor("admin_1", types.RoleAdmin)))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}
