//go:build integration

// Package test contains integration tests that exercise the full API stack
// against a real MongoDB instance running in Docker. These tests are skipped
// by default during `go test ./...` and must be run explicitly with the
// integration build tag:
//
//	go test -v -tags integration ./test/
//
// Prerequisites:
//   - Docker MongoDB running on localhost:27017
//   - MONGODB_URL set or default mongodb://localhost:27017
package test

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
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"learnloop/internal/api/handlers"
	"learnloop/internal/billing"
	"learnloop/internal/config"
	"learnloop/internal/core"
	"learnloop/internal/store"
	"learnloop/internal/subscription"
	"learnloop/internal/types"
)

const (
	testGracePeriod   = 720 * time.Hour
	testBillingPeriod = 720 * time.Hour
)

func testMongoURL() string {
	if url := os.Getenv("MONGODB_URL"); url != "" {
		return url
	}
	return "mongodb://localhost:27017"
}

// connectTestDB connects to the test database, skipping the test when the
// store is unavailable.
func connectTestDB(t *testing.T) *mongo.Database {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(testMongoURL()).SetConnectTimeout(3 * time.Second))
	if err != nil {
		t.Skipf("skipping integration test: cannot create client: %v", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		t.Skipf("skipping integration test: document store not available: %v", err)
	}

	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})
	return client.Database("learnloop_integration")
}

// cleanupTestData drops the users collection before and after each test for
// isolation.
func cleanupTestData(t *testing.T, db *mongo.Database) {
	t.Helper()
	if err := db.Collection("users").Drop(context.Background()); err != nil {
		t.Logf("cleanup: failed to drop users collection: %v", err)
	}
}

// staticAuthenticator resolves fixed tokens to actors, standing in for the
// external identity gateway.
type staticAuthenticator struct {
	tokens map[string]types.Actor
}

func (a *staticAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	actor, ok := a.tokens[token]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown token", nil)
	}
	return &actor, nil
}

// fakeCheckout replaces Stripe so the flow completes without network access.
type fakeCheckout struct{}

func (fakeCheckout) CreateCheckoutSession(_ context.Context, userID string, plan types.PlanTier) (string, error) {
	return "https://checkout.example.test/" + userID + "/" + string(plan), nil
}

type testStack struct {
	db      *mongo.Database
	handler http.Handler
	sweeper *subscription.SweepProcessor
	store   *store.EntitlementStore
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	db := connectTestDB(t)
	cleanupTestData(t, db)
	t.Cleanup(func() { cleanupTestData(t, db) })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	entStore := store.NewEntitlementStore(db, logger)
	classifier := billing.NewClassifier(testGracePeriod, testBillingPeriod)
	changeSvc := subscription.NewChangeService(entStore, fakeCheckout{}, classifier, testBillingPeriod, logger)
	sweeper := subscription.NewSweepProcessor(entStore, nil, nil, testBillingPeriod, 500, logger)

	cfg := &config.Config{}
	cfg.Server.DashboardURL = "https://app.learnloop.test"

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	srv.Authenticator = &staticAuthenticator{tokens: map[string]types.Actor{
		"tok_student": {UserID: "user_student", Role: types.RoleStudent},
		"tok_admin":   {UserID: "user_admin", Role: types.RoleAdmin},
	}}
	srv.HealthProbes = []core.HealthProbe{store.PingProbe{DB: db}}

	subHandler := handlers.NewSubscriptionHandler(changeSvc, sweeper, srv.Validator, logger)
	srv.V1RouteRegistrars = []func(chi.Router){subHandler.RegisterRoutes}
	srv.MountRoutes()

	return &testStack{db: db, handler: srv.Handler(), sweeper: sweeper, store: entStore}
}

func (s *testStack) seedUser(t *testing.T, userID string) {
	t.Helper()
	_, err := s.db.Collection("users").InsertOne(context.Background(), bson.M{
		"_id":   userID,
		"email": userID + "@learnloop.test",
	})
	if err != nil {
		t.Fatalf("failed to seed user %s: %v", userID, err)
	}
}

func (s *testStack) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func TestIntegration_HealthCheck(t *testing.T) {
	stack := newTestStack(t)

	rr := stack.do(t, "GET", "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestIntegration_UpgradeThenReadBack(t *testing.T) {
	stack := newTestStack(t)
	stack.seedUser(t, "user_student")

	rr := stack.do(t, "POST", "/v1/subscription/change", "tok_student",
		map[string]string{"action": "change", "plan": "plus"})
	if rr.Code != http.StatusOK {
		t.Fatalf("change: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var changeResp struct {
		Data subscription.ChangeResult `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &changeResp); err != nil {
		t.Fatalf("failed to parse change response: %v", err)
	}
	if changeResp.Data.Status != subscription.StatusUpgraded {
		t.Errorf("expected upgraded, got %s", changeResp.Data.Status)
	}
	if changeResp.Data.CheckoutURL == "" {
		t.Error("expected checkout URL")
	}

	rr = stack.do(t, "GET", "/v1/subscription", "tok_student", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("read: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var readResp struct {
		Data struct {
			Plan   string `json:"plan"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &readResp); err != nil {
		t.Fatalf("failed to parse read response: %v", err)
	}
	if readResp.Data.Plan != "plus" || readResp.Data.Status != "active" {
		t.Errorf("unexpected record after upgrade: %+v", readResp.Data)
	}
}

func TestIntegration_CancelSweepLifecycle(t *testing.T) {
	stack := newTestStack(t)
	stack.seedUser(t, "user_student")

	// Upgrade, then cancel; the cancel only schedules a marker.
	rr := stack.do(t, "POST", "/v1/subscription/change", "tok_student",
		map[string]string{"action": "change", "plan": "premium"})
	if rr.Code != http.StatusOK {
		t.Fatalf("upgrade: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = stack.do(t, "POST", "/v1/subscription/change", "tok_student",
		map[string]string{"action": "cancel"})
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	ctx := context.Background()
	ent, err := stack.store.Get(ctx, "user_student")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if ent.Plan != types.PlanPremium || !types.HasPending(ent.Pending) {
		t.Fatalf("expected premium with pending cancel, got %+v", ent)
	}

	// A scheduled sweep leaves the not-yet-due marker alone.
	result, err := stack.sweeper.Run(ctx, time.Now().UTC(), false)
	if err != nil {
		t.Fatalf("sweep returned error: %v", err)
	}
	if result.Processed != 0 {
		t.Errorf("expected nothing due yet, processed %d", result.Processed)
	}

	// The admin trigger applies it regardless of effective date.
	rr = stack.do(t, "POST", "/v1/admin/subscriptions/apply-pending", "tok_admin", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("apply-pending: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var sweepResp struct {
		Data types.SweepResult `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &sweepResp); err != nil {
		t.Fatalf("failed to parse sweep response: %v", err)
	}
	if sweepResp.Data.Processed != 1 {
		t.Errorf("expected 1 processed, got %d", sweepResp.Data.Processed)
	}

	ent, err = stack.store.Get(ctx, "user_student")
	if err != nil {
		t.Fatalf("Get after apply returned error: %v", err)
	}
	if ent.Plan != types.PlanFree || ent.Status != types.SubStatusInactive {
		t.Errorf("expected free/inactive after cancel applied, got %+v", ent)
	}
	if types.HasPending(ent.Pending) {
		t.Error("expected pending marker cleared")
	}

	// Re-running the apply matches nothing; the store has converged.
	result, err = stack.sweeper.Run(ctx, time.Now().UTC(), true)
	if err != nil {
		t.Fatalf("second sweep returned error: %v", err)
	}
	if result.Processed != 0 {
		t.Errorf("expected idempotent second run, processed %d", result.Processed)
	}
}

func TestIntegration_AdminTriggerRequiresAdmin(t *testing.T) {
	stack := newTestStack(t)

	rr := stack.do(t, "POST", "/v1/admin/subscriptions/apply-pending", "tok_student", nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 for student, got %d", rr.Code)
	}

	rr = stack.do(t, "POST", "/v1/admin/subscriptions/apply-pending", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rr.Code)
	}
}

func TestIntegration_UnknownUserIs404(t *testing.T) {
	stack := newTestStack(t)

	rr := stack.do(t, "GET", "/v1/subscription", "tok_student", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unseeded user, got %d: %s", rr.Code, rr.Body.String())
	}
}
