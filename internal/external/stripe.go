package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"learnloop/internal/types"
)

// stripeAPIBase is the default Stripe API base URL, overridable in tests.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey    string
	DashboardURL string
	BaseURL      string // override for testing; defaults to stripeAPIBase
	Logger       *slog.Logger
}

// StripeClient creates hosted checkout sessions by calling the Stripe REST
// API through BaseClient, so payment calls share the platform's circuit
// breaker and retry behavior and stay easy to test with httptest.
type StripeClient struct {
	base         *BaseClient
	secretKey    string
	baseURL      string
	dashboardURL string
	logger       *slog.Logger
}

func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(httpClient, "stripe", DefaultRetryPolicy(), "LearnLoop/1.0")

	return &StripeClient{
		base:         base,
		secretKey:    cfg.SecretKey,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		dashboardURL: strings.TrimSuffix(cfg.DashboardURL, "/"),
		logger:       logger,
	}
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. Useful in tests to control retry and breaker settings.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	c := NewStripeClient(http.DefaultClient, cfg)
	c.base = base
	return c
}

// CreateCheckoutSession generates a Stripe Checkout Session URL for the
// requested paid tier. The session carries the user ID as
// client_reference_id so payment confirmations correlate back to the user.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, userID string, plan types.PlanTier) (string, error) {
	priceID, ok := planPrices[plan]
	if !ok {
		return "", types.NewInvalidPlanError(plan)
	}

	params := url.Values{}
	params.Set("mode", "subscription")
	params.Set("client_reference_id", userID)
	params.Set("success_url", s.dashboardURL+"/account?checkout=success")
	params.Set("cancel_url", s.dashboardURL+"/account?checkout=cancelled")
	params.Set("metadata[user_id]", userID)
	params.Set("metadata[plan]", string(plan))
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response", err)
	}

	s.logger.InfoContext(ctx, "checkout session created",
		"user_id", userID,
		"plan", plan,
		"session_id", session.ID)

	return session.URL, nil
}

// doPost performs an authenticated POST to the Stripe API with a
// form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	return s.base.Do(req)
}

// stripeErrorResponse is the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type stripeCheckoutSession struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with an unreadable body", operation, resp.StatusCode), readErr)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with a non-JSON body", operation, resp.StatusCode), jsonErr)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation), nil)
	case resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Error.Message), nil)
	default:
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message), nil)
	}
}

// wrapStripeError passes through AppErrors already mapped by BaseClient and
// wraps raw transport failures.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed", operation), err)
}

// planPrices maps the self-serve paid tiers to their Stripe Price IDs.
// Institution has no price; it is sold through sales contact only.
var planPrices = map[types.PlanTier]string{
	types.PlanPlus:    "price_learnloop_plus_monthly",
	types.PlanPremium: "price_learnloop_premium_monthly",
}

// DefaultHTTPClient returns the http.Client vendor clients should use.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 20 * time.Second}
}
