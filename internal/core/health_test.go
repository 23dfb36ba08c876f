package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// stubProbe implements HealthProbe for testing.
type stubProbe struct {
	name    string
	checkFn func(ctx context.Context) error
}

func (p stubProbe) Name() string { return p.name }

func (p stubProbe) Check(ctx context.Context) error {
	if p.checkFn != nil {
		return p.checkFn(ctx)
	}
	return nil
}

func runHealth(t *testing.T, probes ...HealthProbe) (*httptest.ResponseRecorder, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.HealthProbes = probes

	rr := httptest.NewRecorder()
	srv.HandleHealth(rr, httptest.NewRequest("GET", "/health", nil))

	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse health response: %v\nbody: %s", err, rr.Body.String())
	}
	return rr, resp
}

func TestHandleHealth_NoProbes(t *testing.T) {
	rr, resp := runHealth(t)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected healthy, got %s", resp.Status)
	}
}

func TestHandleHealth_AllProbesHealthy(t *testing.T) {
	rr, resp := runHealth(t,
		stubProbe{name: "mongodb"},
		stubProbe{name: "sqs"},
	)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if resp.Components["mongodb"].Status != "healthy" {
		t.Errorf("expected mongodb healthy, got %+v", resp.Components["mongodb"])
	}
	if resp.Components["sqs"].Status != "healthy" {
		t.Errorf("expected sqs healthy, got %+v", resp.Components["sqs"])
	}
}

func TestHandleHealth_FailingProbeIs503(t *testing.T) {
	rr, resp := runHealth(t,
		stubProbe{name: "mongodb", checkFn: func(ctx context.Context) error {
			return errors.New("server selection timeout")
		}},
		stubProbe{name: "sqs"},
	)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("expected unhealthy, got %s", resp.Status)
	}
	if resp.Components["mongodb"].Status != "unhealthy" {
		t.Errorf("expected mongodb unhealthy, got %+v", resp.Components["mongodb"])
	}
	if resp.Components["sqs"].Status != "healthy" {
		t.Errorf("expected sqs still healthy, got %+v", resp.Components["sqs"])
	}
}

func TestHandleHealth_HungProbeTimesOut(t *testing.T) {
	rr, resp := runHealth(t,
		stubProbe{name: "mongodb", checkFn: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(healthCheckTimeout + time.Second):
				return nil
			}
		}},
	)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
	if resp.Components["mongodb"].Status != "unhealthy" {
		t.Errorf("expected mongodb unhealthy, got %+v", resp.Components["mongodb"])
	}
}
