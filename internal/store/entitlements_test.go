package store

import (
	"testing"
	"time"

	"learnloop/internal/types"
)

func TestEncodePendingChange_Downgrade(t *testing.T) {
	eff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	doc := encodePendingChange(types.DowngradeChange{NewPlan: types.PlanPlus, EffectiveDate: eff})

	if doc == nil {
		t.Fatal("expected a document for a downgrade")
	}
	if doc.Type != types.PendingDowngrade {
		t.Errorf("expected type downgrade, got %s", doc.Type)
	}
	if doc.NewPlan != types.PlanPlus {
		t.Errorf("expected newPlan plus, got %s", doc.NewPlan)
	}
	if doc.EffectiveDate == nil || !doc.EffectiveDate.Equal(eff) {
		t.Errorf("expected effective date %v, got %v", eff, doc.EffectiveDate)
	}
}

func TestEncodePendingChange_Cancel(t *testing.T) {
	eff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	doc := encodePendingChange(types.CancelChange{EffectiveDate: eff})

	if doc == nil {
		t.Fatal("expected a document for a cancellation")
	}
	if doc.Type != types.PendingCancel {
		t.Errorf("expected type cancel, got %s", doc.Type)
	}
	if doc.NewPlan != "" {
		t.Errorf("expected no newPlan on cancel, got %s", doc.NewPlan)
	}
}

func TestEncodePendingChange_NoneIsNil(t *testing.T) {
	if doc := encodePendingChange(types.NoPendingChange{}); doc != nil {
		t.Errorf("expected nil for no pending change, got %+v", doc)
	}
}

func TestDecodePendingChange_RoundTrip(t *testing.T) {
	eff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	changes := []types.PendingChange{
		types.DowngradeChange{NewPlan: types.PlanFree, EffectiveDate: eff},
		types.DowngradeChange{NewPlan: types.PlanPlus, EffectiveDate: eff},
		types.CancelChange{EffectiveDate: eff},
	}
	for _, change := range changes {
		decoded, malformed := decodePendingChange(encodePendingChange(change))
		if malformed {
			t.Errorf("round trip of %T reported malformed", change)
			continue
		}
		if decoded != change {
			t.Errorf("round trip of %T returned %+v", change, decoded)
		}
	}
}

func TestDecodePendingChange_NilIsNone(t *testing.T) {
	decoded, malformed := decodePendingChange(nil)
	if malformed {
		t.Error("nil document must not be malformed")
	}
	if _, ok := decoded.(types.NoPendingChange); !ok {
		t.Errorf("expected NoPendingChange, got %T", decoded)
	}
}

func TestDecodePendingChange_MalformedShapes(t *testing.T) {
	eff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		doc  *pendingChangeDoc
	}{
		{"unknown type", &pendingChangeDoc{Type: "pause", EffectiveDate: &eff}},
		{"empty type", &pendingChangeDoc{NewPlan: types.PlanPlus, EffectiveDate: &eff}},
		{"downgrade without plan", &pendingChangeDoc{Type: types.PendingDowngrade, EffectiveDate: &eff}},
		{"downgrade without date", &pendingChangeDoc{Type: types.PendingDowngrade, NewPlan: types.PlanPlus}},
		{"cancel without date", &pendingChangeDoc{Type: types.PendingCancel}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, malformed := decodePendingChange(tc.doc)
			if !malformed {
				t.Error("expected document to be reported malformed")
			}
		})
	}
}
