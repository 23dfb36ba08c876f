package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"learnloop/internal/subscription"
	"learnloop/internal/types"
)

const usersCollection = "users"

// pendingChangeDoc is the stored shape of a scheduled plan change. A null
// subscription.pendingPlanChange field means nothing is scheduled.
type pendingChangeDoc struct {
	Type          types.PendingChangeType `bson:"type"`
	NewPlan       types.PlanTier          `bson:"newPlan,omitempty"`
	EffectiveDate *time.Time              `bson:"effectiveDate,omitempty"`
}

type subscriptionDoc struct {
	Plan          types.PlanTier           `bson:"plan"`
	Status        types.SubscriptionStatus `bson:"status"`
	PendingChange *pendingChangeDoc        `bson:"pendingPlanChange"`
	ExpiresAt     *time.Time               `bson:"expiresAt,omitempty"`
	UpdatedAt     time.Time                `bson:"updatedAt"`
}

type userDoc struct {
	ID           string           `bson:"_id"`
	Subscription *subscriptionDoc `bson:"subscription,omitempty"`
}

// EntitlementStore reads and writes the subscription sub-document on user
// profiles. It satisfies both subscription.RecordStore and
// subscription.SweepStore.
type EntitlementStore struct {
	users  *mongo.Collection
	logger *slog.Logger
}

func NewEntitlementStore(db *mongo.Database, logger *slog.Logger) *EntitlementStore {
	return &EntitlementStore{
		users:  db.Collection(usersCollection),
		logger: logger,
	}
}

// Get returns the user's entitlement record. A user document without a
// subscription sub-document is reported on the default free tier; a missing
// user document is an error.
func (s *EntitlementStore) Get(ctx context.Context, userID string) (types.Entitlement, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return types.Entitlement{}, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", err)
	}
	if err != nil {
		return types.Entitlement{}, types.NewAppError(types.ErrCodeStoreUnavailable, "reading entitlement failed", err)
	}
	if doc.Subscription == nil {
		return types.DefaultEntitlement(), nil
	}

	sub := doc.Subscription
	pending, malformed := decodePendingChange(sub.PendingChange)
	if malformed {
		return types.Entitlement{}, types.NewAppError(types.ErrCodePendingChangeMalformed, "stored pending change is malformed", nil)
	}
	return types.Entitlement{
		Plan:      sub.Plan,
		Status:    sub.Status,
		Pending:   pending,
		ExpiresAt: sub.ExpiresAt,
		UpdatedAt: sub.UpdatedAt,
	}, nil
}

// SetPlan commits an immediate plan change: the plan and its derived status
// are written, any scheduled change is cleared, and updatedAt is stamped by
// the server. Upsert covers users whose profile has no subscription
// sub-document yet.
func (s *EntitlementStore) SetPlan(ctx context.Context, userID string, plan types.PlanTier, expiresAt *time.Time) error {
	set := bson.M{
		"subscription.plan":              plan,
		"subscription.status":            types.StatusForPlan(plan),
		"subscription.pendingPlanChange": nil,
	}
	update := bson.M{
		"$set":         set,
		"$currentDate": bson.M{"subscription.updatedAt": true},
	}
	if expiresAt != nil {
		set["subscription.expiresAt"] = *expiresAt
	} else {
		update["$unset"] = bson.M{"subscription.expiresAt": ""}
	}

	_, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return types.NewAppError(types.ErrCodeStoreUnavailable, "writing plan failed", err)
	}
	return nil
}

// SchedulePendingChange stores a deferred change marker on the record,
// replacing any marker already present. Nothing else on the record changes
// until the sweep applies it.
func (s *EntitlementStore) SchedulePendingChange(ctx context.Context, userID string, change types.PendingChange) error {
	doc := encodePendingChange(change)
	if doc == nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "cannot schedule an empty pending change", nil)
	}

	update := bson.M{
		"$set":         bson.M{"subscription.pendingPlanChange": doc},
		"$currentDate": bson.M{"subscription.updatedAt": true},
	}
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return types.NewAppError(types.ErrCodeStoreUnavailable, "scheduling pending change failed", err)
	}
	if res.MatchedCount == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// ClearPendingChange removes the scheduled change and restores active
// status, leaving the plan untouched. refreshExpiry, when set, extends a
// lapsed billing window.
func (s *EntitlementStore) ClearPendingChange(ctx context.Context, userID string, refreshExpiry *time.Time) error {
	set := bson.M{
		"subscription.pendingPlanChange": nil,
		"subscription.status":            types.SubStatusActive,
	}
	if refreshExpiry != nil {
		set["subscription.expiresAt"] = *refreshExpiry
	}
	update := bson.M{
		"$set":         set,
		"$currentDate": bson.M{"subscription.updatedAt": true},
	}

	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return types.NewAppError(types.ErrCodeStoreUnavailable, "clearing pending change failed", err)
	}
	if res.MatchedCount == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// ListPendingChanges scans every user carrying a scheduled change. Records
// whose stored change cannot be decoded are returned with Malformed set so
// the sweep can skip and count them instead of aborting.
func (s *EntitlementStore) ListPendingChanges(ctx context.Context) ([]subscription.PendingRecord, error) {
	filter := bson.M{"subscription.pendingPlanChange": bson.M{"$ne": nil}}
	cursor, err := s.users.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []subscription.PendingRecord
	for cursor.Next(ctx) {
		var doc userDoc
		if err := cursor.Decode(&doc); err != nil {
			userID, _ := cursor.Current.Lookup("_id").StringValueOK()
			s.logger.WarnContext(ctx, "undecodable pending change document",
				"user_id", userID,
				"error", err)
			records = append(records, subscription.PendingRecord{UserID: userID, Malformed: true})
			continue
		}
		if doc.Subscription == nil {
			records = append(records, subscription.PendingRecord{UserID: doc.ID, Malformed: true})
			continue
		}

		pending, malformed := decodePendingChange(doc.Subscription.PendingChange)
		records = append(records, subscription.PendingRecord{
			UserID:    doc.ID,
			Plan:      doc.Subscription.Plan,
			Change:    pending,
			Malformed: malformed,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// CommitApplies writes one batch of due plan changes in a single unordered
// bulk call. Each write is guarded by a pendingPlanChange non-null filter,
// so a change already applied by a concurrent run matches zero documents
// and the batch stays idempotent.
func (s *EntitlementStore) CommitApplies(ctx context.Context, updates []subscription.ApplyUpdate) (int64, error) {
	models := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		set := bson.M{
			"subscription.plan":              u.NewPlan,
			"subscription.status":            u.Status,
			"subscription.pendingPlanChange": nil,
		}
		update := bson.M{
			"$set":         set,
			"$currentDate": bson.M{"subscription.updatedAt": true},
		}
		if u.ExpiresAt != nil {
			set["subscription.expiresAt"] = *u.ExpiresAt
		} else {
			update["$unset"] = bson.M{"subscription.expiresAt": ""}
		}

		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{
				"_id":                            u.UserID,
				"subscription.pendingPlanChange": bson.M{"$ne": nil},
			}).
			SetUpdate(update))
	}

	res, err := s.users.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// encodePendingChange maps the in-memory variant to its stored shape.
// NoPendingChange maps to nil, which is stored as an explicit null.
func encodePendingChange(change types.PendingChange) *pendingChangeDoc {
	switch c := change.(type) {
	case types.DowngradeChange:
		eff := c.EffectiveDate
		return &pendingChangeDoc{Type: types.PendingDowngrade, NewPlan: c.NewPlan, EffectiveDate: &eff}
	case types.CancelChange:
		eff := c.EffectiveDate
		return &pendingChangeDoc{Type: types.PendingCancel, EffectiveDate: &eff}
	default:
		return nil
	}
}

// decodePendingChange maps the stored shape back to a variant. A document
// with an unknown type, or one missing the fields its type requires, is
// reported malformed rather than guessed at.
func decodePendingChange(doc *pendingChangeDoc) (types.PendingChange, bool) {
	if doc == nil {
		return types.NoPendingChange{}, false
	}
	switch doc.Type {
	case types.PendingDowngrade:
		if doc.NewPlan == "" || doc.EffectiveDate == nil {
			return types.NoPendingChange{}, true
		}
		return types.DowngradeChange{NewPlan: doc.NewPlan, EffectiveDate: *doc.EffectiveDate}, false
	case types.PendingCancel:
		if doc.EffectiveDate == nil {
			return types.NoPendingChange{}, true
		}
		return types.CancelChange{EffectiveDate: *doc.EffectiveDate}, false
	default:
		return types.NoPendingChange{}, true
	}
}
