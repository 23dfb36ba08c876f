package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"learnloop/internal/types"
)

// PendingRecord is one entitlement record carrying a scheduled change, as
// returned by the store scan. Malformed marks records whose stored change
// could not be decoded; the sweep skips and counts them instead of failing
// the run.
type PendingRecord struct {
	UserID    string
	Plan      types.PlanTier
	Change    types.PendingChange
	Malformed bool
}

// ApplyUpdate is one staged write applying a due pending change.
type ApplyUpdate struct {
	UserID       string
	PreviousPlan types.PlanTier
	NewPlan      types.PlanTier
	Status       types.SubscriptionStatus
	ExpiresAt    *time.Time
	ChangeType   types.PendingChangeType
}

// SweepStore is the slice of the entitlement store the sweep needs.
type SweepStore interface {
	ListPendingChanges(ctx context.Context) ([]PendingRecord, error)
	CommitApplies(ctx context.Context, updates []ApplyUpdate) (int64, error)
}

// EventPublisher announces applied changes to downstream consumers.
type EventPublisher interface {
	PublishEntitlementEvent(ctx context.Context, event types.EntitlementEvent) error
}

// MetricsRecorder records sweep telemetry.
type MetricsRecorder interface {
	RecordSweep(ctx context.Context, trigger string, result types.SweepResult, duration time.Duration)
}

// SweepProcessor scans for pending plan changes and applies the due ones in
// batches. The same processor backs the nightly schedule and the manual
// admin trigger.
type SweepProcessor struct {
	store         SweepStore
	events        EventPublisher
	metrics       MetricsRecorder
	billingPeriod time.Duration
	batchSize     int
	logger        *slog.Logger
}

func NewSweepProcessor(store SweepStore, events EventPublisher, metrics MetricsRecorder, billingPeriod time.Duration, batchSize int, logger *slog.Logger) *SweepProcessor {
	return &SweepProcessor{
		store:         store,
		events:        events,
		metrics:       metrics,
		billingPeriod: billingPeriod,
		batchSize:     batchSize,
		logger:        logger,
	}
}

// Run executes one sweep. Every record is evaluated against the single now
// cutoff captured by the caller, so records becoming due mid-run do not
// change the result. With ignoreEffectiveDate set, every pending change is
// applied regardless of its effective date.
//
// A store failure aborts the run and is returned; batches committed before
// the failure stay committed, and the partial result is still reported.
func (p *SweepProcessor) Run(ctx context.Context, now time.Time, ignoreEffectiveDate bool) (types.SweepResult, error) {
	trigger := "scheduled"
	if ignoreEffectiveDate {
		trigger = "manual"
	}
	started := time.Now()
	result := types.SweepResult{Timestamp: now}

	defer func() {
		if p.metrics != nil {
			p.metrics.RecordSweep(ctx, trigger, result, time.Since(started))
		}
	}()

	records, err := p.store.ListPendingChanges(ctx)
	if err != nil {
		return result, types.NewAppError(types.ErrCodeStoreUnavailable, "scanning pending changes failed", err)
	}

	p.logger.InfoContext(ctx, "sweep started",
		"trigger", trigger,
		"pending_records", len(records),
		"cutoff", now)

	batch := make([]ApplyUpdate, 0, p.batchSize)
	for _, rec := range records {
		update, ok := p.stageUpdate(ctx, rec, now, ignoreEffectiveDate, &result)
		if !ok {
			continue
		}
		batch = append(batch, update)
		if len(batch) == p.batchSize {
			if err := p.commit(ctx, batch, &result); err != nil {
				return result, err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := p.commit(ctx, batch, &result); err != nil {
			return result, err
		}
	}

	p.logger.InfoContext(ctx, "sweep finished",
		"trigger", trigger,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"batches", result.Batches)

	return result, nil
}

// stageUpdate converts one scanned record into a staged write, or reports
// why it was passed over. The type switch is exhaustive over the pending
// change variants; a new variant fails compilation here rather than being
// silently ignored at runtime.
func (p *SweepProcessor) stageUpdate(ctx context.Context, rec PendingRecord, now time.Time, ignoreEffectiveDate bool, result *types.SweepResult) (ApplyUpdate, bool) {
	if rec.Malformed {
		result.Skipped++
		p.logger.WarnContext(ctx, "skipping malformed pending change", "user_id", rec.UserID)
		return ApplyUpdate{}, false
	}

	var (
		newPlan    types.PlanTier
		effective  time.Time
		changeType types.PendingChangeType
	)
	switch c := rec.Change.(type) {
	case types.DowngradeChange:
		newPlan, effective, changeType = c.NewPlan, c.EffectiveDate, types.PendingDowngrade
	case types.CancelChange:
		newPlan, effective, changeType = types.PlanFree, c.EffectiveDate, types.PendingCancel
	case types.NoPendingChange:
		result.Skipped++
		p.logger.WarnContext(ctx, "skipping empty pending change", "user_id", rec.UserID)
		return ApplyUpdate{}, false
	default:
		result.Skipped++
		p.logger.WarnContext(ctx, "skipping unknown pending change",
			"user_id", rec.UserID,
			"change", rec.Change)
		return ApplyUpdate{}, false
	}

	if !ignoreEffectiveDate && effective.After(now) {
		return ApplyUpdate{}, false
	}

	update := ApplyUpdate{
		UserID:       rec.UserID,
		PreviousPlan: rec.Plan,
		NewPlan:      newPlan,
		Status:       types.StatusForPlan(newPlan),
		ChangeType:   changeType,
	}
	if newPlan != types.PlanFree {
		exp := now.Add(p.billingPeriod)
		update.ExpiresAt = &exp
	}
	return update, true
}

func (p *SweepProcessor) commit(ctx context.Context, batch []ApplyUpdate, result *types.SweepResult) error {
	modified, err := p.store.CommitApplies(ctx, batch)
	if err != nil {
		return types.NewAppError(types.ErrCodeStoreUnavailable, "committing sweep batch failed", err)
	}

	result.Processed += len(batch)
	result.Batches++
	if modified != int64(len(batch)) {
		// A record applied by a concurrent run matches zero documents in the
		// batched update; the store converges either way.
		p.logger.InfoContext(ctx, "sweep batch partially applied",
			"staged", len(batch),
			"modified", modified)
	}

	p.publishApplied(ctx, batch)
	return nil
}

// publishApplied emits one event per applied change. Publishing is best
// effort; a failed publish never fails the sweep.
func (p *SweepProcessor) publishApplied(ctx context.Context, batch []ApplyUpdate) {
	if p.events == nil {
		return
	}
	for _, u := range batch {
		event := types.EntitlementEvent{
			EventID:      uuid.NewString(),
			UserID:       u.UserID,
			PreviousPlan: u.PreviousPlan,
			Plan:         u.NewPlan,
			ChangeType:   string(u.ChangeType),
			AppliedAt:    time.Now().UTC(),
		}
		if err := p.events.PublishEntitlementEvent(ctx, event); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish entitlement event",
				"user_id", u.UserID,
				"error", err)
		}
	}
}
