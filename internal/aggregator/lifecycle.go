package aggregator

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/types"
)

const (
	eventUpdate = "compute.instance.update"
	serviceAPI  = "api"
)

// aggregateLifecycle applies the lifecycle rules for one event: track the
// instance's latest state, pair .start/.end timings, and feed the KPI
// trackers. Events without an instance id have no lifecycle side.
func aggregateLifecycle(ctx context.Context, tx storage.Transaction, raw *types.RawData) error {
	if raw.InstanceID == "" {
		return nil
	}

	lc, err := findOrCreateLifecycle(ctx, tx, raw.InstanceID)
	if err != nil {
		return err
	}

	start := strings.HasSuffix(raw.Event, ".start")
	lc.LastRawID = &raw.ID
	lc.LastState = raw.State
	if lc.LastState == "" && !start {
		// Steady-state notifications routinely omit the state field.
		lc.LastState = "active"
	}
	lc.LastTaskState = raw.OldTask
	if err := tx.UpdateLifecycle(ctx, lc); err != nil {
		return err
	}

	switch {
	case start:
		return timingStart(ctx, tx, lc, raw)
	case strings.HasSuffix(raw.Event, ".end"):
		return timingEnd(ctx, tx, lc, raw)
	case raw.Event == eventUpdate:
		return startKPITracking(ctx, tx, lc, raw)
	default:
		return nil
	}
}

// findOrCreateLifecycle keeps the one-row-per-instance invariant. A lost
// creation race surfaces as ErrDuplicate, fails the event's transaction,
// and converges on redelivery.
func findOrCreateLifecycle(ctx context.Context, tx storage.Transaction, instanceID string) (*types.Lifecycle, error) {
	lc, err := tx.GetLifecycleByInstanceID(ctx, instanceID)
	if err == nil {
		return lc, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	lc = &types.Lifecycle{InstanceID: instanceID}
	if err := tx.CreateLifecycle(ctx, lc); err != nil {
		return nil, err
	}
	return lc, nil
}

func timingStart(ctx context.Context, tx storage.Transaction, lc *types.Lifecycle, raw *types.RawData) error {
	name := strings.TrimSuffix(raw.Event, ".start")
	tm, err := firstTiming(ctx, tx, lc.ID, name)
	if err != nil {
		return err
	}
	if tm == nil {
		tm = &types.Timing{
			LifecycleID: lc.ID,
			Name:        name,
			StartRawID:  &raw.ID,
			StartWhen:   decimal.NewNullDecimal(raw.When),
		}
		return tx.CreateTiming(ctx, tm)
	}
	tm.StartRawID = &raw.ID
	tm.StartWhen = decimal.NewNullDecimal(raw.When)
	return tx.UpdateTiming(ctx, tm)
}

func timingEnd(ctx context.Context, tx storage.Transaction, lc *types.Lifecycle, raw *types.RawData) error {
	name := strings.TrimSuffix(raw.Event, ".end")
	tm, err := firstTiming(ctx, tx, lc.ID, name)
	if err != nil {
		return err
	}
	if tm == nil {
		// The start half never arrived. Keep the end half so the pair
		// shows up as incomplete rather than missing.
		tm = &types.Timing{
			LifecycleID: lc.ID,
			Name:        name,
			EndRawID:    &raw.ID,
			EndWhen:     decimal.NewNullDecimal(raw.When),
		}
		return tx.CreateTiming(ctx, tm)
	}
	tm.EndRawID = &raw.ID
	tm.EndWhen = decimal.NewNullDecimal(raw.When)
	if !tm.StartWhen.Valid {
		// Still only half a pair; nothing to measure yet.
		return tx.UpdateTiming(ctx, tm)
	}
	tm.Diff = decimal.NewNullDecimal(raw.When.Sub(tm.StartWhen.Decimal))
	if err := tx.UpdateTiming(ctx, tm); err != nil {
		return err
	}
	// A completed pair may close out a tracked API request.
	return updateKPI(ctx, tx, tm, raw)
}

// firstTiming resolves (lifecycle, name) to the earliest matching timing,
// or nil. FindTimings orders by id, so index 0 is the tie-break winner.
func firstTiming(ctx context.Context, tx storage.Transaction, lifecycleID int64, name string) (*types.Timing, error) {
	timings, err := tx.FindTimings(ctx, lifecycleID, name)
	if err != nil {
		return nil, err
	}
	if len(timings) == 0 {
		return nil, nil
	}
	return timings[0], nil
}
