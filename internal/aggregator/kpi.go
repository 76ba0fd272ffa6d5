package aggregator

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/types"
)

// startKPITracking opens a request tracker when the API service announces
// an instance update. Only that event starts the clock; one tracker per
// request_id, first writer wins.
func startKPITracking(ctx context.Context, tx storage.Transaction, lc *types.Lifecycle, raw *types.RawData) error {
	if raw.Event != eventUpdate || raw.Service != serviceAPI {
		return nil
	}
	existing, err := tx.FindRequestTrackers(ctx, raw.RequestID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	rt := &types.RequestTracker{
		RequestID:   raw.RequestID,
		LifecycleID: lc.ID,
		Start:       raw.When,
		Duration:    decimal.Zero,
	}
	return tx.CreateRequestTracker(ctx, rt)
}

// updateKPI stamps every tracker of the request with the timing that just
// completed and the elapsed time since the tracker started.
func updateKPI(ctx context.Context, tx storage.Transaction, tm *types.Timing, raw *types.RawData) error {
	trackers, err := tx.FindRequestTrackers(ctx, raw.RequestID)
	if err != nil {
		return err
	}
	for _, rt := range trackers {
		rt.LastTimingID = &tm.ID
		rt.Duration = raw.When.Sub(rt.Start)
		if err := tx.UpdateRequestTracker(ctx, rt); err != nil {
			return err
		}
	}
	return nil
}
