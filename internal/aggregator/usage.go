package aggregator

import (
	"context"
	"fmt"
	"log"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/cloudtally/stacktally/internal/dectime"
	"github.com/cloudtally/stacktally/internal/notification"
	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/types"
)

// Launch-shaped events seed a usage row; end-shaped events carry the
// authoritative values. delete.end and exists have dedicated handlers.
var (
	newLaunchEvents = []string{
		"compute.instance.create.start",
		"compute.instance.rebuild.start",
		"compute.instance.resize.prep.start",
		"compute.instance.resize.revert.start",
	}
	updateEvents = []string{
		"compute.instance.create.end",
		"compute.instance.resize.prep.end",
		"compute.instance.resize.revert.end",
	}
)

func defaultUsageTable() map[string]UsageFunc {
	launches := lo.SliceToMap(newLaunchEvents, func(event string) (string, UsageFunc) {
		return event, processUsageForNewLaunch
	})
	updates := lo.SliceToMap(updateEvents, func(event string) (string, UsageFunc) {
		return event, processUsageForUpdates
	})
	return lo.Assign(launches, updates, map[string]UsageFunc{
		"compute.instance.delete.end": processDelete,
		"compute.instance.exists":     processExists,
	})
}

// aggregateUsage dispatches the event to its usage handler. Events outside
// the table have no usage side.
func (a *Aggregator) aggregateUsage(ctx context.Context, tx storage.Transaction, raw *types.RawData, p *notification.Payload) error {
	fn, ok := a.usage[raw.Event]
	if !ok {
		return nil
	}
	return fn(ctx, tx, raw, p)
}

// processUsageForNewLaunch seeds the usage row for a launch-shaped event.
// launched_at is written only when absent so a redelivered or repeated
// start cannot move an established launch time.
func processUsageForNewLaunch(ctx context.Context, tx storage.Transaction, raw *types.RawData, p *notification.Payload) error {
	usage, _, err := tx.GetOrCreateInstanceUsage(ctx, raw.InstanceID, raw.RequestID)
	if err != nil {
		return err
	}
	if !usage.LaunchedAt.Valid && p.Body.LaunchedAt != "" {
		launched, err := dectime.ParseDecimalTimestamp(p.Body.LaunchedAt)
		if err != nil {
			return fmt.Errorf("launched_at: %w", err)
		}
		usage.LaunchedAt = decimal.NewNullDecimal(launched)
	}
	applyUsageIdentity(usage, p)
	return tx.UpdateInstanceUsage(ctx, usage)
}

// processUsageForUpdates applies the end-side values: launched_at is
// overwritten whenever the payload supplies one. A create.end reporting an
// Error outcome never touches the usage row.
func processUsageForUpdates(ctx context.Context, tx storage.Transaction, raw *types.RawData, p *notification.Payload) error {
	if raw.Event == "compute.instance.create.end" && p.Body.Message == "Error" {
		return nil
	}
	usage, _, err := tx.GetOrCreateInstanceUsage(ctx, raw.InstanceID, raw.RequestID)
	if err != nil {
		return err
	}
	if p.Body.LaunchedAt != "" {
		launched, err := dectime.ParseDecimalTimestamp(p.Body.LaunchedAt)
		if err != nil {
			return fmt.Errorf("launched_at: %w", err)
		}
		usage.LaunchedAt = decimal.NewNullDecimal(launched)
	}
	applyUsageIdentity(usage, p)
	if raw.Event == "compute.instance.resize.prep.end" {
		// The prep.end reports the flavor the instance resized into.
		usage.InstanceTypeID = p.Body.NewInstanceTypeID.String()
	}
	return tx.UpdateInstanceUsage(ctx, usage)
}

func applyUsageIdentity(usage *types.InstanceUsage, p *notification.Payload) {
	usage.InstanceTypeID = p.Body.InstanceTypeID.String()
	usage.Tenant = p.Body.TenantID.String()
	usage.RaxOptions = p.Body.RaxOptions.String()
	usage.OsArchitecture = p.Body.ImageMeta.OsArchitecture
	usage.OsVersion = p.Body.ImageMeta.OsVersion
	usage.OsDistro = p.Body.ImageMeta.OsDistro
}

// processDelete records the teardown; the (instance_id, deleted_at) key
// dedupes redelivered delete events.
func processDelete(ctx context.Context, tx storage.Transaction, raw *types.RawData, p *notification.Payload) error {
	if p.Body.DeletedAt == "" {
		return fmt.Errorf("delete event without deleted_at: RawData(%d)", raw.ID)
	}
	deletedAt, err := dectime.ParseDecimalTimestamp(p.Body.DeletedAt)
	if err != nil {
		return fmt.Errorf("deleted_at: %w", err)
	}
	del, _, err := tx.GetOrCreateInstanceDelete(ctx, raw.InstanceID, deletedAt)
	if err != nil {
		return err
	}
	if p.Body.LaunchedAt != "" {
		launched, err := dectime.ParseDecimalTimestamp(p.Body.LaunchedAt)
		if err != nil {
			return fmt.Errorf("launched_at: %w", err)
		}
		del.LaunchedAt = decimal.NewNullDecimal(launched)
		if err := tx.UpdateInstanceDelete(ctx, del); err != nil {
			return err
		}
	}
	return nil
}

// processExists copies the audit notification into a pending InstanceExists
// row, binding whatever usage and delete rows the launch window already
// matches. The verifier re-resolves unbound references later.
func processExists(ctx context.Context, tx storage.Transaction, raw *types.RawData, p *notification.Payload) error {
	if p.Body.LaunchedAt == "" {
		log.Printf("aggregator: Ignoring exists without launched_at. RawData(%d)", raw.ID)
		return nil
	}
	launched, err := dectime.ParseDecimalTimestamp(p.Body.LaunchedAt)
	if err != nil {
		return fmt.Errorf("launched_at: %w", err)
	}
	beginning, err := dectime.ParseDecimalTimestamp(p.Body.AuditPeriodBeginning)
	if err != nil {
		return fmt.Errorf("audit_period_beginning: %w", err)
	}
	ending, err := dectime.ParseDecimalTimestamp(p.Body.AuditPeriodEnding)
	if err != nil {
		return fmt.Errorf("audit_period_ending: %w", err)
	}

	rangeLo, rangeHi := dectime.SecondWindow(launched)
	window := &types.DecimalRange{Lo: rangeLo, Hi: rangeHi}

	exist := &types.InstanceExists{
		MessageID:            p.MessageID,
		InstanceID:           raw.InstanceID,
		LaunchedAt:           decimal.NewNullDecimal(launched),
		AuditPeriodBeginning: beginning,
		AuditPeriodEnding:    ending,
		InstanceTypeID:       p.Body.InstanceTypeID.String(),
		RawID:                raw.ID,
		Tenant:               p.Body.TenantID.String(),
		OsArchitecture:       p.Body.ImageMeta.OsArchitecture,
		OsVersion:            p.Body.ImageMeta.OsVersion,
		OsDistro:             p.Body.ImageMeta.OsDistro,
		RaxOptions:           p.Body.RaxOptions.String(),
	}

	usages, err := tx.FindInstanceUsages(ctx, types.UsageFilter{
		InstanceID:    raw.InstanceID,
		LaunchedRange: window,
	})
	if err != nil {
		return err
	}
	if len(usages) > 0 {
		exist.UsageID = &usages[0].ID
	}

	if p.Body.DeletedAt != "" {
		deletedAt, err := dectime.ParseDecimalTimestamp(p.Body.DeletedAt)
		if err != nil {
			return fmt.Errorf("deleted_at: %w", err)
		}
		exist.DeletedAt = decimal.NewNullDecimal(deletedAt)
		deletes, err := tx.FindInstanceDeletes(ctx, types.DeleteFilter{
			InstanceID:    raw.InstanceID,
			LaunchedRange: window,
		})
		if err != nil {
			return err
		}
		if len(deletes) > 0 {
			exist.DeleteID = &deletes[0].ID
		}
	}

	return tx.CreateInstanceExists(ctx, exist)
}
