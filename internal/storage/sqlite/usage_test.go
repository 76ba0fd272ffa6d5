package sqlite

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cloudtally/stacktally/internal/types"
)

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

// TestGetOrCreateInstanceUsage tests the created flag and key idempotency.
func TestGetOrCreateInstanceUsage(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	u, created, err := store.GetOrCreateInstanceUsage(ctx, "inst-1", "req-1")
	if err != nil {
		t.Fatalf("GetOrCreateInstanceUsage failed: %v", err)
	}
	if !created {
		t.Error("expected created=true on first call")
	}
	if u.ID == 0 {
		t.Fatal("expected usage id to be set")
	}

	again, created, err := store.GetOrCreateInstanceUsage(ctx, "inst-1", "req-1")
	if err != nil {
		t.Fatalf("GetOrCreateInstanceUsage failed: %v", err)
	}
	if created {
		t.Error("expected created=false on second call")
	}
	if again.ID != u.ID {
		t.Errorf("expected same row, got ids %d and %d", u.ID, again.ID)
	}

	// A different request id is a different row.
	other, created, err := store.GetOrCreateInstanceUsage(ctx, "inst-1", "req-2")
	if err != nil {
		t.Fatalf("GetOrCreateInstanceUsage failed: %v", err)
	}
	if !created || other.ID == u.ID {
		t.Errorf("expected a fresh row for req-2, got created=%v id=%d", created, other.ID)
	}
}

// TestUpdateInstanceUsage tests field persistence including NULL launched_at.
func TestUpdateInstanceUsage(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	u, _, err := store.GetOrCreateInstanceUsage(ctx, "inst-1", "req-1")
	if err != nil {
		t.Fatalf("GetOrCreateInstanceUsage failed: %v", err)
	}
	if u.LaunchedAt.Valid {
		t.Error("expected launched_at unset on a fresh row")
	}

	u.LaunchedAt = nd("20130125133823.000000")
	u.InstanceTypeID = "2"
	u.Tenant = "tenant-1"
	u.OsArchitecture = "x64"
	u.OsVersion = "12.04"
	u.OsDistro = "ubuntu"
	u.RaxOptions = "0"
	if err := store.UpdateInstanceUsage(ctx, u); err != nil {
		t.Fatalf("UpdateInstanceUsage failed: %v", err)
	}

	got, _, err := store.GetOrCreateInstanceUsage(ctx, "inst-1", "req-1")
	if err != nil {
		t.Fatalf("GetOrCreateInstanceUsage failed: %v", err)
	}
	if !got.LaunchedAt.Valid || !got.LaunchedAt.Decimal.Equal(u.LaunchedAt.Decimal) {
		t.Errorf("launched_at not persisted: %+v", got.LaunchedAt)
	}
	if got.InstanceTypeID != "2" || got.Tenant != "tenant-1" || got.OsDistro != "ubuntu" {
		t.Errorf("identity fields not persisted: %+v", got)
	}
}

// TestFindInstanceUsagesLaunchedRange tests the inclusive range filter and
// that rows without launched_at never match it.
func TestFindInstanceUsagesLaunchedRange(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	launched := decimal.RequireFromString("20130125133823.000000")

	u1, _, err := store.GetOrCreateInstanceUsage(ctx, "inst-1", "req-1")
	if err != nil {
		t.Fatalf("GetOrCreateInstanceUsage failed: %v", err)
	}
	u1.LaunchedAt = decimal.NullDecimal{Decimal: launched, Valid: true}
	if err := store.UpdateInstanceUsage(ctx, u1); err != nil {
		t.Fatalf("UpdateInstanceUsage failed: %v", err)
	}

	// Second row for the same instance with no launched_at.
	if _, _, err := store.GetOrCreateInstanceUsage(ctx, "inst-1", "req-2"); err != nil {
		t.Fatalf("GetOrCreateInstanceUsage failed: %v", err)
	}

	// One decimal second wide, inclusive both ends.
	found, err := store.FindInstanceUsages(ctx, types.UsageFilter{
		InstanceID:    "inst-1",
		LaunchedRange: &types.DecimalRange{Lo: launched, Hi: launched.Add(decimal.NewFromInt(1))},
	})
	if err != nil {
		t.Fatalf("FindInstanceUsages failed: %v", err)
	}
	if len(found) != 1 || found[0].ID != u1.ID {
		t.Fatalf("expected only the launched row, got %d rows", len(found))
	}

	// Upper bound is inclusive.
	found, err = store.FindInstanceUsages(ctx, types.UsageFilter{
		InstanceID:    "inst-1",
		LaunchedRange: &types.DecimalRange{Lo: launched.Sub(decimal.NewFromInt(1)), Hi: launched},
	})
	if err != nil {
		t.Fatalf("FindInstanceUsages failed: %v", err)
	}
	if len(found) != 1 {
		t.Errorf("expected inclusive upper bound to match, got %d rows", len(found))
	}

	// A window before the launch matches nothing.
	found, err = store.FindInstanceUsages(ctx, types.UsageFilter{
		InstanceID:    "inst-1",
		LaunchedRange: &types.DecimalRange{Lo: launched.Sub(decimal.NewFromInt(10)), Hi: launched.Sub(decimal.NewFromInt(5))},
	})
	if err != nil {
		t.Fatalf("FindInstanceUsages failed: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected no rows, got %d", len(found))
	}
}

// TestGetOrCreateInstanceDelete tests the (instance_id, deleted_at) key.
func TestGetOrCreateInstanceDelete(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	deletedAt := decimal.RequireFromString("20130125150000.000000")

	d, created, err := store.GetOrCreateInstanceDelete(ctx, "inst-1", deletedAt)
	if err != nil {
		t.Fatalf("GetOrCreateInstanceDelete failed: %v", err)
	}
	if !created {
		t.Error("expected created=true on first call")
	}

	again, created, err := store.GetOrCreateInstanceDelete(ctx, "inst-1", deletedAt)
	if err != nil {
		t.Fatalf("GetOrCreateInstanceDelete failed: %v", err)
	}
	if created || again.ID != d.ID {
		t.Errorf("expected existing row back, got created=%v id=%d", created, again.ID)
	}

	// Different deleted_at makes a new row.
	_, created, err = store.GetOrCreateInstanceDelete(ctx, "inst-1", deletedAt.Add(decimal.NewFromInt(1)))
	if err != nil {
		t.Fatalf("GetOrCreateInstanceDelete failed: %v", err)
	}
	if !created {
		t.Error("expected created=true for a different deleted_at")
	}
}

// TestFindInstanceDeletesFilters tests range and max filters on deletes.
func TestFindInstanceDeletesFilters(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	launched := decimal.RequireFromString("20130125133823.000000")
	deletedAt := decimal.RequireFromString("20130125150000.000000")

	d, _, err := store.GetOrCreateInstanceDelete(ctx, "inst-1", deletedAt)
	if err != nil {
		t.Fatalf("GetOrCreateInstanceDelete failed: %v", err)
	}
	d.LaunchedAt = decimal.NullDecimal{Decimal: launched, Valid: true}
	if err := store.UpdateInstanceDelete(ctx, d); err != nil {
		t.Fatalf("UpdateInstanceDelete failed: %v", err)
	}

	// Launched range lookup, the aggregator's exists path.
	found, err := store.FindInstanceDeletes(ctx, types.DeleteFilter{
		InstanceID:    "inst-1",
		LaunchedRange: &types.DecimalRange{Lo: launched, Hi: launched.Add(decimal.NewFromInt(1))},
	})
	if err != nil {
		t.Fatalf("FindInstanceDeletes failed: %v", err)
	}
	if len(found) != 1 || found[0].ID != d.ID {
		t.Fatalf("expected the delete row via launched range, got %d rows", len(found))
	}

	// DeletedMax cutoff, the verifier's should-have-known check.
	found, err = store.FindInstanceDeletes(ctx, types.DeleteFilter{
		InstanceID: "inst-1",
		DeletedMax: decimal.NullDecimal{Decimal: deletedAt.Add(decimal.NewFromInt(100)), Valid: true},
	})
	if err != nil {
		t.Fatalf("FindInstanceDeletes failed: %v", err)
	}
	if len(found) != 1 {
		t.Errorf("expected delete under the max cutoff, got %d rows", len(found))
	}

	found, err = store.FindInstanceDeletes(ctx, types.DeleteFilter{
		InstanceID: "inst-1",
		DeletedMax: decimal.NullDecimal{Decimal: deletedAt.Sub(decimal.NewFromInt(1)), Valid: true},
	})
	if err != nil {
		t.Fatalf("FindInstanceDeletes failed: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected no deletes before the cutoff, got %d rows", len(found))
	}
}

// TestInstanceReconcileRoundTrip tests reconcile create and range lookup.
func TestInstanceReconcileRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	launched := decimal.RequireFromString("20130125133823.000000")
	r := &types.InstanceReconcile{
		InstanceID:     "inst-1",
		LaunchedAt:     launched,
		DeletedAt:      nd("20130125150000.000000"),
		InstanceTypeID: "2",
		Tenant:         "tenant-1",
	}
	if err := store.CreateInstanceReconcile(ctx, r); err != nil {
		t.Fatalf("CreateInstanceReconcile failed: %v", err)
	}

	found, err := store.FindInstanceReconciles(ctx, types.ReconcileFilter{
		InstanceID:    "inst-1",
		LaunchedRange: &types.DecimalRange{Lo: launched, Hi: launched.Add(decimal.New(999999, -6))},
	})
	if err != nil {
		t.Fatalf("FindInstanceReconciles failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 reconcile, got %d", len(found))
	}
	if found[0].InstanceTypeID != "2" || !found[0].DeletedAt.Valid {
		t.Errorf("unexpected reconcile %+v", found[0])
	}
}
