package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/types"
)

func seedExists(t *testing.T, store *SQLiteStore, messageID, ending string) *types.InstanceExists {
	t.Helper()
	ctx := context.Background()
	raw := seedRaw(t, store, "20130125133823.000000")

	e := &types.InstanceExists{
		MessageID:            messageID,
		InstanceID:           "inst-1",
		LaunchedAt:           nd("20130125133823.000000"),
		AuditPeriodBeginning: decimal.RequireFromString("20130125000000.000000"),
		AuditPeriodEnding:    decimal.RequireFromString(ending),
		InstanceTypeID:       "2",
		Tenant:               "tenant-1",
		RawID:                raw.ID,
	}
	if err := store.CreateInstanceExists(ctx, e); err != nil {
		t.Fatalf("CreateInstanceExists failed: %v", err)
	}
	return e
}

// TestCreateInstanceExistsDefaultsPending tests that new audit records start pending.
func TestCreateInstanceExistsDefaultsPending(t *testing.T) {
	store := setupTestStore(t)
	e := seedExists(t, store, "msg-1", "20130126000000.000000")

	got, err := store.GetInstanceExists(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("GetInstanceExists failed: %v", err)
	}
	if got.Status != types.StatusPending {
		t.Errorf("expected status pending, got %q", got.Status)
	}
	if got.MessageID != "msg-1" || !got.LaunchedAt.Valid {
		t.Errorf("unexpected exists row %+v", got)
	}
}

// TestCreateInstanceExistsDuplicateMessageID tests the message_id uniqueness guard.
func TestCreateInstanceExistsDuplicateMessageID(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	seedExists(t, store, "msg-1", "20130126000000.000000")

	raw := seedRaw(t, store, "20130125133824.000000")
	dup := &types.InstanceExists{
		MessageID:            "msg-1",
		InstanceID:           "inst-2",
		AuditPeriodBeginning: decimal.RequireFromString("20130125000000.000000"),
		AuditPeriodEnding:    decimal.RequireFromString("20130126000000.000000"),
		RawID:                raw.ID,
	}
	if err := store.CreateInstanceExists(ctx, dup); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("expected storage.ErrDuplicate, got %v", err)
	}
}

// TestFindPendingExists tests the settle cutoff, ordering, and limit.
func TestFindPendingExists(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	old1 := seedExists(t, store, "msg-1", "20130126000000.000000")
	old2 := seedExists(t, store, "msg-2", "20130126000000.000000")
	seedExists(t, store, "msg-3", "20130128000000.000000") // not settled yet

	cutoff := decimal.RequireFromString("20130127000000.000000")
	pending, err := store.FindPendingExists(ctx, cutoff, 0)
	if err != nil {
		t.Fatalf("FindPendingExists failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 settled pending records, got %d", len(pending))
	}
	if pending[0].ID != old1.ID || pending[1].ID != old2.ID {
		t.Errorf("expected oldest-first order, got %d then %d", pending[0].ID, pending[1].ID)
	}

	// Cutoff is inclusive.
	pending, err = store.FindPendingExists(ctx, decimal.RequireFromString("20130126000000.000000"), 0)
	if err != nil {
		t.Fatalf("FindPendingExists failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected inclusive cutoff to match, got %d records", len(pending))
	}

	limited, err := store.FindPendingExists(ctx, cutoff, 1)
	if err != nil {
		t.Fatalf("FindPendingExists failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != old1.ID {
		t.Errorf("expected limit to keep the oldest record, got %d rows", len(limited))
	}
}

// TestClaimInstanceExists tests the pending->verifying flip and that a second
// claim loses.
func TestClaimInstanceExists(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	e := seedExists(t, store, "msg-1", "20130126000000.000000")

	if err := store.ClaimInstanceExists(ctx, e.ID); err != nil {
		t.Fatalf("ClaimInstanceExists failed: %v", err)
	}

	got, err := store.GetInstanceExists(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetInstanceExists failed: %v", err)
	}
	if got.Status != types.StatusVerifying {
		t.Errorf("expected status verifying after claim, got %q", got.Status)
	}

	if err := store.ClaimInstanceExists(ctx, e.ID); !errors.Is(err, storage.ErrStatusConflict) {
		t.Errorf("expected storage.ErrStatusConflict on double claim, got %v", err)
	}

	if err := store.ClaimInstanceExists(ctx, 9999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected storage.ErrNotFound for unknown id, got %v", err)
	}
}

// TestFinishInstanceExists tests terminal transitions and their guards.
func TestFinishInstanceExists(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	e := seedExists(t, store, "msg-1", "20130126000000.000000")

	// Finishing an unclaimed record is a conflict.
	err := store.FinishInstanceExists(ctx, e.ID, types.StatusVerified, "")
	if !errors.Is(err, storage.ErrStatusConflict) {
		t.Errorf("expected storage.ErrStatusConflict before claim, got %v", err)
	}

	if err := store.ClaimInstanceExists(ctx, e.ID); err != nil {
		t.Fatalf("ClaimInstanceExists failed: %v", err)
	}
	if err := store.FinishInstanceExists(ctx, e.ID, types.StatusFailed, "field mismatch"); err != nil {
		t.Fatalf("FinishInstanceExists failed: %v", err)
	}

	got, err := store.GetInstanceExists(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetInstanceExists failed: %v", err)
	}
	if got.Status != types.StatusFailed || got.FailReason != "field mismatch" {
		t.Errorf("unexpected terminal state: status=%q reason=%q", got.Status, got.FailReason)
	}

	// Terminal records cannot be finished again.
	err = store.FinishInstanceExists(ctx, e.ID, types.StatusVerified, "")
	if !errors.Is(err, storage.ErrStatusConflict) {
		t.Errorf("expected storage.ErrStatusConflict on re-finish, got %v", err)
	}

	// Non-terminal target statuses are rejected outright.
	e2 := seedExists(t, store, "msg-2", "20130126000000.000000")
	if err := store.ClaimInstanceExists(ctx, e2.ID); err != nil {
		t.Fatalf("ClaimInstanceExists failed: %v", err)
	}
	if err := store.FinishInstanceExists(ctx, e2.ID, types.StatusPending, ""); err == nil {
		t.Error("expected error finishing to a non-terminal status")
	}
}

// TestCountExistsByStatus tests the progress counters.
func TestCountExistsByStatus(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	for i := 0; i < 3; i++ {
		seedExists(t, store, fmt.Sprintf("msg-%d", i), "20130126000000.000000")
	}
	claimed := seedExists(t, store, "msg-claimed", "20130126000000.000000")
	if err := store.ClaimInstanceExists(ctx, claimed.ID); err != nil {
		t.Fatalf("ClaimInstanceExists failed: %v", err)
	}
	if err := store.FinishInstanceExists(ctx, claimed.ID, types.StatusVerified, ""); err != nil {
		t.Fatalf("FinishInstanceExists failed: %v", err)
	}

	counts, err := store.CountExistsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountExistsByStatus failed: %v", err)
	}
	if counts[types.StatusPending] != 3 {
		t.Errorf("expected 3 pending, got %d", counts[types.StatusPending])
	}
	if counts[types.StatusVerified] != 1 {
		t.Errorf("expected 1 verified, got %d", counts[types.StatusVerified])
	}
	if counts[types.StatusFailed] != 0 {
		t.Errorf("expected 0 failed, got %d", counts[types.StatusFailed])
	}
}
