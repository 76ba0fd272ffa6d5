package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/types"
)

// TestRunInTransactionBasic verifies the RunInTransaction method exists and
// can be called.
func TestRunInTransactionBasic(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	callCount := 0
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("RunInTransaction returned error: %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected callback to be called once, got %d", callCount)
	}
}

// TestRunInTransactionRollbackOnError verifies that returning an error
// from the callback propagates it to the caller.
func TestRunInTransactionRollbackOnError(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	expectedErr := "intentional test error"
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return &testError{msg: expectedErr}
	})

	if err == nil {
		t.Error("expected error to be returned, got nil")
	}
	if err.Error() != expectedErr {
		t.Errorf("expected error %q, got %q", expectedErr, err.Error())
	}
}

// TestRunInTransactionPanicRecovery verifies that panics in the callback
// are recovered and re-raised after rollback.
func TestRunInTransactionPanicRecovery(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic to be re-raised, but no panic occurred")
		} else if r != "test panic" {
			t.Errorf("unexpected panic value: %v", r)
		}
	}()

	_ = store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		panic("test panic")
	})

	t.Error("should not reach here - panic should have been re-raised")
}

// TestTransactionCreateRawData tests that a row created inside a committed
// transaction is visible afterwards.
func TestTransactionCreateRawData(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	var createdID int64
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		raw := &types.RawData{
			Deployment: 1,
			When:       decimal.RequireFromString("20130125133823.000000"),
			RoutingKey: "monitor.info",
			Event:      "compute.instance.create.start",
			InstanceID: "inst-tx",
		}
		if err := tx.CreateRawData(ctx, raw); err != nil {
			return err
		}
		createdID = raw.ID
		return nil
	})

	if err != nil {
		t.Fatalf("RunInTransaction failed: %v", err)
	}
	if createdID == 0 {
		t.Fatal("expected raw ID to be set after creation")
	}

	raw, err := store.GetRawData(ctx, createdID)
	if err != nil {
		t.Fatalf("GetRawData failed: %v", err)
	}
	if raw.Event != "compute.instance.create.start" {
		t.Errorf("expected event to survive commit, got %q", raw.Event)
	}
}

// TestTransactionRollbackDiscardsWrites tests that rows are not persisted
// when the transaction rolls back due to error.
func TestTransactionRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	var createdID int64
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		raw := &types.RawData{
			When:  decimal.RequireFromString("20130125133823.000000"),
			Event: "compute.instance.create.start",
		}
		if err := tx.CreateRawData(ctx, raw); err != nil {
			return err
		}
		createdID = raw.ID
		return &testError{msg: "intentional rollback"}
	})

	if err == nil {
		t.Error("expected error from transaction")
	}
	if createdID == 0 {
		t.Fatal("expected raw ID to be assigned before rollback")
	}

	if _, err := store.GetRawData(ctx, createdID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected storage.ErrNotFound after rollback, got %v", err)
	}
}

// TestTransactionReadYourWrites tests reading a row back within the same
// transaction.
func TestTransactionReadYourWrites(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		raw := &types.RawData{
			When:  decimal.RequireFromString("20130125133823.000000"),
			Event: "compute.instance.exists",
		}
		if err := tx.CreateRawData(ctx, raw); err != nil {
			return err
		}

		retrieved, err := tx.GetRawData(ctx, raw.ID)
		if err != nil {
			return err
		}
		if retrieved.Event != "compute.instance.exists" {
			t.Errorf("expected event %q within transaction, got %q", raw.Event, retrieved.Event)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("RunInTransaction failed: %v", err)
	}
}

// TestTransactionAtomicEventProcessing tests the shape of a real event:
// raw row, lifecycle, and timing created in one transaction.
func TestTransactionAtomicEventProcessing(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	var lifecycleID int64
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		raw := &types.RawData{
			When:       decimal.RequireFromString("20130125133823.000000"),
			Event:      "compute.instance.create.start",
			InstanceID: "inst-atomic",
		}
		if err := tx.CreateRawData(ctx, raw); err != nil {
			return err
		}

		lc := &types.Lifecycle{
			InstanceID: "inst-atomic",
			LastState:  "building",
			LastRawID:  &raw.ID,
		}
		if err := tx.CreateLifecycle(ctx, lc); err != nil {
			return err
		}
		lifecycleID = lc.ID

		timing := &types.Timing{
			LifecycleID: lc.ID,
			Name:        "compute.instance.create",
			StartRawID:  &raw.ID,
			StartWhen:   nd("20130125133823.000000"),
		}
		return tx.CreateTiming(ctx, timing)
	})

	if err != nil {
		t.Fatalf("RunInTransaction failed: %v", err)
	}

	lc, err := store.GetLifecycleByInstanceID(ctx, "inst-atomic")
	if err != nil {
		t.Fatalf("GetLifecycleByInstanceID failed: %v", err)
	}
	if lc.ID != lifecycleID {
		t.Errorf("expected lifecycle %d, got %d", lifecycleID, lc.ID)
	}

	timings, err := store.FindTimings(ctx, lifecycleID, "compute.instance.create")
	if err != nil {
		t.Fatalf("FindTimings failed: %v", err)
	}
	if len(timings) != 1 {
		t.Errorf("expected 1 timing after commit, got %d", len(timings))
	}
}

// TestTransactionNestedFailure tests that when the first operation succeeds
// but a later one fails, everything is rolled back.
func TestTransactionNestedFailure(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	// Commit a lifecycle so the in-transaction create collides.
	existing := &types.Lifecycle{InstanceID: "inst-dup", LastState: "active"}
	if err := store.CreateLifecycle(ctx, existing); err != nil {
		t.Fatalf("CreateLifecycle failed: %v", err)
	}

	var rawID int64
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		raw := &types.RawData{
			When:  decimal.RequireFromString("20130125133823.000000"),
			Event: "compute.instance.create.start",
		}
		if err := tx.CreateRawData(ctx, raw); err != nil {
			return err
		}
		rawID = raw.ID

		// Collides with the committed lifecycle.
		return tx.CreateLifecycle(ctx, &types.Lifecycle{InstanceID: "inst-dup"})
	})

	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected storage.ErrDuplicate from second operation, got %v", err)
	}

	// The raw row from the first operation must be gone too.
	if _, err := store.GetRawData(ctx, rawID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected raw row to be rolled back, got %v", err)
	}
}

// TestTransactionEmpty tests that an empty transaction commits successfully.
func TestTransactionEmpty(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return nil
	})

	if err != nil {
		t.Errorf("empty transaction should succeed, got error: %v", err)
	}
}

// TestTransactionConcurrent tests multiple concurrent transactions.
func TestTransactionConcurrent(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	const numGoroutines = 10
	errCh := make(chan error, numGoroutines)
	ids := make(chan int64, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(index int) {
			err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
				raw := &types.RawData{
					When:      decimal.NewFromInt(20130125133800 + int64(index)),
					Event:     "compute.instance.update",
					RequestID: "req-concurrent",
				}
				if err := tx.CreateRawData(ctx, raw); err != nil {
					return err
				}
				ids <- raw.ID
				return nil
			})
			errCh <- err
		}(i)
	}

	var errs []error
	for i := 0; i < numGoroutines; i++ {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
		}
	}
	close(ids)
	var createdIDs []int64
	for id := range ids {
		createdIDs = append(createdIDs, id)
	}

	if len(errs) > 0 {
		t.Errorf("some transactions failed: %v", errs)
	}
	if len(createdIDs) != numGoroutines {
		t.Errorf("expected %d raw rows created, got %d", numGoroutines, len(createdIDs))
	}

	for _, id := range createdIDs {
		if _, err := store.GetRawData(ctx, id); err != nil {
			t.Errorf("expected raw row %d to exist: %v", id, err)
		}
	}
}

// testError is a simple error type for testing
type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}
