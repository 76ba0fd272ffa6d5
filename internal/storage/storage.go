// Package storage provides shared types for telemetry storage.
//
// The concrete storage implementations live in the sqlite and mysql
// sub-packages. This package holds interface and sentinel types that are
// referenced by both the implementations and their consumers (aggregator,
// verifier, cmd/stally, etc.).
package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/cloudtally/stacktally/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist in the database.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint,
// e.g. a second InstanceExists carrying an already-recorded message_id.
var ErrDuplicate = errors.New("duplicate")

// ErrStatusConflict is returned when a guarded status transition finds the row
// in a different state than expected. Claiming an exists record that another
// worker already claimed is the common case.
var ErrStatusConflict = errors.New("status conflict")

// Storage is the interface satisfied by *sqlite.SQLiteStore and *mysql.MySQLStore.
// Consumers depend on this interface rather than on the concrete types so that
// alternative implementations (mocks, proxies, etc.) can be substituted.
type Storage interface {
	// Raw events
	CreateRawData(ctx context.Context, raw *types.RawData) error
	GetRawData(ctx context.Context, id int64) (*types.RawData, error)

	// Lifecycles and timings
	GetLifecycleByInstanceID(ctx context.Context, instanceID string) (*types.Lifecycle, error)
	CreateLifecycle(ctx context.Context, lc *types.Lifecycle) error
	UpdateLifecycle(ctx context.Context, lc *types.Lifecycle) error
	FindTimings(ctx context.Context, lifecycleID int64, name string) ([]*types.Timing, error)
	CreateTiming(ctx context.Context, t *types.Timing) error
	UpdateTiming(ctx context.Context, t *types.Timing) error

	// Request trackers
	CreateRequestTracker(ctx context.Context, rt *types.RequestTracker) error
	FindRequestTrackers(ctx context.Context, requestID string) ([]*types.RequestTracker, error)
	UpdateRequestTracker(ctx context.Context, rt *types.RequestTracker) error

	// Instance usage
	GetInstanceUsage(ctx context.Context, id int64) (*types.InstanceUsage, error)
	GetOrCreateInstanceUsage(ctx context.Context, instanceID, requestID string) (*types.InstanceUsage, bool, error)
	UpdateInstanceUsage(ctx context.Context, u *types.InstanceUsage) error
	FindInstanceUsages(ctx context.Context, filter types.UsageFilter) ([]*types.InstanceUsage, error)

	// Instance deletes
	GetInstanceDelete(ctx context.Context, id int64) (*types.InstanceDelete, error)
	GetOrCreateInstanceDelete(ctx context.Context, instanceID string, deletedAt decimal.Decimal) (*types.InstanceDelete, bool, error)
	UpdateInstanceDelete(ctx context.Context, d *types.InstanceDelete) error
	FindInstanceDeletes(ctx context.Context, filter types.DeleteFilter) ([]*types.InstanceDelete, error)

	// Reconciled third-party records
	CreateInstanceReconcile(ctx context.Context, r *types.InstanceReconcile) error
	FindInstanceReconciles(ctx context.Context, filter types.ReconcileFilter) ([]*types.InstanceReconcile, error)

	// Exists audit records
	CreateInstanceExists(ctx context.Context, e *types.InstanceExists) error
	GetInstanceExists(ctx context.Context, id int64) (*types.InstanceExists, error)
	FindPendingExists(ctx context.Context, settledBefore decimal.Decimal, limit int) ([]*types.InstanceExists, error)
	ClaimInstanceExists(ctx context.Context, id int64) error
	FinishInstanceExists(ctx context.Context, id int64, status types.ExistsStatus, failReason string) error
	CountExistsByStatus(ctx context.Context) (map[types.ExistsStatus]int64, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Close() error
}

// Transaction provides atomic multi-operation support within a single database
// transaction.
//
// The Transaction interface exposes the subset of storage methods the event
// aggregator needs: one incoming notification fans out into a raw row plus
// lifecycle, timing, tracker, usage, delete, and exists updates, and either
// all of them land or none do.
//
// # Transaction Semantics
//
//   - All operations within the transaction share the same database connection
//   - Changes are not visible to other connections until commit
//   - If any operation returns an error, the transaction is rolled back
//   - If the callback function panics, the transaction is rolled back
//   - On successful return from the callback, the transaction is committed
//
// # Example Usage
//
//	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
//	    if err := tx.CreateRawData(ctx, raw); err != nil {
//	        return err // Triggers rollback
//	    }
//	    if err := tx.CreateInstanceExists(ctx, exists); err != nil {
//	        return err // Triggers rollback
//	    }
//	    return nil // Triggers commit
//	})
type Transaction interface {
	// Raw events
	CreateRawData(ctx context.Context, raw *types.RawData) error
	GetRawData(ctx context.Context, id int64) (*types.RawData, error) // For read-your-writes within transaction

	// Lifecycles and timings
	GetLifecycleByInstanceID(ctx context.Context, instanceID string) (*types.Lifecycle, error)
	CreateLifecycle(ctx context.Context, lc *types.Lifecycle) error
	UpdateLifecycle(ctx context.Context, lc *types.Lifecycle) error
	FindTimings(ctx context.Context, lifecycleID int64, name string) ([]*types.Timing, error)
	CreateTiming(ctx context.Context, t *types.Timing) error
	UpdateTiming(ctx context.Context, t *types.Timing) error

	// Request trackers
	CreateRequestTracker(ctx context.Context, rt *types.RequestTracker) error
	FindRequestTrackers(ctx context.Context, requestID string) ([]*types.RequestTracker, error)
	UpdateRequestTracker(ctx context.Context, rt *types.RequestTracker) error

	// Instance usage
	GetOrCreateInstanceUsage(ctx context.Context, instanceID, requestID string) (*types.InstanceUsage, bool, error)
	UpdateInstanceUsage(ctx context.Context, u *types.InstanceUsage) error
	FindInstanceUsages(ctx context.Context, filter types.UsageFilter) ([]*types.InstanceUsage, error)

	// Instance deletes
	GetOrCreateInstanceDelete(ctx context.Context, instanceID string, deletedAt decimal.Decimal) (*types.InstanceDelete, bool, error)
	UpdateInstanceDelete(ctx context.Context, d *types.InstanceDelete) error
	FindInstanceDeletes(ctx context.Context, filter types.DeleteFilter) ([]*types.InstanceDelete, error)

	// Exists audit records
	CreateInstanceExists(ctx context.Context, e *types.InstanceExists) error
}
