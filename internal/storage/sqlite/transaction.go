package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/types"
)

// Verify sqliteTxStore implements storage.Transaction at compile time
var _ storage.Transaction = (*sqliteTxStore)(nil)

// sqliteTxStore implements the storage.Transaction interface for SQLite.
// It wraps a dedicated database connection with an active transaction.
// The query implementations are shared with *SQLiteStore; the methods here
// only rebind them to the transaction's connection.
type sqliteTxStore struct {
	conn   *sql.Conn    // Dedicated connection for the transaction
	parent *SQLiteStore // Parent store for accessing shared state
}

// RunInTransaction executes a function within a database transaction.
//
// The transaction uses BEGIN IMMEDIATE to acquire a write lock early,
// preventing deadlocks when multiple goroutines compete for the same lock.
//
// Transaction lifecycle:
//  1. Acquire dedicated connection from pool
//  2. Begin IMMEDIATE transaction with retry on SQLITE_BUSY
//  3. Execute user function with Transaction interface
//  4. On success: COMMIT
//  5. On error or panic: ROLLBACK
//
// Panic safety: If the callback panics, the transaction is rolled back
// and the panic is re-raised to the caller.
func (s *SQLiteStore) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	// Acquire a dedicated connection for the transaction.
	// This ensures all operations in the transaction use the same connection.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for transaction: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// Start IMMEDIATE transaction to acquire write lock early.
	// Use retry logic with exponential backoff to handle SQLITE_BUSY
	if err := beginImmediateWithRetry(ctx, conn, 5, 10*time.Millisecond); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Track commit state for cleanup
	committed := false
	defer func() {
		if !committed {
			// Use background context to ensure rollback completes even if ctx is cancelled
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	// Handle panics: rollback and re-raise
	defer func() {
		if r := recover(); r != nil {
			// Rollback will happen via the committed=false check above
			panic(r) // Re-raise the panic
		}
	}()

	// Execute user function
	if err := fn(&sqliteTxStore{conn: conn, parent: s}); err != nil {
		return err // Rollback happens in defer
	}

	// Commit the transaction
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// beginImmediateWithRetry starts an IMMEDIATE transaction on conn, retrying
// with exponential backoff when the driver surfaces SQLITE_BUSY. The
// busy_timeout pragma already blocks inside SQLite; this layer catches the
// cases where the lock error escapes anyway.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn, attempts int, baseDelay time.Duration) error {
	var err error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if !isBusyError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// isBusyError checks if an error is SQLite's lock contention error
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// CreateRawData records a notification within the transaction.
func (t *sqliteTxStore) CreateRawData(ctx context.Context, raw *types.RawData) error {
	return createRawData(ctx, t.conn, raw)
}

// GetRawData retrieves a notification within the transaction.
// This enables read-your-writes semantics within the transaction.
func (t *sqliteTxStore) GetRawData(ctx context.Context, id int64) (*types.RawData, error) {
	return getRawData(ctx, t.conn, id)
}

func (t *sqliteTxStore) GetLifecycleByInstanceID(ctx context.Context, instanceID string) (*types.Lifecycle, error) {
	return getLifecycleByInstanceID(ctx, t.conn, instanceID)
}

func (t *sqliteTxStore) CreateLifecycle(ctx context.Context, lc *types.Lifecycle) error {
	return createLifecycle(ctx, t.conn, lc)
}

func (t *sqliteTxStore) UpdateLifecycle(ctx context.Context, lc *types.Lifecycle) error {
	return updateLifecycle(ctx, t.conn, lc)
}

func (t *sqliteTxStore) FindTimings(ctx context.Context, lifecycleID int64, name string) ([]*types.Timing, error) {
	return findTimings(ctx, t.conn, lifecycleID, name)
}

func (t *sqliteTxStore) CreateTiming(ctx context.Context, tm *types.Timing) error {
	return createTiming(ctx, t.conn, tm)
}

func (t *sqliteTxStore) UpdateTiming(ctx context.Context, tm *types.Timing) error {
	return updateTiming(ctx, t.conn, tm)
}

func (t *sqliteTxStore) CreateRequestTracker(ctx context.Context, rt *types.RequestTracker) error {
	return createRequestTracker(ctx, t.conn, rt)
}

func (t *sqliteTxStore) FindRequestTrackers(ctx context.Context, requestID string) ([]*types.RequestTracker, error) {
	return findRequestTrackers(ctx, t.conn, requestID)
}

func (t *sqliteTxStore) UpdateRequestTracker(ctx context.Context, rt *types.RequestTracker) error {
	return updateRequestTracker(ctx, t.conn, rt)
}

func (t *sqliteTxStore) GetOrCreateInstanceUsage(ctx context.Context, instanceID, requestID string) (*types.InstanceUsage, bool, error) {
	return getOrCreateInstanceUsage(ctx, t.conn, instanceID, requestID)
}

func (t *sqliteTxStore) UpdateInstanceUsage(ctx context.Context, u *types.InstanceUsage) error {
	return updateInstanceUsage(ctx, t.conn, u)
}

func (t *sqliteTxStore) FindInstanceUsages(ctx context.Context, filter types.UsageFilter) ([]*types.InstanceUsage, error) {
	return findInstanceUsages(ctx, t.conn, filter)
}

func (t *sqliteTxStore) GetOrCreateInstanceDelete(ctx context.Context, instanceID string, deletedAt decimal.Decimal) (*types.InstanceDelete, bool, error) {
	return getOrCreateInstanceDelete(ctx, t.conn, instanceID, deletedAt)
}

func (t *sqliteTxStore) UpdateInstanceDelete(ctx context.Context, d *types.InstanceDelete) error {
	return updateInstanceDelete(ctx, t.conn, d)
}

func (t *sqliteTxStore) FindInstanceDeletes(ctx context.Context, filter types.DeleteFilter) ([]*types.InstanceDelete, error) {
	return findInstanceDeletes(ctx, t.conn, filter)
}

func (t *sqliteTxStore) CreateInstanceExists(ctx context.Context, e *types.InstanceExists) error {
	return createInstanceExists(ctx, t.conn, e)
}
