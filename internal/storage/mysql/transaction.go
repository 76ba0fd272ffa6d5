package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/types"
)

const (
	// maxTransactionRetries is the maximum number of retry attempts for
	// transactions that fail on a serialization conflict
	maxTransactionRetries = 5
	// initialRetryDelay is the initial delay before retrying a failed transaction
	initialRetryDelay = 50 * time.Millisecond
)

// Compile-time check that mysqlTxStore implements the Transaction interface
var _ storage.Transaction = (*mysqlTxStore)(nil)

// mysqlTxStore implements storage.Transaction over a *sql.Tx
type mysqlTxStore struct {
	tx *sql.Tx
}

// RunInTransaction executes fn within a database transaction. Deadlocks and
// lock wait timeouts (MySQL 1213/1205) are retried from the top with
// exponential backoff; fn must therefore be safe to call more than once.
func (s *MySQLStore) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	var lastErr error
	retryDelay := initialRetryDelay

	for attempt := 0; attempt <= maxTransactionRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
			if retryDelay > 2*time.Second {
				retryDelay = 2 * time.Second
			}
		}

		lastErr = s.runTransactionOnce(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !isSerializationError(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("transaction failed after %d retries: %w", maxTransactionRetries, lastErr)
}

// runTransactionOnce executes a single transaction attempt
func (s *MySQLStore) runTransactionOnce(ctx context.Context, fn func(tx storage.Transaction) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &mysqlTxStore{tx: sqlTx}

	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	return sqlTx.Commit()
}

func (t *mysqlTxStore) CreateRawData(ctx context.Context, raw *types.RawData) error {
	return createRawData(ctx, t.tx, raw)
}

func (t *mysqlTxStore) GetRawData(ctx context.Context, id int64) (*types.RawData, error) {
	return getRawData(ctx, t.tx, id)
}

func (t *mysqlTxStore) GetLifecycleByInstanceID(ctx context.Context, instanceID string) (*types.Lifecycle, error) {
	return getLifecycleByInstanceID(ctx, t.tx, instanceID)
}

func (t *mysqlTxStore) CreateLifecycle(ctx context.Context, lc *types.Lifecycle) error {
	return createLifecycle(ctx, t.tx, lc)
}

func (t *mysqlTxStore) UpdateLifecycle(ctx context.Context, lc *types.Lifecycle) error {
	return updateLifecycle(ctx, t.tx, lc)
}

func (t *mysqlTxStore) FindTimings(ctx context.Context, lifecycleID int64, name string) ([]*types.Timing, error) {
	return findTimings(ctx, t.tx, lifecycleID, name)
}

func (t *mysqlTxStore) CreateTiming(ctx context.Context, tm *types.Timing) error {
	return createTiming(ctx, t.tx, tm)
}

func (t *mysqlTxStore) UpdateTiming(ctx context.Context, tm *types.Timing) error {
	return updateTiming(ctx, t.tx, tm)
}

func (t *mysqlTxStore) CreateRequestTracker(ctx context.Context, rt *types.RequestTracker) error {
	return createRequestTracker(ctx, t.tx, rt)
}

func (t *mysqlTxStore) FindRequestTrackers(ctx context.Context, requestID string) ([]*types.RequestTracker, error) {
	return findRequestTrackers(ctx, t.tx, requestID)
}

func (t *mysqlTxStore) UpdateRequestTracker(ctx context.Context, rt *types.RequestTracker) error {
	return updateRequestTracker(ctx, t.tx, rt)
}

func (t *mysqlTxStore) GetOrCreateInstanceUsage(ctx context.Context, instanceID, requestID string) (*types.InstanceUsage, bool, error) {
	return getOrCreateInstanceUsage(ctx, t.tx, instanceID, requestID)
}

func (t *mysqlTxStore) UpdateInstanceUsage(ctx context.Context, u *types.InstanceUsage) error {
	return updateInstanceUsage(ctx, t.tx, u)
}

func (t *mysqlTxStore) FindInstanceUsages(ctx context.Context, filter types.UsageFilter) ([]*types.InstanceUsage, error) {
	return findInstanceUsages(ctx, t.tx, filter)
}

func (t *mysqlTxStore) GetOrCreateInstanceDelete(ctx context.Context, instanceID string, deletedAt decimal.Decimal) (*types.InstanceDelete, bool, error) {
	return getOrCreateInstanceDelete(ctx, t.tx, instanceID, deletedAt)
}

func (t *mysqlTxStore) UpdateInstanceDelete(ctx context.Context, d *types.InstanceDelete) error {
	return updateInstanceDelete(ctx, t.tx, d)
}

func (t *mysqlTxStore) FindInstanceDeletes(ctx context.Context, filter types.DeleteFilter) ([]*types.InstanceDelete, error) {
	return findInstanceDeletes(ctx, t.tx, filter)
}

func (t *mysqlTxStore) CreateInstanceExists(ctx context.Context, e *types.InstanceExists) error {
	return createInstanceExists(ctx, t.tx, e)
}
