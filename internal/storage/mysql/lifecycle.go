package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/types"
)

// GetLifecycleByInstanceID retrieves the lifecycle row for an instance.
func (s *MySQLStore) GetLifecycleByInstanceID(ctx context.Context, instanceID string) (*types.Lifecycle, error) {
	return getLifecycleByInstanceID(ctx, s.conn(), instanceID)
}

// CreateLifecycle inserts a new lifecycle row. The row id is written back
// into lc.ID. Returns storage.ErrDuplicate if the instance already has one.
func (s *MySQLStore) CreateLifecycle(ctx context.Context, lc *types.Lifecycle) error {
	return createLifecycle(ctx, s.conn(), lc)
}

// UpdateLifecycle saves the mutable lifecycle fields.
func (s *MySQLStore) UpdateLifecycle(ctx context.Context, lc *types.Lifecycle) error {
	return updateLifecycle(ctx, s.conn(), lc)
}

// FindTimings returns the timings for a lifecycle ordered by row id.
// A non-empty name restricts the result to that event name.
func (s *MySQLStore) FindTimings(ctx context.Context, lifecycleID int64, name string) ([]*types.Timing, error) {
	return findTimings(ctx, s.conn(), lifecycleID, name)
}

// CreateTiming inserts a new timing row. The row id is written back into t.ID.
func (s *MySQLStore) CreateTiming(ctx context.Context, t *types.Timing) error {
	return createTiming(ctx, s.conn(), t)
}

// UpdateTiming saves the mutable timing fields.
func (s *MySQLStore) UpdateTiming(ctx context.Context, t *types.Timing) error {
	return updateTiming(ctx, s.conn(), t)
}

// CreateRequestTracker inserts a new tracker row. Returns storage.ErrDuplicate
// if the request_id is already tracked.
func (s *MySQLStore) CreateRequestTracker(ctx context.Context, rt *types.RequestTracker) error {
	return createRequestTracker(ctx, s.conn(), rt)
}

// FindRequestTrackers returns the trackers for a request id ordered by row id.
func (s *MySQLStore) FindRequestTrackers(ctx context.Context, requestID string) ([]*types.RequestTracker, error) {
	return findRequestTrackers(ctx, s.conn(), requestID)
}

// UpdateRequestTracker saves the mutable tracker fields.
func (s *MySQLStore) UpdateRequestTracker(ctx context.Context, rt *types.RequestTracker) error {
	return updateRequestTracker(ctx, s.conn(), rt)
}

func getLifecycleByInstanceID(ctx context.Context, dbc dbConn, instanceID string) (*types.Lifecycle, error) {
	var (
		lc        types.Lifecycle
		lastRawID sql.NullInt64
	)
	err := dbc.QueryRowContext(ctx, `
		SELECT id, instance_id, last_state, last_task_state, last_raw_id
		FROM lifecycles
		WHERE instance_id = ?
	`, instanceID).Scan(&lc.ID, &lc.InstanceID, &lc.LastState, &lc.LastTaskState, &lastRawID)
	if err != nil {
		return nil, wrapDBErrorf(err, "get lifecycle for instance %s", instanceID)
	}
	lc.LastRawID = scanNullID(lastRawID)
	return &lc, nil
}

func createLifecycle(ctx context.Context, dbc dbConn, lc *types.Lifecycle) error {
	res, err := dbc.ExecContext(ctx, `
		INSERT INTO lifecycles (instance_id, last_state, last_task_state, last_raw_id)
		VALUES (?, ?, ?, ?)
	`, lc.InstanceID, lc.LastState, lc.LastTaskState, nullIDArg(lc.LastRawID))
	if err != nil {
		return wrapDBError("insert lifecycle", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapDBError("read lifecycle id", err)
	}
	lc.ID = id
	return nil
}

func updateLifecycle(ctx context.Context, dbc dbConn, lc *types.Lifecycle) error {
	res, err := dbc.ExecContext(ctx, `
		UPDATE lifecycles SET last_state = ?, last_task_state = ?, last_raw_id = ?
		WHERE id = ?
	`, lc.LastState, lc.LastTaskState, nullIDArg(lc.LastRawID), lc.ID)
	if err != nil {
		return wrapDBError("update lifecycle", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update lifecycle %d: %w", lc.ID, storage.ErrNotFound)
	}
	return nil
}

func findTimings(ctx context.Context, dbc dbConn, lifecycleID int64, name string) ([]*types.Timing, error) {
	query := `
		SELECT id, lifecycle_id, name, start_raw_id, start_when, end_raw_id, end_when, diff
		FROM timings
		WHERE lifecycle_id = ?`
	args := []interface{}{lifecycleID}
	if name != "" {
		query += ` AND name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY id`

	rows, err := dbc.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("find timings", err)
	}
	defer func() { _ = rows.Close() }()

	var timings []*types.Timing
	for rows.Next() {
		var (
			tm         types.Timing
			startRawID sql.NullInt64
			endRawID   sql.NullInt64
		)
		if err := rows.Scan(&tm.ID, &tm.LifecycleID, &tm.Name, &startRawID, &tm.StartWhen,
			&endRawID, &tm.EndWhen, &tm.Diff); err != nil {
			return nil, wrapDBError("scan timing", err)
		}
		tm.StartRawID = scanNullID(startRawID)
		tm.EndRawID = scanNullID(endRawID)
		timings = append(timings, &tm)
	}
	return timings, rows.Err()
}

func createTiming(ctx context.Context, dbc dbConn, t *types.Timing) error {
	res, err := dbc.ExecContext(ctx, `
		INSERT INTO timings (lifecycle_id, name, start_raw_id, start_when, end_raw_id, end_when, diff)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.LifecycleID, t.Name, nullIDArg(t.StartRawID), t.StartWhen,
		nullIDArg(t.EndRawID), t.EndWhen, t.Diff)
	if err != nil {
		return wrapDBError("insert timing", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapDBError("read timing id", err)
	}
	t.ID = id
	return nil
}

func updateTiming(ctx context.Context, dbc dbConn, t *types.Timing) error {
	res, err := dbc.ExecContext(ctx, `
		UPDATE timings SET start_raw_id = ?, start_when = ?, end_raw_id = ?, end_when = ?, diff = ?
		WHERE id = ?
	`, nullIDArg(t.StartRawID), t.StartWhen, nullIDArg(t.EndRawID), t.EndWhen, t.Diff, t.ID)
	if err != nil {
		return wrapDBError("update timing", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update timing %d: %w", t.ID, storage.ErrNotFound)
	}
	return nil
}

func createRequestTracker(ctx context.Context, dbc dbConn, rt *types.RequestTracker) error {
	res, err := dbc.ExecContext(ctx, `
		INSERT INTO request_trackers (request_id, lifecycle_id, start_ts, last_timing_id, duration)
		VALUES (?, ?, ?, ?, ?)
	`, rt.RequestID, rt.LifecycleID, rt.Start, nullIDArg(rt.LastTimingID), rt.Duration)
	if err != nil {
		return wrapDBError("insert request tracker", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapDBError("read request tracker id", err)
	}
	rt.ID = id
	return nil
}

func findRequestTrackers(ctx context.Context, dbc dbConn, requestID string) ([]*types.RequestTracker, error) {
	rows, err := dbc.QueryContext(ctx, `
		SELECT id, request_id, lifecycle_id, start_ts, last_timing_id, duration
		FROM request_trackers
		WHERE request_id = ?
		ORDER BY id
	`, requestID)
	if err != nil {
		return nil, wrapDBError("find request trackers", err)
	}
	defer func() { _ = rows.Close() }()

	var trackers []*types.RequestTracker
	for rows.Next() {
		var (
			rt           types.RequestTracker
			lastTimingID sql.NullInt64
		)
		if err := rows.Scan(&rt.ID, &rt.RequestID, &rt.LifecycleID, &rt.Start, &lastTimingID, &rt.Duration); err != nil {
			return nil, wrapDBError("scan request tracker", err)
		}
		rt.LastTimingID = scanNullID(lastTimingID)
		trackers = append(trackers, &rt)
	}
	return trackers, rows.Err()
}

func updateRequestTracker(ctx context.Context, dbc dbConn, rt *types.RequestTracker) error {
	res, err := dbc.ExecContext(ctx, `
		UPDATE request_trackers SET lifecycle_id = ?, start_ts = ?, last_timing_id = ?, duration = ?
		WHERE id = ?
	`, rt.LifecycleID, rt.Start, nullIDArg(rt.LastTimingID), rt.Duration, rt.ID)
	if err != nil {
		return wrapDBError("update request tracker", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update request tracker %d: %w", rt.ID, storage.ErrNotFound)
	}
	return nil
}
