package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/types"
)

// CreateInstanceExists inserts an audit record. Returns storage.ErrDuplicate
// when the message_id was already recorded.
func (s *MySQLStore) CreateInstanceExists(ctx context.Context, e *types.InstanceExists) error {
	return createInstanceExists(ctx, s.conn(), e)
}

// GetInstanceExists retrieves an audit record by row id.
func (s *MySQLStore) GetInstanceExists(ctx context.Context, id int64) (*types.InstanceExists, error) {
	return getInstanceExists(ctx, s.conn(), id)
}

// FindPendingExists returns pending audit records whose audit period ended at
// or before settledBefore, oldest row first. limit <= 0 means no limit.
func (s *MySQLStore) FindPendingExists(ctx context.Context, settledBefore decimal.Decimal, limit int) ([]*types.InstanceExists, error) {
	query := `
		SELECT ` + existsColumns + `
		FROM instance_exists
		WHERE status = ? AND audit_period_ending <= ?
		ORDER BY id`
	args := []interface{}{string(types.StatusPending), settledBefore}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("find pending exists", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.InstanceExists
	for rows.Next() {
		e, err := scanExistsRow(rows.Scan)
		if err != nil {
			return nil, wrapDBError("scan instance exists", err)
		}
		records = append(records, e)
	}
	return records, rows.Err()
}

// ClaimInstanceExists flips one audit record from pending to verifying.
// The guarded update hands each record to exactly one worker: the loser of a
// concurrent claim gets storage.ErrStatusConflict.
func (s *MySQLStore) ClaimInstanceExists(ctx context.Context, id int64) error {
	res, err := s.conn().ExecContext(ctx, `
		UPDATE instance_exists SET status = ?
		WHERE id = ? AND status = ?
	`, string(types.StatusVerifying), id, string(types.StatusPending))
	if err != nil {
		return wrapDBError("claim instance exists", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("claim instance exists", err)
	}
	if n == 0 {
		if _, err := getInstanceExists(ctx, s.conn(), id); err != nil {
			return err
		}
		return fmt.Errorf("claim instance exists %d: %w", id, storage.ErrStatusConflict)
	}
	return nil
}

// FinishInstanceExists moves a verifying audit record to its terminal status
// and records the failure reason. Only the worker holding the claim can
// finish a record; any other starting status yields storage.ErrStatusConflict.
func (s *MySQLStore) FinishInstanceExists(ctx context.Context, id int64, status types.ExistsStatus, failReason string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish instance exists %d: status %q is not terminal", id, status)
	}
	res, err := s.conn().ExecContext(ctx, `
		UPDATE instance_exists SET status = ?, fail_reason = ?
		WHERE id = ? AND status = ?
	`, string(status), failReason, id, string(types.StatusVerifying))
	if err != nil {
		return wrapDBError("finish instance exists", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("finish instance exists", err)
	}
	if n == 0 {
		if _, err := getInstanceExists(ctx, s.conn(), id); err != nil {
			return err
		}
		return fmt.Errorf("finish instance exists %d: %w", id, storage.ErrStatusConflict)
	}
	return nil
}

// CountExistsByStatus returns the number of audit records per status.
func (s *MySQLStore) CountExistsByStatus(ctx context.Context) (map[types.ExistsStatus]int64, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT status, COUNT(*) FROM instance_exists GROUP BY status
	`)
	if err != nil {
		return nil, wrapDBError("count exists by status", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[types.ExistsStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapDBError("scan exists count", err)
		}
		counts[types.ExistsStatus(status)] = n
	}
	return counts, rows.Err()
}

const existsColumns = `id, message_id, instance_id, launched_at, deleted_at,
       audit_period_beginning, audit_period_ending, instance_type_id,
       tenant, rax_options, os_architecture, os_version, os_distro,
       usage_id, delete_id, raw_id, status, fail_reason`

func scanExistsRow(scan func(dest ...interface{}) error) (*types.InstanceExists, error) {
	var (
		e          types.InstanceExists
		typeID     sql.NullString
		tenant     sql.NullString
		raxOptions sql.NullString
		osArch     sql.NullString
		osVersion  sql.NullString
		osDistro   sql.NullString
		usageID    sql.NullInt64
		deleteID   sql.NullInt64
		status     string
	)
	if err := scan(&e.ID, &e.MessageID, &e.InstanceID, &e.LaunchedAt, &e.DeletedAt,
		&e.AuditPeriodBeginning, &e.AuditPeriodEnding, &typeID, &tenant, &raxOptions,
		&osArch, &osVersion, &osDistro, &usageID, &deleteID, &e.RawID, &status, &e.FailReason); err != nil {
		return nil, err
	}
	e.InstanceTypeID = typeID.String
	e.Tenant = tenant.String
	e.RaxOptions = raxOptions.String
	e.OsArchitecture = osArch.String
	e.OsVersion = osVersion.String
	e.OsDistro = osDistro.String
	e.UsageID = scanNullID(usageID)
	e.DeleteID = scanNullID(deleteID)
	e.Status = types.ExistsStatus(status)
	return &e, nil
}

func createInstanceExists(ctx context.Context, dbc dbConn, e *types.InstanceExists) error {
	if e.Status == "" {
		e.Status = types.StatusPending
	}
	res, err := dbc.ExecContext(ctx, `
		INSERT INTO instance_exists (message_id, instance_id, launched_at, deleted_at,
		                             audit_period_beginning, audit_period_ending,
		                             instance_type_id, tenant, rax_options,
		                             os_architecture, os_version, os_distro,
		                             usage_id, delete_id, raw_id, status, fail_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.MessageID, e.InstanceID, e.LaunchedAt, e.DeletedAt,
		e.AuditPeriodBeginning, e.AuditPeriodEnding,
		nullStrArg(e.InstanceTypeID), nullStrArg(e.Tenant), nullStrArg(e.RaxOptions),
		nullStrArg(e.OsArchitecture), nullStrArg(e.OsVersion), nullStrArg(e.OsDistro),
		nullIDArg(e.UsageID), nullIDArg(e.DeleteID), e.RawID, string(e.Status), e.FailReason)
	if err != nil {
		return wrapDBError("insert instance exists", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapDBError("read instance exists id", err)
	}
	e.ID = id
	return nil
}

func getInstanceExists(ctx context.Context, dbc dbConn, id int64) (*types.InstanceExists, error) {
	row := dbc.QueryRowContext(ctx, `
		SELECT `+existsColumns+`
		FROM instance_exists
		WHERE id = ?
	`, id)
	e, err := scanExistsRow(row.Scan)
	if err != nil {
		return nil, wrapDBErrorf(err, "get instance exists %d", id)
	}
	return e, nil
}
