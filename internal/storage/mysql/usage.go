package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/types"
)

// GetInstanceUsage loads one usage row by id. The verifier resolves the
// usage an exists record was bound to at aggregation time through this.
func (s *MySQLStore) GetInstanceUsage(ctx context.Context, id int64) (*types.InstanceUsage, error) {
	return getInstanceUsage(ctx, s.conn(), id)
}

// GetOrCreateInstanceUsage finds the usage row keyed by (instance_id,
// request_id), inserting an empty one if none exists. The bool result
// reports whether the row was created. A concurrent insert losing the race
// is retried as a fetch, so callers always get the surviving row.
func (s *MySQLStore) GetOrCreateInstanceUsage(ctx context.Context, instanceID, requestID string) (*types.InstanceUsage, bool, error) {
	return getOrCreateInstanceUsage(ctx, s.conn(), instanceID, requestID)
}

// UpdateInstanceUsage saves the mutable usage fields.
func (s *MySQLStore) UpdateInstanceUsage(ctx context.Context, u *types.InstanceUsage) error {
	return updateInstanceUsage(ctx, s.conn(), u)
}

// FindInstanceUsages returns usage rows matching the filter ordered by row id.
// Rows without a launched_at never match a LaunchedRange filter.
func (s *MySQLStore) FindInstanceUsages(ctx context.Context, filter types.UsageFilter) ([]*types.InstanceUsage, error) {
	return findInstanceUsages(ctx, s.conn(), filter)
}

// GetInstanceDelete loads one delete row by id.
func (s *MySQLStore) GetInstanceDelete(ctx context.Context, id int64) (*types.InstanceDelete, error) {
	return getInstanceDelete(ctx, s.conn(), id)
}

// GetOrCreateInstanceDelete finds the delete row keyed by (instance_id,
// deleted_at), inserting one if none exists.
func (s *MySQLStore) GetOrCreateInstanceDelete(ctx context.Context, instanceID string, deletedAt decimal.Decimal) (*types.InstanceDelete, bool, error) {
	return getOrCreateInstanceDelete(ctx, s.conn(), instanceID, deletedAt)
}

// UpdateInstanceDelete saves the mutable delete fields.
func (s *MySQLStore) UpdateInstanceDelete(ctx context.Context, d *types.InstanceDelete) error {
	return updateInstanceDelete(ctx, s.conn(), d)
}

// FindInstanceDeletes returns delete rows matching the filter ordered by row id.
func (s *MySQLStore) FindInstanceDeletes(ctx context.Context, filter types.DeleteFilter) ([]*types.InstanceDelete, error) {
	return findInstanceDeletes(ctx, s.conn(), filter)
}

// CreateInstanceReconcile inserts an out-of-band reconciliation row.
func (s *MySQLStore) CreateInstanceReconcile(ctx context.Context, r *types.InstanceReconcile) error {
	return createInstanceReconcile(ctx, s.conn(), r)
}

// FindInstanceReconciles returns reconcile rows matching the filter ordered by row id.
func (s *MySQLStore) FindInstanceReconciles(ctx context.Context, filter types.ReconcileFilter) ([]*types.InstanceReconcile, error) {
	return findInstanceReconciles(ctx, s.conn(), filter)
}

const usageColumns = `id, instance_id, request_id, launched_at, instance_type_id,
       tenant, rax_options, os_architecture, os_version, os_distro`

func scanUsageRow(scan func(dest ...interface{}) error) (*types.InstanceUsage, error) {
	var (
		u          types.InstanceUsage
		typeID     sql.NullString
		tenant     sql.NullString
		raxOptions sql.NullString
		osArch     sql.NullString
		osVersion  sql.NullString
		osDistro   sql.NullString
	)
	if err := scan(&u.ID, &u.InstanceID, &u.RequestID, &u.LaunchedAt, &typeID,
		&tenant, &raxOptions, &osArch, &osVersion, &osDistro); err != nil {
		return nil, err
	}
	u.InstanceTypeID = typeID.String
	u.Tenant = tenant.String
	u.RaxOptions = raxOptions.String
	u.OsArchitecture = osArch.String
	u.OsVersion = osVersion.String
	u.OsDistro = osDistro.String
	return &u, nil
}

func getInstanceUsage(ctx context.Context, dbc dbConn, id int64) (*types.InstanceUsage, error) {
	row := dbc.QueryRowContext(ctx, `
		SELECT `+usageColumns+`
		FROM instance_usages
		WHERE id = ?
	`, id)
	u, err := scanUsageRow(row.Scan)
	if err != nil {
		return nil, wrapDBErrorf(err, "get usage %d", id)
	}
	return u, nil
}

func getUsageByKey(ctx context.Context, dbc dbConn, instanceID, requestID string) (*types.InstanceUsage, error) {
	row := dbc.QueryRowContext(ctx, `
		SELECT `+usageColumns+`
		FROM instance_usages
		WHERE instance_id = ? AND request_id = ?
	`, instanceID, requestID)
	u, err := scanUsageRow(row.Scan)
	if err != nil {
		return nil, wrapDBErrorf(err, "get usage (%s, %s)", instanceID, requestID)
	}
	return u, nil
}

func getOrCreateInstanceUsage(ctx context.Context, dbc dbConn, instanceID, requestID string) (*types.InstanceUsage, bool, error) {
	u, err := getUsageByKey(ctx, dbc, instanceID, requestID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	res, err := dbc.ExecContext(ctx, `
		INSERT INTO instance_usages (instance_id, request_id) VALUES (?, ?)
	`, instanceID, requestID)
	if err != nil {
		if isDuplicateKeyError(err) {
			// Lost a concurrent insert race: fetch the surviving row
			u, err := getUsageByKey(ctx, dbc, instanceID, requestID)
			return u, false, err
		}
		return nil, false, wrapDBError("insert instance usage", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, wrapDBError("read instance usage id", err)
	}
	return &types.InstanceUsage{ID: id, InstanceID: instanceID, RequestID: requestID}, true, nil
}

func updateInstanceUsage(ctx context.Context, dbc dbConn, u *types.InstanceUsage) error {
	res, err := dbc.ExecContext(ctx, `
		UPDATE instance_usages
		SET launched_at = ?, instance_type_id = ?, tenant = ?, rax_options = ?,
		    os_architecture = ?, os_version = ?, os_distro = ?
		WHERE id = ?
	`, u.LaunchedAt, nullStrArg(u.InstanceTypeID), nullStrArg(u.Tenant),
		nullStrArg(u.RaxOptions), nullStrArg(u.OsArchitecture), nullStrArg(u.OsVersion),
		nullStrArg(u.OsDistro), u.ID)
	if err != nil {
		return wrapDBError("update instance usage", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update instance usage %d: %w", u.ID, storage.ErrNotFound)
	}
	return nil
}

func findInstanceUsages(ctx context.Context, dbc dbConn, filter types.UsageFilter) ([]*types.InstanceUsage, error) {
	query := `
		SELECT ` + usageColumns + `
		FROM instance_usages
		WHERE instance_id = ?`
	args := []interface{}{filter.InstanceID}
	if filter.RequestID != "" {
		query += ` AND request_id = ?`
		args = append(args, filter.RequestID)
	}
	if filter.LaunchedRange != nil {
		query += ` AND launched_at >= ? AND launched_at <= ?`
		args = append(args, filter.LaunchedRange.Lo, filter.LaunchedRange.Hi)
	}
	query += ` ORDER BY id`

	rows, err := dbc.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("find instance usages", err)
	}
	defer func() { _ = rows.Close() }()

	var usages []*types.InstanceUsage
	for rows.Next() {
		u, err := scanUsageRow(rows.Scan)
		if err != nil {
			return nil, wrapDBError("scan instance usage", err)
		}
		usages = append(usages, u)
	}
	return usages, rows.Err()
}

func getInstanceDelete(ctx context.Context, dbc dbConn, id int64) (*types.InstanceDelete, error) {
	var d types.InstanceDelete
	err := dbc.QueryRowContext(ctx, `
		SELECT id, instance_id, launched_at, deleted_at
		FROM instance_deletes
		WHERE id = ?
	`, id).Scan(&d.ID, &d.InstanceID, &d.LaunchedAt, &d.DeletedAt)
	if err != nil {
		return nil, wrapDBErrorf(err, "get delete %d", id)
	}
	return &d, nil
}

func getDeleteByKey(ctx context.Context, dbc dbConn, instanceID string, deletedAt decimal.Decimal) (*types.InstanceDelete, error) {
	var d types.InstanceDelete
	err := dbc.QueryRowContext(ctx, `
		SELECT id, instance_id, launched_at, deleted_at
		FROM instance_deletes
		WHERE instance_id = ? AND deleted_at = ?
	`, instanceID, deletedAt).Scan(&d.ID, &d.InstanceID, &d.LaunchedAt, &d.DeletedAt)
	if err != nil {
		return nil, wrapDBErrorf(err, "get delete (%s, %s)", instanceID, deletedAt)
	}
	return &d, nil
}

func getOrCreateInstanceDelete(ctx context.Context, dbc dbConn, instanceID string, deletedAt decimal.Decimal) (*types.InstanceDelete, bool, error) {
	d, err := getDeleteByKey(ctx, dbc, instanceID, deletedAt)
	if err == nil {
		return d, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	res, err := dbc.ExecContext(ctx, `
		INSERT INTO instance_deletes (instance_id, deleted_at) VALUES (?, ?)
	`, instanceID, deletedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			d, err := getDeleteByKey(ctx, dbc, instanceID, deletedAt)
			return d, false, err
		}
		return nil, false, wrapDBError("insert instance delete", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, wrapDBError("read instance delete id", err)
	}
	return &types.InstanceDelete{ID: id, InstanceID: instanceID, DeletedAt: deletedAt}, true, nil
}

func updateInstanceDelete(ctx context.Context, dbc dbConn, d *types.InstanceDelete) error {
	res, err := dbc.ExecContext(ctx, `
		UPDATE instance_deletes SET launched_at = ?, deleted_at = ?
		WHERE id = ?
	`, d.LaunchedAt, d.DeletedAt, d.ID)
	if err != nil {
		return wrapDBError("update instance delete", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update instance delete %d: %w", d.ID, storage.ErrNotFound)
	}
	return nil
}

func findInstanceDeletes(ctx context.Context, dbc dbConn, filter types.DeleteFilter) ([]*types.InstanceDelete, error) {
	query := `
		SELECT id, instance_id, launched_at, deleted_at
		FROM instance_deletes
		WHERE instance_id = ?`
	args := []interface{}{filter.InstanceID}
	if filter.LaunchedRange != nil {
		query += ` AND launched_at >= ? AND launched_at <= ?`
		args = append(args, filter.LaunchedRange.Lo, filter.LaunchedRange.Hi)
	}
	if filter.DeletedRange != nil {
		query += ` AND deleted_at >= ? AND deleted_at <= ?`
		args = append(args, filter.DeletedRange.Lo, filter.DeletedRange.Hi)
	}
	if filter.DeletedMax.Valid {
		query += ` AND deleted_at <= ?`
		args = append(args, filter.DeletedMax.Decimal)
	}
	query += ` ORDER BY id`

	rows, err := dbc.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("find instance deletes", err)
	}
	defer func() { _ = rows.Close() }()

	var deletes []*types.InstanceDelete
	for rows.Next() {
		var d types.InstanceDelete
		if err := rows.Scan(&d.ID, &d.InstanceID, &d.LaunchedAt, &d.DeletedAt); err != nil {
			return nil, wrapDBError("scan instance delete", err)
		}
		deletes = append(deletes, &d)
	}
	return deletes, rows.Err()
}

const reconcileColumns = `id, instance_id, launched_at, deleted_at, instance_type_id,
       tenant, rax_options, os_architecture, os_version, os_distro`

func createInstanceReconcile(ctx context.Context, dbc dbConn, r *types.InstanceReconcile) error {
	res, err := dbc.ExecContext(ctx, `
		INSERT INTO instance_reconciles (instance_id, launched_at, deleted_at, instance_type_id,
		                                 tenant, rax_options, os_architecture, os_version, os_distro)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.InstanceID, r.LaunchedAt, r.DeletedAt, nullStrArg(r.InstanceTypeID),
		nullStrArg(r.Tenant), nullStrArg(r.RaxOptions), nullStrArg(r.OsArchitecture),
		nullStrArg(r.OsVersion), nullStrArg(r.OsDistro))
	if err != nil {
		return wrapDBError("insert instance reconcile", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapDBError("read instance reconcile id", err)
	}
	r.ID = id
	return nil
}

func findInstanceReconciles(ctx context.Context, dbc dbConn, filter types.ReconcileFilter) ([]*types.InstanceReconcile, error) {
	query := `
		SELECT ` + reconcileColumns + `
		FROM instance_reconciles
		WHERE instance_id = ?`
	args := []interface{}{filter.InstanceID}
	if filter.LaunchedRange != nil {
		query += ` AND launched_at >= ? AND launched_at <= ?`
		args = append(args, filter.LaunchedRange.Lo, filter.LaunchedRange.Hi)
	}
	if filter.DeletedRange != nil {
		query += ` AND deleted_at >= ? AND deleted_at <= ?`
		args = append(args, filter.DeletedRange.Lo, filter.DeletedRange.Hi)
	}
	if filter.DeletedMax.Valid {
		query += ` AND deleted_at <= ?`
		args = append(args, filter.DeletedMax.Decimal)
	}
	query += ` ORDER BY id`

	rows, err := dbc.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("find instance reconciles", err)
	}
	defer func() { _ = rows.Close() }()

	var reconciles []*types.InstanceReconcile
	for rows.Next() {
		var (
			r          types.InstanceReconcile
			typeID     sql.NullString
			tenant     sql.NullString
			raxOptions sql.NullString
			osArch     sql.NullString
			osVersion  sql.NullString
			osDistro   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.InstanceID, &r.LaunchedAt, &r.DeletedAt, &typeID,
			&tenant, &raxOptions, &osArch, &osVersion, &osDistro); err != nil {
			return nil, wrapDBError("scan instance reconcile", err)
		}
		r.InstanceTypeID = typeID.String
		r.Tenant = tenant.String
		r.RaxOptions = raxOptions.String
		r.OsArchitecture = osArch.String
		r.OsVersion = osVersion.String
		r.OsDistro = osDistro.String
		reconciles = append(reconciles, &r)
	}
	return reconciles, rows.Err()
}
