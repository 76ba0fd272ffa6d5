package mysql

import (
	"context"
	"database/sql"

	"github.com/cloudtally/stacktally/internal/types"
)

// CreateRawData records one accepted notification. The row id is written
// back into raw.ID.
func (s *MySQLStore) CreateRawData(ctx context.Context, raw *types.RawData) error {
	return createRawData(ctx, s.conn(), raw)
}

// GetRawData retrieves a notification by row id.
func (s *MySQLStore) GetRawData(ctx context.Context, id int64) (*types.RawData, error) {
	return getRawData(ctx, s.conn(), id)
}

func createRawData(ctx context.Context, dbc dbConn, raw *types.RawData) error {
	res, err := dbc.ExecContext(ctx, `
		INSERT INTO raw_data (deployment_id, when_ts, host, service, routing_key,
		                      event, request_id, instance_id, state, old_task, json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, raw.Deployment, raw.When, raw.Host, raw.Service, raw.RoutingKey,
		raw.Event, raw.RequestID, nullStrArg(raw.InstanceID), nullStrArg(raw.State),
		nullStrArg(raw.OldTask), raw.JSON)
	if err != nil {
		return wrapDBError("insert raw data", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapDBError("read raw data id", err)
	}
	raw.ID = id
	return nil
}

func getRawData(ctx context.Context, dbc dbConn, id int64) (*types.RawData, error) {
	var (
		raw     types.RawData
		inst    sql.NullString
		state   sql.NullString
		oldTask sql.NullString
	)
	err := dbc.QueryRowContext(ctx, `
		SELECT id, deployment_id, when_ts, host, service, routing_key,
		       event, request_id, instance_id, state, old_task, json
		FROM raw_data
		WHERE id = ?
	`, id).Scan(&raw.ID, &raw.Deployment, &raw.When, &raw.Host, &raw.Service,
		&raw.RoutingKey, &raw.Event, &raw.RequestID, &inst, &state, &oldTask, &raw.JSON)
	if err != nil {
		return nil, wrapDBErrorf(err, "get raw data %d", id)
	}
	raw.InstanceID = inst.String
	raw.State = state.String
	raw.OldTask = oldTask.String
	return &raw, nil
}
