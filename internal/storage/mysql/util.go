package mysql

import (
	"context"
	"database/sql"
)

// dbConn is the subset of database/sql used by the query implementations.
// Satisfied by retryConn (store-level calls) and *sql.Tx (transactional
// calls), so each query is written once. decimal.Decimal and
// decimal.NullDecimal implement driver.Valuer and sql.Scanner, which lets
// DECIMAL(20,6) columns bind and scan without conversion helpers.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// nullStrArg maps "" to SQL NULL for optional text columns.
func nullStrArg(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullIDArg maps a nil id pointer to SQL NULL.
func nullIDArg(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

// scanNullID converts a nullable id column back to a pointer.
func scanNullID(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
