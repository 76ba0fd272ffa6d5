package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cloudtally/stacktally/internal/dectime"
)

// dbConn is the subset of database/sql methods shared by *sql.DB and
// *sql.Conn. Query implementations are written once against this interface
// and run either directly on the pool or on a transaction's dedicated
// connection.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// QueryContext exposes the underlying database QueryContext method for advanced queries
func (s *SQLiteStore) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// Decimal timestamps are stored as their canonical fixed-precision text form
// (dectime.Canonical). The integer part is always 14 digits, so lexicographic
// TEXT comparison matches numeric comparison and range scans can use plain
// BETWEEN on the column.

// decArg converts a required decimal to its storage form.
func decArg(d decimal.Decimal) string {
	return dectime.Canonical(d)
}

// nullDecArg converts an optional decimal to its storage form (NULL when unset).
func nullDecArg(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return dectime.Canonical(d.Decimal)
}

// nullStrArg stores empty strings as NULL.
func nullStrArg(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullIDArg converts an optional row id to its storage form.
func nullIDArg(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

// scanDec parses a scanned required decimal column.
func scanDec(s string) (decimal.Decimal, error) {
	d, err := dectime.ParseCanonical(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("corrupt decimal column %q: %w", s, err)
	}
	return d, nil
}

// scanNullDec parses a scanned nullable decimal column.
func scanNullDec(ns sql.NullString) (decimal.NullDecimal, error) {
	if !ns.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := scanDec(ns.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

// scanNullID converts a scanned nullable integer column.
func scanNullID(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}
