package mysql

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/cloudtally/stacktally/internal/storage"
)

// wrapDBError maps driver errors onto the storage sentinels so callers can
// use errors.Is without knowing which backend they talk to.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if isDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, storage.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// wrapDBErrorf is wrapDBError with a formatted operation description.
func wrapDBErrorf(err error, format string, args ...interface{}) error {
	return wrapDBError(fmt.Sprintf(format, args...), err)
}

// isDuplicateKeyError reports whether err is a unique key violation
// (MySQL error 1062).
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "Duplicate entry")
}

// isSerializationError reports whether err is a transaction conflict that
// should be retried: 1213 (deadlock) or 1205 (lock wait timeout). These
// surface on Commit as well as on individual statements.
func isSerializationError(err error) bool {
	if err == nil {
		return false
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "deadlock") ||
		strings.Contains(errStr, "try restarting transaction")
}
