// Package stacktally provides a minimal public API for embedding the
// telemetry pipeline's storage layer in other Go programs.
//
// Most integrations should run the stally binary and read the database
// directly. This package exports only the essential types and functions for
// programmatic access: opening a store, querying usage and exists records,
// and the status enum.
package stacktally

import (
	"context"

	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/storage/sqlite"
	"github.com/cloudtally/stacktally/internal/types"
)

// Core entity types.
type (
	RawData         = types.RawData
	Lifecycle       = types.Lifecycle
	Timing          = types.Timing
	InstanceUsage   = types.InstanceUsage
	InstanceDelete  = types.InstanceDelete
	InstanceExists  = types.InstanceExists
	ExistsStatus    = types.ExistsStatus
	UsageFilter     = types.UsageFilter
	DeleteFilter    = types.DeleteFilter
	ReconcileFilter = types.ReconcileFilter
)

// Exists record status constants.
const (
	StatusPending    = types.StatusPending
	StatusVerifying  = types.StatusVerifying
	StatusVerified   = types.StatusVerified
	StatusReconciled = types.StatusReconciled
	StatusFailed     = types.StatusFailed
)

// Storage is the pipeline's storage interface.
type Storage = storage.Storage

// NewSQLiteStorage opens a stacktally SQLite database for programmatic
// access. path may be a plain file path or a file: URI.
func NewSQLiteStorage(ctx context.Context, path string) (Storage, error) {
	return sqlite.New(ctx, storage.SQLiteConnString(path, false))
}
