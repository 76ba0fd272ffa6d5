// Package sqlite implements the storage interface using SQLite.
//
// This package is split into focused files:
//
// Core storage components:
//   - store.go: SQLiteStore struct, New() constructor, initialization logic,
//     and database utility methods (Close, Path, IsClosed, UnderlyingDB)
//   - transaction.go: RunInTransaction and the transaction-scoped store
//   - raw.go: RawData operations
//   - lifecycle.go: Lifecycle, Timing, and RequestTracker operations
//   - usage.go: InstanceUsage, InstanceDelete, and InstanceReconcile operations
//   - exists.go: InstanceExists operations including the claim/finish
//     status transitions the verifier relies on
//
// Supporting components:
//   - schema.go: Database schema definitions
//   - errors.go: Error wrapping onto the storage sentinels
//   - util.go: Decimal/NULL conversion helpers shared by the query files
//
// Query implementations are written once against the dbConn interface
// (util.go) and reused by both the pool-backed store and the transaction
// store, so the two paths cannot drift apart.
package sqlite
