// Package factory provides functions for creating storage backends based on configuration.
package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudtally/stacktally/internal/storage"
)

// Backend names accepted by New.
const (
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
)

// BackendFactory is a function that creates a storage backend
type BackendFactory func(ctx context.Context, path string, opts Options) (storage.Storage, error)

// backendRegistry holds registered backend factories
var backendRegistry = make(map[string]BackendFactory)

// RegisterBackend registers a storage backend factory
func RegisterBackend(name string, factory BackendFactory) {
	backendRegistry[name] = factory
}

// Options configures how the storage backend is opened
type Options struct {
	ReadOnly    bool
	LockTimeout time.Duration

	// MySQL server options
	ServerHost     string // Server host (default: 127.0.0.1)
	ServerPort     int    // Server port (default: 3306)
	ServerUser     string // MySQL user (default: stacktally)
	ServerPassword string // MySQL password
	Database       string // Database name (default: stacktally)
}

// New creates a storage backend based on the backend type.
// For SQLite, path is the database file (":memory:" for ephemeral stores).
// For MySQL, the server options select the database and path is ignored.
func New(ctx context.Context, backend, path string) (storage.Storage, error) {
	return NewWithOptions(ctx, backend, path, Options{})
}

// NewWithOptions creates a storage backend with the specified options.
func NewWithOptions(ctx context.Context, backend, path string, opts Options) (storage.Storage, error) {
	if backend == "" {
		backend = BackendSQLite
	}
	if factory, ok := backendRegistry[backend]; ok {
		return factory(ctx, path, opts)
	}
	return nil, fmt.Errorf("unknown storage backend: %s (supported: sqlite, mysql)", backend)
}
