package factory

import (
	"context"

	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/storage/sqlite"
)

func init() {
	RegisterBackend(BackendSQLite, func(ctx context.Context, path string, opts Options) (storage.Storage, error) {
		return sqlite.New(ctx, storage.SQLiteConnString(path, opts.ReadOnly))
	})
}
