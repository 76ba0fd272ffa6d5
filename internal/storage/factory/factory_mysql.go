package factory

import (
	"context"

	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/storage/mysql"
)

func init() {
	RegisterBackend(BackendMySQL, func(ctx context.Context, path string, opts Options) (storage.Storage, error) {
		return mysql.New(ctx, &mysql.Config{
			Host:     opts.ServerHost,
			Port:     opts.ServerPort,
			User:     opts.ServerUser,
			Password: opts.ServerPassword,
			Database: opts.Database,
		})
	})
}
