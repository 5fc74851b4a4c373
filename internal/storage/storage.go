// Package storage keeps uploaded files by key on local disk or in S3.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/sabarim/dsingest/internal/config"
)

// ErrNotFound is returned when no object exists under a key
var ErrNotFound = errors.New("file not found")

// FileStore puts, fetches and removes whole files by key
type FileStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// New builds the store selected by the storage backend setting
func New(ctx context.Context, cfg config.StorageConfig) (FileStore, error) {
	switch cfg.Backend {
	case "local", "":
		return NewLocalStore(cfg.LocalDir)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
