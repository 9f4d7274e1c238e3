// Package storage abstracts blob storage for raw document bytes. The local
// filesystem, MinIO and S3 backends are interchangeable behind the Store
// interface; callers hold keys, never paths.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/omnidocs/docpipe/config"
	"github.com/omnidocs/docpipe/pkg/logger"
	"github.com/omnidocs/docpipe/pkg/storage/local"
	"github.com/omnidocs/docpipe/pkg/storage/minio"
	"github.com/omnidocs/docpipe/pkg/storage/s3"
)

// Store is the content store consumed by the upload and processing services.
// Backends report missing keys with errors satisfying
// errors.Is(err, fs.ErrNotExist).
type Store interface {
	// Put writes the blob under key and returns the key as locator.
	Put(ctx context.Context, key string, r io.Reader, size int64) (string, error)
	// Get opens the blob stored under key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// New builds the backend selected by cfg.Backend.
func New(cfg config.StorageConfig, log logger.Logger) (Store, error) {
	switch cfg.Backend {
	case "local":
		return local.New(cfg.LocalDir, log)
	case "minio":
		return minio.New(cfg, log)
	case "s3":
		return s3.New(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
