// Package objectstore provides the durable stores published files land in:
// an S3-compatible bucket or a local directory.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/couchcryptid/heat-risk-etl/internal/config"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Store puts and gets whole objects by key.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Location names the bucket or directory for error reporting.
	Location() string
}

// New builds the store selected by STORE_BACKEND.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.StoreBackend {
	case config.BackendS3:
		s, err := NewS3(ctx, S3Options{
			Bucket:   cfg.StoreBucket,
			Prefix:   cfg.StorePrefix,
			Region:   cfg.StoreRegion,
			Endpoint: cfg.StoreEndpoint,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("using s3 object store", "bucket", cfg.StoreBucket, "prefix", cfg.StorePrefix, "endpoint", cfg.StoreEndpoint)
		return s, nil
	case config.BackendFile:
		s, err := NewFile(filepath.Join(cfg.DataDir, "published", cfg.StorePrefix))
		if err != nil {
			return nil, err
		}
		logger.Info("using file object store", "dir", s.Location())
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
