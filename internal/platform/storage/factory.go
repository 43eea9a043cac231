package storage

import (
	"context"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"

	"github.com/folioshelf/api/internal/platform/config"
)

// Open returns the ObjectStore selected by cfg.Driver. The returned close function releases
// backend clients and is never nil.
func Open(ctx context.Context, cfg config.StorageConfig) (ObjectStore, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "gcs", "":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("storage: create gcs client: %w", err)
		}
		store, err := NewGCSStore(client, cfg.AssetsBucket, cfg.PublicBaseURL)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return store, client.Close, nil
	case "cloudinary":
		store, err := NewCloudinaryStore(cfg.CloudinaryURL)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case "s3":
		store, err := NewS3Store(ctx, S3Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PublicBaseURL:   cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case "memory":
		return NewMemoryStore(cfg.PublicBaseURL), noop, nil
	default:
		return nil, noop, fmt.Errorf("storage: unsupported driver %q", cfg.Driver)
	}
}
