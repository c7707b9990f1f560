package blob

import (
	"context"
	"fmt"

	"github.com/assinado-app/assinado/pkg/config"
)

// NewStore builds the backend selected by BLOB_BACKEND: fs (default),
// s3, or gcs (requires the gcp build tag).
func NewStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.BlobBackend {
	case "", "fs":
		return NewFileStore(cfg.UploadsDir)
	case "s3":
		return NewS3Store(ctx, S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
	case "gcs":
		return newGCSFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("blob: unsupported backend %q", cfg.BlobBackend)
	}
}
