//go:build gcp

package blob

import (
	"context"

	"github.com/assinado-app/assinado/pkg/config"
)

func newGCSFromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	return NewGCSStore(ctx, cfg.GCSBucket)
}
