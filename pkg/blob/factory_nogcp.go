//go:build !gcp

package blob

import (
	"context"
	"errors"

	"github.com/assinado-app/assinado/pkg/config"
)

func newGCSFromConfig(context.Context, *config.Config) (Store, error) {
	return nil, errors.New("blob: gcs backend is not enabled in this build (use -tags gcp)")
}
