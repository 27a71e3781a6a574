// Package providers builds the configured remote.Store.
package providers

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/memovault/internal/client/config"
	"github.com/dmitrijs2005/memovault/internal/client/remote"
	"github.com/dmitrijs2005/memovault/internal/client/remote/pgstore"
	"github.com/dmitrijs2005/memovault/internal/client/remote/s3store"
	"github.com/dmitrijs2005/memovault/internal/client/remote/webdavstore"
	"github.com/dmitrijs2005/memovault/internal/common"
)

// New returns the store selected by cfg.RemoteType wrapped with the
// per-call timeout and upload throttle, or nil for RemoteNone.
func New(ctx context.Context, cfg *config.Config) (remote.Store, error) {
	var (
		s   remote.Store
		err error
	)

	switch cfg.RemoteType {
	case config.RemoteNone, "":
		return nil, nil
	case config.RemoteMemory:
		s = remote.NewMemory()
	case config.RemoteLocalFS:
		s, err = remote.NewLocalFS(cfg.RemotePath)
	case config.RemoteS3:
		s, err = s3store.New(ctx, s3store.Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.S3Prefix,
			// retries belong to the sync queue
			MaxAttempts: 1,
		})
	case config.RemoteWebDAV:
		s, err = webdavstore.New(webdavstore.Config{
			Endpoint: cfg.WebDAVEndpoint,
			User:     cfg.WebDAVUser,
			Password: cfg.WebDAVPassword,
			Root:     cfg.WebDAVRoot,
			Timeout:  cfg.RemoteTimeout,
		})
	case config.RemotePostgres:
		s, err = pgstore.Open(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("%w: unknown remote type %q", common.ErrValidation, cfg.RemoteType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s remote: %w", cfg.RemoteType, err)
	}

	s = remote.NewThrottle(s, cfg.UploadRateLimit)
	return remote.WithTimeout(s, cfg.RemoteTimeout), nil
}
