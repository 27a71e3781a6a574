package remote

import (
	"context"
	"time"

	"github.com/juju/ratelimit"
)

// Throttle limits the bytes per second moved through the wrapped store.
// Upload and download sizes are charged against one shared bucket.
type Throttle struct {
	Store
	bucket *ratelimit.Bucket
}

// NewThrottle wraps s with a bytesPerSec budget. A non-positive rate returns
// s unchanged.
func NewThrottle(s Store, bytesPerSec int64) Store {
	if bytesPerSec <= 0 {
		return s
	}
	return &Throttle{Store: s, bucket: ratelimit.NewBucketWithRate(float64(bytesPerSec), bytesPerSec)}
}

func (t *Throttle) wait(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	d := t.bucket.Take(int64(n))
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *Throttle) Upload(ctx context.Context, key string, data []byte) error {
	if err := t.wait(ctx, len(data)); err != nil {
		return err
	}
	return t.Store.Upload(ctx, key, data)
}

func (t *Throttle) Download(ctx context.Context, key string) ([]byte, error) {
	data, err := t.Store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := t.wait(ctx, len(data)); err != nil {
		return nil, err
	}
	return data, nil
}
