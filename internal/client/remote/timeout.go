package remote

import (
	"context"
	"time"
)

type withTimeout struct {
	Store
	d time.Duration
}

// WithTimeout bounds every call on s by d. A non-positive d returns s.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &withTimeout{Store: s, d: d}
}

func (w *withTimeout) Upload(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, w.d)
	defer cancel()
	return Classify("upload", w.Store.Upload(ctx, key, data))
}

func (w *withTimeout) Download(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, w.d)
	defer cancel()
	data, err := w.Store.Download(ctx, key)
	return data, Classify("download", err)
}

func (w *withTimeout) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, w.d)
	defer cancel()
	return Classify("delete", w.Store.Delete(ctx, key))
}

func (w *withTimeout) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.d)
	defer cancel()
	keys, err := w.Store.List(ctx, prefix)
	return keys, Classify("list", err)
}
