// Package metadata is a small key/value table for device-local state such
// as the device id and sync cursors.
package metadata

import (
	"context"
)

// Well-known keys.
const (
	KeyDeviceID      = "device.id"
	KeyLocalCursor   = "sync.local_cursor"
	KeyRemoteCursors = "sync.remote_cursors"
	KeyLastSyncAt    = "sync.last_sync_at"
	KeyOwnKeys       = "sync.own_keys"
	KeyLogClock      = "changes.log_clock"
	KeyPublishClock  = "sync.publish_clock"
)

// Repository stores opaque values by key. Get returns (nil, nil) for a
// missing key.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
}
