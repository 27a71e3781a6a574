// Package common defines shared sentinel errors and small helpers used across
// memovault components. Callers should use errors.Is to match these values.
package common

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Local data errors.
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("version conflict")
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage error")

	// Remote object store errors. Network and auth failures are retried
	// through the sync queue; quota exhaustion is terminal.
	ErrNetwork = errors.New("remote unavailable")
	ErrAuth    = errors.New("remote authentication failed")
	ErrQuota   = errors.New("remote quota exceeded")

	// Archive errors.
	ErrCrypto           = errors.New("crypto error")
	ErrInvalidPassword  = fmt.Errorf("%w: invalid password", ErrCrypto)
	ErrCorruptedArchive = fmt.Errorf("%w: corrupted archive", ErrCrypto)
	ErrSchemaVersion    = errors.New("unsupported archive version")

	ErrSyncInProgress = errors.New("sync already in progress")
)

// IsRetryable reports whether err is a remote failure worth retrying later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrAuth)
}

// ErrorCode maps err to a short machine-readable code for lifecycle events.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrQuota):
		return "quota"
	case errors.Is(err, ErrInvalidPassword):
		return "invalid_password"
	case errors.Is(err, ErrCorruptedArchive):
		return "corrupted_archive"
	case errors.Is(err, ErrSchemaVersion):
		return "schema_version"
	case errors.Is(err, ErrSyncInProgress):
		return "sync_in_progress"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "storage"
	}
}
