// Package remote defines the object store capability consumed by the sync
// engine, plus the providers that do not need a third-party client.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/memovault/internal/common"
)

// ErrObjectNotFound is returned by Download for a missing key. It matches
// common.ErrNotFound.
var ErrObjectNotFound = fmt.Errorf("remote object %w", common.ErrNotFound)

// Store is a flat key/value object store. Keys use "/" separators.
//
// Delete of a missing key succeeds. List returns keys sorted ascending.
type Store interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// ValidateKey rejects keys that could escape a provider's root.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return fmt.Errorf("%w: invalid remote key %q", common.ErrValidation, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: invalid remote key %q", common.ErrValidation, key)
		}
	}
	return nil
}

// HTTPStatusError maps a provider HTTP status to the sync error taxonomy.
func HTTPStatusError(op string, status int, err error) error {
	var kind error
	switch {
	case status == http.StatusNotFound:
		kind = ErrObjectNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = common.ErrAuth
	case status == http.StatusInsufficientStorage || status == http.StatusRequestEntityTooLarge:
		kind = common.ErrQuota
	default:
		kind = common.ErrNetwork
	}
	if err == nil {
		return fmt.Errorf("%w: %s: status %d", kind, op, status)
	}
	return fmt.Errorf("%w: %s: status %d: %v", kind, op, status, err)
}

// Classify wraps an unclassified provider error as common.ErrNetwork.
// Already classified errors and context cancellation pass through.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{common.ErrNetwork, common.ErrAuth, common.ErrQuota, common.ErrNotFound, common.ErrValidation} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// timeouts, refused connections and unknown provider failures
	return fmt.Errorf("%w: %s: %v", common.ErrNetwork, op, err)
}
