// Package blobstore keeps attachment bytes in a local directory, one file per
// SHA-256 digest.
package blobstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/dmitrijs2005/memovault/internal/cryptox"
	"github.com/dmitrijs2005/memovault/internal/filex"
)

var hashRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidHash reports whether h looks like a lowercase SHA-256 hex digest.
func ValidHash(h string) bool { return hashRe.MatchString(h) }

type Store struct {
	dir string
}

// New creates the blob directory under base if needed.
func New(base string) (*Store, error) {
	dir, err := filex.EnsureDir(base, "blobs")
	if err != nil {
		return nil, fmt.Errorf("failed to create blob dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Path(hash string) string {
	return filepath.Join(s.dir, hash)
}

// Put stores data under its digest. Storing the same bytes twice is a no-op.
func (s *Store) Put(data []byte) (models.Blob, error) {
	hash := cryptox.SHA256Hex(data)
	b := models.Blob{Hash: hash, Size: int64(len(data)), LocalPath: s.Path(hash), UploadStatus: models.BlobPending}
	if s.Has(hash) {
		return b, nil
	}
	if err := filex.WriteFileAtomic(b.LocalPath, data, 0o600); err != nil {
		return models.Blob{}, fmt.Errorf("%w: write blob %s: %v", common.ErrStorage, hash, err)
	}
	return b, nil
}

// PutVerified stores data only if it hashes to want.
func (s *Store) PutVerified(want string, data []byte) (models.Blob, error) {
	if got := cryptox.SHA256Hex(data); got != want {
		return models.Blob{}, fmt.Errorf("%w: blob digest mismatch: want %s got %s", common.ErrValidation, want, got)
	}
	return s.Put(data)
}

func (s *Store) Has(hash string) bool {
	if !ValidHash(hash) {
		return false
	}
	_, err := os.Stat(s.Path(hash))
	return err == nil
}

// Get reads a blob and verifies its digest.
func (s *Store) Get(hash string) ([]byte, error) {
	if !ValidHash(hash) {
		return nil, fmt.Errorf("%w: invalid blob key %q", common.ErrValidation, hash)
	}
	data, err := os.ReadFile(s.Path(hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: blob %s", common.ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read blob %s: %v", common.ErrStorage, hash, err)
	}
	if cryptox.SHA256Hex(data) != hash {
		return nil, fmt.Errorf("%w: blob %s is corrupted", common.ErrStorage, hash)
	}
	return data, nil
}
