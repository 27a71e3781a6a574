package blobs

import (
	"context"

	"github.com/dmitrijs2005/memovault/internal/client/models"
)

// Repository describes CRUD and upload bookkeeping for Blob rows.
type Repository interface {
	// CreateOrUpdate inserts a blob row or refreshes its path and size.
	// An existing upload status of "completed" is preserved.
	CreateOrUpdate(ctx context.Context, b *models.Blob) error

	// GetByHash returns the blob with the given hash or common.ErrNotFound.
	GetByHash(ctx context.Context, hash string) (*models.Blob, error)

	// GetAllPendingUpload returns blobs not yet confirmed on the remote.
	GetAllPendingUpload(ctx context.Context) ([]*models.Blob, error)

	// MarkUploaded flags the blob as present on the remote.
	MarkUploaded(ctx context.Context, hash string) error
}
