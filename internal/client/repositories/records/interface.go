package records

import (
	"context"

	"github.com/dmitrijs2005/memovault/internal/client/models"
)

// Repository describes persistence operations for content records.
type Repository interface {
	// Insert stores a new record row. Duplicate ids fail with common.ErrConflict.
	Insert(ctx context.Context, r *models.Record) error

	// Update overwrites the row for r.ID if its stored version equals
	// expectedVersion, otherwise it fails with common.ErrConflict.
	Update(ctx context.Context, r *models.Record, expectedVersion int64) error

	// GetByID returns the row including tombstones, or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Record, error)

	// List returns records matching filter ordered by updated_at DESC, id ASC.
	List(ctx context.Context, filter models.RecordFilter, page models.Page) ([]models.Record, error)

	// FindByContentHash returns live records with the given content hash.
	FindByContentHash(ctx context.Context, hash string) ([]models.Record, error)

	// ScanLive returns up to limit live records with id > afterID ordered by id.
	ScanLive(ctx context.Context, afterID string, limit int) ([]models.Record, error)

	// CountLive returns the number of non-deleted records.
	CountLive(ctx context.Context) (int, error)
}
