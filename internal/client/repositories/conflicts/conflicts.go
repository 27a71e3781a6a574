// Package conflicts persists the append-only conflict audit trail.
package conflicts

import (
	"context"

	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/dbx"
)

type Repository interface {
	Insert(ctx context.Context, c *models.ConflictRecord) error
	// List returns the most recent conflicts first.
	List(ctx context.Context, limit int) ([]models.ConflictRecord, error)
	ListByItem(ctx context.Context, itemID string) ([]models.ConflictRecord, error)
}

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, c *models.ConflictRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conflicts (id, item_id, local_timestamp, remote_timestamp, resolution, winner, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ItemID, c.LocalTimestamp, c.RemoteTimestamp, c.Resolution, c.Winner, c.DetectedAt)
	if err != nil {
		return dbx.StorageErr("insert conflict", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]models.ConflictRecord, error) {
	return r.query(ctx, `SELECT id, item_id, local_timestamp, remote_timestamp, resolution, winner, detected_at
		FROM conflicts ORDER BY detected_at DESC, id DESC LIMIT ?`, limit)
}

func (r *SQLiteRepository) ListByItem(ctx context.Context, itemID string) ([]models.ConflictRecord, error) {
	return r.query(ctx, `SELECT id, item_id, local_timestamp, remote_timestamp, resolution, winner, detected_at
		FROM conflicts WHERE item_id = ? ORDER BY detected_at DESC, id DESC`, itemID)
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]models.ConflictRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbx.StorageErr("select conflicts", err)
	}
	defer rows.Close()

	var result []models.ConflictRecord
	for rows.Next() {
		var c models.ConflictRecord
		if err := rows.Scan(&c.ID, &c.ItemID, &c.LocalTimestamp, &c.RemoteTimestamp, &c.Resolution,
			&c.Winner, &c.DetectedAt); err != nil {
			return nil, dbx.StorageErr("scan conflict", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.StorageErr("iterate conflicts", err)
	}
	return result, nil
}
