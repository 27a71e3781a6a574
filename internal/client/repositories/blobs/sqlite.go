package blobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/dmitrijs2005/memovault/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateOrUpdate(ctx context.Context, b *models.Blob) error {
	status := b.UploadStatus
	if status == "" {
		status = models.BlobPending
	}
	query := `INSERT INTO blobs (hash, size, local_path, upload_status)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(hash) DO UPDATE SET size = excluded.size,
				local_path = excluded.local_path,
				upload_status = CASE WHEN blobs.upload_status = 'completed' THEN 'completed'
					ELSE excluded.upload_status END
	`
	_, err := r.db.ExecContext(ctx, query, b.Hash, b.Size, b.LocalPath, status)
	if err != nil {
		return dbx.StorageErr("upsert blob", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByHash(ctx context.Context, hash string) (*models.Blob, error) {
	query := `SELECT hash, size, local_path, upload_status FROM blobs WHERE hash = ?`
	b := &models.Blob{}
	err := r.db.QueryRowContext(ctx, query, hash).Scan(&b.Hash, &b.Size, &b.LocalPath, &b.UploadStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: blob %s", common.ErrNotFound, hash)
	}
	if err != nil {
		return nil, dbx.StorageErr("get blob", err)
	}
	return b, nil
}

func (r *SQLiteRepository) GetAllPendingUpload(ctx context.Context) ([]*models.Blob, error) {
	query := `SELECT hash, size, local_path, upload_status FROM blobs WHERE upload_status = ? ORDER BY hash`
	rows, err := r.db.QueryContext(ctx, query, models.BlobPending)
	if err != nil {
		return nil, dbx.StorageErr("select pending blobs", err)
	}
	defer rows.Close()

	var result []*models.Blob
	for rows.Next() {
		b := &models.Blob{}
		if err := rows.Scan(&b.Hash, &b.Size, &b.LocalPath, &b.UploadStatus); err != nil {
			return nil, dbx.StorageErr("scan blob", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.StorageErr("iterate blobs", err)
	}
	return result, nil
}

func (r *SQLiteRepository) MarkUploaded(ctx context.Context, hash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE blobs SET upload_status = ? WHERE hash = ?`, models.BlobCompleted, hash)
	if err != nil {
		return dbx.StorageErr("mark blob uploaded", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: blob %s", common.ErrNotFound, hash)
	}
	return nil
}
