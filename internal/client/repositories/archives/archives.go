// Package archives persists the export history.
package archives

import (
	"context"

	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/dbx"
)

type Repository interface {
	Insert(ctx context.Context, m *models.ArchiveMeta) error
	// List returns exports newest first.
	List(ctx context.Context) ([]models.ArchiveMeta, error)
}

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, m *models.ArchiveMeta) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO export_archives (id, file_path, checksum, size_bytes, item_count, is_encrypted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.FilePath, m.Checksum, m.SizeBytes, m.ItemCount, m.IsEncrypted, m.CreatedAt)
	if err != nil {
		return dbx.StorageErr("insert archive meta", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.ArchiveMeta, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, file_path, checksum, size_bytes, item_count, is_encrypted, created_at
		FROM export_archives ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, dbx.StorageErr("select archives", err)
	}
	defer rows.Close()

	var result []models.ArchiveMeta
	for rows.Next() {
		var m models.ArchiveMeta
		if err := rows.Scan(&m.ID, &m.FilePath, &m.Checksum, &m.SizeBytes, &m.ItemCount, &m.IsEncrypted, &m.CreatedAt); err != nil {
			return nil, dbx.StorageErr("scan archive", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.StorageErr("iterate archives", err)
	}
	return result, nil
}
