// Package changelog persists the append-only local change log.
package changelog

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/dbx"
)

// Repository stores change log entries ordered by (timestamp, id).
type Repository interface {
	Append(ctx context.Context, e *models.ChangeLogEntry) error
	// Since returns up to limit entries strictly after (ts, id).
	Since(ctx context.Context, ts int64, id string, limit int) ([]models.ChangeLogEntry, error)
	// DeleteUpTo removes entries at or before (ts, id) and returns how many went.
	DeleteUpTo(ctx context.Context, ts int64, id string) (int64, error)
	Count(ctx context.Context) (int, error)
}

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Append(ctx context.Context, e *models.ChangeLogEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO change_log (id, item_id, operation, version, timestamp) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.ItemID, string(e.Operation), e.Version, e.Timestamp)
	if err != nil {
		return dbx.StorageErr("append change", err)
	}
	return nil
}

func (r *SQLiteRepository) Since(ctx context.Context, ts int64, id string, limit int) ([]models.ChangeLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, item_id, operation, version, timestamp FROM change_log
		WHERE timestamp > ? OR (timestamp = ? AND id > ?)
		ORDER BY timestamp ASC, id ASC
		LIMIT ?`, ts, ts, id, limit)
	if err != nil {
		return nil, dbx.StorageErr("select changes", err)
	}
	defer rows.Close()

	var result []models.ChangeLogEntry
	for rows.Next() {
		var e models.ChangeLogEntry
		var op string
		if err := rows.Scan(&e.ID, &e.ItemID, &op, &e.Version, &e.Timestamp); err != nil {
			return nil, dbx.StorageErr("scan change", err)
		}
		e.Operation = models.ChangeOp(op)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.StorageErr("iterate changes", err)
	}
	return result, nil
}

func (r *SQLiteRepository) DeleteUpTo(ctx context.Context, ts int64, id string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM change_log WHERE timestamp < ? OR (timestamp = ? AND id <= ?)`, ts, ts, id)
	if err != nil {
		return 0, dbx.StorageErr("prune changes", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM change_log`).Scan(&n); err != nil {
		return 0, dbx.StorageErr("count changes", err)
	}
	return n, nil
}
