// Package syncqueue persists deferred remote operations and their retry state.
package syncqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/dmitrijs2005/memovault/internal/dbx"
)

type Repository interface {
	Enqueue(ctx context.Context, e *models.SyncQueueEntry) error
	GetByID(ctx context.Context, id string) (*models.SyncQueueEntry, error)
	// Due returns pending entries with next_retry_at <= now, oldest first.
	Due(ctx context.Context, now int64, limit int) ([]models.SyncQueueEntry, error)
	// Claim moves an entry from pending to in_progress. It reports false when
	// another worker got there first.
	Claim(ctx context.Context, id string, now int64) (bool, error)
	// Save persists retry state and status of e.
	Save(ctx context.Context, e *models.SyncQueueEntry) error
	ListByStatus(ctx context.Context, status models.QueueStatus) ([]models.SyncQueueEntry, error)
	CountByStatus(ctx context.Context) (map[models.QueueStatus]int, error)
	// ReleaseInProgress returns entries stuck in in_progress to pending.
	ReleaseInProgress(ctx context.Context, now int64) (int64, error)
	DeleteCompleted(ctx context.Context) (int64, error)
}

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const columns = `id, operation, payload, retry_count, max_retries, next_retry_at, status, last_error, created_at, updated_at`

func scan(s interface{ Scan(...any) error }) (models.SyncQueueEntry, error) {
	var e models.SyncQueueEntry
	var op, status string
	var payload []byte
	if err := s.Scan(&e.ID, &op, &payload, &e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &status,
		&e.LastError, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return e, err
	}
	e.Operation = models.QueueOp(op)
	e.Status = models.QueueStatus(status)
	e.Payload = payload
	return e, nil
}

func (r *SQLiteRepository) Enqueue(ctx context.Context, e *models.SyncQueueEntry) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO sync_queue (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Operation), []byte(e.Payload), e.RetryCount, e.MaxRetries, e.NextRetryAt,
		string(e.Status), e.LastError, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return dbx.StorageErr("enqueue", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.SyncQueueEntry, error) {
	e, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM sync_queue WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: queue entry %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, dbx.StorageErr("get queue entry", err)
	}
	return &e, nil
}

func (r *SQLiteRepository) Due(ctx context.Context, now int64, limit int) ([]models.SyncQueueEntry, error) {
	return r.query(ctx, `SELECT `+columns+` FROM sync_queue
		WHERE status = ? AND next_retry_at <= ?
		ORDER BY next_retry_at ASC, created_at ASC, id ASC LIMIT ?`,
		string(models.QueuePending), now, limit)
}

func (r *SQLiteRepository) Claim(ctx context.Context, id string, now int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sync_queue SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(models.QueueInProgress), now, id, string(models.QueuePending))
	if err != nil {
		return false, dbx.StorageErr("claim queue entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, e *models.SyncQueueEntry) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sync_queue
		SET retry_count = ?, max_retries = ?, next_retry_at = ?, status = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		e.RetryCount, e.MaxRetries, e.NextRetryAt, string(e.Status), e.LastError, e.UpdatedAt, e.ID)
	if err != nil {
		return dbx.StorageErr("save queue entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: queue entry %s", common.ErrNotFound, e.ID)
	}
	return nil
}

func (r *SQLiteRepository) ListByStatus(ctx context.Context, status models.QueueStatus) ([]models.SyncQueueEntry, error) {
	return r.query(ctx, `SELECT `+columns+` FROM sync_queue WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(status))
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[models.QueueStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, dbx.StorageErr("count queue", err)
	}
	defer rows.Close()

	out := make(map[models.QueueStatus]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, dbx.StorageErr("scan queue count", err)
		}
		out[models.QueueStatus(s)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.StorageErr("iterate queue count", err)
	}
	return out, nil
}

func (r *SQLiteRepository) ReleaseInProgress(ctx context.Context, now int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sync_queue SET status = ?, updated_at = ? WHERE status = ?`,
		string(models.QueuePending), now, string(models.QueueInProgress))
	if err != nil {
		return 0, dbx.StorageErr("release in-progress", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) DeleteCompleted(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE status = ?`, string(models.QueueCompleted))
	if err != nil {
		return 0, dbx.StorageErr("delete completed", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]models.SyncQueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbx.StorageErr("select queue", err)
	}
	defer rows.Close()

	var result []models.SyncQueueEntry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, dbx.StorageErr("scan queue entry", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.StorageErr("iterate queue", err)
	}
	return result, nil
}
