package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/dmitrijs2005/memovault/internal/dbx"
)

// Columns is the canonical column list used by every record SELECT.
const Columns = `records.id, records.title, records.content_text, records.source_url, records.media_type,
	records.tags, records.summary, records.blob_key, records.is_deleted, records.created_at,
	records.updated_at, records.version, records.content_hash`

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

// Scan reads one row selected with Columns.
func Scan(s scanner) (models.Record, error) {
	var r models.Record
	var tags string
	var media string
	if err := s.Scan(&r.ID, &r.Title, &r.ContentText, &r.SourceURL, &media, &tags, &r.Summary,
		&r.BlobKey, &r.IsDeleted, &r.CreatedAt, &r.UpdatedAt, &r.Version, &r.ContentHash); err != nil {
		return models.Record{}, err
	}
	r.MediaType = models.MediaType(media)
	if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
		return models.Record{}, fmt.Errorf("failed to decode tags of %s: %w", r.ID, err)
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	return r, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(b), nil
}

// FilterClause renders f as a SQL predicate over the records table.
// The returned string is never empty.
func FilterClause(f models.RecordFilter) (string, []any) {
	conds := []string{"1=1"}
	var args []any
	if !f.IncludeDeleted {
		conds = append(conds, "records.is_deleted = 0")
	}
	if f.MediaType != "" {
		conds = append(conds, "records.media_type = ?")
		args = append(args, string(f.MediaType))
	}
	if tag := strings.ToLower(strings.TrimSpace(f.Tag)); tag != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(records.tags) WHERE json_each.value = ?)")
		args = append(args, tag)
	}
	if f.UpdatedFrom > 0 {
		conds = append(conds, "records.updated_at >= ?")
		args = append(args, f.UpdatedFrom)
	}
	if f.UpdatedTo > 0 {
		conds = append(conds, "records.updated_at <= ?")
		args = append(args, f.UpdatedTo)
	}
	return strings.Join(conds, " AND "), args
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *SQLiteRepository) Insert(ctx context.Context, rec *models.Record) error {
	tags, err := encodeTags(rec.Tags)
	if err != nil {
		return err
	}
	query := `INSERT INTO records (id, title, content_text, source_url, media_type, tags, summary,
			blob_key, is_deleted, created_at, updated_at, version, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query, rec.ID, rec.Title, rec.ContentText, rec.SourceURL,
		string(rec.MediaType), tags, rec.Summary, rec.BlobKey, rec.IsDeleted, rec.CreatedAt,
		rec.UpdatedAt, rec.Version, rec.ContentHash)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: record %s already exists", common.ErrConflict, rec.ID)
	}
	if err != nil {
		return dbx.StorageErr("insert record", err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, rec *models.Record, expectedVersion int64) error {
	tags, err := encodeTags(rec.Tags)
	if err != nil {
		return err
	}
	query := `UPDATE records SET title = ?, content_text = ?, source_url = ?, media_type = ?, tags = ?,
			summary = ?, blob_key = ?, is_deleted = ?, created_at = ?, updated_at = ?, version = ?,
			content_hash = ?
		WHERE id = ? AND version = ?`
	res, err := r.db.ExecContext(ctx, query, rec.Title, rec.ContentText, rec.SourceURL,
		string(rec.MediaType), tags, rec.Summary, rec.BlobKey, rec.IsDeleted, rec.CreatedAt,
		rec.UpdatedAt, rec.Version, rec.ContentHash, rec.ID, expectedVersion)
	if err != nil {
		return dbx.StorageErr("update record", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return dbx.StorageErr("rows affected", err)
	}
	if ra != 1 {
		return fmt.Errorf("%w: record %s is not at version %d", common.ErrConflict, rec.ID, expectedVersion)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+Columns+` FROM records WHERE id = ?`, id)
	rec, err := Scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: record %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, dbx.StorageErr("get record", err)
	}
	return &rec, nil
}

func (r *SQLiteRepository) List(ctx context.Context, filter models.RecordFilter, page models.Page) ([]models.Record, error) {
	page = page.Normalize()
	where, args := FilterClause(filter)
	query := `SELECT ` + Columns + ` FROM records WHERE ` + where +
		` ORDER BY records.updated_at DESC, records.id ASC LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)
	return r.query(ctx, "list records", query, args...)
}

func (r *SQLiteRepository) FindByContentHash(ctx context.Context, hash string) ([]models.Record, error) {
	query := `SELECT ` + Columns + ` FROM records
		WHERE content_hash = ? AND is_deleted = 0 ORDER BY updated_at DESC, id ASC`
	return r.query(ctx, "find by content hash", query, hash)
}

func (r *SQLiteRepository) ScanLive(ctx context.Context, afterID string, limit int) ([]models.Record, error) {
	query := `SELECT ` + Columns + ` FROM records
		WHERE is_deleted = 0 AND id > ? ORDER BY id ASC LIMIT ?`
	return r.query(ctx, "scan live records", query, afterID, limit)
}

func (r *SQLiteRepository) CountLive(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE is_deleted = 0`).Scan(&n); err != nil {
		return 0, dbx.StorageErr("count records", err)
	}
	return n, nil
}

func (r *SQLiteRepository) query(ctx context.Context, op, query string, args ...any) ([]models.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbx.StorageErr(op, err)
	}
	defer rows.Close()

	result := []models.Record{}
	for rows.Next() {
		rec, err := Scan(rows)
		if err != nil {
			return nil, dbx.StorageErr(op, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.StorageErr(op, err)
	}
	return result, nil
}
