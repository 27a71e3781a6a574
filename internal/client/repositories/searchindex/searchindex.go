// Package searchindex stores the inverted index and the incremental BM25
// statistics (document count, total length, per-term document frequency).
package searchindex

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"github.com/dmitrijs2005/memovault/internal/dbx"
)

// Posting is one (term, record) pair joined with the data needed for scoring.
type Posting struct {
	RecordID  string
	Term      string
	TF        float64
	DocLength float64
	UpdatedAt int64
}

// Stats are corpus-wide counters.
type Stats struct {
	DocCount    int64
	TotalLength float64
}

type Repository interface {
	// AddDoc indexes a record. The record must not be indexed already.
	AddDoc(ctx context.Context, recordID string, length float64, tfs map[string]float64) error
	// RemoveDoc drops a record from the index. Missing records are a no-op.
	RemoveDoc(ctx context.Context, recordID string) error
	Stats(ctx context.Context) (Stats, error)
	DocFreq(ctx context.Context, terms []string) (map[string]int64, error)
	// Match returns postings of records containing every term and satisfying
	// the records-table predicate where.
	Match(ctx context.Context, terms []string, where string, whereArgs []any) ([]Posting, error)
	Clear(ctx context.Context) error
}

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (r *SQLiteRepository) AddDoc(ctx context.Context, recordID string, length float64, tfs map[string]float64) error {
	if _, err := r.db.ExecContext(ctx, `INSERT INTO search_docs (record_id, length) VALUES (?, ?)`, recordID, length); err != nil {
		return dbx.StorageErr("insert search doc", err)
	}

	terms := make([]string, 0, len(tfs))
	for t := range tfs {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	for _, term := range terms {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO search_postings (term, record_id, tf) VALUES (?, ?, ?)`, term, recordID, tfs[term]); err != nil {
			return dbx.StorageErr("insert posting", err)
		}
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO search_terms (term, df) VALUES (?, 1)
			ON CONFLICT(term) DO UPDATE SET df = df + 1`, term); err != nil {
			return dbx.StorageErr("bump df", err)
		}
	}

	if _, err := r.db.ExecContext(ctx,
		`UPDATE search_stats SET doc_count = doc_count + 1, total_length = total_length + ? WHERE id = 1`, length); err != nil {
		return dbx.StorageErr("update search stats", err)
	}
	return nil
}

func (r *SQLiteRepository) RemoveDoc(ctx context.Context, recordID string) error {
	var length float64
	err := r.db.QueryRowContext(ctx, `SELECT length FROM search_docs WHERE record_id = ?`, recordID).Scan(&length)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return dbx.StorageErr("select search doc", err)
	}

	if _, err := r.db.ExecContext(ctx, `
		UPDATE search_terms SET df = df - 1
		WHERE term IN (SELECT term FROM search_postings WHERE record_id = ?)`, recordID); err != nil {
		return dbx.StorageErr("decrement df", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM search_terms WHERE df <= 0`); err != nil {
		return dbx.StorageErr("drop empty terms", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM search_postings WHERE record_id = ?`, recordID); err != nil {
		return dbx.StorageErr("delete postings", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM search_docs WHERE record_id = ?`, recordID); err != nil {
		return dbx.StorageErr("delete search doc", err)
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE search_stats SET doc_count = doc_count - 1, total_length = total_length - ? WHERE id = 1`, length); err != nil {
		return dbx.StorageErr("update search stats", err)
	}
	return nil
}

func (r *SQLiteRepository) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.db.QueryRowContext(ctx, `SELECT doc_count, total_length FROM search_stats WHERE id = 1`).
		Scan(&s.DocCount, &s.TotalLength)
	if err != nil {
		return Stats{}, dbx.StorageErr("select search stats", err)
	}
	return s, nil
}

func (r *SQLiteRepository) DocFreq(ctx context.Context, terms []string) (map[string]int64, error) {
	out := make(map[string]int64, len(terms))
	if len(terms) == 0 {
		return out, nil
	}
	args := make([]any, len(terms))
	for i, t := range terms {
		args[i] = t
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT term, df FROM search_terms WHERE term IN (`+placeholders(len(terms))+`)`, args...)
	if err != nil {
		return nil, dbx.StorageErr("select df", err)
	}
	defer rows.Close()
	for rows.Next() {
		var term string
		var df int64
		if err := rows.Scan(&term, &df); err != nil {
			return nil, dbx.StorageErr("scan df", err)
		}
		out[term] = df
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.StorageErr("iterate df", err)
	}
	return out, nil
}

func (r *SQLiteRepository) Match(ctx context.Context, terms []string, where string, whereArgs []any) ([]Posting, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if where == "" {
		where = "1=1"
	}
	termArgs := make([]any, len(terms))
	for i, t := range terms {
		termArgs[i] = t
	}
	ph := placeholders(len(terms))

	query := `
		SELECT p.record_id, p.term, p.tf, d.length, records.updated_at
		FROM search_postings p
		JOIN search_docs d ON d.record_id = p.record_id
		JOIN records ON records.id = p.record_id
		WHERE p.term IN (` + ph + `)
		  AND p.record_id IN (
			SELECT record_id FROM search_postings WHERE term IN (` + ph + `)
			GROUP BY record_id HAVING COUNT(*) = ?)
		  AND ` + where

	args := make([]any, 0, 2*len(terms)+1+len(whereArgs))
	args = append(args, termArgs...)
	args = append(args, termArgs...)
	args = append(args, len(terms))
	args = append(args, whereArgs...)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbx.StorageErr("match postings", err)
	}
	defer rows.Close()

	var result []Posting
	for rows.Next() {
		var p Posting
		if err := rows.Scan(&p.RecordID, &p.Term, &p.TF, &p.DocLength, &p.UpdatedAt); err != nil {
			return nil, dbx.StorageErr("scan posting", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.StorageErr("iterate postings", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	for _, q := range []string{
		`DELETE FROM search_postings`,
		`DELETE FROM search_terms`,
		`DELETE FROM search_docs`,
		`UPDATE search_stats SET doc_count = 0, total_length = 0 WHERE id = 1`,
	} {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return dbx.StorageErr("clear search index", err)
		}
	}
	return nil
}
