// Package pgstore implements remote.Store as a single PostgreSQL table, for
// users who already run a database reachable from every device.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/memovault/internal/client/remote"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const schema = `CREATE TABLE IF NOT EXISTS remote_objects (
	key        TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type Store struct {
	db *sql.DB
}

// New wraps an open database. EnsureSchema must have run once.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the pgx driver and creates the table if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", common.ErrValidation)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	s := New(db)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return classify("create remote_objects", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Upload(ctx context.Context, key string, data []byte) error {
	if err := remote.ValidateKey(key); err != nil {
		return err
	}
	query := `INSERT INTO remote_objects (key, data, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, query, key, data)
	return classify("pg upload "+key, err)
}

func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	if err := remote.ValidateKey(key); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM remote_objects WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", remote.ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, classify("pg download "+key, err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := remote.ValidateKey(key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM remote_objects WHERE key = $1`, key)
	return classify("pg delete "+key, err)
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM remote_objects WHERE starts_with(key, $1)`, prefix)
	if err != nil {
		return nil, classify("pg list "+prefix, err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, classify("pg list "+prefix, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("pg list "+prefix, err)
	}
	// byte order regardless of the database collation
	sort.Strings(keys)
	return keys, nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "28000" || pgErr.Code == "28P01" || pgErr.Code == "42501":
			return fmt.Errorf("%w: %s: %v", common.ErrAuth, op, err)
		case strings.HasPrefix(pgErr.Code, "53") || pgErr.Code == "54000":
			return fmt.Errorf("%w: %s: %v", common.ErrQuota, op, err)
		}
	}
	return remote.Classify(op, err)
}
