// Package repomanager vends repository implementations bound to a DBTX so
// services can use the same repositories inside and outside transactions.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/memovault/internal/client/database"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/archives"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/blobs"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/changelog"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/conflicts"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/records"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/searchindex"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/syncqueue"
	"github.com/dmitrijs2005/memovault/internal/dbx"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Records(db dbx.DBTX) records.Repository
	ChangeLog(db dbx.DBTX) changelog.Repository
	Conflicts(db dbx.DBTX) conflicts.Repository
	SyncQueue(db dbx.DBTX) syncqueue.Repository
	Archives(db dbx.DBTX) archives.Repository
	Metadata(db dbx.DBTX) metadata.Repository
	SearchIndex(db dbx.DBTX) searchindex.Repository
	Blobs(db dbx.DBTX) blobs.Repository
}

// SQLiteRepositoryManager vends SQLite-backed repositories.
type SQLiteRepositoryManager struct{}

// NewSQLiteRepositoryManager constructs a SQLite-backed RepositoryManager.
func NewSQLiteRepositoryManager() RepositoryManager {
	return &SQLiteRepositoryManager{}
}

func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return database.RunMigrations(ctx, db)
}

func (m *SQLiteRepositoryManager) Records(db dbx.DBTX) records.Repository {
	return records.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) ChangeLog(db dbx.DBTX) changelog.Repository {
	return changelog.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Conflicts(db dbx.DBTX) conflicts.Repository {
	return conflicts.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) SyncQueue(db dbx.DBTX) syncqueue.Repository {
	return syncqueue.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Archives(db dbx.DBTX) archives.Repository {
	return archives.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Metadata(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) SearchIndex(db dbx.DBTX) searchindex.Repository {
	return searchindex.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Blobs(db dbx.DBTX) blobs.Repository {
	return blobs.NewSQLiteRepository(db)
}
