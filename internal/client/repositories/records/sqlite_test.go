package records

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/memovault/internal/client/database"
	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.InitDatabase(context.Background(), filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func rec(id string, updatedAt int64, tags ...string) *models.Record {
	return &models.Record{
		ID:          id,
		Title:       "title " + id,
		ContentText: "content " + id,
		MediaType:   models.MediaText,
		Tags:        models.NormalizeTags(tags),
		CreatedAt:   updatedAt,
		UpdatedAt:   updatedAt,
		Version:     1,
		ContentHash: models.ContentHash("content " + id),
	}
}

func TestInsertAndGetByID(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	in := rec("a", 100, "Go", "db")
	in.SourceURL = "https://example.com"
	in.Summary = "sum"
	require.NoError(t, r.Insert(ctx, in))

	got, err := r.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, *in, *got)
}

func TestInsert_DuplicateIsConflict(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, rec("a", 1)))
	err := r.Insert(ctx, rec("a", 1))
	require.ErrorIs(t, err, common.ErrConflict)
}

func TestGetByID_NotFound(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	_, err := r.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestUpdate_VersionCheck(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	in := rec("a", 100)
	require.NoError(t, r.Insert(ctx, in))

	next := in.Clone()
	next.Title = "changed"
	next.Version = 2
	next.UpdatedAt = 101
	require.NoError(t, r.Update(ctx, &next, 1))

	stale := next.Clone()
	stale.Version = 3
	err := r.Update(ctx, &stale, 1)
	require.ErrorIs(t, err, common.ErrConflict)

	got, err := r.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Title)
	assert.Equal(t, int64(2), got.Version)
}

func TestList_FiltersAndOrder(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	a := rec("a", 100, "go")
	b := rec("b", 300, "rust")
	c := rec("c", 300, "go")
	d := rec("d", 200, "go")
	d.MediaType = models.MediaWeb
	e := rec("e", 400, "go")
	e.IsDeleted = true
	for _, x := range []*models.Record{a, b, c, d, e} {
		require.NoError(t, r.Insert(ctx, x))
	}

	ids := func(rs []models.Record) []string {
		out := make([]string, len(rs))
		for i, x := range rs {
			out[i] = x.ID
		}
		return out
	}

	all, err := r.List(ctx, models.RecordFilter{}, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d", "a"}, ids(all), "updated_at desc then id asc, tombstones hidden")

	withDeleted, err := r.List(ctx, models.RecordFilter{IncludeDeleted: true}, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "b", "c", "d", "a"}, ids(withDeleted))

	tagged, err := r.List(ctx, models.RecordFilter{Tag: "GO"}, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d", "a"}, ids(tagged))

	web, err := r.List(ctx, models.RecordFilter{MediaType: models.MediaWeb}, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(web))

	ranged, err := r.List(ctx, models.RecordFilter{UpdatedFrom: 150, UpdatedTo: 300}, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, ids(ranged))

	paged, err := r.List(ctx, models.RecordFilter{}, models.Page{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, ids(paged))
}

func TestFindByContentHash_ScanLive_CountLive(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	a := rec("a", 1)
	b := rec("b", 2)
	b.ContentText, b.ContentHash = a.ContentText, a.ContentHash
	c := rec("c", 3)
	c.IsDeleted = true
	for _, x := range []*models.Record{a, b, c} {
		require.NoError(t, r.Insert(ctx, x))
	}

	dups, err := r.FindByContentHash(ctx, a.ContentHash)
	require.NoError(t, err)
	require.Len(t, dups, 2)

	page, err := r.ScanLive(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)

	page, err = r.ScanLive(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)

	n, err := r.CountLive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFilterClause(t *testing.T) {
	where, args := FilterClause(models.RecordFilter{})
	assert.Equal(t, "1=1 AND records.is_deleted = 0", where)
	assert.Empty(t, args)

	where, args = FilterClause(models.RecordFilter{IncludeDeleted: true, MediaType: models.MediaPDF, Tag: " X "})
	assert.Contains(t, where, "records.media_type = ?")
	assert.Contains(t, where, "json_each")
	assert.NotContains(t, where, "is_deleted")
	assert.Equal(t, []any{"pdf", "x"}, args)
}
