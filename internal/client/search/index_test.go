package search

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/memovault/internal/client/database"
	"github.com/dmitrijs2005/memovault/internal/client/metrics"
	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/memovault/internal/dbx"
	"github.com/dmitrijs2005/memovault/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db    *sql.DB
	repos repomanager.RepositoryManager
	ix    *Index
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.InitDatabase(context.Background(), filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repos := repomanager.NewSQLiteRepositoryManager()
	return &fixture{db: db, repos: repos, ix: NewIndex(db, repos, metrics.New(), logging.NewNop())}
}

// put writes r (insert or overwrite) and indexes it in one transaction.
func (f *fixture) put(t *testing.T, r models.Record) {
	t.Helper()
	ctx := context.Background()
	r.Tags = models.NormalizeTags(r.Tags)
	if r.MediaType == "" {
		r.MediaType = models.MediaText
	}
	if r.Version == 0 {
		r.Version = 1
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = r.UpdatedAt
	}
	r.ContentHash = models.ContentHash(r.ContentText)
	err := dbx.WithTx(ctx, f.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		recs := f.repos.Records(tx)
		prev, err := recs.GetByID(ctx, r.ID)
		m := models.Mutation{Op: models.OpCreate, Record: r, Origin: models.OriginLocal}
		if err == nil {
			m.Op = models.OpUpdate
			m.Previous = prev
			if err := recs.Update(ctx, &r, prev.Version); err != nil {
				return err
			}
		} else if err := recs.Insert(ctx, &r); err != nil {
			return err
		}
		return f.ix.OnMutation(ctx, tx, m)
	})
	require.NoError(t, err)
}

func ids(rs []Result) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Record.ID
	}
	return out
}

func TestQuery_RanksMoreCompleteMatchHigher(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.put(t, models.Record{ID: "x", Title: "notes", ContentText: "a ranking algorithm for search", UpdatedAt: 10})
	f.put(t, models.Record{ID: "y", Title: "notes", ContentText: "ranking only", UpdatedAt: 20})

	res, err := f.ix.Query(ctx, Query{Terms: []string{"ranking algorithm"}})
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, ids(res), "AND semantics: y lacks 'algorithm'")
	assert.Equal(t, []string{"algorithm", "ranking"}, res[0].MatchedTerms)

	res, err = f.ix.Query(ctx, Query{Terms: []string{"ranking"}})
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		assert.Greater(t, r.Score, 0.0)
	}
}

func TestQuery_RareTermAndTitleWeight(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.put(t, models.Record{ID: "body", Title: "misc", ContentText: "golang tips here", UpdatedAt: 5})
	f.put(t, models.Record{ID: "title", Title: "golang", ContentText: "tips here", UpdatedAt: 1})

	res, err := f.ix.Query(ctx, Query{Terms: []string{"golang"}})
	require.NoError(t, err)
	require.Equal(t, []string{"title", "body"}, ids(res), "title occurrence outranks body occurrence")
}

func TestQuery_TiesBrokenByRecencyThenID(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.put(t, models.Record{ID: "b", Title: "same", ContentText: "same words", UpdatedAt: 100})
	f.put(t, models.Record{ID: "a", Title: "same", ContentText: "same words", UpdatedAt: 100})
	f.put(t, models.Record{ID: "c", Title: "same", ContentText: "same words", UpdatedAt: 200})

	res, err := f.ix.Query(ctx, Query{Terms: []string{"words"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, ids(res))

	paged, err := f.ix.Query(ctx, Query{Terms: []string{"words"}, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(paged))

	beyond, err := f.ix.Query(ctx, Query{Terms: []string{"words"}, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func TestQuery_FiltersAndTags(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.put(t, models.Record{ID: "w", Title: "sqlite", MediaType: models.MediaWeb, Tags: []string{"db"}, UpdatedAt: 10})
	f.put(t, models.Record{ID: "p", Title: "sqlite", MediaType: models.MediaPDF, Tags: []string{"Paper"}, UpdatedAt: 20})

	res, err := f.ix.Query(ctx, Query{Terms: []string{"sqlite"}, Filters: models.RecordFilter{MediaType: models.MediaWeb}})
	require.NoError(t, err)
	assert.Equal(t, []string{"w"}, ids(res))

	res, err = f.ix.Query(ctx, Query{Terms: []string{"sqlite"}, Filters: models.RecordFilter{Tag: "paper"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"p"}, ids(res))

	res, err = f.ix.Query(ctx, Query{Terms: []string{"sqlite"}, Filters: models.RecordFilter{UpdatedFrom: 15}})
	require.NoError(t, err)
	assert.Equal(t, []string{"p"}, ids(res))

	res, err = f.ix.Query(ctx, Query{Terms: []string{"paper"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"p"}, ids(res), "tags are indexed")
}

func TestOnMutation_UpdateAndTombstone(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.put(t, models.Record{ID: "x", Title: "alpha", ContentText: "first", UpdatedAt: 1})
	f.put(t, models.Record{ID: "x", Title: "beta", ContentText: "second", UpdatedAt: 2})

	res, err := f.ix.Query(ctx, Query{Terms: []string{"alpha"}})
	require.NoError(t, err)
	assert.Empty(t, res, "old tokens are gone after update")

	res, err = f.ix.Query(ctx, Query{Terms: []string{"beta"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ids(res))

	f.put(t, models.Record{ID: "x", Title: "beta", ContentText: "second", UpdatedAt: 3, IsDeleted: true})
	res, err = f.ix.Query(ctx, Query{Terms: []string{"beta"}})
	require.NoError(t, err)
	assert.Empty(t, res, "tombstones are not searchable")

	st, err := f.repos.SearchIndex(f.db).Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.DocCount)
}

func TestQuery_UnknownTermAndEmptyQuery(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.put(t, models.Record{ID: "x", Title: "alpha", UpdatedAt: 1})

	res, err := f.ix.Query(ctx, Query{Terms: []string{"alpha zzz"}})
	require.NoError(t, err)
	assert.Empty(t, res)

	res, err = f.ix.Query(ctx, Query{Terms: []string{"  "}})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestRebuild(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.put(t, models.Record{ID: "x", Title: "alpha", UpdatedAt: 1})
	f.put(t, models.Record{ID: "y", Title: "alpha beta", UpdatedAt: 2})

	require.NoError(t, f.repos.SearchIndex(f.db).Clear(ctx))
	res, err := f.ix.Query(ctx, Query{Terms: []string{"alpha"}})
	require.NoError(t, err)
	require.Empty(t, res)

	n, err := f.ix.Rebuild(ctx, f.db)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err = f.ix.Query(ctx, Query{Terms: []string{"alpha"}})
	require.NoError(t, err)
	assert.Len(t, res, 2)
}
