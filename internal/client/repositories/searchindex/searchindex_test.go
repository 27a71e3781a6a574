package searchindex

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/dmitrijs2005/memovault/internal/client/database"
	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	idx  *SQLiteRepository
	recs *records.SQLiteRepository
}

func setup(t *testing.T) fixture {
	t.Helper()
	db, err := database.InitDatabase(context.Background(), filepath.Join(t.TempDir(), "idx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return fixture{idx: NewSQLiteRepository(db), recs: records.NewSQLiteRepository(db)}
}

func (f fixture) add(t *testing.T, id string, media models.MediaType, tfs map[string]float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.recs.Insert(ctx, &models.Record{
		ID: id, Title: id, MediaType: media, Tags: []string{}, CreatedAt: 1, UpdatedAt: 1, Version: 1,
		ContentHash: models.ContentHash(id),
	}))
	var length float64
	for _, v := range tfs {
		length += v
	}
	require.NoError(t, f.idx.AddDoc(ctx, id, length, tfs))
}

func TestAddDoc_UpdatesStatistics(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.add(t, "x", models.MediaText, map[string]float64{"ranking": 2, "algorithm": 1})
	f.add(t, "y", models.MediaText, map[string]float64{"ranking": 1})

	st, err := f.idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.DocCount)
	assert.Equal(t, float64(4), st.TotalLength)

	df, err := f.idx.DocFreq(ctx, []string{"ranking", "algorithm", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"ranking": 2, "algorithm": 1}, df)
}

func TestMatch_RequiresAllTermsAndFilter(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.add(t, "x", models.MediaText, map[string]float64{"ranking": 2, "algorithm": 1})
	f.add(t, "y", models.MediaText, map[string]float64{"ranking": 1})
	f.add(t, "z", models.MediaWeb, map[string]float64{"ranking": 1, "algorithm": 1})

	ps, err := f.idx.Match(ctx, []string{"ranking", "algorithm"}, "", nil)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, p := range ps {
		ids[p.RecordID] = true
	}
	assert.Equal(t, map[string]bool{"x": true, "z": true}, ids)
	assert.Len(t, ps, 4, "one posting per term per matching record")

	where, args := records.FilterClause(models.RecordFilter{MediaType: models.MediaText})
	ps, err = f.idx.Match(ctx, []string{"ranking", "algorithm"}, where, args)
	require.NoError(t, err)
	var got []string
	for _, p := range ps {
		got = append(got, p.RecordID+":"+p.Term)
	}
	sort.Strings(got)
	assert.Equal(t, []string{"x:algorithm", "x:ranking"}, got)

	none, err := f.idx.Match(ctx, nil, "", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRemoveDoc_RevertsStatistics(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.add(t, "x", models.MediaText, map[string]float64{"ranking": 2, "algorithm": 1})
	f.add(t, "y", models.MediaText, map[string]float64{"ranking": 1})

	require.NoError(t, f.idx.RemoveDoc(ctx, "x"))
	require.NoError(t, f.idx.RemoveDoc(ctx, "x"), "second removal is a no-op")

	st, err := f.idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.DocCount)
	assert.Equal(t, float64(1), st.TotalLength)

	df, err := f.idx.DocFreq(ctx, []string{"ranking", "algorithm"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"ranking": 1}, df)
}

func TestClear(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.add(t, "x", models.MediaText, map[string]float64{"a": 1})

	require.NoError(t, f.idx.Clear(ctx))
	st, err := f.idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
}
