package services

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/memovault/internal/client/blobstore"
	"github.com/dmitrijs2005/memovault/internal/client/changes"
	"github.com/dmitrijs2005/memovault/internal/client/database"
	"github.com/dmitrijs2005/memovault/internal/client/metrics"
	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/memovault/internal/client/resolver"
	"github.com/dmitrijs2005/memovault/internal/client/search"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/dmitrijs2005/memovault/internal/dbx"
	"github.com/dmitrijs2005/memovault/internal/logging"
	"github.com/dmitrijs2005/memovault/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db      *sql.DB
	svc     RecordService
	clock   *timex.ManualClock
	index   *search.Index
	tracker *changes.Tracker
	repos   repomanager.RepositoryManager
}

func setup(t *testing.T, extra ...MutationObserver) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.InitDatabase(ctx, filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repos := repomanager.NewSQLiteRepositoryManager()
	clock := timex.NewManualClock(time.UnixMilli(1_000_000))
	m := metrics.New()
	log := logging.NewNop()

	ix := search.NewIndex(db, repos, m, log)
	tr := changes.NewTracker(db, repos)
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)

	observers := append([]MutationObserver{ix, tr}, extra...)
	svc := NewRecordService(db, repos, resolver.New(repos, clock.Now, m, log), log,
		WithClock(clock.Now), WithBlobs(blobs), WithObservers(observers...))

	return &fixture{db: db, svc: svc, clock: clock, index: ix, tracker: tr, repos: repos}
}

func note(title, text string, tags ...string) Fields {
	return Fields{Title: title, ContentText: text, MediaType: models.MediaText, Tags: tags}
}

func ptr[T any](v T) *T { return &v }

func TestCreate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, note("Quantum", "entanglement basics", "Physics", " physics ", "notes"))
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)
	assert.Equal(t, []string{"notes", "physics"}, rec.Tags)
	assert.Equal(t, models.ContentHash("entanglement basics"), rec.ContentHash)

	got, err := f.svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, *rec, *got)
}

func TestCreate_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		fields Fields
	}{
		{"empty title", Fields{ContentText: "x", MediaType: models.MediaText}},
		{"unknown media type", Fields{Title: "t", MediaType: "hologram"}},
		{"bad url", Fields{Title: "t", MediaType: models.MediaWeb, SourceURL: "not a url"}},
		{"bad blob key", Fields{Title: "t", MediaType: models.MediaImage, BlobKey: "xyz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.fields)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}

	list, err := f.svc.List(ctx, models.RecordFilter{IncludeDeleted: true}, models.Page{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUpdate_VersionAndTimestampMonotonic(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, note("a", "one"))
	require.NoError(t, err)

	// wall clock steps backwards
	f.clock.Advance(-time.Hour)

	upd, err := f.svc.Update(ctx, rec.ID, rec.Version, Patch{ContentText: ptr("two")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), upd.Version)
	assert.Greater(t, upd.UpdatedAt, rec.UpdatedAt)
	assert.Equal(t, rec.CreatedAt, upd.CreatedAt)
	assert.Equal(t, models.ContentHash("two"), upd.ContentHash)
}

func TestUpdate_StaleVersion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, note("a", "one"))
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, rec.ID, 1, Patch{Title: ptr("b")})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, rec.ID, 1, Patch{Title: ptr("c")})
	assert.ErrorIs(t, err, common.ErrConflict)

	got, err := f.svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Title)
}

func TestUpdate_Missing(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Update(context.Background(), "nope", 1, Patch{Title: ptr("x")})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUpdate_TagsNilKeepsEmptyClears(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, note("a", "one", "x", "y"))
	require.NoError(t, err)

	rec, err = f.svc.Update(ctx, rec.ID, rec.Version, Patch{Title: ptr("b")})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, rec.Tags)

	rec, err = f.svc.Update(ctx, rec.ID, rec.Version, Patch{Tags: []string{}})
	require.NoError(t, err)
	assert.Empty(t, rec.Tags)
}

func TestSoftDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, note("gone", "soon"))
	require.NoError(t, err)

	del, err := f.svc.SoftDelete(ctx, rec.ID, rec.Version)
	require.NoError(t, err)
	assert.True(t, del.IsDeleted)
	assert.Equal(t, int64(2), del.Version)

	_, err = f.svc.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.svc.SoftDelete(ctx, rec.ID, del.Version)
	assert.ErrorIs(t, err, common.ErrNotFound)

	live, err := f.svc.List(ctx, models.RecordFilter{}, models.Page{})
	require.NoError(t, err)
	assert.Empty(t, live)

	all, err := f.svc.List(ctx, models.RecordFilter{IncludeDeleted: true}, models.Page{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsDeleted)
}

func TestMutations_FeedIndexAndChangeLog(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, note("Quantum", "entanglement basics"))
	require.NoError(t, err)

	hits, err := f.index.Query(ctx, search.Query{Terms: []string{"entanglement"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, rec.ID, hits[0].Record.ID)

	_, err = f.svc.SoftDelete(ctx, rec.ID, rec.Version)
	require.NoError(t, err)

	hits, err = f.index.Query(ctx, search.Query{Terms: []string{"entanglement"}})
	require.NoError(t, err)
	assert.Empty(t, hits)

	entries, err := f.tracker.Since(ctx, changes.Cursor{}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.OpCreate, entries[0].Operation)
	assert.Equal(t, models.OpDelete, entries[1].Operation)
	assert.Equal(t, int64(2), entries[1].Version)
}

type failingObserver struct{}

func (failingObserver) OnMutation(context.Context, dbx.DBTX, models.Mutation) error {
	return errors.New("boom")
}

func TestObserverFailureRollsBack(t *testing.T) {
	f := setup(t, failingObserver{})
	ctx := context.Background()

	_, err := f.svc.Create(ctx, note("a", "text"))
	require.Error(t, err)

	list, err := f.svc.List(ctx, models.RecordFilter{IncludeDeleted: true}, models.Page{})
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err := f.tracker.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFindByContentHash(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, note("a", "same body"))
	require.NoError(t, err)
	b, err := f.svc.Create(ctx, note("b", "same body"))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, note("c", "other"))
	require.NoError(t, err)

	got, err := f.svc.FindByContentHash(ctx, models.ContentHash("same body"))
	require.NoError(t, err)
	ids := []string{got[0].ID, got[1].ID}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
}

func TestAttachBlob(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, Fields{Title: "scan", MediaType: models.MediaImage})
	require.NoError(t, err)

	upd, err := f.svc.AttachBlob(ctx, rec.ID, rec.Version, []byte("png bytes"))
	require.NoError(t, err)
	assert.Equal(t, models.ContentHash("png bytes"), upd.BlobKey)
	assert.Equal(t, int64(2), upd.Version)

	_, err = f.svc.AttachBlob(ctx, rec.ID, upd.Version, nil)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func remote(id string, updatedAt, version int64, text string) models.Record {
	return models.Record{
		ID: id, Title: "t", ContentText: text, MediaType: models.MediaText, Tags: []string{},
		CreatedAt: 1, UpdatedAt: updatedAt, Version: version, ContentHash: models.ContentHash(text),
	}
}

func TestApplyIncoming(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	o, err := f.svc.ApplyIncoming(ctx, remote("r1", 100, 3, "first"), models.OriginRemote)
	require.NoError(t, err)
	assert.Equal(t, Created, o)

	got, err := f.svc.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version, "inserted verbatim")

	o, err = f.svc.ApplyIncoming(ctx, remote("r1", 100, 3, "first"), models.OriginRemote)
	require.NoError(t, err)
	assert.Equal(t, Skipped, o)

	o, err = f.svc.ApplyIncoming(ctx, remote("r1", 50, 9, "older"), models.OriginRemote)
	require.NoError(t, err)
	assert.Equal(t, KeptLocal, o)

	o, err = f.svc.ApplyIncoming(ctx, remote("r1", 200, 2, "newer"), models.OriginRemote)
	require.NoError(t, err)
	assert.Equal(t, Replaced, o)

	got, err = f.svc.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "newer", got.ContentText)
	assert.Equal(t, int64(4), got.Version, "max(local, incoming)+1")
	assert.Equal(t, int64(200), got.UpdatedAt)

	conflicts, err := f.repos.Conflicts(f.db).ListByItem(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, conflicts, 2)

	// remote origin does not produce change log entries
	n, err := f.tracker.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	hits, err := f.index.Query(ctx, search.Query{Terms: []string{"newer"}})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestApplyIncoming_ArchiveSkipsOlderVersions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.ApplyIncoming(ctx, remote("a1", 100, 5, "local"), models.OriginRemote)
	require.NoError(t, err)

	o, err := f.svc.ApplyIncoming(ctx, remote("a1", 900, 5, "archived"), models.OriginArchive)
	require.NoError(t, err)
	assert.Equal(t, Skipped, o)

	o, err = f.svc.ApplyIncoming(ctx, remote("a1", 900, 6, "archived"), models.OriginArchive)
	require.NoError(t, err)
	assert.Equal(t, Replaced, o)

	n, err := f.tracker.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "archive applies are tracked for upload")
}

func TestApplyIncoming_RemoteTombstone(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.ApplyIncoming(ctx, remote("d1", 100, 1, "body"), models.OriginRemote)
	require.NoError(t, err)

	tomb := remote("d1", 200, 2, "body")
	tomb.IsDeleted = true
	o, err := f.svc.ApplyIncoming(ctx, tomb, models.OriginRemote)
	require.NoError(t, err)
	assert.Equal(t, Replaced, o)

	_, err = f.svc.Get(ctx, "d1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestApplyBatch_AllOrNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	bad := remote("b2", 100, 1, "x")
	bad.ContentHash = "deadbeef"

	_, err := f.svc.ApplyBatch(ctx, []models.Record{remote("b1", 100, 1, "ok"), bad}, models.OriginArchive)
	assert.ErrorIs(t, err, common.ErrValidation)

	list, err := f.svc.List(ctx, models.RecordFilter{IncludeDeleted: true}, models.Page{})
	require.NoError(t, err)
	assert.Empty(t, list)

	res, err := f.svc.ApplyBatch(ctx, []models.Record{remote("b1", 100, 1, "ok"), remote("b2", 100, 1, "x")}, models.OriginArchive)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Created: 2}, res)
	assert.Equal(t, 2, res.Applied())
}

func TestApplyBatch_RejectsLocalOrigin(t *testing.T) {
	f := setup(t)
	_, err := f.svc.ApplyBatch(context.Background(), []models.Record{remote("x", 1, 1, "")}, models.OriginLocal)
	assert.ErrorIs(t, err, common.ErrValidation)
}
