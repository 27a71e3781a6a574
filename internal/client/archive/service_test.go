package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/memovault/internal/client/blobstore"
	"github.com/dmitrijs2005/memovault/internal/client/changes"
	"github.com/dmitrijs2005/memovault/internal/client/database"
	"github.com/dmitrijs2005/memovault/internal/client/events"
	"github.com/dmitrijs2005/memovault/internal/client/metrics"
	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/memovault/internal/client/resolver"
	"github.com/dmitrijs2005/memovault/internal/client/search"
	"github.com/dmitrijs2005/memovault/internal/client/services"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/dmitrijs2005/memovault/internal/logging"
	"github.com/dmitrijs2005/memovault/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type store struct {
	records services.RecordService
	blobs   *blobstore.Store
	archive *Service
	bus     *events.Bus
	clock   *timex.ManualClock
}

func newStore(t *testing.T) *store {
	t.Helper()
	ctx := context.Background()
	db, err := database.InitDatabase(ctx, filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repos := repomanager.NewSQLiteRepositoryManager()
	clock := timex.NewManualClock(time.UnixMilli(1_700_000_000_000))
	m := metrics.New()
	log := logging.NewNop()

	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)
	records := services.NewRecordService(db, repos, resolver.New(repos, clock.Now, m, log), log,
		services.WithClock(clock.Now), services.WithBlobs(blobs),
		services.WithObservers(search.NewIndex(db, repos, m, log), changes.NewTracker(db, repos)))

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	svc, err := NewService(Deps{
		DB: db, Repos: repos, Records: records, Blobs: blobs, Dir: filepath.Join(t.TempDir(), "exports"),
		Bus: bus, Metrics: m, Log: log, Clock: clock.Now,
	})
	require.NoError(t, err)
	return &store{records: records, blobs: blobs, archive: svc, bus: bus, clock: clock}
}

func (s *store) all(t *testing.T) []models.Record {
	t.Helper()
	recs, err := s.records.List(context.Background(), models.RecordFilter{}, models.Page{Limit: models.MaxPageLimit})
	require.NoError(t, err)
	return recs
}

var password = []byte("archive password")

func seed(t *testing.T, s *store) (kept, deleted, withBlob *models.Record) {
	t.Helper()
	ctx := context.Background()

	kept, err := s.records.Create(ctx, services.Fields{Title: "kept", ContentText: "stays around", MediaType: models.MediaText, Tags: []string{"a"}})
	require.NoError(t, err)

	deleted, err = s.records.Create(ctx, services.Fields{Title: "gone", MediaType: models.MediaText})
	require.NoError(t, err)
	deleted, err = s.records.SoftDelete(ctx, deleted.ID, deleted.Version)
	require.NoError(t, err)

	withBlob, err = s.records.Create(ctx, services.Fields{Title: "scan", MediaType: models.MediaPDF})
	require.NoError(t, err)
	withBlob, err = s.records.AttachBlob(ctx, withBlob.ID, withBlob.Version, []byte("%PDF-1.7 body"))
	require.NoError(t, err)
	return kept, deleted, withBlob
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := newStore(t)
	kept, deleted, withBlob := seed(t, src)
	ctx := context.Background()

	meta, err := src.archive.Export(ctx, password, true)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.ItemCount, "tombstones are not exported")
	assert.True(t, meta.IsEncrypted)
	assert.FileExists(t, meta.FilePath)
	assert.Equal(t, FileExt, filepath.Ext(meta.FilePath))

	info, err := os.Stat(meta.FilePath)
	require.NoError(t, err)
	assert.Equal(t, meta.SizeBytes, info.Size())

	history, err := src.archive.List(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, *meta, history[0])

	dst := newStore(t)
	res, err := dst.archive.Import(ctx, meta.FilePath, password)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Imported: 2}, res)

	for _, id := range []string{kept.ID, withBlob.ID} {
		want, err := src.records.Get(ctx, id)
		require.NoError(t, err)
		got, err := dst.records.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, *want, *got)
	}
	_, err = dst.records.Get(ctx, deleted.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.True(t, dst.blobs.Has(withBlob.BlobKey))

	res, err = dst.archive.Import(ctx, meta.FilePath, password)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Skipped: 2}, res, "re-import is a no-op")
}

func TestExport_WithoutBinaries(t *testing.T) {
	src := newStore(t)
	_, _, withBlob := seed(t, src)
	ctx := context.Background()

	meta, err := src.archive.Export(ctx, password, false)
	require.NoError(t, err)

	dst := newStore(t)
	_, err = dst.archive.Import(ctx, meta.FilePath, password)
	require.NoError(t, err)

	got, err := dst.records.Get(ctx, withBlob.ID)
	require.NoError(t, err)
	assert.Equal(t, withBlob.BlobKey, got.BlobKey)
	assert.False(t, dst.blobs.Has(withBlob.BlobKey))
}

func TestExport_EditsBetweenPages(t *testing.T) {
	src := newStore(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		src.clock.Advance(time.Second)
		_, err := src.records.Create(ctx, services.Fields{Title: fmt.Sprintf("note %d", i), MediaType: models.MediaText})
		require.NoError(t, err)
	}
	all := src.all(t)
	require.Len(t, all, 7)

	src.archive.pageSize = 3
	pages := 0
	src.archive.pageRead = func(ctx context.Context, lastID string) {
		pages++
		// every record becomes the newest one while the export runs
		for _, r := range src.all(t) {
			src.clock.Advance(time.Second)
			title := r.Title + " (edited)"
			_, err := src.records.Update(ctx, r.ID, r.Version, services.Patch{Title: &title})
			require.NoError(t, err)
		}
	}

	meta, err := src.archive.Export(ctx, password, false)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	assert.Equal(t, 7, meta.ItemCount)

	dst := newStore(t)
	res, err := dst.archive.Import(ctx, meta.FilePath, password)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Imported: 7}, res)
	for _, r := range all {
		_, err := dst.records.Get(ctx, r.ID)
		assert.NoError(t, err)
	}
}

func TestImport_OlderArchiveNeverDowngrades(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rec, err := s.records.Create(ctx, services.Fields{Title: "v1", MediaType: models.MediaText})
	require.NoError(t, err)
	meta, err := s.archive.Export(ctx, password, false)
	require.NoError(t, err)

	s.clock.Advance(time.Minute)
	newer, err := s.records.Update(ctx, rec.ID, rec.Version, services.Patch{Title: ptr("v2")})
	require.NoError(t, err)

	res, err := s.archive.Import(ctx, meta.FilePath, password)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Skipped: 1}, res)

	got, err := s.records.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, *newer, *got)
}

func TestImport_FailuresLeaveStoreUnchanged(t *testing.T) {
	src := newStore(t)
	seed(t, src)
	ctx := context.Background()

	meta, err := src.archive.Export(ctx, password, true)
	require.NoError(t, err)
	good, err := os.ReadFile(meta.FilePath)
	require.NoError(t, err)

	write := func(t *testing.T, data []byte) string {
		p := filepath.Join(t.TempDir(), "in"+FileExt)
		require.NoError(t, os.WriteFile(p, data, 0o600))
		return p
	}

	tests := []struct {
		name     string
		path     func(t *testing.T) string
		password []byte
		wantErr  error
		notErr   error
	}{
		{
			name:     "wrong password",
			path:     func(t *testing.T) string { return meta.FilePath },
			password: []byte("nope"),
			wantErr:  common.ErrInvalidPassword,
			notErr:   common.ErrCorruptedArchive,
		},
		{
			name: "corrupted byte",
			path: func(t *testing.T) string {
				bad := append([]byte{}, good...)
				bad[len(bad)/2] ^= 0x5a
				return write(t, bad)
			},
			password: password,
			wantErr:  common.ErrCorruptedArchive,
			notErr:   common.ErrInvalidPassword,
		},
		{
			name: "newer format",
			path: func(t *testing.T) string {
				bad := append([]byte{}, good...)
				bad[5]++
				return write(t, reframe(bad))
			},
			password: password,
			wantErr:  common.ErrSchemaVersion,
		},
		{
			name: "unsupported manifest",
			path: func(t *testing.T) string {
				raw, err := writeContainer(contents{manifest: Manifest{Version: ManifestVersion + 1}})
				require.NoError(t, err)
				data, err := seal(raw, password)
				require.NoError(t, err)
				return write(t, data)
			},
			password: password,
			wantErr:  common.ErrSchemaVersion,
		},
		{
			name: "invalid record",
			path: func(t *testing.T) string {
				raw, err := writeContainer(contents{
					manifest: Manifest{Version: ManifestVersion, ItemCount: 2},
					records: []models.Record{
						{ID: "ok-1", Title: "fine", MediaType: models.MediaText, Version: 1, CreatedAt: 1, UpdatedAt: 1},
						{ID: "bad-1", Title: "", MediaType: models.MediaText, Version: 1, CreatedAt: 1, UpdatedAt: 1},
					},
				})
				require.NoError(t, err)
				data, err := seal(raw, password)
				require.NoError(t, err)
				return write(t, data)
			},
			password: password,
			wantErr:  common.ErrValidation,
		},
		{
			name:     "missing file",
			path:     func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent"+FileExt) },
			password: password,
			wantErr:  common.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := newStore(t)
			_, err := dst.archive.Import(ctx, tt.path(t), tt.password)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.notErr != nil {
				assert.NotErrorIs(t, err, tt.notErr)
			}
			assert.Empty(t, dst.all(t))
		})
	}
}

func TestExport_Validation(t *testing.T) {
	s := newStore(t)
	_, err := s.archive.Export(context.Background(), nil, false)
	assert.ErrorIs(t, err, common.ErrValidation)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.archive.Export(ctx, password, false)
	assert.ErrorIs(t, err, context.Canceled)

	history, err := s.archive.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestExport_Events(t *testing.T) {
	s := newStore(t)
	_, ch := s.bus.Subscribe(32)

	_, err := s.archive.Export(context.Background(), password, false)
	require.NoError(t, err)

	var got []events.Event
	for done := false; !done; {
		select {
		case ev := <-ch:
			got = append(got, ev)
		default:
			done = true
		}
	}
	require.NotEmpty(t, got)
	assert.Equal(t, events.Started, got[0].Type)
	assert.Equal(t, "export", got[0].Source)
	assert.Equal(t, events.Completed, got[len(got)-1].Type)
}

func TestNewService_MissingDeps(t *testing.T) {
	_, err := NewService(Deps{})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func ptr[T any](v T) *T { return &v }
