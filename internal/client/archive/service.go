// Package archive writes and reads encrypted export archives.
//
// An archive is a zip container (manifest, records, optional attachments)
// encrypted with a password-derived key. Import applies the whole archive
// in one transaction or nothing at all.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/memovault/internal/client/events"
	"github.com/dmitrijs2005/memovault/internal/client/metrics"
	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/memovault/internal/client/services"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/dmitrijs2005/memovault/internal/cryptox"
	"github.com/dmitrijs2005/memovault/internal/filex"
	"github.com/dmitrijs2005/memovault/internal/logging"
	"github.com/dmitrijs2005/memovault/internal/timex"
	"github.com/google/uuid"
)

const FileExt = ".mvar"

// BlobStore is the local attachment store as seen by archives.
type BlobStore interface {
	Has(hash string) bool
	Get(hash string) ([]byte, error)
	PutVerified(hash string, data []byte) (models.Blob, error)
}

type Deps struct {
	DB      *sql.DB
	Repos   repomanager.RepositoryManager
	Records services.RecordService
	Blobs   BlobStore
	// Dir is where exports are written.
	Dir     string
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Log     logging.Logger
	Clock   timex.Clock
}

// ImportResult counts what an import did. Skipped covers records the store
// already had in the same or a newer state.
type ImportResult struct {
	Imported int
	Skipped  int
}

type Service struct {
	Deps

	pageSize int
	// pageRead runs after each snapshot page; nil outside tests.
	pageRead func(ctx context.Context, lastID string)
}

func NewService(d Deps) (*Service, error) {
	if d.DB == nil || d.Repos == nil || d.Records == nil || d.Dir == "" {
		return nil, fmt.Errorf("%w: archive service is missing dependencies", common.ErrValidation)
	}
	if d.Log == nil {
		d.Log = logging.NewNop()
	}
	if d.Clock == nil {
		d.Clock = timex.System
	}
	d.Log = d.Log.With("component", "archive")
	return &Service{Deps: d, pageSize: models.MaxPageLimit}, nil
}

func (s *Service) started(source string) time.Time {
	now := time.Now()
	s.Bus.Publish(events.Event{Source: source, Type: events.Started, At: now})
	return now
}

func (s *Service) finish(ctx context.Context, source string, started time.Time, counts events.Counts, err error) {
	d := time.Since(started)
	if err != nil {
		s.Metrics.Archive(source, "failed")
		s.Bus.Publish(events.Event{
			Source: source, Type: events.Failed, At: time.Now(),
			Code: common.ErrorCode(err), Retryable: common.IsRetryable(err), Message: err.Error(),
		})
		s.Log.Error(ctx, source+" failed", "err", err)
		return
	}
	s.Metrics.Archive(source, "completed")
	s.Bus.Publish(events.Event{
		Source: source, Type: events.Completed, At: time.Now(), Percent: 100, Duration: d,
		Counts: counts,
	})
	s.Log.Info(ctx, source+" completed", "exported", counts.Uploaded, "imported", counts.Downloaded, "duration", d)
}

// Export writes every live record (and, with includeBinaries, their
// attachments) to a new archive in the export directory.
func (s *Service) Export(ctx context.Context, password []byte, includeBinaries bool) (meta *models.ArchiveMeta, err error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: password is required", common.ErrValidation)
	}
	started := s.started("export")
	defer func() {
		var counts events.Counts
		if meta != nil {
			counts.Uploaded = meta.ItemCount
		}
		s.finish(ctx, "export", started, counts, err)
	}()

	records, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	c := contents{
		manifest: Manifest{
			Version:          ManifestVersion,
			CreatedAt:        s.Clock.Millis(),
			ItemCount:        len(records),
			IncludesBinaries: includeBinaries,
			DeviceID:         s.deviceID(ctx),
		},
		records: records,
	}
	if includeBinaries {
		if c.blobs, err = s.collectBlobs(ctx, records); err != nil {
			return nil, err
		}
	}
	s.Bus.Publish(events.Event{Source: "export", Type: events.Progress, At: time.Now(), Percent: 50})

	plain, err := writeContainer(c)
	if err != nil {
		return nil, err
	}
	data, err := seal(plain, password)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}
	id := uuid.NewString()
	name := fmt.Sprintf("memovault-%s-%s%s", s.Clock().UTC().Format("20060102-150405"), id[:8], FileExt)
	path := filepath.Join(s.Dir, name)
	if err := filex.WriteFileAtomic(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write archive: %w", err)
	}

	meta = &models.ArchiveMeta{
		ID:          id,
		FilePath:    path,
		Checksum:    checksum(data),
		SizeBytes:   int64(len(data)),
		ItemCount:   len(records),
		IsEncrypted: true,
		CreatedAt:   c.manifest.CreatedAt,
	}
	if err := s.Repos.Archives(s.DB).Insert(ctx, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// snapshot reads every live record in id order. Keyset paging keeps each
// record exactly once even when records are edited between pages.
func (s *Service) snapshot(ctx context.Context) ([]models.Record, error) {
	repo := s.Repos.Records(s.DB)
	records := []models.Record{}
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := repo.ScanLive(ctx, after, s.pageSize)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
		s.Bus.Publish(events.Event{Source: "export", Type: events.Progress, At: time.Now(), Percent: 10})
		if len(batch) < s.pageSize {
			return records, nil
		}
		after = batch[len(batch)-1].ID
		if s.pageRead != nil {
			s.pageRead(ctx, after)
		}
	}
}

func (s *Service) collectBlobs(ctx context.Context, records []models.Record) (map[string][]byte, error) {
	blobs := make(map[string][]byte)
	if s.Blobs == nil {
		return blobs, nil
	}
	for _, r := range records {
		if r.BlobKey == "" || blobs[r.BlobKey] != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.Blobs.Has(r.BlobKey) {
			s.Log.Warn(ctx, "attachment not available locally, exporting record without it", "record", r.ID, "hash", r.BlobKey)
			continue
		}
		data, err := s.Blobs.Get(r.BlobKey)
		if err != nil {
			return nil, err
		}
		blobs[r.BlobKey] = data
	}
	return blobs, nil
}

func (s *Service) deviceID(ctx context.Context) string {
	raw, err := s.Repos.Metadata(s.DB).Get(ctx, metadata.KeyDeviceID)
	if err != nil {
		return ""
	}
	return string(raw)
}

// Import verifies, decrypts and applies the archive at path. Any failure
// leaves the store unchanged.
func (s *Service) Import(ctx context.Context, path string, password []byte) (res ImportResult, err error) {
	started := s.started("import")
	defer func() { s.finish(ctx, "import", started, events.Counts{Downloaded: res.Imported}, err) }()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return res, fmt.Errorf("%w: archive %s", common.ErrNotFound, path)
	}
	if err != nil {
		return res, fmt.Errorf("failed to read archive: %w", err)
	}

	plain, err := open(data, password)
	if err != nil {
		return res, err
	}
	c, err := readContainer(plain)
	if err != nil {
		return res, err
	}
	s.Bus.Publish(events.Event{Source: "import", Type: events.Progress, At: time.Now(), Percent: 30})

	seen := make(map[string]bool, len(c.records))
	for _, r := range c.records {
		if r.ID == "" || seen[r.ID] {
			return res, fmt.Errorf("%w: archive record id %q is empty or repeated", common.ErrValidation, r.ID)
		}
		seen[r.ID] = true
	}
	for hash, blob := range c.blobs {
		if got := cryptox.SHA256Hex(blob); got != hash {
			return res, fmt.Errorf("%w: attachment %s does not match its digest", common.ErrCorruptedArchive, hash)
		}
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if len(c.blobs) > 0 {
		if s.Blobs == nil {
			return res, fmt.Errorf("%w: archive has attachments but no blob storage is configured", common.ErrValidation)
		}
		for hash, blob := range c.blobs {
			if _, err := s.Blobs.PutVerified(hash, blob); err != nil {
				return res, err
			}
		}
	}
	s.Bus.Publish(events.Event{Source: "import", Type: events.Progress, At: time.Now(), Percent: 60})

	batch, err := s.Records.ApplyBatch(ctx, c.records, models.OriginArchive)
	if err != nil {
		return res, err
	}
	res.Imported = batch.Created + batch.Replaced
	res.Skipped = batch.Skipped + batch.KeptLocal
	return res, nil
}

// List returns the export history, newest first.
func (s *Service) List(ctx context.Context) ([]models.ArchiveMeta, error) {
	return s.Repos.Archives(s.DB).List(ctx)
}
