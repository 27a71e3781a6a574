// Package services implements the storage engine: versioned CRUD over
// content records and the shared upsert path used by sync and import.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/memovault/internal/client/resolver"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/dmitrijs2005/memovault/internal/dbx"
	"github.com/dmitrijs2005/memovault/internal/logging"
	"github.com/dmitrijs2005/memovault/internal/timex"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MutationObserver is notified inside the mutation transaction. An error
// rolls the mutation back.
type MutationObserver interface {
	OnMutation(ctx context.Context, tx dbx.DBTX, m models.Mutation) error
}

// ConflictResolver decides between a stored and an incoming record.
type ConflictResolver interface {
	Resolve(ctx context.Context, tx dbx.DBTX, local, incoming models.Record, origin models.Origin) (resolver.Resolution, error)
}

// BlobWriter stores attachment bytes by content address.
type BlobWriter interface {
	Put(data []byte) (models.Blob, error)
}

type RecordService interface {
	Create(ctx context.Context, f Fields) (*models.Record, error)
	Update(ctx context.Context, id string, expectedVersion int64, p Patch) (*models.Record, error)
	SoftDelete(ctx context.Context, id string, expectedVersion int64) (*models.Record, error)
	Get(ctx context.Context, id string) (*models.Record, error)
	List(ctx context.Context, filter models.RecordFilter, page models.Page) ([]models.Record, error)
	FindByContentHash(ctx context.Context, hash string) ([]models.Record, error)
	AttachBlob(ctx context.Context, id string, expectedVersion int64, data []byte) (*models.Record, error)

	ApplyIncoming(ctx context.Context, incoming models.Record, origin models.Origin) (ApplyOutcome, error)
	ApplyBatch(ctx context.Context, incoming []models.Record, origin models.Origin) (BatchResult, error)
}

type recordService struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	resolver  ConflictResolver
	blobs     BlobWriter
	observers []MutationObserver
	clock     timex.Clock
	validate  *validator.Validate
	log       logging.Logger
	newID     func() string
}

// Option customizes a RecordService.
type Option func(*recordService)

func WithClock(c timex.Clock) Option { return func(s *recordService) { s.clock = c } }

func WithBlobs(b BlobWriter) Option { return func(s *recordService) { s.blobs = b } }

func WithObservers(obs ...MutationObserver) Option {
	return func(s *recordService) { s.observers = append(s.observers, obs...) }
}

func NewRecordService(db *sql.DB, repos repomanager.RepositoryManager, res ConflictResolver, log logging.Logger, opts ...Option) RecordService {
	s := &recordService{
		db:       db,
		repos:    repos,
		resolver: res,
		clock:    timex.System,
		validate: newValidator(),
		log:      log.With("component", "records"),
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// nextTimestamp keeps updatedAt strictly increasing per record even if the
// wall clock steps back.
func (s *recordService) nextTimestamp(prev int64) int64 {
	now := s.clock.Millis()
	if now <= prev {
		return prev + 1
	}
	return now
}

func (s *recordService) notify(ctx context.Context, tx dbx.DBTX, m models.Mutation) error {
	for _, o := range s.observers {
		if err := o.OnMutation(ctx, tx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *recordService) Create(ctx context.Context, f Fields) (*models.Record, error) {
	f.Tags = models.NormalizeTags(f.Tags)
	if err := s.validate.Struct(f); err != nil {
		return nil, validationError(err)
	}

	now := s.clock.Millis()
	rec := models.Record{
		ID:          s.newID(),
		Title:       f.Title,
		ContentText: f.ContentText,
		SourceURL:   f.SourceURL,
		MediaType:   f.MediaType,
		Tags:        f.Tags,
		Summary:     f.Summary,
		BlobKey:     f.BlobKey,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
		ContentHash: models.ContentHash(f.ContentText),
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Records(tx).Insert(ctx, &rec); err != nil {
			return err
		}
		return s.notify(ctx, tx, models.Mutation{Op: models.OpCreate, Record: rec, Origin: models.OriginLocal})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	s.log.Debug(ctx, "record created", "id", rec.ID)
	return &rec, nil
}

// loadLive returns the stored record or ErrNotFound for missing and
// tombstoned records, then checks the expected version.
func (s *recordService) loadLive(ctx context.Context, tx dbx.DBTX, id string, expectedVersion int64) (*models.Record, error) {
	prev, err := s.repos.Records(tx).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev.IsDeleted {
		return nil, fmt.Errorf("%w: record %s is deleted", common.ErrNotFound, id)
	}
	if prev.Version != expectedVersion {
		return nil, fmt.Errorf("%w: record %s is at version %d, expected %d",
			common.ErrConflict, id, prev.Version, expectedVersion)
	}
	return prev, nil
}

func (s *recordService) update(ctx context.Context, id string, expectedVersion int64, p Patch,
	before func(ctx context.Context, tx dbx.DBTX) error) (*models.Record, error) {

	var next models.Record
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		prev, err := s.loadLive(ctx, tx, id, expectedVersion)
		if err != nil {
			return err
		}

		next = prev.Clone()
		p.apply(&next)
		next.Tags = models.NormalizeTags(next.Tags)
		if err := s.validate.Struct(fieldsOf(next)); err != nil {
			return validationError(err)
		}
		next.ContentHash = models.ContentHash(next.ContentText)
		next.Version = prev.Version + 1
		next.UpdatedAt = s.nextTimestamp(prev.UpdatedAt)

		if before != nil {
			if err := before(ctx, tx); err != nil {
				return err
			}
		}
		if err := s.repos.Records(tx).Update(ctx, &next, prev.Version); err != nil {
			return err
		}
		return s.notify(ctx, tx, models.Mutation{Op: models.OpUpdate, Record: next, Previous: prev, Origin: models.OriginLocal})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}
	s.log.Debug(ctx, "record updated", "id", id, "version", next.Version)
	return &next, nil
}

func (s *recordService) Update(ctx context.Context, id string, expectedVersion int64, p Patch) (*models.Record, error) {
	return s.update(ctx, id, expectedVersion, p, nil)
}

func (s *recordService) SoftDelete(ctx context.Context, id string, expectedVersion int64) (*models.Record, error) {
	var next models.Record
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		prev, err := s.loadLive(ctx, tx, id, expectedVersion)
		if err != nil {
			return err
		}
		next = prev.Clone()
		next.IsDeleted = true
		next.Version = prev.Version + 1
		next.UpdatedAt = s.nextTimestamp(prev.UpdatedAt)
		if err := s.repos.Records(tx).Update(ctx, &next, prev.Version); err != nil {
			return err
		}
		return s.notify(ctx, tx, models.Mutation{Op: models.OpDelete, Record: next, Previous: prev, Origin: models.OriginLocal})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete record: %w", err)
	}
	s.log.Debug(ctx, "record deleted", "id", id, "version", next.Version)
	return &next, nil
}

func (s *recordService) Get(ctx context.Context, id string) (*models.Record, error) {
	rec, err := s.repos.Records(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.IsDeleted {
		return nil, fmt.Errorf("%w: record %s is deleted", common.ErrNotFound, id)
	}
	return rec, nil
}

func (s *recordService) List(ctx context.Context, filter models.RecordFilter, page models.Page) ([]models.Record, error) {
	return s.repos.Records(s.db).List(ctx, filter, page)
}

func (s *recordService) FindByContentHash(ctx context.Context, hash string) ([]models.Record, error) {
	return s.repos.Records(s.db).FindByContentHash(ctx, hash)
}

func (s *recordService) AttachBlob(ctx context.Context, id string, expectedVersion int64, data []byte) (*models.Record, error) {
	if s.blobs == nil {
		return nil, fmt.Errorf("%w: blob storage is not configured", common.ErrValidation)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty attachment", common.ErrValidation)
	}
	blob, err := s.blobs.Put(data)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, id, expectedVersion, Patch{BlobKey: &blob.Hash}, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Blobs(tx).CreateOrUpdate(ctx, &blob)
	})
}

func (s *recordService) ApplyIncoming(ctx context.Context, incoming models.Record, origin models.Origin) (ApplyOutcome, error) {
	res, err := s.ApplyBatch(ctx, []models.Record{incoming}, origin)
	if err != nil {
		return 0, err
	}
	switch {
	case res.Created == 1:
		return Created, nil
	case res.Replaced == 1:
		return Replaced, nil
	case res.KeptLocal == 1:
		return KeptLocal, nil
	default:
		return Skipped, nil
	}
}

// ApplyBatch applies every record in one transaction; any failure leaves the
// store unchanged.
func (s *recordService) ApplyBatch(ctx context.Context, incoming []models.Record, origin models.Origin) (BatchResult, error) {
	var result BatchResult
	if origin != models.OriginRemote && origin != models.OriginArchive {
		return result, fmt.Errorf("%w: cannot apply records of origin %s", common.ErrValidation, origin)
	}

	normalized := make([]models.Record, len(incoming))
	for i, r := range incoming {
		r = r.Clone()
		r.Tags = models.NormalizeTags(r.Tags)
		if err := s.checkIncoming(r); err != nil {
			return result, err
		}
		normalized[i] = r
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, r := range normalized {
			if err := ctx.Err(); err != nil {
				return err
			}
			o, err := s.applyOne(ctx, tx, r, origin)
			if err != nil {
				return fmt.Errorf("apply %s: %w", r.ID, err)
			}
			result.add(o)
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to apply records: %w", err)
	}
	return result, nil
}

func (s *recordService) applyOne(ctx context.Context, tx dbx.DBTX, incoming models.Record, origin models.Origin) (ApplyOutcome, error) {
	recs := s.repos.Records(tx)

	local, err := recs.GetByID(ctx, incoming.ID)
	if errors.Is(err, common.ErrNotFound) {
		if err := recs.Insert(ctx, &incoming); err != nil {
			return 0, err
		}
		op := models.OpCreate
		if incoming.IsDeleted {
			op = models.OpDelete
		}
		if err := s.notify(ctx, tx, models.Mutation{Op: op, Record: incoming, Origin: origin}); err != nil {
			return 0, err
		}
		return Created, nil
	}
	if err != nil {
		return 0, err
	}

	if origin == models.OriginArchive && local.Version >= incoming.Version {
		return Skipped, nil
	}
	if local.SameState(incoming) {
		return Skipped, nil
	}

	res, err := s.resolver.Resolve(ctx, tx, *local, incoming, origin)
	if err != nil {
		return 0, err
	}
	if res.LocalWon() {
		return KeptLocal, nil
	}

	winner := res.Winner
	winner.Version = max(local.Version, incoming.Version) + 1
	if err := recs.Update(ctx, &winner, local.Version); err != nil {
		return 0, err
	}
	op := models.OpUpdate
	if winner.IsDeleted {
		op = models.OpDelete
	}
	if err := s.notify(ctx, tx, models.Mutation{Op: op, Record: winner, Previous: local, Origin: origin}); err != nil {
		return 0, err
	}
	return Replaced, nil
}
