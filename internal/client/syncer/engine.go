// Package syncer reconciles the local store with a remote object store.
//
// A sync pushes local change-log entries as immutable per-device change
// objects, pulls the change objects of other devices through the shared
// upsert path, and parks anything that fails on the retry queue.
package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/memovault/internal/client/changes"
	"github.com/dmitrijs2005/memovault/internal/client/events"
	"github.com/dmitrijs2005/memovault/internal/client/metrics"
	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/client/remote"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/memovault/internal/client/services"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/dmitrijs2005/memovault/internal/logging"
	"github.com/dmitrijs2005/memovault/internal/timex"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// State is the engine's lifecycle stage. Completed and Failed describe the
// last run and hold until the next one starts.
type State int32

const (
	Idle State = iota
	Syncing
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Syncing:
		return "syncing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	Uploaded   int
	Downloaded int
	Conflicts  int
	Queued     int
	Retried    int
	Pruned     int64
	Duration   time.Duration
	// Failed lists queue entries that exhausted their attempts or failed
	// terminally. They stay until requeued.
	Failed []models.SyncQueueEntry
}

// BlobStore is the local attachment store as seen by sync.
type BlobStore interface {
	Has(hash string) bool
	Get(hash string) ([]byte, error)
	PutVerified(hash string, data []byte) (models.Blob, error)
}

type Options struct {
	BatchSize int
	// DownloadConcurrency bounds parallel object downloads.
	DownloadConcurrency int
}

// Deps are the collaborators of an Engine.
type Deps struct {
	DB      *sql.DB
	Repos   repomanager.RepositoryManager
	Records services.RecordService
	Tracker *changes.Tracker
	Remote  remote.Store
	Blobs   BlobStore
	Queue   *Queue
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Log     logging.Logger
	Clock   timex.Clock
}

type Engine struct {
	Deps
	opts Options

	group singleflight.Group
	state atomic.Int32
	// mu serializes cursor updates between a sync run and queue handlers.
	mu sync.Mutex
}

func NewEngine(d Deps, opts Options) (*Engine, error) {
	if d.DB == nil || d.Repos == nil || d.Records == nil || d.Tracker == nil || d.Queue == nil {
		return nil, fmt.Errorf("%w: sync engine is missing dependencies", common.ErrValidation)
	}
	if d.Log == nil {
		d.Log = logging.NewNop()
	}
	if d.Clock == nil {
		d.Clock = timex.System
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.DownloadConcurrency <= 0 {
		opts.DownloadConcurrency = 4
	}
	d.Log = d.Log.With("component", "sync")

	e := &Engine{Deps: d, opts: opts}
	d.Queue.Handle(models.QueueUpload, e.handleUpload)
	d.Queue.Handle(models.QueueDownload, e.handleDownload)
	d.Queue.Handle(models.QueueDelete, e.handleDelete)
	return e, nil
}

func (e *Engine) State() State { return State(e.state.Load()) }

// TriggerSync runs one sync. Concurrent callers share the run in flight
// and receive the same result.
func (e *Engine) TriggerSync(ctx context.Context) (SyncResult, error) {
	if e.Remote == nil {
		return SyncResult{}, fmt.Errorf("%w: no remote configured", common.ErrValidation)
	}
	v, err, _ := e.group.Do("sync", func() (any, error) {
		return e.run(ctx)
	})
	res, _ := v.(SyncResult)
	return res, err
}

type uploadPayload struct {
	Key    string       `json:"key"`
	Object ChangeObject `json:"object"`
}

type downloadPayload struct {
	Key  string `json:"key,omitempty"`
	Full bool   `json:"full,omitempty"`
}

type deletePayload struct {
	Key string `json:"key"`
}

// run is one sync pass. Every unit of work checks ctx before starting.
func (e *Engine) run(ctx context.Context) (res SyncResult, err error) {
	started := time.Now()
	e.state.Store(int32(Syncing))
	e.Bus.Publish(events.Event{Source: "sync", Type: events.Started, At: started})
	e.Log.Info(ctx, "sync started")

	defer func() {
		res.Duration = time.Since(started)
		counts := events.Counts{Uploaded: res.Uploaded, Downloaded: res.Downloaded, Queued: res.Queued, Conflicts: res.Conflicts}
		if err != nil {
			e.state.Store(int32(Failed))
			e.Metrics.SyncFinished("failed", res.Duration, res.Uploaded, res.Downloaded)
			e.Bus.Publish(events.Event{
				Source: "sync", Type: events.Failed, At: time.Now(), Counts: counts,
				Code: common.ErrorCode(err), Retryable: common.IsRetryable(err), Message: err.Error(),
			})
			e.Log.Error(ctx, "sync failed", "err", err)
		} else {
			e.state.Store(int32(Completed))
			e.Metrics.SyncFinished("completed", res.Duration, res.Uploaded, res.Downloaded)
			e.Bus.Publish(events.Event{
				Source: "sync", Type: events.Completed, At: time.Now(), Percent: 100,
				Counts: counts, Duration: res.Duration,
			})
			e.Log.Info(ctx, "sync completed",
				"uploaded", res.Uploaded, "downloaded", res.Downloaded,
				"conflicts", res.Conflicts, "queued", res.Queued, "duration", res.Duration)
		}
	}()

	stats, err := e.Queue.RunDue(ctx)
	if err != nil {
		return res, err
	}
	res.Retried = stats.Attempted

	e.mu.Lock()
	defer e.mu.Unlock()

	device, err := e.deviceID(ctx)
	if err != nil {
		return res, err
	}

	if err := e.push(ctx, device, &res); err != nil {
		return res, err
	}
	if err := e.pull(ctx, device, &res, true); err != nil {
		return res, err
	}

	cursor, err := e.localCursor(ctx)
	if err != nil {
		return res, err
	}
	if res.Pruned, err = e.Tracker.Prune(ctx, cursor); err != nil {
		return res, err
	}
	if err := metadata.SetJSON(ctx, e.Repos.Metadata(e.DB), metadata.KeyLastSyncAt, e.Clock.Millis()); err != nil {
		return res, err
	}

	if res.Failed, err = e.Queue.Failed(ctx); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) progress(percent int, res *SyncResult) {
	e.Bus.Publish(events.Event{
		Source: "sync", Type: events.Progress, At: time.Now(), Percent: percent,
		Counts: events.Counts{Uploaded: res.Uploaded, Downloaded: res.Downloaded, Queued: res.Queued, Conflicts: res.Conflicts},
	})
}

// deviceID returns the persistent id of this device, creating it once.
func (e *Engine) deviceID(ctx context.Context) (string, error) {
	repo := e.Repos.Metadata(e.DB)
	raw, err := repo.Get(ctx, metadata.KeyDeviceID)
	if err != nil {
		return "", err
	}
	if len(raw) > 0 {
		return string(raw), nil
	}
	id := uuid.NewString()
	if err := repo.Set(ctx, metadata.KeyDeviceID, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}

// DeviceID exposes the device id for display.
func (e *Engine) DeviceID(ctx context.Context) (string, error) { return e.deviceID(ctx) }

func (e *Engine) localCursor(ctx context.Context) (changes.Cursor, error) {
	raw, err := e.Repos.Metadata(e.DB).Get(ctx, metadata.KeyLocalCursor)
	if err != nil || len(raw) == 0 {
		return changes.Cursor{}, err
	}
	c, err := changes.ParseCursor(string(raw))
	if err != nil {
		return changes.Cursor{}, fmt.Errorf("%w: local cursor: %v", common.ErrStorage, err)
	}
	return c, nil
}

func (e *Engine) setLocalCursor(ctx context.Context, c changes.Cursor) error {
	return e.Repos.Metadata(e.DB).Set(ctx, metadata.KeyLocalCursor, []byte(c.String()))
}

// push uploads one snapshot per changed item and batch, then advances the
// local cursor past the batch. Failed uploads go to the queue with their
// payload, so the cursor can move on.
func (e *Engine) push(ctx context.Context, device string, res *SyncResult) error {
	cursor, err := e.localCursor(ctx)
	if err != nil {
		return err
	}
	total, err := e.Tracker.Pending(ctx)
	if err != nil {
		return err
	}
	done := 0

	for {
		entries, err := e.Tracker.Since(ctx, cursor, e.opts.BatchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		for _, entry := range collapse(entries) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.pushEntry(ctx, device, entry, res); err != nil {
				return err
			}
		}

		cursor = changes.Of(entries[len(entries)-1])
		if err := e.setLocalCursor(ctx, cursor); err != nil {
			return err
		}
		done += len(entries)
		if total > 0 {
			e.progress(min(50, done*50/total), res)
		}
		if len(entries) < e.opts.BatchSize {
			return nil
		}
	}
}

// collapse keeps the last entry per item, in log order.
func collapse(entries []models.ChangeLogEntry) []models.ChangeLogEntry {
	last := make(map[string]int, len(entries))
	for i, en := range entries {
		last[en.ItemID] = i
	}
	out := make([]models.ChangeLogEntry, 0, len(last))
	for i, en := range entries {
		if last[en.ItemID] == i {
			out = append(out, en)
		}
	}
	return out
}

func (e *Engine) pushEntry(ctx context.Context, device string, entry models.ChangeLogEntry, res *SyncResult) error {
	rec, err := e.Repos.Records(e.DB).GetByID(ctx, entry.ItemID)
	if errors.Is(err, common.ErrNotFound) {
		e.Log.Warn(ctx, "change log entry without record", "item", entry.ItemID)
		return nil
	}
	if err != nil {
		return err
	}

	key, err := e.nextKey(ctx, device, entry.ID)
	if err != nil {
		return err
	}
	p := uploadPayload{
		Key: key,
		Object: ChangeObject{
			Format:    ObjectFormat,
			DeviceID:  device,
			ChangeID:  entry.ID,
			Operation: entry.Operation,
			Timestamp: entry.Timestamp,
			Record:    *rec,
		},
	}
	err = e.publish(ctx, p)
	if err == nil {
		res.Uploaded++
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, common.ErrStorage) {
		return err
	}
	if _, qerr := e.Queue.Enqueue(ctx, models.QueueUpload, p, err); qerr != nil {
		return qerr
	}
	res.Queued++
	return nil
}

// nextKey names a new change object of this device. Keys of one device only
// grow in the order they are published, so a peer that has applied a key has
// seen every earlier one that reached the remote.
func (e *Engine) nextKey(ctx context.Context, device, changeID string) (string, error) {
	repo := e.Repos.Metadata(e.DB)
	var last int64
	if _, err := metadata.GetJSON(ctx, repo, metadata.KeyPublishClock, &last); err != nil {
		return "", err
	}
	ts := max(e.Clock.Millis(), last+1)
	if err := metadata.SetJSON(ctx, repo, metadata.KeyPublishClock, ts); err != nil {
		return "", err
	}
	return ChangeKey(device, ts, changeID), nil
}

// publish uploads the attachment (if any) and the change object, then
// retires the previous object this device wrote for the same item.
func (e *Engine) publish(ctx context.Context, p uploadPayload) error {
	if hash := p.Object.Record.BlobKey; hash != "" {
		if err := e.pushBlob(ctx, hash); err != nil {
			return err
		}
	}

	data, err := encodeObject(p.Object)
	if err != nil {
		return err
	}
	if err := e.Remote.Upload(ctx, p.Key, data); err != nil {
		return err
	}

	return e.retireSuperseded(ctx, p.Object.Record.ID, p.Key)
}

func (e *Engine) pushBlob(ctx context.Context, hash string) error {
	repo := e.Repos.Blobs(e.DB)
	b, err := repo.GetByHash(ctx, hash)
	if err == nil && b.UploadStatus == models.BlobCompleted {
		return nil
	}
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	if e.Blobs == nil || !e.Blobs.Has(hash) {
		// the bytes live on another device; nothing to upload from here
		return nil
	}

	existing, err := e.Remote.List(ctx, BlobKey(hash))
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		data, err := e.Blobs.Get(hash)
		if err != nil {
			return err
		}
		if err := e.Remote.Upload(ctx, BlobKey(hash), data); err != nil {
			return err
		}
	}

	if b == nil {
		return repo.CreateOrUpdate(ctx, &models.Blob{Hash: hash, UploadStatus: models.BlobCompleted})
	}
	return repo.MarkUploaded(ctx, hash)
}

// retireSuperseded deletes the previous own change object of item. A failed
// delete is queued; it never fails the upload.
func (e *Engine) retireSuperseded(ctx context.Context, itemID, key string) error {
	repo := e.Repos.Metadata(e.DB)
	own := map[string]string{}
	if _, err := metadata.GetJSON(ctx, repo, metadata.KeyOwnKeys, &own); err != nil {
		return err
	}
	prev := own[itemID]
	// a late retry of an older snapshot never replaces a newer key
	if prev >= key {
		return nil
	}
	own[itemID] = key
	if err := metadata.SetJSON(ctx, repo, metadata.KeyOwnKeys, own); err != nil {
		return err
	}
	if prev == "" {
		return nil
	}
	if err := e.Remote.Delete(ctx, prev); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		if _, qerr := e.Queue.Enqueue(ctx, models.QueueDelete, deletePayload{Key: prev}, err); qerr != nil {
			return qerr
		}
	}
	return nil
}

// remoteCursors maps device id to the last applied change key.
func (e *Engine) remoteCursors(ctx context.Context) (map[string]string, error) {
	cursors := map[string]string{}
	if _, err := metadata.GetJSON(ctx, e.Repos.Metadata(e.DB), metadata.KeyRemoteCursors, &cursors); err != nil {
		return nil, err
	}
	return cursors, nil
}

type fetched struct {
	key  string
	info ChangeKeyInfo
	data []byte
	err  error
}

// pull applies change objects of other devices newer than their cursor.
// With enqueue set, a listing failure becomes a queued full pull;
// otherwise it is returned.
func (e *Engine) pull(ctx context.Context, device string, res *SyncResult, enqueue bool) error {
	keys, err := e.Remote.List(ctx, ChangesPrefix)
	if err != nil {
		if !enqueue || errors.Is(err, context.Canceled) {
			return err
		}
		queued, qerr := e.fullPullQueued(ctx)
		if qerr != nil {
			return qerr
		}
		if queued {
			e.Log.Debug(ctx, "full pull already queued", "err", err)
			return nil
		}
		if _, qerr := e.Queue.Enqueue(ctx, models.QueueDownload, downloadPayload{Full: true}, err); qerr != nil {
			return qerr
		}
		res.Queued++
		return nil
	}

	cursors, err := e.remoteCursors(ctx)
	if err != nil {
		return err
	}

	var todo []fetched
	for _, k := range keys {
		info, ok := ParseChangeKey(k)
		if !ok || info.DeviceID == device || k <= cursors[info.DeviceID] {
			continue
		}
		todo = append(todo, fetched{key: k, info: info})
	}
	sort.Slice(todo, func(i, j int) bool {
		if todo[i].info.Timestamp != todo[j].info.Timestamp {
			return todo[i].info.Timestamp < todo[j].info.Timestamp
		}
		return todo[i].key < todo[j].key
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.DownloadConcurrency)
	for i := range todo {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			todo[i].data, todo[i].err = e.Remote.Download(gctx, todo[i].key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	defer func() {
		if err := metadata.SetJSON(context.WithoutCancel(ctx), e.Repos.Metadata(e.DB), metadata.KeyRemoteCursors, cursors); err != nil {
			e.Log.Error(ctx, "failed to save remote cursors", "err", err)
		}
	}()

	for i, f := range todo {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := f.err
		if err == nil {
			err = e.applyObject(ctx, f.data, res)
		}
		switch {
		case err == nil, errors.Is(err, remote.ErrObjectNotFound):
			// a superseded object its owner already deleted
		case errors.Is(err, common.ErrStorage), errors.Is(err, context.Canceled):
			return err
		default:
			if _, qerr := e.Queue.Enqueue(ctx, models.QueueDownload, downloadPayload{Key: f.key}, err); qerr != nil {
				return qerr
			}
			res.Queued++
		}
		cursors[f.info.DeviceID] = f.key
		e.progress(50+(i+1)*50/len(todo), res)
	}
	return nil
}

// fullPullQueued reports whether a full pull is already waiting in the queue.
func (e *Engine) fullPullQueued(ctx context.Context) (bool, error) {
	pending, err := e.Queue.Pending(ctx)
	if err != nil {
		return false, err
	}
	for _, qe := range pending {
		if qe.Operation != models.QueueDownload {
			continue
		}
		var p downloadPayload
		if err := json.Unmarshal(qe.Payload, &p); err == nil && p.Full {
			return true, nil
		}
	}
	return false, nil
}

// applyObject decodes a change object, fetches its attachment if missing
// locally, and applies the record through the shared upsert path.
func (e *Engine) applyObject(ctx context.Context, data []byte, res *SyncResult) error {
	obj, err := decodeObject(data)
	if err != nil {
		return err
	}
	if err := e.pullBlob(ctx, obj.Record.BlobKey); err != nil {
		return err
	}
	outcome, err := e.Records.ApplyIncoming(ctx, obj.Record, models.OriginRemote)
	if err != nil {
		return err
	}
	switch outcome {
	case services.Created:
		res.Downloaded++
	case services.Replaced:
		res.Downloaded++
		res.Conflicts++
	case services.KeptLocal:
		res.Conflicts++
	}
	return nil
}

func (e *Engine) pullBlob(ctx context.Context, hash string) error {
	if hash == "" || e.Blobs == nil || e.Blobs.Has(hash) {
		return nil
	}
	data, err := e.Remote.Download(ctx, BlobKey(hash))
	if errors.Is(err, remote.ErrObjectNotFound) {
		// not uploaded yet by its owner; the record is still usable
		e.Log.Warn(ctx, "attachment missing on remote", "hash", hash)
		return nil
	}
	if err != nil {
		return err
	}
	b, err := e.Blobs.PutVerified(hash, data)
	if err != nil {
		return err
	}
	b.UploadStatus = models.BlobCompleted
	return e.Repos.Blobs(e.DB).CreateOrUpdate(ctx, &b)
}

func (e *Engine) handleUpload(ctx context.Context, qe models.SyncQueueEntry) error {
	var p uploadPayload
	if err := json.Unmarshal(qe.Payload, &p); err != nil {
		return fmt.Errorf("%w: upload payload: %v", common.ErrValidation, err)
	}
	if e.Remote == nil {
		return fmt.Errorf("%w: no remote configured", common.ErrNetwork)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	// the item may have changed since the attempt was queued
	rec, err := e.Repos.Records(e.DB).GetByID(ctx, p.Object.Record.ID)
	switch {
	case err == nil:
		p.Object.Record = *rec
	case !errors.Is(err, common.ErrNotFound):
		return err
	}

	device := p.Object.DeviceID
	if device == "" {
		if device, err = e.deviceID(ctx); err != nil {
			return err
		}
	}
	stale := p.Key
	if p.Key, err = e.nextKey(ctx, device, p.Object.ChangeID); err != nil {
		return err
	}
	if err := e.publish(ctx, p); err != nil {
		return err
	}

	// an attempt that timed out may still have written the old key
	if stale != "" && stale != p.Key {
		if err := e.Remote.Delete(ctx, stale); err != nil && !errors.Is(err, remote.ErrObjectNotFound) {
			e.Log.Warn(ctx, "failed to remove stale change object", "key", stale, "err", err)
		}
	}
	return nil
}

func (e *Engine) handleDownload(ctx context.Context, qe models.SyncQueueEntry) error {
	var p downloadPayload
	if err := json.Unmarshal(qe.Payload, &p); err != nil {
		return fmt.Errorf("%w: download payload: %v", common.ErrValidation, err)
	}
	if e.Remote == nil {
		return fmt.Errorf("%w: no remote configured", common.ErrNetwork)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var res SyncResult
	if p.Full {
		device, err := e.deviceID(ctx)
		if err != nil {
			return err
		}
		return e.pull(ctx, device, &res, false)
	}

	data, err := e.Remote.Download(ctx, p.Key)
	if errors.Is(err, remote.ErrObjectNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.applyObject(ctx, data, &res)
}

func (e *Engine) handleDelete(ctx context.Context, qe models.SyncQueueEntry) error {
	var p deletePayload
	if err := json.Unmarshal(qe.Payload, &p); err != nil {
		return fmt.Errorf("%w: delete payload: %v", common.ErrValidation, err)
	}
	if e.Remote == nil {
		return fmt.Errorf("%w: no remote configured", common.ErrNetwork)
	}
	return e.Remote.Delete(ctx, p.Key)
}
