package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/memovault/internal/client/metrics"
	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/dmitrijs2005/memovault/internal/logging"
	"github.com/dmitrijs2005/memovault/internal/timex"
	"github.com/google/uuid"
)

// Handler performs one queued operation. A nil error completes the entry.
type Handler func(ctx context.Context, e models.SyncQueueEntry) error

type QueueConfig struct {
	BaseBackoff  time.Duration
	MaxRetries   int
	PollInterval time.Duration
	// BatchSize bounds the entries taken per pass.
	BatchSize int
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	return c
}

// Queue persists remote operations that could not complete inline and
// retries them with exponential backoff until they succeed or exhaust
// MaxRetries attempts.
type Queue struct {
	db      *sql.DB
	repos   repomanager.RepositoryManager
	cfg     QueueConfig
	clock   timex.Clock
	metrics *metrics.Metrics
	log     logging.Logger

	mu       sync.RWMutex
	handlers map[models.QueueOp]Handler
	wake     chan struct{}
}

func NewQueue(db *sql.DB, repos repomanager.RepositoryManager, cfg QueueConfig, clock timex.Clock, m *metrics.Metrics, log logging.Logger) *Queue {
	return &Queue{
		db:       db,
		repos:    repos,
		cfg:      cfg.withDefaults(),
		clock:    clock,
		metrics:  m,
		log:      log.With("component", "queue"),
		handlers: make(map[models.QueueOp]Handler),
		wake:     make(chan struct{}, 1),
	}
}

// Handle registers the handler for op.
func (q *Queue) Handle(op models.QueueOp, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[op] = h
}

func (q *Queue) handler(op models.QueueOp) Handler {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.handlers[op]
}

// Backoff returns the delay before the next attempt after retryCount
// failed attempts: base * 2^retryCount.
func (q *Queue) Backoff(retryCount int) time.Duration {
	if retryCount > 30 {
		retryCount = 30
	}
	return q.cfg.BaseBackoff * time.Duration(int64(1)<<retryCount)
}

// Enqueue records an operation that failed inline with cause. Retryable
// causes produce a pending entry due after the base backoff; anything else
// produces a failed entry so the caller sees it in Failed.
func (q *Queue) Enqueue(ctx context.Context, op models.QueueOp, payload any, cause error) (models.SyncQueueEntry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.SyncQueueEntry{}, fmt.Errorf("encode queue payload: %w", err)
	}
	now := q.clock.Millis()
	e := models.SyncQueueEntry{
		ID:          uuid.NewString(),
		Operation:   op,
		Payload:     raw,
		MaxRetries:  q.cfg.MaxRetries,
		NextRetryAt: now + q.Backoff(0).Milliseconds(),
		Status:      models.QueuePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cause != nil {
		e.LastError = cause.Error()
		if !common.IsRetryable(cause) {
			e.Status = models.QueueFailed
		}
	}
	if err := q.repos.SyncQueue(q.db).Enqueue(ctx, &e); err != nil {
		return models.SyncQueueEntry{}, err
	}
	q.log.Info(ctx, "operation queued", "id", e.ID, "op", op, "status", e.Status, "cause", e.LastError)
	q.Wake()
	return e, nil
}

// Wake makes a running worker check for due entries now.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// PassStats counts what one RunDue pass did.
type PassStats struct {
	Attempted int
	Completed int
	Retrying  int
	Failed    int
}

// RunDue attempts every entry that is due now, once.
func (q *Queue) RunDue(ctx context.Context) (PassStats, error) {
	var stats PassStats
	due, err := q.repos.SyncQueue(q.db).Due(ctx, q.clock.Millis(), q.cfg.BatchSize)
	if err != nil {
		return stats, err
	}
	for _, e := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		status, err := q.attempt(ctx, e)
		if err != nil {
			return stats, err
		}
		switch status {
		case "":
			continue
		case models.QueueCompleted:
			stats.Completed++
		case models.QueuePending:
			stats.Retrying++
		case models.QueueFailed:
			stats.Failed++
		}
		stats.Attempted++
	}
	return stats, nil
}

// attempt claims and runs one entry. It returns the entry's new status, or
// "" when another worker owns it.
func (q *Queue) attempt(ctx context.Context, e models.SyncQueueEntry) (models.QueueStatus, error) {
	repo := q.repos.SyncQueue(q.db)
	ok, err := repo.Claim(ctx, e.ID, q.clock.Millis())
	if err != nil || !ok {
		return "", err
	}

	var runErr error
	if h := q.handler(e.Operation); h == nil {
		runErr = fmt.Errorf("%w: no handler for %s", common.ErrValidation, e.Operation)
	} else {
		runErr = h(ctx, e)
	}

	// cancelled mid-attempt: hand the entry back untouched
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		e.Status = models.QueuePending
		e.UpdatedAt = q.clock.Millis()
		if err := repo.Save(context.WithoutCancel(ctx), &e); err != nil {
			return "", err
		}
		return "", runErr
	}

	now := q.clock.Millis()
	e.UpdatedAt = now
	switch {
	case runErr == nil:
		e.Status = models.QueueCompleted
		e.LastError = ""
	default:
		e.RetryCount++
		e.LastError = runErr.Error()
		if e.RetryCount >= e.MaxRetries || !common.IsRetryable(runErr) {
			e.Status = models.QueueFailed
		} else {
			e.Status = models.QueuePending
			e.NextRetryAt = now + q.Backoff(e.RetryCount).Milliseconds()
		}
	}
	if err := repo.Save(ctx, &e); err != nil {
		return "", err
	}

	outcome := map[models.QueueStatus]string{
		models.QueueCompleted: "completed",
		models.QueuePending:   "retry",
		models.QueueFailed:    "failed",
	}[e.Status]
	q.metrics.QueueAttempt(string(e.Operation), outcome)
	if runErr != nil {
		q.log.Warn(ctx, "queued operation failed",
			"id", e.ID, "op", e.Operation, "attempt", e.RetryCount, "max", e.MaxRetries,
			"status", e.Status, "err", runErr)
	}
	return e.Status, nil
}

// Run processes due entries until ctx is done. Entries left in_progress by
// a previous process are released first.
func (q *Queue) Run(ctx context.Context) error {
	if _, err := q.repos.SyncQueue(q.db).ReleaseInProgress(ctx, q.clock.Millis()); err != nil {
		return err
	}

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := q.RunDue(ctx); err != nil && ctx.Err() == nil {
			q.log.Error(ctx, "queue pass failed", "err", err)
		}
		q.reportDepth(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-q.wake:
		}
	}
}

func (q *Queue) reportDepth(ctx context.Context) {
	counts, err := q.Counts(ctx)
	if err != nil {
		return
	}
	depth := make(map[string]int, len(counts))
	for s, n := range counts {
		depth[string(s)] = n
	}
	q.metrics.QueueDepth(depth)
}

// Requeue moves a failed entry back to pending with a fresh attempt budget.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	repo := q.repos.SyncQueue(q.db)
	e, err := repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if e.Status != models.QueueFailed {
		return fmt.Errorf("%w: queue entry %s is %s", common.ErrValidation, id, e.Status)
	}
	now := q.clock.Millis()
	e.Status = models.QueuePending
	e.RetryCount = 0
	e.NextRetryAt = now
	e.UpdatedAt = now
	if err := repo.Save(ctx, e); err != nil {
		return err
	}
	q.Wake()
	return nil
}

// Failed lists terminally failed entries.
func (q *Queue) Failed(ctx context.Context) ([]models.SyncQueueEntry, error) {
	return q.repos.SyncQueue(q.db).ListByStatus(ctx, models.QueueFailed)
}

// Pending lists entries waiting for their next attempt.
func (q *Queue) Pending(ctx context.Context) ([]models.SyncQueueEntry, error) {
	return q.repos.SyncQueue(q.db).ListByStatus(ctx, models.QueuePending)
}

func (q *Queue) Counts(ctx context.Context) (map[models.QueueStatus]int, error) {
	return q.repos.SyncQueue(q.db).CountByStatus(ctx)
}

// Purge removes completed entries.
func (q *Queue) Purge(ctx context.Context) (int64, error) {
	return q.repos.SyncQueue(q.db).DeleteCompleted(ctx)
}
