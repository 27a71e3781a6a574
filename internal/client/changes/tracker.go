// Package changes is the change tracker: it appends one log entry per local
// mutation and serves the log to the sync engine by cursor.
package changes

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/memovault/internal/dbx"
	"github.com/google/uuid"
)

// Cursor is a position in the change log. The zero Cursor precedes every entry.
type Cursor struct {
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"id"`
}

// After reports whether e lies strictly after c.
func (c Cursor) After(e models.ChangeLogEntry) bool {
	return e.Timestamp > c.Timestamp || (e.Timestamp == c.Timestamp && e.ID > c.ID)
}

// Of returns the cursor pointing at e.
func Of(e models.ChangeLogEntry) Cursor {
	return Cursor{Timestamp: e.Timestamp, ID: e.ID}
}

func (c Cursor) IsZero() bool { return c.Timestamp == 0 && c.ID == "" }

func (c Cursor) String() string {
	return fmt.Sprintf("%d:%s", c.Timestamp, c.ID)
}

// ParseCursor reverses Cursor.String.
func ParseCursor(s string) (Cursor, error) {
	ts, id, ok := strings.Cut(s, ":")
	if !ok {
		return Cursor{}, fmt.Errorf("malformed cursor %q", s)
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor %q: %w", s, err)
	}
	return Cursor{Timestamp: n, ID: id}, nil
}

type Tracker struct {
	db    dbx.DBTX
	repos repomanager.RepositoryManager
	newID func() string
}

func NewTracker(db dbx.DBTX, repos repomanager.RepositoryManager) *Tracker {
	return &Tracker{db: db, repos: repos, newID: newChangeID}
}

// newChangeID returns a time-ordered UUIDv7 so ids sort with their timestamps.
func newChangeID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// OnMutation appends the change entry inside tx. Remote-origin writes are not
// local work and are skipped.
func (t *Tracker) OnMutation(ctx context.Context, tx dbx.DBTX, m models.Mutation) error {
	if m.Origin == models.OriginRemote {
		return nil
	}
	ts, err := t.stamp(ctx, tx, m.Record.UpdatedAt)
	if err != nil {
		return err
	}
	e := &models.ChangeLogEntry{
		ID:        t.newID(),
		ItemID:    m.Record.ID,
		Operation: m.Op,
		Version:   m.Record.Version,
		Timestamp: ts,
	}
	if err := t.repos.ChangeLog(tx).Append(ctx, e); err != nil {
		return fmt.Errorf("failed to record change: %w", err)
	}
	return nil
}

// stamp returns the log position of a new entry: the record time, but always
// after every entry ever appended. Imported records keep old update times and
// wall clocks can step back; neither may land behind the sync cursor.
func (t *Tracker) stamp(ctx context.Context, tx dbx.DBTX, floor int64) (int64, error) {
	repo := t.repos.Metadata(tx)
	var last int64
	if _, err := metadata.GetJSON(ctx, repo, metadata.KeyLogClock, &last); err != nil {
		return 0, fmt.Errorf("failed to read log clock: %w", err)
	}
	ts := max(floor, last+1)
	if err := metadata.SetJSON(ctx, repo, metadata.KeyLogClock, ts); err != nil {
		return 0, fmt.Errorf("failed to advance log clock: %w", err)
	}
	return ts, nil
}

// Since returns up to limit entries after cursor ordered by (timestamp, id).
func (t *Tracker) Since(ctx context.Context, cursor Cursor, limit int) ([]models.ChangeLogEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	return t.repos.ChangeLog(t.db).Since(ctx, cursor.Timestamp, cursor.ID, limit)
}

// Prune removes entries at or before upTo. Callers pass the synced
// high-water mark so unsynced entries are never removed.
func (t *Tracker) Prune(ctx context.Context, upTo Cursor) (int64, error) {
	if upTo.IsZero() {
		return 0, nil
	}
	return t.repos.ChangeLog(t.db).DeleteUpTo(ctx, upTo.Timestamp, upTo.ID)
}

// Pending returns the number of entries still in the log.
func (t *Tracker) Pending(ctx context.Context) (int, error) {
	return t.repos.ChangeLog(t.db).Count(ctx)
}
