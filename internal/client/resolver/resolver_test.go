package resolver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/memovault/internal/client/database"
	"github.com/dmitrijs2005/memovault/internal/client/metrics"
	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/memovault/internal/dbx"
	"github.com/dmitrijs2005/memovault/internal/logging"
	"github.com/dmitrijs2005/memovault/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_PersistsExactlyOneConflict(t *testing.T) {
	ctx := context.Background()
	db, err := database.InitDatabase(ctx, filepath.Join(t.TempDir(), "r.db"))
	require.NoError(t, err)
	defer db.Close()

	repos := repomanager.NewSQLiteRepositoryManager()
	clock := timex.NewManualClock(time.UnixMilli(5000))
	r := New(repos, clock.Now, metrics.New(), logging.NewNop())

	local := record(100, 1, "A")
	incoming := record(200, 1, "B")

	var res Resolution
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		res, err = r.Resolve(ctx, tx, local, incoming, models.OriginArchive)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, models.OriginArchive, res.WinnerOrigin)
	assert.Equal(t, "B", res.Winner.Title)
	assert.NotEmpty(t, res.Conflict.ID)

	list, err := repos.Conflicts(db).ListByItem(ctx, "item-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(100), list[0].LocalTimestamp)
	assert.Equal(t, int64(200), list[0].RemoteTimestamp)
	assert.Equal(t, "archive", list[0].Winner)
	assert.Equal(t, int64(5000), list[0].DetectedAt)
}

func TestResolver_LocalWinsKeepsLocal(t *testing.T) {
	ctx := context.Background()
	db, err := database.InitDatabase(ctx, filepath.Join(t.TempDir(), "r.db"))
	require.NoError(t, err)
	defer db.Close()

	r := New(repomanager.NewSQLiteRepositoryManager(), nil, nil, logging.NewNop())
	res, err := r.Resolve(ctx, db, record(300, 4, "L"), record(200, 9, "R"), models.OriginRemote)
	require.NoError(t, err)
	assert.True(t, res.LocalWon())
	assert.Equal(t, "local", res.Conflict.Winner)
}
