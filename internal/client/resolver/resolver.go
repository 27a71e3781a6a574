package resolver

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/memovault/internal/client/metrics"
	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/memovault/internal/dbx"
	"github.com/dmitrijs2005/memovault/internal/logging"
	"github.com/dmitrijs2005/memovault/internal/timex"
	"github.com/google/uuid"
)

// Resolver runs Resolve and persists the conflict record in the caller's
// transaction.
type Resolver struct {
	repos   repomanager.RepositoryManager
	clock   timex.Clock
	metrics *metrics.Metrics
	log     logging.Logger
}

func New(repos repomanager.RepositoryManager, clock timex.Clock, m *metrics.Metrics, log logging.Logger) *Resolver {
	return &Resolver{repos: repos, clock: clock, metrics: m, log: log.With("component", "resolver")}
}

// Resolve decides local against incoming (from origin) and writes exactly one
// conflict record through tx.
func (r *Resolver) Resolve(ctx context.Context, tx dbx.DBTX, local, incoming models.Record, origin models.Origin) (Resolution, error) {
	res := Resolve(local, incoming, r.clock.Millis())
	if !res.LocalWon() {
		res.WinnerOrigin = origin
		res.Conflict.Winner = origin.String()
	}
	res.Conflict.ID = uuid.NewString()

	if err := r.repos.Conflicts(tx).Insert(ctx, &res.Conflict); err != nil {
		return Resolution{}, fmt.Errorf("failed to record conflict: %w", err)
	}
	r.metrics.Conflict(res.Conflict.Winner)
	r.log.Info(ctx, "conflict resolved",
		"item", local.ID,
		"local_ts", local.UpdatedAt,
		"incoming_ts", incoming.UpdatedAt,
		"winner", res.Conflict.Winner,
	)
	return res, nil
}
