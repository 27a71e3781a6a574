package syncer

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/robfig/cron/v3"
)

// Scheduler triggers syncs on a cron schedule. Standard five-field
// expressions and descriptors such as "@every 5m" are accepted.
type Scheduler struct {
	engine *Engine
	spec   string
	cron   *cron.Cron
}

func NewScheduler(e *Engine, spec string) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("%w: auto sync schedule %q: %v", common.ErrValidation, spec, err)
	}
	return &Scheduler{engine: e, spec: spec, cron: cron.New(cron.WithParser(parser))}, nil
}

// Run fires syncs until ctx is done, then waits for a running sync to end.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("%w: auto sync schedule %q: %v", common.ErrValidation, s.spec, err)
	}
	s.engine.Log.Info(ctx, "auto sync scheduled", "schedule", s.spec)
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return ctx.Err()
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.engine.State() == Syncing {
		s.engine.Log.Info(ctx, "auto sync skipped", "reason", common.ErrSyncInProgress)
		return
	}
	if _, err := s.engine.TriggerSync(ctx); err != nil {
		s.engine.Log.Warn(ctx, "auto sync failed", "err", err)
	}
}
