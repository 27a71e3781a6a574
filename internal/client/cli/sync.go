package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/memovault/internal/client/models"
)

func (a *App) Sync(ctx context.Context, args []string) error {
	res, err := a.engine.TriggerSync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "uploaded %d, downloaded %d, conflicts %d, queued %d, retried %d in %s\n",
		res.Uploaded, res.Downloaded, res.Conflicts, res.Queued, res.Retried, res.Duration.Round(time.Millisecond))
	for _, e := range res.Failed {
		fmt.Fprintf(a.out, "  failed %s %s after %d attempts: %s\n", e.Operation, e.ID, e.RetryCount, e.LastError)
	}
	return nil
}

// Queue prints queue counts and failed entries. "queue retry <id>" moves a
// failed entry back to pending; "queue purge" drops completed entries.
func (a *App) Queue(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch {
		case args[0] == "retry" && len(args) == 2:
			if err := a.queue.Requeue(ctx, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "requeued %s\n", args[1])
			return nil
		case args[0] == "purge" && len(args) == 1:
			n, err := a.queue.Purge(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "purged %d completed entries\n", n)
			return nil
		default:
			return usage("queue [retry <id>|purge]")
		}
	}

	counts, err := a.queue.Counts(ctx)
	if err != nil {
		return err
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	if len(statuses) == 0 {
		fmt.Fprintln(a.out, "queue is empty")
	}
	for _, s := range statuses {
		fmt.Fprintf(a.out, "%-12s %d\n", s, counts[models.QueueStatus(s)])
	}

	failed, err := a.queue.Failed(ctx)
	if err != nil {
		return err
	}
	for _, e := range failed {
		fmt.Fprintf(a.out, "failed %s %s (%d attempts): %s\n", e.ID, e.Operation, e.RetryCount, e.LastError)
	}
	return nil
}

func (a *App) Conflicts(ctx context.Context, args []string) error {
	list, err := a.repos.Conflicts(a.db).List(ctx, 20)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "no conflicts")
		return nil
	}
	for _, c := range list {
		fmt.Fprintf(a.out, "%s  item %s  local %s  remote %s  winner %s\n",
			formatMillis(c.DetectedAt), c.ItemID, formatMillis(c.LocalTimestamp), formatMillis(c.RemoteTimestamp), c.Winner)
	}
	return nil
}
