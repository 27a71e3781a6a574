// Package search maintains the full-text index and answers ranked queries.
//
// The index is updated inside the storage transaction through OnMutation,
// so a committed record is always searchable and a tombstone never is.
package search

import (
	"context"
	"sort"
	"time"

	"github.com/dmitrijs2005/memovault/internal/client/metrics"
	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/records"
	"github.com/dmitrijs2005/memovault/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/memovault/internal/dbx"
	"github.com/dmitrijs2005/memovault/internal/logging"
)

// Query is a ranked search request. Terms are tokenized; every resulting
// token must match.
type Query struct {
	Terms   []string
	Filters models.RecordFilter
	Limit   int
	Offset  int
}

// Result is one ranked hit.
type Result struct {
	Record       models.Record
	Score        float64
	MatchedTerms []string
}

type Index struct {
	db      dbx.DBTX
	repos   repomanager.RepositoryManager
	metrics *metrics.Metrics
	log     logging.Logger
}

func NewIndex(db dbx.DBTX, repos repomanager.RepositoryManager, m *metrics.Metrics, log logging.Logger) *Index {
	return &Index{db: db, repos: repos, metrics: m, log: log.With("component", "search")}
}

// OnMutation re-indexes the mutated record inside tx.
func (ix *Index) OnMutation(ctx context.Context, tx dbx.DBTX, m models.Mutation) error {
	repo := ix.repos.SearchIndex(tx)
	if err := repo.RemoveDoc(ctx, m.Record.ID); err != nil {
		return err
	}
	if m.Record.IsDeleted {
		return nil
	}
	tfs, length := termFrequencies(m.Record)
	return repo.AddDoc(ctx, m.Record.ID, length, tfs)
}

// Rebuild recomputes the whole index from live records in one transaction.
func (ix *Index) Rebuild(ctx context.Context, db dbx.DBTX) (int, error) {
	repo := ix.repos.SearchIndex(db)
	if err := repo.Clear(ctx); err != nil {
		return 0, err
	}
	recs := ix.repos.Records(db)
	var n int
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		page, err := recs.ScanLive(ctx, after, 200)
		if err != nil {
			return n, err
		}
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			tfs, length := termFrequencies(r)
			if err := repo.AddDoc(ctx, r.ID, length, tfs); err != nil {
				return n, err
			}
			n++
		}
		after = page[len(page)-1].ID
	}
	ix.log.Info(ctx, "search index rebuilt", "documents", n)
	return n, nil
}

type scored struct {
	id        string
	score     float64
	updatedAt int64
}

// Query returns live records containing every query term, ranked by BM25.
func (ix *Index) Query(ctx context.Context, q Query) ([]Result, error) {
	start := time.Now()
	defer func() { ix.metrics.SearchQuery(time.Since(start)) }()

	terms := UniqueTerms(q.Terms...)
	if len(terms) == 0 {
		return []Result{}, nil
	}
	page := models.Page{Limit: q.Limit, Offset: q.Offset}.Normalize()

	idxRepo := ix.repos.SearchIndex(ix.db)
	stats, err := idxRepo.Stats(ctx)
	if err != nil {
		return nil, err
	}
	dfs, err := idxRepo.DocFreq(ctx, terms)
	if err != nil {
		return nil, err
	}
	if len(dfs) < len(terms) {
		return []Result{}, nil
	}

	filter := q.Filters
	filter.IncludeDeleted = false
	where, args := records.FilterClause(filter)
	postings, err := idxRepo.Match(ctx, terms, where, args)
	if err != nil {
		return nil, err
	}

	avgLen := 0.0
	if stats.DocCount > 0 {
		avgLen = stats.TotalLength / float64(stats.DocCount)
	}

	byID := map[string]*scored{}
	for _, p := range postings {
		s, ok := byID[p.RecordID]
		if !ok {
			s = &scored{id: p.RecordID, updatedAt: p.UpdatedAt}
			byID[p.RecordID] = s
		}
		s.score += termScore(p.TF, p.DocLength, avgLen, idf(stats.DocCount, dfs[p.Term]))
	}

	ranked := make([]*scored, 0, len(byID))
	for _, s := range byID {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.updatedAt != b.updatedAt {
			return a.updatedAt > b.updatedAt
		}
		return a.id < b.id
	})

	if page.Offset >= len(ranked) {
		return []Result{}, nil
	}
	end := page.Offset + page.Limit
	if end > len(ranked) {
		end = len(ranked)
	}

	matched := append([]string(nil), terms...)
	sort.Strings(matched)

	recRepo := ix.repos.Records(ix.db)
	results := make([]Result, 0, end-page.Offset)
	for _, s := range ranked[page.Offset:end] {
		rec, err := recRepo.GetByID(ctx, s.id)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{
			Record:       *rec,
			Score:        s.score,
			MatchedTerms: append([]string(nil), matched...),
		})
	}
	return results, nil
}
