package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kyratales/charmem/internal/index"
	"github.com/kyratales/charmem/internal/model"
)

// RetrieveParams select and bound a retrieval.
type RetrieveParams struct {
	Query         string
	Types         []model.MemoryType
	Categories    []string
	Tags          []string
	MinImportance float64
	MaxResults    int
}

// Retrieve returns up to MaxResults entries ranked by relevance score,
// ties broken by most recent creation. Matching entries get their access
// stats updated and a tier promotion check; nothing else is mutated.
// Filters that exclude everything yield an empty result, not an error.
func (s *Store) Retrieve(ctx context.Context, p RetrieveParams) ([]model.Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if p.MaxResults <= 0 {
		return nil, fmt.Errorf("%w: max results must be positive, got %d", ErrInvalidArgument, p.MaxResults)
	}
	start := time.Now()

	// Over-fetch candidates so ranking has room to reorder beyond the
	// final cut.
	ids := s.idx.Search(index.Query{
		Text:          p.Query,
		Types:         p.Types,
		Categories:    p.Categories,
		Tags:          p.Tags,
		MinImportance: p.MinImportance,
		Limit:         p.MaxResults * 3,
	})

	queryTokens := index.TokenSet(p.Query)
	now := time.Now().UTC()

	type scored struct {
		e     *model.Entry
		score float64
	}
	ranked := make([]scored, 0, len(ids))
	for _, id := range ids {
		e, err := s.getEntry(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.flagInconsistency("candidates", id)
			} else {
				s.log.Warn("cold read failed during retrieval",
					zap.String("id", id), zap.Error(err))
			}
			continue
		}
		if _, _, importance := s.statsOf(e); importance < p.MinImportance {
			continue
		}
		ranked = append(ranked, scored{e, s.relevanceScore(e, queryTokens, now)})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].e.Timestamp.After(ranked[j].e.Timestamp)
	})
	if len(ranked) > p.MaxResults {
		ranked = ranked[:p.MaxResults]
	}

	results := make([]model.Entry, 0, len(ranked))
	for _, r := range ranked {
		s.touch(r.e)
		s.maybePromote(ctx, r.e)
		snap := s.cloneEntry(r.e)
		if snap.Tier == model.TierCold {
			// Cold hits are not resident; their bumped access stats
			// survive only through the durable row.
			if err := s.backing.Persist(ctx, &snap); err != nil {
				s.log.Warn("persist cold hit stats failed",
					zap.String("id", snap.ID), zap.Error(err))
			}
		}
		results = append(results, snap)
	}

	s.metrics.recordRetrieval(time.Since(start))
	s.log.Debug("retrieved entries",
		zap.String("query", p.Query),
		zap.Int("candidates", len(ids)),
		zap.Int("results", len(results)),
		zap.Duration("took", time.Since(start)))
	return results, nil
}

// Get returns a snapshot of one entry by id without touching access
// stats.
func (s *Store) Get(ctx context.Context, id string) (model.Entry, error) {
	if s.closed.Load() {
		return model.Entry{}, ErrClosed
	}
	e, err := s.getEntry(ctx, id)
	if err != nil {
		return model.Entry{}, err
	}
	return s.cloneEntry(e), nil
}
