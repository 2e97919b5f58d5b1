package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kyratales/charmem/internal/model"
)

// demoteOverflow restores the tier capacity invariants: hot overflow
// moves to warm, warm overflow to cold. Cold demotion persists the entry
// before it leaves memory; a failed persist keeps the entry warm and
// queues it for the next maintenance cycle. Returns how many entries
// changed tier.
func (s *Store) demoteOverflow(ctx context.Context) int {
	now := time.Now().UTC()
	moved := 0

	s.mu.Lock()
	if over := len(s.hot) - s.cfg.MaxHot; over > 0 {
		for _, e := range s.lowestComposite(s.hot, over, now) {
			s.setTier(e, model.TierWarm)
			delete(s.hot, e.ID)
			s.warm[e.ID] = e
			moved++
		}
	}
	var coldCandidates []*model.Entry
	if over := len(s.warm) - s.cfg.MaxWarm; over > 0 {
		coldCandidates = s.lowestComposite(s.warm, over, now)
	}
	s.mu.Unlock()

	for _, e := range coldCandidates {
		if err := s.demoteToCold(ctx, e); err != nil {
			s.log.Warn("cold demotion deferred",
				zap.String("id", e.ID), zap.Error(err))
			continue
		}
		moved++
	}
	return moved
}

// demoteToCold persists the entry as cold and evicts it from fast
// memory. On persistence failure the entry stays warm and is queued for
// a maintenance retry.
func (s *Store) demoteToCold(ctx context.Context, e *model.Entry) error {
	s.mu.Lock()
	s.setTier(e, model.TierCold)
	s.mu.Unlock()

	snap := s.cloneEntry(e)
	if err := s.backing.Persist(ctx, &snap); err != nil {
		s.mu.Lock()
		s.setTier(e, model.TierWarm)
		s.mu.Unlock()

		s.pendingMu.Lock()
		s.pending[e.ID] = e
		s.pendingMu.Unlock()
		return fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}

	s.mu.Lock()
	delete(s.warm, e.ID)
	s.cold[e.ID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// lowestComposite returns the n entries with the lowest composite score.
// Caller holds s.mu.
func (s *Store) lowestComposite(tier map[string]*model.Entry, n int, now time.Time) []*model.Entry {
	type scored struct {
		e     *model.Entry
		score float64
	}
	ranked := make([]scored, 0, len(tier))
	for _, e := range tier {
		ranked = append(ranked, scored{e, s.compositeScore(e, now)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score < ranked[j].score })
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]*model.Entry, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].e
	}
	return out
}

// maybePromote moves a just-retrieved entry one tier up when its
// post-hit composite score beats the target tier's weakest incumbent
// (or the tier has room). Hot entries stay put.
func (s *Store) maybePromote(ctx context.Context, e *model.Entry) {
	now := time.Now().UTC()

	s.mu.Lock()
	var promoted model.StorageTier
	switch e.Tier {
	case model.TierCold:
		if s.beatsWeakest(s.warm, s.cfg.MaxWarm, e, now) {
			s.setTier(e, model.TierWarm)
			s.warm[e.ID] = e
			delete(s.cold, e.ID)
			promoted = model.TierWarm
		}
	case model.TierWarm:
		if s.beatsWeakest(s.hot, s.cfg.MaxHot, e, now) {
			s.setTier(e, model.TierHot)
			s.hot[e.ID] = e
			delete(s.warm, e.ID)
			promoted = model.TierHot
		}
	}
	s.mu.Unlock()

	if promoted == "" {
		return
	}
	s.log.Debug("promoted entry",
		zap.String("id", e.ID), zap.String("tier", string(promoted)))
	if promoted == model.TierWarm {
		// Keep the durable row's tier current so a restart does not
		// resurrect it as cold-only.
		snap := s.cloneEntry(e)
		if err := s.backing.Persist(ctx, &snap); err != nil {
			s.log.Warn("persist promoted entry failed", zap.String("id", e.ID), zap.Error(err))
		}
	}
	s.demoteOverflow(ctx)
}

// beatsWeakest reports whether e outranks the lowest-scoring incumbent
// of the target tier, or the tier has free capacity. Caller holds s.mu.
func (s *Store) beatsWeakest(tier map[string]*model.Entry, limit int, e *model.Entry, now time.Time) bool {
	if len(tier) < limit {
		return true
	}
	weakest := s.lowestComposite(tier, 1, now)
	if len(weakest) == 0 {
		return true
	}
	return s.compositeScore(e, now) > s.compositeScore(weakest[0], now)
}
