package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kyratales/charmem/internal/model"
)

// MaintenanceReport summarizes one maintenance cycle. Actions are
// individually error-isolated: a failed action is recorded and the cycle
// continues.
type MaintenanceReport struct {
	Evicted        int      `json:"evicted"`
	Rebalanced     int      `json:"rebalanced"`
	MetricsTrimmed int      `json:"metrics_trimmed"`
	IndexCompacted bool     `json:"index_compacted"`
	IndexRebuilt   bool     `json:"index_rebuilt"`
	RetriedWrites  int      `json:"retried_writes"`
	Flushed        int      `json:"flushed"`
	Errors         []string `json:"errors,omitempty"`
}

// StartMaintenance launches the background maintenance loop. It stops
// when ctx is cancelled or the store is closed.
func (s *Store) StartMaintenance(ctx context.Context) {
	mctx, cancel := context.WithCancel(ctx)
	s.cancelMaint = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.MaintenanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-mctx.Done():
				return
			case <-ticker.C:
				s.RunMaintenance(mctx)
			}
		}
	}()
}

// RunMaintenance executes one maintenance cycle: eviction, defensive
// tier rebalancing, metric trimming, index compaction or rebuild,
// retries of deferred cold writes, and a crash-recovery flush of the
// in-memory tiers. Every action is idempotent; a crash mid-cycle leaves
// the store valid.
func (s *Store) RunMaintenance(ctx context.Context) *MaintenanceReport {
	rep := &MaintenanceReport{}
	fail := func(action string, err error) {
		s.log.Error("maintenance action failed", zap.String("action", action), zap.Error(err))
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", action, err))
	}

	if n, err := s.evictExpired(ctx); err != nil {
		fail("evict", err)
	} else {
		rep.Evicted = n
	}

	rep.Rebalanced = s.demoteOverflow(ctx)

	rep.MetricsTrimmed = s.metrics.trim()

	if s.dirtyIndex.CompareAndSwap(true, false) {
		if err := s.rebuildIndexes(ctx); err != nil {
			s.dirtyIndex.Store(true)
			fail("rebuild-index", err)
		} else {
			rep.IndexRebuilt = true
		}
	} else if s.idx.Fragmentation() > s.cfg.CompactionThreshold {
		s.idx.Compact()
		rep.IndexCompacted = true
	}

	if n, err := s.retryPending(ctx); err != nil {
		fail("retry-writes", err)
	} else {
		rep.RetriedWrites = n
	}

	if n, err := s.flushTiers(ctx); err != nil {
		fail("flush", err)
	} else {
		rep.Flushed = n
	}

	s.log.Info("maintenance cycle complete",
		zap.Int("evicted", rep.Evicted),
		zap.Int("rebalanced", rep.Rebalanced),
		zap.Int("retried_writes", rep.RetriedWrites),
		zap.Int("errors", len(rep.Errors)))
	return rep
}

// evictExpired permanently deletes entries that are old, unimportant,
// and rarely accessed. Retained memory types (durable character facts)
// are never age-evicted. Cold rows are examined in bounded batches so a
// cycle stays incremental.
func (s *Store) evictExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.MaxAge)
	evicted := 0

	s.mu.Lock()
	var victims []*model.Entry
	for _, tier := range []map[string]*model.Entry{s.hot, s.warm} {
		for _, e := range tier {
			if s.evictable(e, cutoff) {
				victims = append(victims, e)
				delete(tier, e.ID)
			}
		}
	}
	s.mu.Unlock()

	var firstErr error
	for _, e := range victims {
		s.idx.Remove(e)
		if err := s.backing.Delete(ctx, e.ID); err != nil && firstErr == nil {
			firstErr = err
		}
		evicted++
	}

	coldRows, err := s.backing.LoadCold(ctx, ColdFilter{
		Before:        cutoff,
		MaxImportance: s.cfg.EvictionImportance,
		Limit:         s.cfg.EvictionBatch,
	})
	if err != nil {
		return evicted, err
	}
	for _, e := range coldRows {
		if !s.evictable(e, cutoff) {
			continue
		}
		if err := s.backing.Delete(ctx, e.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.idx.Remove(e)
		s.mu.Lock()
		delete(s.cold, e.ID)
		s.mu.Unlock()
		evicted++
	}
	return evicted, firstErr
}

func (s *Store) evictable(e *model.Entry, cutoff time.Time) bool {
	if !model.CleanupEligible(e.Type) {
		return false
	}
	freq, _, importance := s.statsOf(e)
	return e.Timestamp.Before(cutoff) &&
		importance < s.cfg.EvictionImportance &&
		freq < s.cfg.EvictionMinAccess
}

// rebuildIndexes reconstructs all secondary indexes from the entry set.
// Triggered by a detected consistency violation.
func (s *Store) rebuildIndexes(ctx context.Context) error {
	entries, err := s.allEntries(ctx)
	if err != nil {
		return err
	}
	// Index snapshots, not the live objects: Rebuild reads importance
	// without the stripe locks.
	snaps := make([]*model.Entry, len(entries))
	for i, e := range entries {
		snap := s.cloneEntry(e)
		snaps[i] = &snap
	}
	s.idx.Rebuild(snaps)

	// Refresh cold membership from the authoritative rows.
	s.mu.Lock()
	s.cold = make(map[string]struct{})
	for _, e := range entries {
		if _, hot := s.hot[e.ID]; hot {
			continue
		}
		if _, warm := s.warm[e.ID]; warm {
			continue
		}
		s.cold[e.ID] = struct{}{}
	}
	s.mu.Unlock()

	s.log.Info("indexes rebuilt", zap.Int("entries", len(entries)))
	return nil
}

// retryPending finishes cold demotions whose persist previously failed.
// Entries promoted back to hot in the meantime are simply dropped from
// the queue.
func (s *Store) retryPending(ctx context.Context) (int, error) {
	s.pendingMu.Lock()
	queued := make([]*model.Entry, 0, len(s.pending))
	for _, e := range s.pending {
		queued = append(queued, e)
	}
	s.pending = make(map[string]*model.Entry)
	s.pendingMu.Unlock()

	retried := 0
	var firstErr error
	for _, e := range queued {
		s.mu.RLock()
		_, stillWarm := s.warm[e.ID]
		s.mu.RUnlock()
		if !stillWarm {
			continue
		}
		if err := s.demoteToCold(ctx, e); err != nil {
			// demoteToCold re-queues on failure.
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		retried++
	}
	return retried, firstErr
}

// flushTiers writes a crash-recovery snapshot of the hot and warm tiers.
func (s *Store) flushTiers(ctx context.Context) (int, error) {
	s.mu.RLock()
	live := make([]*model.Entry, 0, len(s.hot)+len(s.warm))
	for _, e := range s.hot {
		live = append(live, e)
	}
	for _, e := range s.warm {
		live = append(live, e)
	}
	s.mu.RUnlock()

	if len(live) == 0 {
		return 0, nil
	}
	// Persist snapshots so the batch write never reads a shared entry
	// while a stripe holder mutates it.
	entries := make([]*model.Entry, len(live))
	for i, e := range live {
		snap := s.cloneEntry(e)
		entries[i] = &snap
	}
	if err := s.backing.PersistBatch(ctx, entries); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}
	return len(entries), nil
}
