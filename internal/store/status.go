package store

import "github.com/kyratales/charmem/internal/model"

// Status is a point-in-time operational summary of the store.
type Status struct {
	TierCounts          map[model.StorageTier]int `json:"tier_counts"`
	CacheHitRate        float64                   `json:"cache_hit_rate"`
	AvgRetrievalLatency float64                   `json:"avg_retrieval_latency_ms"`
	PendingColdWrites   int                       `json:"pending_cold_writes"`
	MigrationState      string                    `json:"migration_state"`
}

// Status reports tier occupancy, cache behavior, retrieval latency, and
// migration state.
func (s *Store) Status() Status {
	s.mu.RLock()
	counts := map[model.StorageTier]int{
		model.TierHot:  len(s.hot),
		model.TierWarm: len(s.warm),
		model.TierCold: len(s.cold),
	}
	s.mu.RUnlock()

	s.pendingMu.Lock()
	pending := len(s.pending)
	s.pendingMu.Unlock()

	s.migrationMu.Lock()
	migration := s.migrationState
	s.migrationMu.Unlock()

	return Status{
		TierCounts:          counts,
		CacheHitRate:        s.metrics.hitRate(),
		AvgRetrievalLatency: float64(s.metrics.avgRetrieval().Microseconds()) / 1000.0,
		PendingColdWrites:   pending,
		MigrationState:      migration,
	}
}

// SetMigrationState records the compatibility bridge's migration phase
// for Status reporting.
func (s *Store) SetMigrationState(state string) {
	s.migrationMu.Lock()
	s.migrationState = state
	s.migrationMu.Unlock()
}
