// Package store implements the tiered memory store: hot/warm tiers in
// memory, a cold tier in an embedded SQLite backing, secondary indexes,
// a deduplication gate on ingest, relevance-ranked retrieval, and a
// background maintenance scheduler.
package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kyratales/charmem/internal/dedup"
	"github.com/kyratales/charmem/internal/index"
	"github.com/kyratales/charmem/internal/model"
)

const stripeCount = 64

// Store owns the authoritative entry set and its tier placement. All
// methods are safe for concurrent use: tier membership is guarded by one
// RWMutex, per-entry access stats by striped locks keyed on the id, and
// each secondary index by its own lock.
type Store struct {
	cfg  Config
	log  *zap.Logger
	idx  *index.Index
	gate dedup.Gate

	backing Backing

	mu   sync.RWMutex
	hot  map[string]*model.Entry
	warm map[string]*model.Entry
	cold map[string]struct{}

	stripes [stripeCount]sync.Mutex
	flight  singleflight.Group

	metrics *metrics

	pendingMu sync.Mutex
	pending   map[string]*model.Entry

	dirtyIndex atomic.Bool

	migrationMu    sync.Mutex
	migrationState string

	closed      atomic.Bool
	cancelMaint context.CancelFunc
	wg          sync.WaitGroup
}

// Open opens a store backed by SQLite at cfg.DBPath, loading persisted
// entries and rebuilding the in-memory indexes.
func Open(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	backing, err := NewSQLiteBacking(cfg.DBPath, cfg.CompressionMin)
	if err != nil {
		return nil, fmt.Errorf("open backing store: %w", err)
	}
	s, err := NewWithBacking(cfg, backing)
	if err != nil {
		backing.Close()
		return nil, err
	}
	return s, nil
}

// NewWithBacking opens a store on an injected backing, used for tests
// and alternative durable stores.
func NewWithBacking(cfg Config, backing Backing) (*Store, error) {
	cfg = cfg.withDefaults()
	s := &Store{
		cfg:            cfg,
		log:            cfg.Logger,
		idx:            index.New(),
		gate:           dedup.NewGate(cfg.DedupThreshold, cfg.Scorer),
		backing:        backing,
		hot:            make(map[string]*model.Entry),
		warm:           make(map[string]*model.Entry),
		cold:           make(map[string]struct{}),
		metrics:        newMetrics(cfg.MetricHistory),
		pending:        make(map[string]*model.Entry),
		migrationState: "none",
	}

	entries, err := backing.LoadAll(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	for _, e := range entries {
		switch e.Tier {
		case model.TierHot:
			if len(s.hot) < cfg.MaxHot {
				s.hot[e.ID] = e
			} else {
				e.Tier = model.TierWarm
				s.warm[e.ID] = e
			}
		case model.TierWarm:
			if len(s.warm) < cfg.MaxWarm {
				s.warm[e.ID] = e
			} else {
				s.cold[e.ID] = struct{}{}
			}
		default:
			s.cold[e.ID] = struct{}{}
		}
		s.idx.Add(e)
	}

	s.log.Info("memory store opened",
		zap.Int("hot", len(s.hot)),
		zap.Int("warm", len(s.warm)),
		zap.Int("cold", len(s.cold)))
	return s, nil
}

// Close stops maintenance, flushes the in-memory tiers to the backing
// store for crash recovery, and closes the backing.
func (s *Store) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.cancelMaint != nil {
		s.cancelMaint()
	}
	s.wg.Wait()

	if _, err := s.flushTiers(ctx); err != nil {
		s.log.Error("flush on close failed", zap.Error(err))
	}
	return s.backing.Close()
}

// IngestParams are the caller-supplied fields for a new memory.
type IngestParams struct {
	Content               model.Content
	Type                  model.MemoryType
	Category              string
	Importance            float64
	Context               string
	Tags                  []string
	Metadata              map[string]any
	EmotionalWeight       float64
	PlotRelevance         float64
	RelationshipRelevance float64
}

// Ingest stores a new memory entry and returns its id. Near-identical
// content of the same memory type is not stored again: the existing
// entry is reinforced (access count bumped, importance raised to the
// higher of the two) and a *DuplicateError naming it is returned.
func (s *Store) Ingest(ctx context.Context, p IngestParams) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	start := time.Now()

	e, err := model.New(model.NewParams{
		Content:               p.Content,
		Type:                  p.Type,
		Category:              p.Category,
		Importance:            p.Importance,
		Context:               p.Context,
		Tags:                  p.Tags,
		Metadata:              p.Metadata,
		EmotionalWeight:       p.EmotionalWeight,
		PlotRelevance:         p.PlotRelevance,
		RelationshipRelevance: p.RelationshipRelevance,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	if match, dup := s.checkDuplicate(ctx, e); dup {
		s.reinforce(ctx, match.ID, e.Importance)
		s.log.Debug("duplicate ingest reinforced existing entry",
			zap.String("existing", match.ID),
			zap.Float64("similarity", match.Similarity))
		return "", &DuplicateError{ExistingID: match.ID, Similarity: match.Similarity}
	}

	// Publish atomically: tier map first, indexes second, so an id is
	// never reachable from an index without a resolvable entry.
	s.mu.Lock()
	s.hot[e.ID] = e
	s.mu.Unlock()
	s.idx.Add(e)

	s.demoteOverflow(ctx)

	s.metrics.recordStorage(time.Since(start))
	s.log.Debug("ingested entry",
		zap.String("id", e.ID),
		zap.String("type", string(e.Type)),
		zap.String("category", e.Category),
		zap.Duration("took", time.Since(start)))
	return e.ID, nil
}

// checkDuplicate shortlists same-type entries sharing content tokens and
// runs the similarity gate against them.
func (s *Store) checkDuplicate(ctx context.Context, e *model.Entry) (dedup.Match, bool) {
	ids := s.idx.Search(index.Query{
		Text:  e.Content.Projection(),
		Types: []model.MemoryType{e.Type},
		Limit: s.cfg.DedupShortlist,
	})
	shortlist := make([]*model.Entry, 0, len(ids))
	for _, id := range ids {
		if existing, err := s.getEntry(ctx, id); err == nil {
			shortlist = append(shortlist, existing)
		}
	}
	return s.gate.Check(e.Content, shortlist)
}

// reinforce bumps access stats on a duplicate's canonical entry and
// raises its importance when the rejected candidate carried more.
func (s *Store) reinforce(ctx context.Context, id string, importance float64) {
	e, err := s.getEntry(ctx, id)
	if err != nil {
		return
	}
	s.touch(e)

	stripe := s.stripeFor(id)
	stripe.Lock()
	raised := importance > e.Importance
	if raised {
		e.Importance = importance
	}
	tier := e.Tier
	stripe.Unlock()

	if raised {
		s.idx.UpdateImportance(id, importance)
	}
	if tier == model.TierCold {
		snap := s.cloneEntry(e)
		if err := s.backing.Persist(ctx, &snap); err != nil {
			s.log.Warn("persist reinforced cold entry failed", zap.String("id", id), zap.Error(err))
		}
	}
}

// getEntry resolves an id across tiers. Cold reads hit the backing store
// through a singleflight group so concurrent loads of one id collapse
// into a single query.
func (s *Store) getEntry(ctx context.Context, id string) (*model.Entry, error) {
	s.mu.RLock()
	if e, ok := s.hot[id]; ok {
		s.mu.RUnlock()
		s.metrics.hit()
		return e, nil
	}
	if e, ok := s.warm[id]; ok {
		s.mu.RUnlock()
		s.metrics.hit()
		return e, nil
	}
	_, isCold := s.cold[id]
	s.mu.RUnlock()

	if !isCold {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.metrics.miss()
	v, err, _ := s.flight.Do(id, func() (any, error) {
		return s.backing.LoadByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Entry), nil
}

// touch records a retrieval hit on the entry's access stats.
func (s *Store) touch(e *model.Entry) {
	stripe := s.stripeFor(e.ID)
	stripe.Lock()
	e.FrequencyAccessed++
	e.LastAccessed = time.Now().UTC()
	stripe.Unlock()
}

// statsOf reads the mutable per-entry fields under the entry's stripe
// lock: access stats plus importance, which reinforcement revises.
func (s *Store) statsOf(e *model.Entry) (int, time.Time, float64) {
	stripe := s.stripeFor(e.ID)
	stripe.Lock()
	freq, last, importance := e.FrequencyAccessed, e.LastAccessed, e.Importance
	stripe.Unlock()
	return freq, last, importance
}

// setTier writes the tier field under the entry's stripe lock. Callers
// hold s.mu so the field stays in step with tier-map membership; taking
// the stripe as well lets stripe-only readers (cloneEntry, reinforce)
// see a consistent value.
func (s *Store) setTier(e *model.Entry, tier model.StorageTier) {
	stripe := s.stripeFor(e.ID)
	stripe.Lock()
	e.Tier = tier
	stripe.Unlock()
}

// cloneEntry snapshots an entry under its stripe lock.
func (s *Store) cloneEntry(e *model.Entry) model.Entry {
	stripe := s.stripeFor(e.ID)
	stripe.Lock()
	c := e.Clone()
	stripe.Unlock()
	return c
}

func (s *Store) stripeFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.stripes[h.Sum32()%stripeCount]
}

// exists reports id membership across all tiers.
func (s *Store) exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.hot[id]; ok {
		return true
	}
	if _, ok := s.warm[id]; ok {
		return true
	}
	_, ok := s.cold[id]
	return ok
}

// flagInconsistency records an index/entry mismatch and schedules a
// targeted rebuild on the next maintenance cycle.
func (s *Store) flagInconsistency(indexName, id string) {
	s.dirtyIndex.Store(true)
	s.log.Error("index inconsistency detected",
		zap.Error(&ConsistencyError{Index: indexName, ID: id}))
}

// allEntries merges the in-memory tiers with the backing store's rows,
// preferring the live in-memory object for an id.
func (s *Store) allEntries(ctx context.Context) ([]*model.Entry, error) {
	persisted, err := s.backing.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	merged := make(map[string]*model.Entry, len(persisted)+len(s.hot)+len(s.warm))
	for _, e := range persisted {
		merged[e.ID] = e
	}
	for id, e := range s.warm {
		merged[id] = e
	}
	for id, e := range s.hot {
		merged[id] = e
	}
	s.mu.RUnlock()

	out := make([]*model.Entry, 0, len(merged))
	for _, e := range merged {
		out = append(out, e)
	}
	return out, nil
}

// MarkMigrated records a legacy record as migrated.
func (s *Store) MarkMigrated(ctx context.Context, legacyID, unifiedID string) error {
	return s.backing.MarkMigrated(ctx, legacyID, unifiedID)
}

// MigratedLegacyIDs returns the legacy→unified migration markers.
func (s *Store) MigratedLegacyIDs(ctx context.Context) (map[string]string, error) {
	return s.backing.MigratedLegacyIDs(ctx)
}
