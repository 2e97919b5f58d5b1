package store

import (
	"time"

	"go.uber.org/zap"

	"github.com/kyratales/charmem/internal/dedup"
)

// Weights are the relevance-score coefficients. The defaults sum to 1.0
// so a score stays comparable across configurations; they are tunable,
// not contractual.
type Weights struct {
	Importance   float64
	Recency      float64
	Frequency    float64
	Context      float64
	Emotional    float64
	Plot         float64
	Relationship float64
}

// DefaultWeights returns the default scoring coefficients.
func DefaultWeights() Weights {
	return Weights{
		Importance:   0.30,
		Recency:      0.20,
		Frequency:    0.10,
		Context:      0.20,
		Emotional:    0.10,
		Plot:         0.05,
		Relationship: 0.05,
	}
}

// Config controls store capacities, ranking, and maintenance behavior.
type Config struct {
	// DBPath is the SQLite file backing the cold tier.
	DBPath string

	// MaxHot and MaxWarm cap the in-memory tiers.
	MaxHot  int
	MaxWarm int

	// DedupThreshold is the similarity at which ingest reports a
	// duplicate; DedupShortlist bounds the comparison set per ingest.
	DedupThreshold float64
	DedupShortlist int

	// Scorer overrides the similarity measure used by the dedup gate
	// and, when set, is injected rather than reimplemented here.
	Scorer dedup.Scorer

	// RecencyHalfLife is the elapsed time at which the recency term of
	// the relevance score halves.
	RecencyHalfLife time.Duration

	Weights Weights

	// MaintenanceInterval is the background cycle period.
	MaintenanceInterval time.Duration

	// MaxAge, EvictionImportance, and EvictionMinAccess select entries
	// for permanent eviction: older than MaxAge, less important than
	// EvictionImportance, and accessed fewer than EvictionMinAccess
	// times.
	MaxAge             time.Duration
	EvictionImportance float64
	EvictionMinAccess  int

	// MetricHistory bounds the latency sample history.
	MetricHistory int

	// CompactionThreshold is the ordered-index fragmentation ratio that
	// triggers a compaction pass.
	CompactionThreshold float64

	// CompressionMin is the content size in bytes at which cold-tier
	// rows are compressed before persisting.
	CompressionMin int

	// EvictionBatch bounds how many cold rows one maintenance cycle
	// examines, keeping cycles incremental.
	EvictionBatch int

	Logger *zap.Logger
}

// DefaultConfig returns the standard configuration for a store backed by
// the given SQLite path.
func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:              dbPath,
		MaxHot:              1000,
		MaxWarm:             5000,
		DedupThreshold:      dedup.DefaultThreshold,
		DedupShortlist:      dedup.DefaultShortlistLimit,
		RecencyHalfLife:     72 * time.Hour,
		Weights:             DefaultWeights(),
		MaintenanceInterval: 5 * time.Minute,
		MaxAge:              30 * 24 * time.Hour,
		EvictionImportance:  0.3,
		EvictionMinAccess:   2,
		MetricHistory:       500,
		CompactionThreshold: 0.25,
		CompressionMin:      512,
		EvictionBatch:       256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.DBPath)
	if c.MaxHot <= 0 {
		c.MaxHot = d.MaxHot
	}
	if c.MaxWarm <= 0 {
		c.MaxWarm = d.MaxWarm
	}
	if c.DedupThreshold <= 0 {
		c.DedupThreshold = d.DedupThreshold
	}
	if c.DedupShortlist <= 0 {
		c.DedupShortlist = d.DedupShortlist
	}
	if c.RecencyHalfLife <= 0 {
		c.RecencyHalfLife = d.RecencyHalfLife
	}
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = d.MaintenanceInterval
	}
	if c.MaxAge <= 0 {
		c.MaxAge = d.MaxAge
	}
	if c.EvictionImportance <= 0 {
		c.EvictionImportance = d.EvictionImportance
	}
	if c.EvictionMinAccess <= 0 {
		c.EvictionMinAccess = d.EvictionMinAccess
	}
	if c.MetricHistory <= 0 {
		c.MetricHistory = d.MetricHistory
	}
	if c.CompactionThreshold <= 0 {
		c.CompactionThreshold = d.CompactionThreshold
	}
	if c.CompressionMin <= 0 {
		c.CompressionMin = d.CompressionMin
	}
	if c.EvictionBatch <= 0 {
		c.EvictionBatch = d.EvictionBatch
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
