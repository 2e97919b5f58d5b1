package store

import (
	"math"
	"time"

	"github.com/kyratales/charmem/internal/index"
	"github.com/kyratales/charmem/internal/model"
)

// recencyDecay maps elapsed time since last access to (0, 1], halving
// every halfLife. Strictly monotonically decreasing in elapsed time.
func recencyDecay(elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	return math.Pow(0.5, elapsed.Hours()/halfLife.Hours())
}

// normalizeFrequency saturates the access counter into [0, 1).
func normalizeFrequency(n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) / float64(n+5)
}

// contextMatch is the fraction of query tokens found in the entry's
// context or content projection.
func contextMatch(queryTokens map[string]struct{}, e *model.Entry) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	target := index.TokenSet(e.Context + " " + e.Content.Projection())
	matched := 0
	for t := range queryTokens {
		if _, ok := target[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

// relevanceScore is the full ranking score used by retrieval.
func (s *Store) relevanceScore(e *model.Entry, queryTokens map[string]struct{}, now time.Time) float64 {
	freq, last, importance := s.statsOf(e)
	w := s.cfg.Weights
	return w.Importance*importance +
		w.Recency*recencyDecay(now.Sub(last), s.cfg.RecencyHalfLife) +
		w.Frequency*normalizeFrequency(freq) +
		w.Context*contextMatch(queryTokens, e) +
		w.Emotional*e.EmotionalWeight +
		w.Plot*e.PlotRelevance +
		w.Relationship*e.RelationshipRelevance
}

// compositeScore ranks entries for tier placement: the relevance score
// without its context term, since placement is query-independent.
func (s *Store) compositeScore(e *model.Entry, now time.Time) float64 {
	freq, last, importance := s.statsOf(e)
	w := s.cfg.Weights
	return w.Importance*importance +
		w.Recency*recencyDecay(now.Sub(last), s.cfg.RecencyHalfLife) +
		w.Frequency*normalizeFrequency(freq) +
		w.Emotional*e.EmotionalWeight +
		w.Plot*e.PlotRelevance +
		w.Relationship*e.RelationshipRelevance
}
