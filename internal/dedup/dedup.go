// Package dedup implements the ingest-time deduplication gate: a
// similarity check of candidate content against a shortlist of existing
// entries of the same memory type.
package dedup

import (
	"github.com/kyratales/charmem/internal/index"
	"github.com/kyratales/charmem/internal/model"
)

// DefaultThreshold is the similarity at or above which content counts as
// a duplicate.
const DefaultThreshold = 0.80

// DefaultShortlistLimit bounds how many existing entries are compared per
// ingest, keeping the gate sublinear in store size.
const DefaultShortlistLimit = 20

// Scorer computes a symmetric similarity in [0, 1] between two textual
// projections. The store injects a scorer at construction; TokenOverlap
// is the default.
type Scorer interface {
	Similarity(a, b string) float64
}

// TokenOverlap scores by Jaccard overlap of normalized token sets.
type TokenOverlap struct{}

// Similarity implements Scorer.
func (TokenOverlap) Similarity(a, b string) float64 {
	sa := index.TokenSet(a)
	sb := index.TokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	var overlap int
	for t := range sa {
		if _, ok := sb[t]; ok {
			overlap++
		}
	}
	union := len(sa) + len(sb) - overlap
	if union == 0 {
		return 0
	}
	return float64(overlap) / float64(union)
}

// Match identifies the most similar existing entry.
type Match struct {
	ID         string
	Similarity float64
}

// Gate checks candidate content against existing entries.
type Gate struct {
	Threshold float64
	Scorer    Scorer
}

// NewGate returns a gate with the given threshold, or defaults when
// threshold is zero or scorer is nil.
func NewGate(threshold float64, scorer Scorer) Gate {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if scorer == nil {
		scorer = TokenOverlap{}
	}
	return Gate{Threshold: threshold, Scorer: scorer}
}

// Check compares the candidate against the shortlist and reports the
// most similar entry whose similarity reaches the threshold. The caller
// supplies a shortlist restricted to the candidate's memory type.
func (g Gate) Check(candidate model.Content, shortlist []*model.Entry) (Match, bool) {
	projection := candidate.Projection()
	best := Match{}
	for _, e := range shortlist {
		sim := g.Scorer.Similarity(projection, e.Content.Projection())
		if sim > best.Similarity {
			best = Match{ID: e.ID, Similarity: sim}
		}
	}
	return best, best.Similarity >= g.Threshold
}
