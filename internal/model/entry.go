// Package model defines the core memory data types.
package model

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryType classifies what a memory entry records.
type MemoryType string

const (
	TypeConversation MemoryType = "conversation"
	TypeEvent        MemoryType = "event"
	TypeLearning     MemoryType = "learning"
	TypeKnowledge    MemoryType = "knowledge"
	TypePersonality  MemoryType = "personality"
	TypeRelationship MemoryType = "relationship"
	TypePreference   MemoryType = "preference"
	TypePhysical     MemoryType = "physical"
	TypeEmotional    MemoryType = "emotional"
	TypeGoal         MemoryType = "goal"
	TypePlot         MemoryType = "plot"
	TypeSystemState  MemoryType = "system_state"
)

// ValidMemoryTypes is the closed set of allowed memory types.
var ValidMemoryTypes = map[MemoryType]bool{
	TypeConversation: true,
	TypeEvent:        true,
	TypeLearning:     true,
	TypeKnowledge:    true,
	TypePersonality:  true,
	TypeRelationship: true,
	TypePreference:   true,
	TypePhysical:     true,
	TypeEmotional:    true,
	TypeGoal:         true,
	TypePlot:         true,
	TypeSystemState:  true,
}

// defaultImportance holds the per-type importance used when the caller
// leaves importance unset (zero).
var defaultImportance = map[MemoryType]float64{
	TypeConversation: 0.6,
	TypeEvent:        0.5,
	TypeLearning:     0.6,
	TypeKnowledge:    0.7,
	TypePersonality:  0.8,
	TypeRelationship: 0.8,
	TypePreference:   0.7,
	TypePhysical:     0.4,
	TypeEmotional:    0.6,
	TypeGoal:         0.7,
	TypePlot:         0.7,
	TypeSystemState:  0.3,
}

// DefaultImportance returns the default importance weighting for a type.
func DefaultImportance(t MemoryType) float64 {
	if v, ok := defaultImportance[t]; ok {
		return v
	}
	return 0.5
}

// retainedTypes are exempt from age-based cleanup.
var retainedTypes = map[MemoryType]bool{
	TypeKnowledge:    true,
	TypePersonality:  true,
	TypeRelationship: true,
	TypeGoal:         true,
}

// CleanupEligible reports whether entries of this type may be evicted by
// age-based maintenance. Durable character facts are retained regardless
// of age.
func CleanupEligible(t MemoryType) bool {
	return !retainedTypes[t]
}

// StorageTier is the storage class of an entry.
type StorageTier string

const (
	TierHot  StorageTier = "hot"
	TierWarm StorageTier = "warm"
	TierCold StorageTier = "cold"
)

// Entry is the atomic unit of the memory store.
//
// ID, Content, Type, and Timestamp are write-once. FrequencyAccessed and
// LastAccessed are owned by retrieval access tracking; Tier and
// CompressionLevel are owned by the tiered store and durable backing.
type Entry struct {
	ID                    string         `json:"id"`
	Content               Content        `json:"content"`
	Type                  MemoryType     `json:"memory_type"`
	Category              string         `json:"category"`
	Importance            float64        `json:"importance"`
	Timestamp             time.Time      `json:"timestamp"`
	Context               string         `json:"context,omitempty"`
	Tags                  []string       `json:"tags,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	FrequencyAccessed     int            `json:"frequency_accessed"`
	LastAccessed          time.Time      `json:"last_accessed"`
	EmotionalWeight       float64        `json:"emotional_weight,omitempty"`
	PlotRelevance         float64        `json:"plot_relevance,omitempty"`
	RelationshipRelevance float64        `json:"relationship_relevance,omitempty"`
	Tier                  StorageTier    `json:"storage_tier"`
	CompressionLevel      int            `json:"compression_level,omitempty"`
}

// NewParams holds the caller-supplied fields for a new entry.
type NewParams struct {
	Content               Content
	Type                  MemoryType
	Category              string
	Importance            float64
	Context               string
	Tags                  []string
	Metadata              map[string]any
	EmotionalWeight       float64
	PlotRelevance         float64
	RelationshipRelevance float64
}

// New constructs a validated entry. It is the only constructor: it
// assigns the id and creation timestamp, starts the entry in the hot
// tier, and zeroes access tracking. An unset (zero) importance falls
// back to the type's default weighting.
func New(p NewParams) (*Entry, error) {
	if p.Content.IsEmpty() {
		return nil, ErrEmptyContent
	}
	if !ValidMemoryTypes[p.Type] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMemoryType, p.Type)
	}
	if p.Importance < 0 || p.Importance > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImportance, p.Importance)
	}
	for _, w := range []float64{p.EmotionalWeight, p.PlotRelevance, p.RelationshipRelevance} {
		if w < 0 || w > 1 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWeight, w)
		}
	}

	importance := p.Importance
	if importance == 0 {
		importance = DefaultImportance(p.Type)
	}

	now := time.Now().UTC()
	return &Entry{
		ID:                    ulid.Make().String(),
		Content:               p.Content,
		Type:                  p.Type,
		Category:              p.Category,
		Importance:            importance,
		Timestamp:             now,
		Context:               p.Context,
		Tags:                  p.Tags,
		Metadata:              p.Metadata,
		LastAccessed:          now,
		EmotionalWeight:       p.EmotionalWeight,
		PlotRelevance:         p.PlotRelevance,
		RelationshipRelevance: p.RelationshipRelevance,
		Tier:                  TierHot,
	}, nil
}

// Clone returns a copy of the entry with its own tag slice and metadata
// map, safe to hand to callers while the original keeps mutating.
func (e *Entry) Clone() Entry {
	c := *e
	if e.Tags != nil {
		c.Tags = append([]string(nil), e.Tags...)
	}
	if e.Metadata != nil {
		c.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}
