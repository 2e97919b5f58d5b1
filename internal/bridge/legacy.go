// Package bridge adapts the pre-unification memory call shapes onto the
// tiered store and migrates legacy-format records into it.
package bridge

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kyratales/charmem/internal/index"
)

// LegacyRecord is one entry of the legacy conversation-memory format: a
// flat JSON file keyed by record id, with unix-seconds timestamps.
type LegacyRecord struct {
	Content    string   `json:"content"`
	Category   string   `json:"category"`
	Importance float64  `json:"importance"`
	Timestamp  float64  `json:"timestamp"`
	Context    string   `json:"context,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

type legacyFile struct {
	Memories        map[string]LegacyRecord `json:"memories"`
	ExportTimestamp float64                 `json:"export_timestamp"`
}

// LegacyStore reads and writes the legacy JSON memory file. It keeps the
// old system operational during dual-write mode and is the source for
// one-time migration.
type LegacyStore struct {
	path string

	mu      sync.Mutex
	records map[string]LegacyRecord
}

// OpenLegacy loads the legacy file at path, or starts empty when the
// file does not exist yet.
func OpenLegacy(path string) (*LegacyStore, error) {
	s := &LegacyStore{path: path, records: make(map[string]LegacyRecord)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read legacy file: %w", err)
	}
	var f legacyFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse legacy file: %w", err)
	}
	if f.Memories != nil {
		s.records = f.Memories
	}
	return s, nil
}

// AddTurn appends a conversation turn in the legacy shape and saves.
func (s *LegacyStore) AddTurn(userInput, characterReply, emotionalTone string) (string, error) {
	rec := LegacyRecord{
		Content:    fmt.Sprintf("User: %s | Character: %s", userInput, characterReply),
		Category:   "dialogue",
		Importance: 0.6,
		Timestamp:  float64(time.Now().UnixNano()) / float64(time.Second),
		Context:    "User: " + userInput,
		Tags:       []string{"conversation", emotionalTone},
	}
	return s.Add(rec)
}

// Add stores a record under a fresh id and saves the file.
func (s *LegacyStore) Add(rec LegacyRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ulid.Make().String()
	if rec.Timestamp == 0 {
		rec.Timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	s.records[id] = rec
	if err := s.saveLocked(); err != nil {
		delete(s.records, id)
		return "", err
	}
	return id, nil
}

// RelevantMemories returns up to max records matching the query by token
// overlap, most recent first among equal matches.
func (s *LegacyStore) RelevantMemories(query string, max int) []LegacyRecord {
	queryTokens := index.TokenSet(query)

	s.mu.Lock()
	type scored struct {
		rec     LegacyRecord
		matches int
	}
	var ranked []scored
	for _, rec := range s.records {
		matches := 0
		target := index.TokenSet(rec.Content + " " + rec.Context)
		for t := range queryTokens {
			if _, ok := target[t]; ok {
				matches++
			}
		}
		if matches > 0 || len(queryTokens) == 0 {
			ranked = append(ranked, scored{rec, matches})
		}
	}
	s.mu.Unlock()

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].matches != ranked[j].matches {
			return ranked[i].matches > ranked[j].matches
		}
		return ranked[i].rec.Timestamp > ranked[j].rec.Timestamp
	})
	if max > 0 && len(ranked) > max {
		ranked = ranked[:max]
	}
	out := make([]LegacyRecord, len(ranked))
	for i, r := range ranked {
		out[i] = r.rec
	}
	return out
}

// Records returns a copy of all records keyed by legacy id.
func (s *LegacyStore) Records() map[string]LegacyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]LegacyRecord, len(s.records))
	for id, rec := range s.records {
		out[id] = rec
	}
	return out
}

// Len returns the record count.
func (s *LegacyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// BackupTo writes the current records to a separate file. Migration
// takes a backup before mutating anything.
func (s *LegacyStore) BackupTo(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeLegacyFile(path, s.records)
}

func (s *LegacyStore) saveLocked() error {
	return writeLegacyFile(s.path, s.records)
}

func writeLegacyFile(path string, records map[string]LegacyRecord) error {
	f := legacyFile{
		Memories:        records,
		ExportTimestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
