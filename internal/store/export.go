package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/kyratales/charmem/internal/model"
)

const (
	snapshotFormat  = "charmem.snapshot"
	snapshotVersion = 1
)

// snapshot is the self-describing export envelope. The format and
// version fields let a newer reader accept older snapshots.
type snapshot struct {
	Format     string        `json:"format"`
	Version    int           `json:"version"`
	ExportedAt time.Time     `json:"exported_at"`
	Entries    []model.Entry `json:"entries"`
}

// MigrationReport summarizes an import or legacy migration.
type MigrationReport struct {
	Migrated int      `json:"migrated_count"`
	Skipped  int      `json:"skipped_count"`
	Errors   []string `json:"errors,omitempty"`
}

// Export writes every entry across all tiers to path as a versioned,
// zstd-compressed JSON snapshot. The write goes through a temp file and
// rename so a crash never leaves a truncated snapshot at path.
func (s *Store) Export(ctx context.Context, path string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	entries, err := s.allEntries(ctx)
	if err != nil {
		return fmt.Errorf("collect entries: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	snap := snapshot{
		Format:     snapshotFormat,
		Version:    snapshotVersion,
		ExportedAt: time.Now().UTC(),
		Entries:    make([]model.Entry, 0, len(entries)),
	}
	for _, e := range entries {
		snap.Entries = append(snap.Entries, s.cloneEntry(e))
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp)

	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return err
	}
	if err := json.NewEncoder(zw).Encode(snap); err != nil {
		zw.Close()
		f.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	s.log.Info("exported snapshot", zap.String("path", path), zap.Int("entries", len(snap.Entries)))
	return nil
}

// Import loads a snapshot written by Export. Entries keep their original
// ids, timestamps, and access stats; entries whose id already exists or
// whose content the dedup gate rejects are skipped and counted. Import
// is re-runnable: importing the same snapshot twice changes nothing.
func (s *Store) Import(ctx context.Context, path string) (*MigrationReport, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var snap snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Format != snapshotFormat {
		return nil, fmt.Errorf("%w: not a memory snapshot (format %q)", ErrInvalidArgument, snap.Format)
	}
	if snap.Version > snapshotVersion {
		return nil, fmt.Errorf("%w: snapshot version %d is newer than supported %d",
			ErrInvalidArgument, snap.Version, snapshotVersion)
	}

	rep := &MigrationReport{}
	for i := range snap.Entries {
		e := snap.Entries[i]
		if err := s.adopt(ctx, &e); err != nil {
			if IsDuplicate(err) {
				rep.Skipped++
				continue
			}
			rep.Errors = append(rep.Errors, fmt.Sprintf("entry %s: %v", e.ID, err))
			continue
		}
		rep.Migrated++
	}

	s.log.Info("imported snapshot",
		zap.String("path", path),
		zap.Int("migrated", rep.Migrated),
		zap.Int("skipped", rep.Skipped),
		zap.Int("errors", len(rep.Errors)))
	return rep, nil
}

// adopt inserts an already-constructed entry, preserving its identity
// and history. Used by Import; regular ingest goes through model.New.
func (s *Store) adopt(ctx context.Context, e *model.Entry) error {
	if e.ID == "" {
		return fmt.Errorf("%w: entry without id", ErrInvalidArgument)
	}
	if e.Content.IsEmpty() {
		return fmt.Errorf("%w: entry %s has no content", ErrInvalidArgument, e.ID)
	}
	if !model.ValidMemoryTypes[e.Type] {
		return fmt.Errorf("%w: entry %s has unknown type %q", ErrInvalidArgument, e.ID, e.Type)
	}
	if s.exists(e.ID) {
		return &DuplicateError{ExistingID: e.ID, Similarity: 1}
	}
	if match, dup := s.checkDuplicate(ctx, e); dup {
		return &DuplicateError{ExistingID: match.ID, Similarity: match.Similarity}
	}

	e.Tier = model.TierHot
	s.mu.Lock()
	s.hot[e.ID] = e
	s.mu.Unlock()
	s.idx.Add(e)
	s.demoteOverflow(ctx)
	return nil
}
