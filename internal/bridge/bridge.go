package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kyratales/charmem/internal/model"
	"github.com/kyratales/charmem/internal/store"
)

// Mode selects which backend(s) the bridge writes to. The variant is
// chosen at construction.
type Mode string

const (
	// ModeUnified writes only to the tiered store.
	ModeUnified Mode = "unified"
	// ModeLegacy writes only to the legacy store.
	ModeLegacy Mode = "legacy"
	// ModeDualWrite writes to both; reads prefer the unified store.
	ModeDualWrite Mode = "dual"
)

// Event is a discrete occurrence produced by the event collaborator.
type Event struct {
	Type               string  `json:"event_type"`
	Description        string  `json:"description"`
	TriggerProbability float64 `json:"trigger_probability"`
}

// Bridge presents the pre-unification call contract on top of the
// tiered store. Read paths never propagate unified-store errors past the
// bridge: they log and fall back to the legacy store.
type Bridge struct {
	mode    Mode
	unified *store.Store
	legacy  *LegacyStore
	log     *zap.Logger
}

// New builds a bridge. legacy may be nil when mode is ModeUnified.
func New(unified *store.Store, legacy *LegacyStore, mode Mode, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mode == "" {
		mode = ModeUnified
	}
	return &Bridge{mode: mode, unified: unified, legacy: legacy, log: logger}
}

// AddConversationTurn stores a conversation turn. A duplicate turn is
// treated as success and redirected to the canonical entry id. Write
// errors are surfaced so the caller can retry.
func (b *Bridge) AddConversationTurn(ctx context.Context, userInput, characterReply, emotionalTone string) (string, error) {
	if emotionalTone == "" {
		emotionalTone = "neutral"
	}

	var id string
	if b.mode != ModeLegacy {
		var err error
		id, err = b.unified.Ingest(ctx, store.IngestParams{
			Content: model.StructuredContent(map[string]any{
				"user_input":         userInput,
				"character_response": characterReply,
				"emotional_tone":     emotionalTone,
			}),
			Type:       model.TypeConversation,
			Category:   "dialogue",
			Importance: 0.6,
			Context:    "User: " + userInput,
			Tags:       []string{"conversation", emotionalTone},
		})
		if err != nil {
			if dup, ok := store.AsDuplicate(err); ok {
				id = dup.ExistingID
			} else {
				return "", fmt.Errorf("add conversation turn: %w", err)
			}
		}
	}

	if b.mode == ModeLegacy || b.mode == ModeDualWrite {
		legacyID, err := b.legacy.AddTurn(userInput, characterReply, emotionalTone)
		if err != nil {
			if b.mode == ModeLegacy {
				return "", fmt.Errorf("add legacy turn: %w", err)
			}
			// Unified write already succeeded; the legacy copy is
			// best-effort during dual operation.
			b.log.Warn("dual-write to legacy store failed", zap.Error(err))
		}
		if b.mode == ModeLegacy {
			id = legacyID
		}
	}
	return id, nil
}

// StoreEvent records a discrete event as an Event-type memory.
func (b *Bridge) StoreEvent(ctx context.Context, ev Event) (string, error) {
	id, err := b.unified.Ingest(ctx, store.IngestParams{
		Content: model.StructuredContent(map[string]any{
			"event_type":          ev.Type,
			"description":         ev.Description,
			"trigger_probability": ev.TriggerProbability,
		}),
		Type:       model.TypeEvent,
		Category:   ev.Type,
		Importance: ev.TriggerProbability,
		Tags:       []string{"event", ev.Type},
	})
	if dup, ok := store.AsDuplicate(err); ok {
		return dup.ExistingID, nil
	}
	return id, err
}

// StoreFact records a derived personality or preference fact.
func (b *Bridge) StoreFact(ctx context.Context, typ model.MemoryType, category, fact string, importance float64, tags []string) (string, error) {
	if typ != model.TypePersonality && typ != model.TypePreference {
		return "", fmt.Errorf("%w: fact type must be personality or preference, got %q",
			store.ErrInvalidArgument, typ)
	}
	id, err := b.unified.Ingest(ctx, store.IngestParams{
		Content:    model.TextContent(fact),
		Type:       typ,
		Category:   category,
		Importance: importance,
		Tags:       tags,
	})
	if dup, ok := store.AsDuplicate(err); ok {
		return dup.ExistingID, nil
	}
	return id, err
}

// RetrieveRelevant returns up to max memories relevant to the query.
// Unified-store failures are logged and answered from the legacy store;
// this read path never returns an error.
func (b *Bridge) RetrieveRelevant(ctx context.Context, query, queryContext string, max int) []model.Entry {
	if max <= 0 {
		max = 5
	}

	if b.mode != ModeLegacy {
		entries, err := b.unified.Retrieve(ctx, store.RetrieveParams{
			Query: query + " " + queryContext,
			Types: []model.MemoryType{
				model.TypeConversation,
				model.TypePersonality,
				model.TypeRelationship,
			},
			MaxResults: max,
		})
		if err == nil {
			return entries
		}
		b.log.Warn("unified retrieval failed, falling back to legacy",
			zap.String("query", query), zap.Error(err))
	}

	if b.legacy == nil {
		return nil
	}
	records := b.legacy.RelevantMemories(query, max)
	entries := make([]model.Entry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, legacyToEntry(rec))
	}
	return entries
}

// Status reports the unified store's status.
func (b *Bridge) Status() store.Status {
	return b.unified.Status()
}

// Migrate performs one-time migration of legacy records into the tiered
// store. It backs up the legacy file first, skips records already
// migrated (tracked by durable markers) unless force is set, and records
// unparsable entries without aborting. Safe to re-run.
func (b *Bridge) Migrate(ctx context.Context, force bool) (*store.MigrationReport, error) {
	rep := &store.MigrationReport{}
	if b.legacy == nil {
		return rep, nil
	}

	backup := filepath.Join(filepath.Dir(b.legacy.path),
		fmt.Sprintf("memory_backup_%s.json", time.Now().UTC().Format("20060102T150405")))
	if err := b.legacy.BackupTo(backup); err != nil {
		return nil, fmt.Errorf("backup legacy data: %w", err)
	}
	b.log.Info("legacy data backed up", zap.String("path", backup))

	migrated, err := b.unified.MigratedLegacyIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load migration markers: %w", err)
	}

	b.unified.SetMigrationState("in_progress")
	for legacyID, rec := range b.legacy.Records() {
		if _, done := migrated[legacyID]; done && !force {
			rep.Skipped++
			continue
		}
		if rec.Content == "" {
			rep.Errors = append(rep.Errors, fmt.Sprintf("legacy record %s: empty content", legacyID))
			continue
		}

		unifiedID, err := b.unified.Ingest(ctx, store.IngestParams{
			Content:    model.TextContent(rec.Content),
			Type:       model.TypeConversation,
			Category:   orDefault(rec.Category, "general"),
			Importance: clamp01(rec.Importance),
			Context:    rec.Context,
			Tags:       rec.Tags,
			Metadata:   map[string]any{"legacy_id": legacyID},
		})
		if err != nil {
			if dup, ok := store.AsDuplicate(err); ok {
				rep.Skipped++
				unifiedID = dup.ExistingID
			} else {
				rep.Errors = append(rep.Errors, fmt.Sprintf("legacy record %s: %v", legacyID, err))
				continue
			}
		} else {
			rep.Migrated++
		}

		if err := b.unified.MarkMigrated(ctx, legacyID, unifiedID); err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("mark %s migrated: %v", legacyID, err))
		}
	}
	b.unified.SetMigrationState("complete")

	b.log.Info("legacy migration finished",
		zap.Int("migrated", rep.Migrated),
		zap.Int("skipped", rep.Skipped),
		zap.Int("errors", len(rep.Errors)))
	return rep, nil
}

func legacyToEntry(rec LegacyRecord) model.Entry {
	sec := int64(rec.Timestamp)
	nsec := int64((rec.Timestamp - float64(sec)) * float64(time.Second))
	ts := time.Unix(sec, nsec).UTC()
	return model.Entry{
		Content:      model.TextContent(rec.Content),
		Type:         model.TypeConversation,
		Category:     rec.Category,
		Importance:   rec.Importance,
		Timestamp:    ts,
		Context:      rec.Context,
		Tags:         rec.Tags,
		LastAccessed: ts,
		Tier:         model.TierCold,
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
