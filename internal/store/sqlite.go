package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/kyratales/charmem/internal/model"
)

// SQLiteBacking implements Backing on an embedded SQLite database.
type SQLiteBacking struct {
	db          *sql.DB
	enc         *zstd.Encoder
	dec         *zstd.Decoder
	compressMin int
}

// NewSQLiteBacking opens or creates the database at dbPath. Content
// payloads at or above compressMin bytes are zstd-compressed on disk.
func NewSQLiteBacking(dbPath string, compressMin int) (*SQLiteBacking, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	b := &SQLiteBacking{db: db, enc: enc, dec: dec, compressMin: compressMin}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *SQLiteBacking) migrate() error {
	// memory_type is free TEXT rather than a CHECK constraint so new
	// variants never need a destructive migration.
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id                     TEXT PRIMARY KEY,
		content                BLOB NOT NULL,
		memory_type            TEXT NOT NULL,
		category               TEXT NOT NULL DEFAULT '',
		importance             REAL NOT NULL,
		timestamp              TEXT NOT NULL,
		context                TEXT,
		tags                   TEXT,
		metadata               TEXT,
		frequency_accessed     INTEGER NOT NULL DEFAULT 0,
		last_accessed          TEXT,
		emotional_weight       REAL NOT NULL DEFAULT 0,
		plot_relevance         REAL NOT NULL DEFAULT 0,
		relationship_relevance REAL NOT NULL DEFAULT 0,
		storage_tier           TEXT NOT NULL DEFAULT 'hot',
		compression_level      INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
	CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);
	CREATE INDEX IF NOT EXISTS idx_memories_timestamp ON memories(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_accessed ON memories(last_accessed);
	CREATE INDEX IF NOT EXISTS idx_memories_tier ON memories(storage_tier);

	CREATE TABLE IF NOT EXISTS migration_markers (
		legacy_id   TEXT PRIMARY KEY,
		unified_id  TEXT NOT NULL,
		migrated_at TEXT NOT NULL
	);
	`
	_, err := b.db.Exec(schema)
	return err
}

const memoryColumns = `id, content, memory_type, category, importance, timestamp, context,
	tags, metadata, frequency_accessed, last_accessed, emotional_weight,
	plot_relevance, relationship_relevance, storage_tier, compression_level`

func (b *SQLiteBacking) encodeContent(c model.Content) ([]byte, int, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal content: %w", err)
	}
	if b.compressMin > 0 && len(raw) >= b.compressMin {
		return b.enc.EncodeAll(raw, nil), 1, nil
	}
	return raw, 0, nil
}

func (b *SQLiteBacking) decodeContent(blob []byte, level int) (model.Content, error) {
	var c model.Content
	if level > 0 {
		raw, err := b.dec.DecodeAll(blob, nil)
		if err != nil {
			return c, fmt.Errorf("decompress content: %w", err)
		}
		blob = raw
	}
	if err := json.Unmarshal(blob, &c); err != nil {
		return c, fmt.Errorf("unmarshal content: %w", err)
	}
	return c, nil
}

// Persist implements Backing.
func (b *SQLiteBacking) Persist(ctx context.Context, e *model.Entry) error {
	return b.persistTx(ctx, b.db, e)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (b *SQLiteBacking) persistTx(ctx context.Context, ex execer, e *model.Entry) error {
	content, level, err := b.encodeContent(e.Content)
	if err != nil {
		return err
	}

	var tagsJSON *string
	if len(e.Tags) > 0 {
		raw, _ := json.Marshal(e.Tags)
		s := string(raw)
		tagsJSON = &s
	}
	var metaJSON *string
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		s := string(raw)
		metaJSON = &s
	}

	_, err = ex.ExecContext(ctx,
		`INSERT OR REPLACE INTO memories (`+memoryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, content, string(e.Type), e.Category, e.Importance,
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.Context, tagsJSON, metaJSON,
		e.FrequencyAccessed, e.LastAccessed.UTC().Format(time.RFC3339Nano),
		e.EmotionalWeight, e.PlotRelevance, e.RelationshipRelevance,
		string(e.Tier), level)
	if err != nil {
		return fmt.Errorf("persist entry %s: %w", e.ID, err)
	}
	return nil
}

// PersistBatch implements Backing.
func (b *SQLiteBacking) PersistBatch(ctx context.Context, entries []*model.Entry) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		if err := b.persistTx(ctx, tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Delete implements Backing.
func (b *SQLiteBacking) Delete(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	return err
}

// LoadAll implements Backing.
func (b *SQLiteBacking) LoadAll(ctx context.Context) ([]*model.Entry, error) {
	return b.query(ctx, `SELECT `+memoryColumns+` FROM memories ORDER BY timestamp DESC`)
}

// LoadByID implements Backing.
func (b *SQLiteBacking) LoadByID(ctx context.Context, id string) (*model.Entry, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	e, err := b.scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// LoadCold implements Backing.
func (b *SQLiteBacking) LoadCold(ctx context.Context, f ColdFilter) ([]*model.Entry, error) {
	where := []string{"storage_tier = ?"}
	args := []any{string(model.TierCold)}

	if len(f.Types) > 0 {
		marks := make([]string, len(f.Types))
		for i, t := range f.Types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "memory_type IN ("+strings.Join(marks, ", ")+")")
	}
	if !f.Before.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, f.Before.UTC().Format(time.RFC3339Nano))
	}
	if f.MaxImportance > 0 {
		where = append(where, "importance < ?")
		args = append(args, f.MaxImportance)
	}

	query := `SELECT ` + memoryColumns + ` FROM memories WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY timestamp ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return b.query(ctx, query, args...)
}

// MarkMigrated implements Backing.
func (b *SQLiteBacking) MarkMigrated(ctx context.Context, legacyID, unifiedID string) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO migration_markers (legacy_id, unified_id, migrated_at) VALUES (?, ?, ?)`,
		legacyID, unifiedID, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// MigratedLegacyIDs implements Backing.
func (b *SQLiteBacking) MigratedLegacyIDs(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT legacy_id, unified_id FROM migration_markers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	markers := make(map[string]string)
	for rows.Next() {
		var legacy, unified string
		if err := rows.Scan(&legacy, &unified); err != nil {
			return nil, err
		}
		markers[legacy] = unified
	}
	return markers, rows.Err()
}

// Close implements Backing.
func (b *SQLiteBacking) Close() error {
	b.enc.Close()
	b.dec.Close()
	return b.db.Close()
}

func (b *SQLiteBacking) query(ctx context.Context, query string, args ...any) ([]*model.Entry, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*model.Entry
	for rows.Next() {
		e, err := b.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (b *SQLiteBacking) scanEntry(row scanner) (*model.Entry, error) {
	var e model.Entry
	var content []byte
	var typ, tier, timestamp string
	var ctxStr, tagsJSON, metaJSON, lastAccessed sql.NullString
	var level int

	err := row.Scan(
		&e.ID, &content, &typ, &e.Category, &e.Importance, &timestamp,
		&ctxStr, &tagsJSON, &metaJSON, &e.FrequencyAccessed, &lastAccessed,
		&e.EmotionalWeight, &e.PlotRelevance, &e.RelationshipRelevance,
		&tier, &level,
	)
	if err != nil {
		return nil, err
	}

	e.Type = model.MemoryType(typ)
	e.Tier = model.StorageTier(tier)
	e.CompressionLevel = level
	e.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
	if ctxStr.Valid {
		e.Context = ctxStr.String
	}
	if lastAccessed.Valid {
		e.LastAccessed, _ = time.Parse(time.RFC3339Nano, lastAccessed.String)
	}
	if e.LastAccessed.Before(e.Timestamp) {
		e.LastAccessed = e.Timestamp
	}
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &e.Tags)
	}
	if metaJSON.Valid {
		json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
	}

	e.Content, err = b.decodeContent(content, level)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	return &e, nil
}
