package store

import (
	"context"
	"time"

	"github.com/kyratales/charmem/internal/model"
)

// ColdFilter selects cold-tier rows from the durable backing store.
// Zero-valued fields do not filter.
type ColdFilter struct {
	Types         []model.MemoryType
	Before        time.Time
	MaxImportance float64
	Limit         int
}

// Backing is the durable store behind the cold tier. It also holds the
// crash-recovery snapshots of the hot and warm tiers and the migration
// markers that keep legacy migration idempotent.
type Backing interface {
	// Persist durably writes one entry, replacing any prior row.
	Persist(ctx context.Context, e *model.Entry) error

	// PersistBatch writes entries in a single transaction.
	PersistBatch(ctx context.Context, entries []*model.Entry) error

	// Delete removes an entry's row. Deleting a missing row is not an error.
	Delete(ctx context.Context, id string) error

	// LoadAll returns every persisted entry. Used once at startup to
	// rebuild the in-memory indexes.
	LoadAll(ctx context.Context) ([]*model.Entry, error)

	// LoadByID returns one entry or ErrNotFound.
	LoadByID(ctx context.Context, id string) (*model.Entry, error)

	// LoadCold returns cold-tier entries matching the filter.
	LoadCold(ctx context.Context, f ColdFilter) ([]*model.Entry, error)

	// MarkMigrated records a legacy id as migrated to a unified id.
	MarkMigrated(ctx context.Context, legacyID, unifiedID string) error

	// MigratedLegacyIDs returns the legacy→unified marker mapping.
	MigratedLegacyIDs(ctx context.Context) (map[string]string, error)

	Close() error
}
