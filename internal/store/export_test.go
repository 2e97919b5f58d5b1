package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyratales/charmem/internal/model"
)

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)

	prefID, err := src.Ingest(ctx, IngestParams{
		Content:    model.TextContent("always orders blackberry tea"),
		Type:       model.TypePreference,
		Category:   "food",
		Tags:       []string{"drink"},
		Importance: 0.7,
	})
	require.NoError(t, err)
	_, err = src.Ingest(ctx, IngestParams{
		Content: model.StructuredContent(map[string]any{"event_type": "storm", "description": "roof leaked overnight"}),
		Type:    model.TypeEvent,
	})
	require.NoError(t, err)

	// Build up access history that the snapshot must carry over.
	_, err = src.Retrieve(ctx, RetrieveParams{Query: "blackberry tea", MaxResults: 1})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snapshot.json.zst")
	require.NoError(t, src.Export(ctx, path))

	dst := newTestStore(t)
	rep, err := dst.Import(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Migrated)
	assert.Zero(t, rep.Skipped)
	assert.Empty(t, rep.Errors)

	got, err := dst.Get(ctx, prefID)
	require.NoError(t, err)
	assert.Equal(t, "always orders blackberry tea", got.Content.Text)
	assert.Equal(t, model.TypePreference, got.Type)
	assert.Equal(t, []string{"drink"}, got.Tags)
	assert.Equal(t, 1, got.FrequencyAccessed)
}

func TestImportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Ingest(ctx, IngestParams{
		Content: model.TextContent("keeps pressed flowers inside journal"),
		Type:    model.TypeKnowledge,
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snapshot.json.zst")
	require.NoError(t, s.Export(ctx, path))

	rep, err := s.Import(ctx, path)
	require.NoError(t, err)
	assert.Zero(t, rep.Migrated)
	assert.Equal(t, 1, rep.Skipped)

	st := s.Status()
	total := st.TierCounts[model.TierHot] + st.TierCounts[model.TierWarm] + st.TierCounts[model.TierCold]
	assert.Equal(t, 1, total)
}

func TestImportRejectsForeignFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Import(ctx, filepath.Join(t.TempDir(), "missing.zst"))
	assert.Error(t, err)
}

func TestExportCoversColdTier(t *testing.T) {
	ctx := context.Background()
	src := newTestStoreWith(t, func(c *Config) {
		c.MaxHot = 1
		c.MaxWarm = 1
	})
	ids := fillDistinct(t, src, 4)

	path := filepath.Join(t.TempDir(), "snapshot.json.zst")
	require.NoError(t, src.Export(ctx, path))

	dst := newTestStore(t)
	rep, err := dst.Import(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, len(ids), rep.Migrated)

	for _, id := range ids {
		_, err := dst.Get(ctx, id)
		assert.NoError(t, err, "entry %s missing after import", id)
	}
}
