package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyratales/charmem/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return newTestStoreWith(t, func(*Config) {})
}

func newTestStoreWith(t *testing.T, tweak func(*Config)) *Store {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "test.db"))
	tweak(&cfg)
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

// memBacking is an in-memory Backing with switchable write failure.
type memBacking struct {
	mu      sync.Mutex
	rows    map[string]model.Entry
	markers map[string]string
	fail    bool
}

func newMemBacking() *memBacking {
	return &memBacking{rows: make(map[string]model.Entry), markers: make(map[string]string)}
}

func (b *memBacking) setFail(fail bool) {
	b.mu.Lock()
	b.fail = fail
	b.mu.Unlock()
}

func (b *memBacking) Persist(ctx context.Context, e *model.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("disk gone")
	}
	b.rows[e.ID] = e.Clone()
	return nil
}

func (b *memBacking) PersistBatch(ctx context.Context, entries []*model.Entry) error {
	for _, e := range entries {
		if err := b.Persist(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (b *memBacking) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("disk gone")
	}
	delete(b.rows, id)
	return nil
}

func (b *memBacking) LoadAll(ctx context.Context) ([]*model.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*model.Entry, 0, len(b.rows))
	for _, e := range b.rows {
		c := e.Clone()
		out = append(out, &c)
	}
	return out, nil
}

func (b *memBacking) LoadByID(ctx context.Context, id string) (*model.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := e.Clone()
	return &c, nil
}

func (b *memBacking) LoadCold(ctx context.Context, f ColdFilter) ([]*model.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*model.Entry
	for _, e := range b.rows {
		if e.Tier != model.TierCold {
			continue
		}
		if !f.Before.IsZero() && !e.Timestamp.Before(f.Before) {
			continue
		}
		if f.MaxImportance > 0 && e.Importance >= f.MaxImportance {
			continue
		}
		c := e.Clone()
		out = append(out, &c)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (b *memBacking) MarkMigrated(ctx context.Context, legacyID, unifiedID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markers[legacyID] = unifiedID
	return nil
}

func (b *memBacking) MigratedLegacyIDs(ctx context.Context) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.markers))
	for k, v := range b.markers {
		out[k] = v
	}
	return out, nil
}

func (b *memBacking) Close() error { return nil }

func TestIngestAndRetrieve(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Ingest(ctx, IngestParams{
		Content:  model.TextContent("the user mentioned loving dark chocolate"),
		Type:     model.TypePreference,
		Category: "food",
		Tags:     []string{"sweets"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = s.Ingest(ctx, IngestParams{
		Content: model.TextContent("a thunderstorm rolled through the valley"),
		Type:    model.TypeEvent,
	})
	require.NoError(t, err)

	results, err := s.Retrieve(ctx, RetrieveParams{Query: "chocolate", MaxResults: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, id, results[0].ID)
	assert.Equal(t, model.TypePreference, results[0].Type)

	// Retrieval counts as an access.
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FrequencyAccessed)
}

func TestIngestRejectsInvalidParams(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Ingest(ctx, IngestParams{Content: model.TextContent(""), Type: model.TypeEvent})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.Ingest(ctx, IngestParams{Content: model.TextContent("hello there"), Type: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.Ingest(ctx, IngestParams{
		Content: model.TextContent("hello there"), Type: model.TypeEvent, Importance: 7,
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRetrieveRequiresPositiveMax(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Retrieve(context.Background(), RetrieveParams{Query: "x"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDuplicateIngestReinforcesExisting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.Ingest(ctx, IngestParams{
		Content:    model.TextContent("the user really likes dark chocolate desserts"),
		Type:       model.TypePreference,
		Importance: 0.5,
	})
	require.NoError(t, err)

	_, err = s.Ingest(ctx, IngestParams{
		Content:    model.TextContent("the user really likes dark chocolate desserts a lot"),
		Type:       model.TypePreference,
		Importance: 0.9,
	})
	dup, ok := AsDuplicate(err)
	require.True(t, ok, "expected duplicate outcome, got %v", err)
	assert.Equal(t, first, dup.ExistingID)
	assert.GreaterOrEqual(t, dup.Similarity, s.gate.Threshold)

	// One canonical entry, reinforced: importance raised, access bumped.
	got, err := s.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Importance)
	assert.Equal(t, 1, got.FrequencyAccessed)

	st := s.Status()
	assert.Equal(t, 1, st.TierCounts[model.TierHot]+st.TierCounts[model.TierWarm]+st.TierCounts[model.TierCold])
}

func TestConcurrentReinforceAndRetrieve(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Ingest(ctx, IngestParams{
		Content:    model.TextContent("the user always drinks peppermint tea at midnight"),
		Type:       model.TypePreference,
		Importance: 0.5,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 49; i++ {
			_, err := s.Ingest(ctx, IngestParams{
				Content:    model.TextContent("the user always drinks peppermint tea at midnight"),
				Type:       model.TypePreference,
				Importance: 0.5 + float64(i)*0.01,
			})
			if !IsDuplicate(err) {
				t.Errorf("ingest %d: expected duplicate outcome, got %v", i, err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := s.Retrieve(ctx, RetrieveParams{Query: "peppermint tea", MaxResults: 3}); err != nil {
				t.Errorf("retrieve %d: %v", i, err)
			}
		}
	}()
	wg.Wait()

	// Reinforcement raises importance monotonically; the last duplicate
	// carried 0.99.
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.99, got.Importance, 1e-9)
}

func TestSameContentDifferentTypeIsNotDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Ingest(ctx, IngestParams{
		Content: model.TextContent("the harvest festival starts at dawn"),
		Type:    model.TypeEvent,
	})
	require.NoError(t, err)

	_, err = s.Ingest(ctx, IngestParams{
		Content: model.TextContent("the harvest festival starts at dawn"),
		Type:    model.TypeKnowledge,
	})
	assert.NoError(t, err)
}

func TestRetrieveFiltersExcludeEverything(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Ingest(ctx, IngestParams{
		Content: model.TextContent("a quiet afternoon at the market"),
		Type:    model.TypeEvent,
	})
	require.NoError(t, err)

	results, err := s.Retrieve(ctx, RetrieveParams{
		Query:      "market",
		Types:      []model.MemoryType{model.TypeGoal},
		MaxResults: 5,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveMinImportance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Ingest(ctx, IngestParams{
		Content: model.TextContent("crucial clue about the locked tower"), Type: model.TypePlot, Importance: 0.9,
	})
	require.NoError(t, err)
	lowID, err := s.Ingest(ctx, IngestParams{
		Content: model.TextContent("idle gossip about the locked tower"), Type: model.TypeConversation, Importance: 0.2,
	})
	require.NoError(t, err)

	results, err := s.Retrieve(ctx, RetrieveParams{Query: "tower", MinImportance: 0.5, MaxResults: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotEqual(t, lowID, results[0].ID)
}

func TestGetUnknownID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "01JUNKJUNKJUNKJUNKJUNKJUNK")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClosedStoreRefusesOperations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Close(ctx))

	_, err := s.Ingest(ctx, IngestParams{Content: model.TextContent("late arrival"), Type: model.TypeEvent})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = s.Retrieve(ctx, RetrieveParams{Query: "x", MaxResults: 1})
	assert.ErrorIs(t, err, ErrClosed)

	// Second close is a no-op.
	assert.NoError(t, s.Close(ctx))
}

func TestReopenRestoresEntries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := DefaultConfig(filepath.Join(dir, "test.db"))

	s, err := Open(cfg)
	require.NoError(t, err)
	id, err := s.Ingest(ctx, IngestParams{
		Content: model.TextContent("remembers the lighthouse keeper fondly"),
		Type:    model.TypeRelationship,
	})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close(ctx)

	got, err := s2.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "remembers the lighthouse keeper fondly", got.Content.Text)

	results, err := s2.Retrieve(ctx, RetrieveParams{Query: "lighthouse", MaxResults: 3})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, id, results[0].ID)
}

func TestStatusCountsTiers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, text := range []string{"one red apple", "two green pears", "three ripe plums"} {
		_, err := s.Ingest(ctx, IngestParams{Content: model.TextContent(text), Type: model.TypeEvent})
		require.NoError(t, err)
	}

	st := s.Status()
	assert.Equal(t, 3, st.TierCounts[model.TierHot])
	assert.Zero(t, st.TierCounts[model.TierWarm])
	assert.Zero(t, st.PendingColdWrites)
	assert.Equal(t, "none", st.MigrationState)
}
