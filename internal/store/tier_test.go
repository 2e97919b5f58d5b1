package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyratales/charmem/internal/model"
)

// fillDistinct ingests n entries with mutually dissimilar content and
// returns their ids in ingest order.
func fillDistinct(t *testing.T, s *Store, n int) []string {
	t.Helper()
	ctx := context.Background()
	// No token is shared between subjects, so text queries and the
	// dedup gate treat every entry as unrelated.
	subjects := []string{
		"planted tulips behind chapel garden wall",
		"won archery contest during spring fair",
		"heard wolves howling beyond northern ridge",
		"traded silver brooch along river passage",
		"repaired broken windmill sail towards dusk",
		"found abandoned rowboat near estuary mudflats",
		"copied juniper stew recipe off parchment",
		"watched merchants argue about salt prices",
	}
	require.LessOrEqual(t, n, len(subjects))
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := s.Ingest(ctx, IngestParams{
			Content:    model.TextContent(subjects[i]),
			Type:       model.TypeEvent,
			Importance: 0.5,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func tierOf(s *Store, id string) model.StorageTier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.hot[id]; ok {
		return model.TierHot
	}
	if _, ok := s.warm[id]; ok {
		return model.TierWarm
	}
	if _, ok := s.cold[id]; ok {
		return model.TierCold
	}
	return ""
}

func TestOverflowDemotesThroughTiers(t *testing.T) {
	s := newTestStoreWith(t, func(c *Config) {
		c.MaxHot = 2
		c.MaxWarm = 2
	})
	ids := fillDistinct(t, s, 6)

	st := s.Status()
	assert.Equal(t, 2, st.TierCounts[model.TierHot])
	assert.Equal(t, 2, st.TierCounts[model.TierWarm])
	assert.Equal(t, 2, st.TierCounts[model.TierCold])

	// Every entry is still reachable wherever it landed.
	for _, id := range ids {
		_, err := s.Get(context.Background(), id)
		require.NoError(t, err, "entry %s unreachable", id)
	}
}

func TestColdEntryPromotesOnRetrieval(t *testing.T) {
	ctx := context.Background()
	s := newTestStoreWith(t, func(c *Config) {
		c.MaxHot = 2
		c.MaxWarm = 2
	})
	ids := fillDistinct(t, s, 6)

	var coldID string
	for _, id := range ids {
		if tierOf(s, id) == model.TierCold {
			coldID = id
			break
		}
	}
	require.NotEmpty(t, coldID, "expected at least one cold entry")

	cold, err := s.Get(ctx, coldID)
	require.NoError(t, err)

	results, err := s.Retrieve(ctx, RetrieveParams{
		Query:      cold.Content.Text,
		MaxResults: 1,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, coldID, results[0].ID)

	// The access bumped its score past an untouched incumbent.
	assert.NotEqual(t, model.TierCold, tierOf(s, coldID))

	// Capacity invariants hold after the promotion ripple.
	st := s.Status()
	assert.LessOrEqual(t, st.TierCounts[model.TierHot], 2)
	assert.LessOrEqual(t, st.TierCounts[model.TierWarm], 2)
}

func TestFrequentlyAccessedWarmEntryReachesHot(t *testing.T) {
	ctx := context.Background()
	s := newTestStoreWith(t, func(c *Config) {
		c.MaxHot = 2
		c.MaxWarm = 4
	})
	fillDistinct(t, s, 4)

	var warmID string
	s.mu.RLock()
	for id := range s.warm {
		warmID = id
	}
	s.mu.RUnlock()
	require.NotEmpty(t, warmID)

	warm, err := s.Get(ctx, warmID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.Retrieve(ctx, RetrieveParams{Query: warm.Content.Text, MaxResults: 1})
		require.NoError(t, err)
	}
	assert.Equal(t, model.TierHot, tierOf(s, warmID))
}

func TestFailedColdDemotionStaysWarmAndRetries(t *testing.T) {
	ctx := context.Background()
	backing := newMemBacking()
	cfg := Config{MaxHot: 1, MaxWarm: 1}
	s, err := NewWithBacking(cfg, backing)
	require.NoError(t, err)
	defer s.Close(ctx)

	fillDistinct(t, s, 2)

	backing.setFail(true)
	_, err = s.Ingest(ctx, IngestParams{
		Content:    model.TextContent("chased runaway goat across town square"),
		Type:       model.TypeEvent,
		Importance: 0.5,
	})
	require.NoError(t, err)

	// The demotion could not persist, so nothing reached cold and the
	// write sits in the retry queue.
	st := s.Status()
	assert.Zero(t, st.TierCounts[model.TierCold])
	assert.Equal(t, 1, st.PendingColdWrites)
	assert.Equal(t, 2, st.TierCounts[model.TierWarm])

	backing.setFail(false)
	rep := s.RunMaintenance(ctx)
	assert.Empty(t, rep.Errors)
	// The deferred write completes either as a queue retry or as part of
	// the rebalance sweep, whichever reaches the entry first.
	assert.GreaterOrEqual(t, rep.RetriedWrites+rep.Rebalanced, 1)

	st = s.Status()
	assert.Zero(t, st.PendingColdWrites)
	assert.GreaterOrEqual(t, st.TierCounts[model.TierCold], 1)
	assert.LessOrEqual(t, st.TierCounts[model.TierWarm], 1)
	total := st.TierCounts[model.TierHot] + st.TierCounts[model.TierWarm] + st.TierCounts[model.TierCold]
	assert.Equal(t, 3, total)
}

func TestDemotionPersistsBeforeLeavingMemory(t *testing.T) {
	ctx := context.Background()
	backing := newMemBacking()
	s, err := NewWithBacking(Config{MaxHot: 1, MaxWarm: 1}, backing)
	require.NoError(t, err)
	defer s.Close(ctx)

	ids := fillDistinct(t, s, 3)

	for _, id := range ids {
		if tierOf(s, id) != model.TierCold {
			continue
		}
		e, err := backing.LoadByID(ctx, id)
		require.NoError(t, err, "cold entry %s missing from backing", id)
		assert.Equal(t, model.TierCold, e.Tier)
	}
}

func TestColdHitKeepsStatsWhenPromotionDeclined(t *testing.T) {
	ctx := context.Background()
	s := newTestStoreWith(t, func(c *Config) {
		c.MaxHot = 1
		c.MaxWarm = 1
	})

	for _, strong := range []string{
		"defended harbor gate against pirates",
		"crowned tournament champion before nobles",
	} {
		_, err := s.Ingest(ctx, IngestParams{
			Content:    model.TextContent(strong),
			Type:       model.TypeEvent,
			Importance: 0.9,
		})
		require.NoError(t, err)
	}
	weakID, err := s.Ingest(ctx, IngestParams{
		Content:    model.TextContent("overheard gardeners discussing turnip blight"),
		Type:       model.TypeConversation,
		Importance: 0.1,
	})
	require.NoError(t, err)
	require.Equal(t, model.TierCold, tierOf(s, weakID))

	// One hit does not outrank the warm incumbent, so the entry stays
	// cold.
	results, err := s.Retrieve(ctx, RetrieveParams{Query: "turnip", MaxResults: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, weakID, results[0].ID)
	require.Equal(t, model.TierCold, tierOf(s, weakID))

	// The hit reached the durable row, so a later read still sees it.
	got, err := s.Get(ctx, weakID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FrequencyAccessed)
}

func TestLowestCompositePrefersWeakEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStoreWith(t, func(c *Config) {
		c.MaxHot = 10
	})

	weakID, err := s.Ingest(ctx, IngestParams{
		Content:    model.TextContent("noted the price of candles"),
		Type:       model.TypeConversation,
		Importance: 0.1,
	})
	require.NoError(t, err)
	for _, goal := range []string{
		"protect village from winter raids",
		"apprentice under master healer",
		"map unexplored caverns beneath keep",
	} {
		_, err := s.Ingest(ctx, IngestParams{
			Content:    model.TextContent(goal),
			Type:       model.TypeGoal,
			Importance: 0.9,
		})
		require.NoError(t, err)
	}

	s.mu.RLock()
	victims := s.lowestComposite(s.hot, 1, time.Now().UTC())
	s.mu.RUnlock()
	require.Len(t, victims, 1)
	assert.Equal(t, weakID, victims[0].ID)
}
