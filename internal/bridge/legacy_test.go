package bridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenLegacyMissingFileStartsEmpty(t *testing.T) {
	s, err := OpenLegacy(filepath.Join(t.TempDir(), "memory.json"))
	require.NoError(t, err)
	assert.Zero(t, s.Len())
}

func TestOpenLegacyRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := OpenLegacy(path)
	assert.Error(t, err)
}

func TestAddTurnPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	s, err := OpenLegacy(path)
	require.NoError(t, err)

	id, err := s.AddTurn("do you like chocolate?", "I adore dark chocolate.", "warm")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	reloaded, err := OpenLegacy(path)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Len())

	rec := reloaded.Records()[id]
	assert.Contains(t, rec.Content, "dark chocolate")
	assert.Equal(t, "dialogue", rec.Category)
	assert.Equal(t, []string{"conversation", "warm"}, rec.Tags)
	assert.Positive(t, rec.Timestamp)
}

func TestRelevantMemoriesRanksByOverlap(t *testing.T) {
	s, err := OpenLegacy(filepath.Join(t.TempDir(), "memory.json"))
	require.NoError(t, err)

	_, err = s.Add(LegacyRecord{Content: "talked about chocolate cake recipes", Category: "dialogue"})
	require.NoError(t, err)
	_, err = s.Add(LegacyRecord{Content: "argued about fence repairs", Category: "dialogue"})
	require.NoError(t, err)

	got := s.RelevantMemories("chocolate cake", 5)
	require.NotEmpty(t, got)
	assert.Contains(t, got[0].Content, "chocolate cake")
}

func TestBackupTo(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenLegacy(filepath.Join(dir, "memory.json"))
	require.NoError(t, err)
	_, err = s.Add(LegacyRecord{Content: "something worth keeping"})
	require.NoError(t, err)

	backup := filepath.Join(dir, "backup.json")
	require.NoError(t, s.BackupTo(backup))

	copied, err := OpenLegacy(backup)
	require.NoError(t, err)
	assert.Equal(t, 1, copied.Len())
}
