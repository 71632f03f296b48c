package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocaltwin/vocaltwin/internal/voice"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	ck := &Checkpoint{
		SE:        voice.Embedding{0.1, -0.25, 3.5, 0},
		RunID:     "01J0000000000000000000TEST",
		CreatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Sources:   3,
		Extractor: "openvoice",
	}
	require.NoError(t, Save(dir, ck))

	got, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ck.SE, got.SE)
	assert.Equal(t, ck.RunID, got.RunID)
	assert.Equal(t, ck.Sources, got.Sources)
	assert.True(t, ck.CreatedAt.Equal(got.CreatedAt))
}

func TestSaveCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "checkpoints")

	require.NoError(t, Save(dir, &Checkpoint{SE: voice.Embedding{1, 2}}))

	_, err := os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)
}

func TestSaveOverwritesPrior(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, Save(dir, &Checkpoint{SE: voice.Embedding{1}}))
	require.NoError(t, Save(dir, &Checkpoint{SE: voice.Embedding{2, 3}}))

	got, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, voice.Embedding{2, 3}, got.SE)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(dir, &Checkpoint{SE: voice.Embedding{1}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FileName, entries[0].Name())
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "run training first")
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("not msgpack"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestSaveRejectsEmptyEmbedding(t *testing.T) {
	require.Error(t, Save(t.TempDir(), &Checkpoint{}))
	require.Error(t, Save(t.TempDir(), nil))
}
