package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	cs := NewCheckpointStore(path)

	_, ok, err := cs.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	cp := Checkpoint{
		Collection:     "repo-abc",
		CompletedFiles: []CompletedFile{{Path: "a.go", Hash: "h1"}, {Path: "b.go", Hash: "h2"}},
		RetryQueue:     []string{"c1"},
	}
	require.NoError(t, cs.Save(cp))

	got, ok, err := cs.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cp, got)
}

func TestCheckpointStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	cs := NewCheckpointStore(path)

	require.NoError(t, cs.Save(Checkpoint{Collection: "repo-abc"}))
	require.NoError(t, cs.Clear())

	_, ok, err := cs.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckpointStore_Clear_MissingFileIsNotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	cs := NewCheckpointStore(path)
	assert.NoError(t, cs.Clear())
}
