package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knitli/codeweaver/internal/discovery"
)

func mustStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveAndGetRepository(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	repo := discovery.RepositoryDescriptor{AbsPath: "/repo", ProjectName: "repo", CollectionName: "repo-abc"}
	require.NoError(t, s.SaveRepository(ctx, repo))

	got, ok, err := s.GetRepository(ctx, "repo-abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, repo, got)

	_, ok, err = s.GetRepository(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SaveFile_UpsertsOnConflict(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	f := discovery.FileRecord{
		Path: "main.go", AbsPath: "/repo/main.go", Language: "go",
		ContentType: discovery.ContentTypeCode, Size: 100,
		ModTime: time.Now().UTC().Truncate(time.Second), ContentHash: "h1",
	}
	require.NoError(t, s.SaveFile(ctx, "repo-abc", f))

	f.ContentHash = "h2"
	f.Size = 200
	require.NoError(t, s.SaveFile(ctx, "repo-abc", f))

	got, ok, err := s.GetFile(ctx, "repo-abc", "main.go")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h2", got.ContentHash)
	assert.Equal(t, int64(200), got.Size)
}

func TestStore_DeleteFile_RemovesRecordAndChunks(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	f := discovery.FileRecord{Path: "a.go", AbsPath: "/repo/a.go", ContentHash: "h1"}
	require.NoError(t, s.SaveFile(ctx, "repo-abc", f))
	require.NoError(t, s.SetFileChunks(ctx, "repo-abc", "a.go", []string{"c1", "c2"}))

	require.NoError(t, s.DeleteFile(ctx, "repo-abc", "a.go"))

	_, ok, err := s.GetFile(ctx, "repo-abc", "a.go")
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := s.GetFileChunks(ctx, "repo-abc", "a.go")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_ListFiles(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFile(ctx, "repo-abc", discovery.FileRecord{Path: "a.go", ContentHash: "h1"}))
	require.NoError(t, s.SaveFile(ctx, "repo-abc", discovery.FileRecord{Path: "b.go", ContentHash: "h2"}))
	require.NoError(t, s.SaveFile(ctx, "other-collection", discovery.FileRecord{Path: "c.go", ContentHash: "h3"}))

	files, err := s.ListFiles(ctx, "repo-abc")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestStore_SetFileChunks_ReplacesPreviousSet(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetFileChunks(ctx, "repo-abc", "a.go", []string{"c1", "c2"}))
	ids, err := s.GetFileChunks(ctx, "repo-abc", "a.go")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids)

	require.NoError(t, s.SetFileChunks(ctx, "repo-abc", "a.go", []string{"c3"}))
	ids, err = s.GetFileChunks(ctx, "repo-abc", "a.go")
	require.NoError(t, err)
	assert.Equal(t, []string{"c3"}, ids)
}

func TestStore_GetSetState(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	_, ok, err := s.GetState(ctx, "repo-abc", "dimension")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetState(ctx, "repo-abc", "dimension", "768"))
	val, ok, err := s.GetState(ctx, "repo-abc", "dimension")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "768", val)

	require.NoError(t, s.SetState(ctx, "repo-abc", "dimension", "1024"))
	val, _, err = s.GetState(ctx, "repo-abc", "dimension")
	require.NoError(t, err)
	assert.Equal(t, "1024", val)
}
