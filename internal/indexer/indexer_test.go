package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knitli/codeweaver/internal/chunk"
	"github.com/knitli/codeweaver/internal/discovery"
	"github.com/knitli/codeweaver/internal/embedding"
	metastore "github.com/knitli/codeweaver/internal/store"
	"github.com/knitli/codeweaver/internal/vectorstore"
	"github.com/knitli/codeweaver/internal/vectorstore/memory"
)

// fakeChunker produces exactly one chunk spanning the whole file, named
// after its content hash so the chunk_id changes iff the file's content
// does — good enough to exercise the orchestrator's diff/move logic
// without pulling in the real tree-sitter chunker.
type fakeChunker struct{}

func (fakeChunker) Chunk(_ context.Context, file *chunk.FileInput) ([]*chunk.Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}
	hash := chunk.ContentHash(file.Content)
	return []*chunk.Chunk{{
		ChunkID:   chunk.ChunkID(file.Path, hash, 1, 1),
		ChunkName: file.Path + ":whole",
		FilePath:  file.Path,
		Language:  file.Language,
		LineStart: 1,
		LineEnd:   1,
		Content:   string(file.Content),
		Kind:      chunk.KindOther,
	}}, nil
}

func (fakeChunker) SupportedExtensions() []string { return nil }

type fakeDense struct{ dim int }

func (f fakeDense) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
		out[i][0] = 1
	}
	return out, nil
}
func (f fakeDense) Dimensions() int   { return f.dim }
func (f fakeDense) ModelName() string { return "fake" }

func newTestOrchestrator(t *testing.T) (*Orchestrator, vectorstore.Store, *metastore.Store, string) {
	t.Helper()
	dir := t.TempDir()

	store, err := memory.NewStore(memory.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureCollection(context.Background(), "repo",
		vectorstore.CollectionMetadata{ProviderTag: "fake", SchemaVersion: 1, DenseDimension: 4}))

	meta, err := metastore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	pipeline := embedding.New(fakeDense{dim: 4}, nil, embedding.Config{BatchSize: 8}, store, "repo", nil)

	walker, err := discovery.NewWalker()
	require.NoError(t, err)

	orch := New(walker, fakeChunker{}, pipeline, store, meta, filepath.Join(dir, "checkpoints"), nil)
	return orch, store, meta, dir
}

func writeFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	abs := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestOrchestrator_Prime_IndexesAllFiles(t *testing.T) {
	orch, store, meta, dir := newTestOrchestrator(t)
	writeFile(t, dir, "a.go", "package a")
	writeFile(t, dir, "b.go", "package b")

	repo := discovery.RepositoryDescriptor{AbsPath: dir, ProjectName: "repo", CollectionName: "repo"}
	res, err := orch.Prime(context.Background(), repo, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilesIndexed)
	assert.Equal(t, 2, res.ChunksUpserted)
	assert.False(t, res.Resumed)

	ids, err := meta.GetFileChunks(context.Background(), "repo", "a.go")
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	results, err := store.Search(context.Background(), "repo", vectorstore.QueryVectors{Dense: []float32{1, 0, 0, 0}}, vectorstore.Filter{}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestOrchestrator_Incremental_Modified_ReplacesChunks(t *testing.T) {
	orch, store, meta, dir := newTestOrchestrator(t)
	writeFile(t, dir, "a.go", "package a\nfunc One() {}")
	repo := discovery.RepositoryDescriptor{AbsPath: dir, ProjectName: "repo", CollectionName: "repo"}
	_, err := orch.Prime(context.Background(), repo, Options{})
	require.NoError(t, err)

	oldIDs, err := meta.GetFileChunks(context.Background(), "repo", "a.go")
	require.NoError(t, err)
	require.Len(t, oldIDs, 1)

	writeFile(t, dir, "a.go", "package a\nfunc Two() {}")
	err = orch.Incremental(context.Background(), repo, discovery.ChangeEvent{Path: "a.go", Kind: discovery.ChangeModified})
	require.NoError(t, err)

	newIDs, err := meta.GetFileChunks(context.Background(), "repo", "a.go")
	require.NoError(t, err)
	require.Len(t, newIDs, 1)
	assert.NotEqual(t, oldIDs[0], newIDs[0])

	chunks, err := store.ChunksForFile(context.Background(), "repo", "a.go")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, newIDs[0], chunks[0].ChunkID)
}

func TestOrchestrator_Incremental_Deleted_RemovesChunksAndRecord(t *testing.T) {
	orch, store, meta, dir := newTestOrchestrator(t)
	writeFile(t, dir, "a.go", "package a")
	repo := discovery.RepositoryDescriptor{AbsPath: dir, ProjectName: "repo", CollectionName: "repo"}
	_, err := orch.Prime(context.Background(), repo, Options{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.go")))
	err = orch.Incremental(context.Background(), repo, discovery.ChangeEvent{Path: "a.go", Kind: discovery.ChangeDeleted})
	require.NoError(t, err)

	ids, err := meta.GetFileChunks(context.Background(), "repo", "a.go")
	require.NoError(t, err)
	assert.Empty(t, ids)

	chunks, err := store.ChunksForFile(context.Background(), "repo", "a.go")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, found, err := meta.GetFile(context.Background(), "repo", "a.go")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOrchestrator_Incremental_Moved_SameContent_ReusesEmbeddingWithoutReembedding(t *testing.T) {
	orch, store, meta, dir := newTestOrchestrator(t)
	writeFile(t, dir, "old.go", "package a\nfunc Same() {}")
	repo := discovery.RepositoryDescriptor{AbsPath: dir, ProjectName: "repo", CollectionName: "repo"}
	_, err := orch.Prime(context.Background(), repo, Options{})
	require.NoError(t, err)

	oldChunks, err := store.ChunksForFile(context.Background(), "repo", "old.go")
	require.NoError(t, err)
	require.Len(t, oldChunks, 1)
	require.NotEmpty(t, oldChunks[0].Embeddings.Dense)

	require.NoError(t, os.Rename(filepath.Join(dir, "old.go"), filepath.Join(dir, "new.go")))
	err = orch.Incremental(context.Background(), repo, discovery.ChangeEvent{
		Path: "new.go", OldPath: "old.go", Kind: discovery.ChangeMoved,
	})
	require.NoError(t, err)

	newChunks, err := store.ChunksForFile(context.Background(), "repo", "new.go")
	require.NoError(t, err)
	require.Len(t, newChunks, 1)
	assert.Equal(t, oldChunks[0].Embeddings.Dense, newChunks[0].Embeddings.Dense)
	assert.Equal(t, "new.go", newChunks[0].FilePath)

	oldRemaining, err := store.ChunksForFile(context.Background(), "repo", "old.go")
	require.NoError(t, err)
	assert.Empty(t, oldRemaining)

	_, found, err := meta.GetFile(context.Background(), "repo", "old.go")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOrchestrator_Prime_RerunIndexesNewlyAddedFile(t *testing.T) {
	orch, _, meta, dir := newTestOrchestrator(t)
	writeFile(t, dir, "a.go", "package a")
	repo := discovery.RepositoryDescriptor{AbsPath: dir, ProjectName: "repo", CollectionName: "repo"}

	_, err := orch.Prime(context.Background(), repo, Options{})
	require.NoError(t, err)

	writeFile(t, dir, "b.go", "package b")
	res, err := orch.Prime(context.Background(), repo, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilesIndexed)

	ids, err := meta.GetFileChunks(context.Background(), "repo", "b.go")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}
