package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knitli/codeweaver/internal/chunk"
	"github.com/knitli/codeweaver/internal/vectorstore"
)

func mustStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func denseChunk(id, path string, vec []float32) chunk.Chunk {
	return chunk.Chunk{
		ChunkID:   id,
		ChunkName: path + "#" + id,
		FilePath:  path,
		Language:  "go",
		LineStart: 1,
		LineEnd:   10,
		Content:   "func Foo() {}",
		Kind:      chunk.KindDefinition,
		Embeddings: chunk.Embeddings{
			Dense: vec,
		},
	}
}

func hybridChunk(id, path string, dense []float32, sparseIdx []uint32, sparseVal []float32) chunk.Chunk {
	ck := denseChunk(id, path, dense)
	ck.Embeddings.Sparse = chunk.SparseVector{Indices: sparseIdx, Values: sparseVal}
	return ck
}

func TestStore_EnsureCollection_CreatesThenDetectsProviderSwitch(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	meta := vectorstore.CollectionMetadata{ProviderTag: "ollama", SchemaVersion: 1, DenseDimension: 4}
	require.NoError(t, s.EnsureCollection(ctx, "repo", meta))
	require.NoError(t, s.EnsureCollection(ctx, "repo", meta))

	mismatched := meta
	mismatched.ProviderTag = "openai"
	err := s.EnsureCollection(ctx, "repo", mismatched)
	require.Error(t, err)
}

func TestStore_UpsertAndSearchDense(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()
	meta := vectorstore.CollectionMetadata{ProviderTag: "ollama", SchemaVersion: 1, DenseDimension: 3}
	require.NoError(t, s.EnsureCollection(ctx, "repo", meta))

	chunks := []chunk.Chunk{
		denseChunk("a", "a.go", []float32{1, 0, 0}),
		denseChunk("b", "b.go", []float32{0, 1, 0}),
	}
	require.NoError(t, s.Upsert(ctx, "repo", chunks))

	results, err := s.Search(ctx, "repo", vectorstore.QueryVectors{Dense: []float32{1, 0, 0}}, vectorstore.Filter{}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].Chunk.ChunkID)
	assert.Equal(t, vectorstore.ModeDense, results[0].SearchMode)
}

func TestStore_SearchSparseOnly(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()
	meta := vectorstore.CollectionMetadata{ProviderTag: "ollama", SchemaVersion: 1, DenseDimension: 3}
	require.NoError(t, s.EnsureCollection(ctx, "repo", meta))

	chunks := []chunk.Chunk{
		hybridChunk("a", "a.go", []float32{1, 0, 0}, []uint32{1, 5}, []float32{0.9, 0.1}),
		hybridChunk("b", "b.go", []float32{0, 1, 0}, []uint32{2, 9}, []float32{0.8, 0.2}),
	}
	require.NoError(t, s.Upsert(ctx, "repo", chunks))

	query := vectorstore.QueryVectors{Sparse: chunk.SparseVector{Indices: []uint32{1, 5}, Values: []float32{0.9, 0.1}}}
	results, err := s.Search(ctx, "repo", query, vectorstore.Filter{}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].Chunk.ChunkID)
	assert.Equal(t, vectorstore.ModeSparse, results[0].SearchMode)
}

func TestStore_SearchHybridFusesDenseAndSparse(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()
	meta := vectorstore.CollectionMetadata{ProviderTag: "ollama", SchemaVersion: 1, DenseDimension: 3}
	require.NoError(t, s.EnsureCollection(ctx, "repo", meta))

	chunks := []chunk.Chunk{
		hybridChunk("a", "a.go", []float32{1, 0, 0}, []uint32{1, 5}, []float32{0.9, 0.1}),
		hybridChunk("b", "b.go", []float32{0, 1, 0}, []uint32{2, 9}, []float32{0.8, 0.2}),
	}
	require.NoError(t, s.Upsert(ctx, "repo", chunks))

	query := vectorstore.QueryVectors{
		Dense:  []float32{1, 0, 0},
		Sparse: chunk.SparseVector{Indices: []uint32{1, 5}, Values: []float32{0.9, 0.1}},
	}
	results, err := s.Search(ctx, "repo", query, vectorstore.Filter{}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].Chunk.ChunkID)
	assert.Equal(t, vectorstore.ModeHybrid, results[0].SearchMode)
	assert.Greater(t, results[0].SparseScore, float32(0))
}

func TestStore_DeleteByFile(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()
	meta := vectorstore.CollectionMetadata{ProviderTag: "ollama", SchemaVersion: 1, DenseDimension: 3}
	require.NoError(t, s.EnsureCollection(ctx, "repo", meta))
	require.NoError(t, s.Upsert(ctx, "repo", []chunk.Chunk{denseChunk("a", "a.go", []float32{1, 0, 0})}))

	require.NoError(t, s.DeleteByFile(ctx, "repo", "a.go"))

	results, err := s.Search(ctx, "repo", vectorstore.QueryVectors{Dense: []float32{1, 0, 0}}, vectorstore.Filter{}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_DimensionMismatch(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()
	meta := vectorstore.CollectionMetadata{ProviderTag: "ollama", SchemaVersion: 1, DenseDimension: 3}
	require.NoError(t, s.EnsureCollection(ctx, "repo", meta))

	err := s.Upsert(ctx, "repo", []chunk.Chunk{denseChunk("a", "a.go", []float32{1, 0})})
	require.Error(t, err)
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")

	s1, err := NewStore(Options{SnapshotPath: path})
	require.NoError(t, err)
	ctx := context.Background()
	meta := vectorstore.CollectionMetadata{ProviderTag: "ollama", SchemaVersion: 1, DenseDimension: 3}
	require.NoError(t, s1.EnsureCollection(ctx, "repo", meta))
	require.NoError(t, s1.Upsert(ctx, "repo", []chunk.Chunk{denseChunk("a", "a.go", []float32{1, 0, 0})}))
	require.NoError(t, s1.Close())

	s2, err := NewStore(Options{SnapshotPath: path})
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	results, err := s2.Search(ctx, "repo", vectorstore.QueryVectors{Dense: []float32{1, 0, 0}}, vectorstore.Filter{}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].Chunk.ChunkID)
}

func TestStore_ListCollectionsAndHealth(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "repo", vectorstore.CollectionMetadata{DenseDimension: 3}))

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "repo")
	assert.True(t, s.Health(ctx).Healthy)
}
