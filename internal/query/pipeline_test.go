package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knitli/codeweaver/internal/chunk"
	"github.com/knitli/codeweaver/internal/vectorstore"
	"github.com/knitli/codeweaver/internal/vectorstore/memory"
)

type fakeDense struct {
	vec []float32
	err error
}

func (f fakeDense) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type alwaysExists struct{}

func (alwaysExists) Exists(string) bool { return true }

type neverExists struct{ except map[string]bool }

func (n neverExists) Exists(p string) bool { return n.except[p] }

func mustStore(t *testing.T, dim int) vectorstore.Store {
	t.Helper()
	s, err := memory.NewStore(memory.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureCollection(context.Background(), "repo",
		vectorstore.CollectionMetadata{ProviderTag: "fake", SchemaVersion: 1, DenseDimension: dim}))
	return s
}

func upsertChunk(t *testing.T, s vectorstore.Store, id, path string, dense []float32, kind chunk.Kind) {
	t.Helper()
	c := chunk.Chunk{
		ChunkID:   id,
		ChunkName: path + ":" + id,
		FilePath:  path,
		Language:  "go",
		LineStart: 1,
		LineEnd:   10,
		Content:   "func Example() { return }",
		Kind:      kind,
		Embeddings: chunk.Embeddings{Dense: dense},
	}
	require.NoError(t, s.Upsert(context.Background(), "repo", []chunk.Chunk{c}))
}

func TestFind_EmptyQuery_ReturnsDegradedResponse(t *testing.T) {
	store := mustStore(t, 4)
	p := New(fakeDense{vec: []float32{1, 0, 0, 0}}, nil, store, "repo", nil, nil, alwaysExists{}, nil)

	resp, err := p.Find(context.Background(), "   ", Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.TotalMatches)
	assert.Empty(t, resp.Results)
	assert.Contains(t, resp.Summary, "bad_query")
}

func TestFind_EmbedFailure_ReturnsDegradedResponse(t *testing.T) {
	store := mustStore(t, 4)
	p := New(fakeDense{err: assertErr{}}, nil, store, "repo", nil, nil, alwaysExists{}, nil)

	resp, err := p.Find(context.Background(), "find the thing", Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.TotalMatches)
	assert.Nil(t, resp.Results)
}

type assertErr struct{}

func (assertErr) Error() string { return "embedding provider down" }

func TestFind_ReturnsMatches_WithDenseStrategyLabel(t *testing.T) {
	store := mustStore(t, 4)
	upsertChunk(t, store, "id-1", "pkg/foo.go", []float32{1, 0, 0, 0}, chunk.KindDefinition)

	p := New(fakeDense{vec: []float32{1, 0, 0, 0}}, nil, store, "repo", nil, nil, alwaysExists{}, nil)
	resp, err := p.Find(context.Background(), "foo function", Options{})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, "pkg/foo.go", resp.Results[0].File.Path)
	assert.Contains(t, resp.SearchStrategy, "dense")
	assert.Equal(t, 1, resp.TotalResults)
	assert.Equal(t, []string{"go"}, resp.LanguagesFound)
}

func TestFind_FiltersOutMissingFiles(t *testing.T) {
	store := mustStore(t, 4)
	upsertChunk(t, store, "id-1", "pkg/gone.go", []float32{1, 0, 0, 0}, chunk.KindDefinition)

	p := New(fakeDense{vec: []float32{1, 0, 0, 0}}, nil, store, "repo", nil, nil,
		neverExists{except: map[string]bool{}}, nil)
	resp, err := p.Find(context.Background(), "gone", Options{})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 1, resp.TotalMatches)
}

func TestFind_ExcludesTestPathsByDefault(t *testing.T) {
	store := mustStore(t, 4)
	upsertChunk(t, store, "id-1", "pkg/foo_test.go", []float32{1, 0, 0, 0}, chunk.KindDefinition)

	p := New(fakeDense{vec: []float32{1, 0, 0, 0}}, nil, store, "repo", nil, nil, alwaysExists{}, nil)
	resp, err := p.Find(context.Background(), "foo", Options{})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	resp, err = p.Find(context.Background(), "foo", Options{IncludeTests: true})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestFind_LanguageFilterExcludesMismatch(t *testing.T) {
	store := mustStore(t, 4)
	upsertChunk(t, store, "id-1", "pkg/foo.go", []float32{1, 0, 0, 0}, chunk.KindDefinition)

	p := New(fakeDense{vec: []float32{1, 0, 0, 0}}, nil, store, "repo", nil, nil, alwaysExists{}, nil)
	resp, err := p.Find(context.Background(), "foo", Options{Languages: []string{"python"}})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	resp, err = p.Find(context.Background(), "foo", Options{Languages: []string{"Go"}})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestFind_AlwaysIncludesAtLeastOneResultEvenUnderTinyBudget(t *testing.T) {
	store := mustStore(t, 4)
	upsertChunk(t, store, "id-1", "pkg/foo.go", []float32{1, 0, 0, 0}, chunk.KindDefinition)

	p := New(fakeDense{vec: []float32{1, 0, 0, 0}}, nil, store, "repo", nil, nil, alwaysExists{}, nil)
	resp, err := p.Find(context.Background(), "foo", Options{TokenBudget: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Greater(t, resp.TokenCount, 0)
}

func TestSemanticWeight_StaysWithinBounds(t *testing.T) {
	for _, intent := range []Intent{IntentDefault, IntentDebug, IntentDocument, IntentRefactor} {
		for _, kind := range []string{"function", "test", "comment", "other"} {
			w := semanticWeight(intent, kind)
			assert.GreaterOrEqual(t, float64(w), 0.8)
			assert.LessOrEqual(t, float64(w), 1.2)
		}
	}
}

func TestLessCandidate_TiebreaksDeterministically(t *testing.T) {
	a := candidate{result: vectorstore.SearchResult{Chunk: chunk.Chunk{FilePath: "a.go", LineStart: 5, ChunkID: "z"}}, score: 1.0}
	b := candidate{result: vectorstore.SearchResult{Chunk: chunk.Chunk{FilePath: "a.go", LineStart: 1, ChunkID: "a"}}, score: 1.0}
	// Equal score: lower line_start sorts first under lessCandidate's tiebreak.
	assert.True(t, lessCandidate(a, b) == false)
	assert.True(t, lessCandidate(b, a))
}

func TestIsTestPath(t *testing.T) {
	cases := map[string]bool{
		"pkg/foo_test.go":   true,
		"pkg/foo.go":        false,
		"tests/helpers.py":  true,
		"a/test_foo.py":     true,
		"a/foo_test.py":     true,
		"src/foo.ts":        false,
		"src/foo.spec.ts":   true,
	}
	for path, want := range cases {
		assert.Equal(t, want, isTestPath(path), path)
	}
}
