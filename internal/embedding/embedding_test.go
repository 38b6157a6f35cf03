package embedding

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knitli/codeweaver/internal/chunk"
)

type fakeDense struct {
	fail bool
	dim  int
}

func (f *fakeDense) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("dense provider unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
		out[i][0] = 1
	}
	return out, nil
}
func (f *fakeDense) Dimensions() int  { return f.dim }
func (f *fakeDense) ModelName() string { return "fake-dense" }

type fakeSparse struct {
	fail bool
}

func (f *fakeSparse) EmbedBatch(ctx context.Context, texts []string) ([]chunk.SparseVector, error) {
	if f.fail {
		return nil, fmt.Errorf("sparse provider unavailable")
	}
	out := make([]chunk.SparseVector, len(texts))
	for i := range texts {
		out[i] = chunk.SparseVector{Indices: []uint32{1, 2}, Values: []float32{0.5, 0.3}}
	}
	return out, nil
}
func (f *fakeSparse) ModelName() string { return "fake-sparse" }

func makeChunks(n int) []chunk.Chunk {
	chunks := make([]chunk.Chunk, n)
	for i := range chunks {
		chunks[i] = chunk.Chunk{ChunkID: fmt.Sprintf("c%d", i), Content: "package main"}
	}
	return chunks
}

func runPipeline(t *testing.T, p *Pipeline, chunks []chunk.Chunk) ([]chunk.Chunk, []RejectedChunk) {
	t.Helper()
	in := make(chan chunk.Chunk, len(chunks))
	for _, c := range chunks {
		in <- c
	}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, rejected := p.Run(ctx, in)

	var complete []chunk.Chunk
	var rej []RejectedChunk
	done := make(chan struct{})
	go func() {
		defer close(done)
		for batch := range out {
			complete = append(complete, batch...)
		}
	}()
	for r := range rejected {
		rej = append(rej, r)
	}
	<-done
	return complete, rej
}

func TestPipeline_BothSucceed_MarksComplete(t *testing.T) {
	p := New(&fakeDense{dim: 4}, &fakeSparse{}, Config{BatchSize: 2}, nil, "", nil)
	complete, rejected := runPipeline(t, p, makeChunks(3))

	require.Len(t, complete, 3)
	assert.Empty(t, rejected)
	for _, c := range complete {
		assert.True(t, c.Metadata.EmbeddingComplete)
		assert.NotEmpty(t, c.Embeddings.Dense)
		assert.NotEmpty(t, c.Embeddings.Sparse.Indices)
	}
}

func TestPipeline_DenseFails_SparseOnlyAndEnqueuesRetry(t *testing.T) {
	p := New(&fakeDense{dim: 4, fail: true}, &fakeSparse{}, Config{BatchSize: 2}, nil, "", nil)
	complete, rejected := runPipeline(t, p, makeChunks(2))

	require.Len(t, complete, 2)
	assert.Empty(t, rejected)
	for _, c := range complete {
		assert.False(t, c.Metadata.EmbeddingComplete)
		assert.Empty(t, c.Embeddings.Dense)
		assert.NotEmpty(t, c.Embeddings.Sparse.Indices)
	}
	assert.Equal(t, 2, p.PendingRetries())
}

func TestPipeline_SparseFails_DenseRequired_Rejects(t *testing.T) {
	p := New(&fakeDense{dim: 4, fail: true}, &fakeSparse{fail: true}, Config{BatchSize: 2, DenseRequired: true}, nil, "", nil)
	complete, rejected := runPipeline(t, p, makeChunks(1))

	assert.Empty(t, complete)
	require.Len(t, rejected, 1)
	assert.Error(t, rejected[0].Err)
}

func TestPipeline_SparseFails_DenseSucceeds_NotRequired_StillCompletesDenseOnly(t *testing.T) {
	p := New(&fakeDense{dim: 4}, &fakeSparse{fail: true}, Config{BatchSize: 2, DenseRequired: false}, nil, "", nil)
	complete, rejected := runPipeline(t, p, makeChunks(1))

	require.Len(t, complete, 1)
	assert.Empty(t, rejected)
	assert.False(t, complete[0].Metadata.EmbeddingComplete)
	assert.NotEmpty(t, complete[0].Embeddings.Dense)
}
