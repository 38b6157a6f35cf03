// Package embedding attaches dense and sparse vector embeddings to
// Chunks in batches (spec §4.4): accumulate, embed dense and sparse in
// parallel, classify each chunk against a four-way completion matrix,
// and hand off retryable failures to a background retry queue.
//
// Grounded on the teacher's internal/embed package (Embedder interface
// shape, DefaultBatchSize, exponential-backoff retry in retry.go) and
// internal/errors/circuit.go (CircuitBreaker guarding the retry worker's
// calls to the dense provider), generalized from the teacher's
// single-vector embedder to the spec's dense+sparse pair.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knitli/codeweaver/internal/chunk"
	cwerrors "github.com/knitli/codeweaver/internal/errors"
	"github.com/knitli/codeweaver/internal/vectorstore"
)

// Batch size bounds, carried from the teacher's embed package constants.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32
)

// DefaultMaxConcurrency bounds parallel embed calls in flight.
const DefaultMaxConcurrency = 4

// DefaultFlushTimeout bounds how long a partial batch waits to fill
// before being flushed anyway.
const DefaultFlushTimeout = 500 * time.Millisecond

// DenseEmbedder produces dense vectors for a batch of chunk contents.
type DenseEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// SparseEmbedder produces sparse vectors for a batch of chunk contents.
type SparseEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([]chunk.SparseVector, error)
	ModelName() string
}

// Config configures a Pipeline (spec §4.4).
type Config struct {
	BatchSize      int
	MaxConcurrency int
	DenseRequired  bool
	FlushTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	return c
}

// RejectedChunk carries a chunk the pipeline could not embed at all,
// along with the diagnostic explaining why (spec §4.4 step 5).
type RejectedChunk struct {
	Chunk chunk.Chunk
	Err   error
}

// Pipeline accumulates chunks into batches and attaches embeddings.
type Pipeline struct {
	dense  DenseEmbedder
	sparse SparseEmbedder
	cfg    Config
	logger *slog.Logger

	store      vectorstore.Store
	collection string
	breaker    *cwerrors.CircuitBreaker

	sem chan struct{}

	retryMu    sync.Mutex
	retryQueue []retryItem
}

type retryItem struct {
	chunk chunk.Chunk
}

// New creates a Pipeline. store and collection may be zero-valued if the
// caller does not want background retry to perform targeted upserts
// (e.g. a dry-run embedding-only pipeline in tests).
func New(dense DenseEmbedder, sparse SparseEmbedder, cfg Config, store vectorstore.Store, collection string, logger *slog.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		dense:      dense,
		sparse:     sparse,
		cfg:        cfg,
		logger:     logger,
		store:      store,
		collection: collection,
		breaker:    cwerrors.NewCircuitBreaker(cwerrors.DefaultCircuitBreakerOptions()),
		sem:        make(chan struct{}, cfg.MaxConcurrency),
	}
}

// Run accumulates chunks from in into batches of cfg.BatchSize (or until
// FlushTimeout elapses on a partial batch), embeds each batch, and
// emits embedded batches on the returned channel. Rejected chunks are
// sent to the rejected channel. Both channels close once in is
// exhausted and every in-flight batch has been processed, or ctx is
// cancelled — in which case accumulation halts, in-flight calls drain,
// and their results are discarded (spec §4.4's cancellation contract).
func (p *Pipeline) Run(ctx context.Context, in <-chan chunk.Chunk) (<-chan []chunk.Chunk, <-chan RejectedChunk) {
	out := make(chan []chunk.Chunk, 4)
	rejected := make(chan RejectedChunk, 4)

	go func() {
		defer close(out)
		defer close(rejected)

		var wg sync.WaitGroup
		defer wg.Wait()

		batch := make([]chunk.Chunk, 0, p.cfg.BatchSize)
		timer := time.NewTimer(p.cfg.FlushTimeout)
		defer timer.Stop()

		flush := func() {
			if len(batch) == 0 {
				return
			}
			toProcess := batch
			batch = make([]chunk.Chunk, 0, p.cfg.BatchSize)

			select {
			case p.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-p.sem }()
				p.processBatch(ctx, toProcess, out, rejected)
			}()
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ck, ok := <-in:
				if !ok {
					flush()
					return
				}
				batch = append(batch, ck)
				if len(batch) >= p.cfg.BatchSize {
					flush()
					timer.Reset(p.cfg.FlushTimeout)
				}
			case <-timer.C:
				flush()
				timer.Reset(p.cfg.FlushTimeout)
			}
		}
	}()

	return out, rejected
}

// processBatch embeds one batch, applying the four-way completion
// matrix from spec §4.4 step 3-5.
func (p *Pipeline) processBatch(ctx context.Context, batch []chunk.Chunk, out chan<- []chunk.Chunk, rejected chan<- RejectedChunk) {
	texts := make([]string, len(batch))
	for i, ck := range batch {
		texts[i] = ck.Content
	}

	var denseVecs [][]float32
	var sparseVecs []chunk.SparseVector
	var denseErr, sparseErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		denseVecs, denseErr = p.dense.EmbedBatch(gctx, texts)
		return nil // collected, not propagated: we classify per-chunk below
	})
	if p.sparse != nil {
		g.Go(func() error {
			sparseVecs, sparseErr = p.sparse.EmbedBatch(gctx, texts)
			return nil
		})
	} else {
		sparseErr = fmt.Errorf("embedding: no sparse provider configured")
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		// Cancellation: discard whatever completed (spec §4.4 backpressure).
		return
	}

	denseOK := denseErr == nil
	sparseOK := sparseErr == nil && p.sparse != nil

	var complete []chunk.Chunk
	for i, ck := range batch {
		switch {
		case denseOK && sparseOK:
			ck.Embeddings.Dense = denseVecs[i]
			ck.Embeddings.Sparse = sparseVecs[i]
			ck.Metadata.EmbeddingComplete = true
			complete = append(complete, ck)

		case sparseOK && !denseOK:
			ck.Embeddings.Sparse = sparseVecs[i]
			ck.Metadata.EmbeddingComplete = false
			complete = append(complete, ck)
			p.enqueueRetry(ck)

		case !sparseOK && denseOK && !p.cfg.DenseRequired:
			ck.Embeddings.Dense = denseVecs[i]
			ck.Metadata.EmbeddingComplete = false
			complete = append(complete, ck)

		default:
			// Sparse failed and (dense also failed, or dense_required and
			// sparse is the only thing that succeeded isn't possible here):
			// the chunk is rejected with a diagnostic.
			err := sparseErr
			if p.cfg.DenseRequired && denseErr != nil {
				err = fmt.Errorf("dense: %w; sparse: %v", denseErr, sparseErr)
			}
			select {
			case rejected <- RejectedChunk{Chunk: ck, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}

	if len(complete) > 0 {
		select {
		case out <- complete:
		case <-ctx.Done():
		}
	}
}

func (p *Pipeline) enqueueRetry(ck chunk.Chunk) {
	p.retryMu.Lock()
	defer p.retryMu.Unlock()
	p.retryQueue = append(p.retryQueue, retryItem{chunk: ck})
}

// PendingRetries reports the current retry queue depth, surfaced in
// indexer progress events.
func (p *Pipeline) PendingRetries() int {
	p.retryMu.Lock()
	defer p.retryMu.Unlock()
	return len(p.retryQueue)
}

// RunRetryWorker drains the retry queue at the given interval until ctx
// is cancelled, re-embedding dense vectors for embedding_complete=false
// chunks and, on success, performing a targeted upsert that replaces the
// stored point (spec §4.4's background retry contract).
func (p *Pipeline) RunRetryWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainRetryQueue(ctx)
		}
	}
}

func (p *Pipeline) drainRetryQueue(ctx context.Context) {
	p.retryMu.Lock()
	pending := p.retryQueue
	p.retryQueue = nil
	p.retryMu.Unlock()

	var stillFailing []retryItem
	for _, item := range pending {
		vec, err := cwerrors.ExecuteWithResult(ctx, p.breaker, func(ctx context.Context) ([]float32, error) {
			vecs, err := p.dense.EmbedBatch(ctx, []string{item.chunk.Content})
			if err != nil {
				return nil, err
			}
			return vecs[0], nil
		})
		if err != nil {
			stillFailing = append(stillFailing, item)
			continue
		}

		item.chunk.Embeddings.Dense = vec
		item.chunk.Metadata.EmbeddingComplete = true

		if p.store != nil && p.collection != "" {
			if err := p.store.Upsert(ctx, p.collection, []chunk.Chunk{item.chunk}); err != nil {
				p.logger.Warn("embedding: targeted retry upsert failed",
					slog.String("chunk_id", item.chunk.ChunkID), slog.String("error", err.Error()))
				stillFailing = append(stillFailing, item)
				continue
			}
		}
	}

	if len(stillFailing) > 0 {
		p.retryMu.Lock()
		p.retryQueue = append(p.retryQueue, stillFailing...)
		p.retryMu.Unlock()
	}
}
