package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/knitli/codeweaver/internal/chunk"
	"github.com/knitli/codeweaver/internal/discovery"
	"github.com/knitli/codeweaver/internal/embedding"
	metastore "github.com/knitli/codeweaver/internal/store"
	"github.com/knitli/codeweaver/internal/vectorstore"
)

// Orchestrator binds discovery, chunking, embedding, and a vectorstore.Store
// into Prime/Incremental/Watch sessions for one repository at a time
// (spec §4.8). One Orchestrator may be shared across repositories; only
// its state machine is per-collection.
type Orchestrator struct {
	walker   *discovery.Walker
	chunker  chunk.Chunker
	pipeline *embedding.Pipeline
	store    vectorstore.Store
	meta     *metastore.Store
	logger   *slog.Logger

	checkpointDir string

	mu     sync.Mutex
	states map[string]State
}

// New creates an Orchestrator. checkpointDir is where per-collection
// checkpoint files are written (spec §6's checkpoint wire format);
// pass "" to keep checkpoints alongside the process's working directory.
func New(walker *discovery.Walker, chunker chunk.Chunker, pipeline *embedding.Pipeline, store vectorstore.Store, meta *metastore.Store, checkpointDir string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		walker:        walker,
		chunker:       chunker,
		pipeline:      pipeline,
		store:         store,
		meta:          meta,
		checkpointDir: checkpointDir,
		logger:        logger,
		states:        make(map[string]State),
	}
}

// State reports the current state for collection (StateIdle if never set).
func (o *Orchestrator) State(collection string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.states[collection]; ok {
		return s
	}
	return StateIdle
}

func (o *Orchestrator) setState(collection string, s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[collection] = s
}

func (o *Orchestrator) checkpointPath(collection string) string {
	return filepath.Join(o.checkpointDir, collection+".checkpoint.json")
}

// Prime performs a full walk-chunk-embed-upsert pass over repo (spec §4.8
// mode 1). If a checkpoint from a prior interrupted Prime exists, files
// whose content hash matches the checkpoint's record are skipped rather
// than re-embedded, so a resumed Prime never duplicates work.
func (o *Orchestrator) Prime(ctx context.Context, repo discovery.RepositoryDescriptor, opts Options) (*PrimeResult, error) {
	opts = opts.withDefaults()
	start := time.Now()
	o.setState(repo.CollectionName, StatePriming)

	retryCtx, stopRetry := context.WithCancel(ctx)
	defer stopRetry()
	go o.pipeline.RunRetryWorker(retryCtx, opts.RetryWorkerInterval)

	if err := o.meta.SaveRepository(ctx, repo); err != nil {
		o.setState(repo.CollectionName, StateFailed)
		return nil, fmt.Errorf("indexer: save repository: %w", err)
	}

	ckpt := metastore.NewCheckpointStore(o.checkpointPath(repo.CollectionName))
	cp, resumed, err := ckpt.Load()
	if err != nil {
		o.logger.Warn("indexer: checkpoint load failed, priming from scratch",
			slog.String("collection", repo.CollectionName), slog.String("error", err.Error()))
		resumed = false
	}
	completedHashes := make(map[string]string, len(cp.CompletedFiles))
	for _, cf := range cp.CompletedFiles {
		completedHashes[cf.Path] = cf.Hash
	}

	results, err := o.walker.Walk(ctx, repo, opts.Discovery)
	if err != nil {
		o.setState(repo.CollectionName, StateFailed)
		return nil, fmt.Errorf("indexer: walk: %w", err)
	}

	var filesIndexed, chunksUpserted, sinceCheckpoint int
	degraded := false

	for res := range results {
		if ctx.Err() != nil {
			break
		}
		if res.Err != nil {
			o.logger.Warn("indexer: walk error", slog.String("error", res.Err.Error()))
			continue
		}
		f := res.File
		opts.OnProgress(ProgressEvent{
			Collection: repo.CollectionName, State: StatePriming, Stage: StageScanning,
			FilesSeen: filesIndexed + 1, RetriesPending: o.pipeline.PendingRetries(), Timestamp: time.Now(),
		})

		if err := discovery.Hash(f); err != nil {
			o.logger.Warn("indexer: hash failed, skipping file",
				slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}

		if priorHash, ok := completedHashes[f.Path]; ok && priorHash == f.ContentHash {
			filesIndexed++
			continue
		}

		n, err := o.indexOneFile(ctx, repo, f, opts)
		if err != nil {
			o.logger.Warn("indexer: indexing file failed, marking degraded",
				slog.String("path", f.Path), slog.String("error", err.Error()))
			degraded = true
			continue
		}

		filesIndexed++
		chunksUpserted += n
		sinceCheckpoint++
		completedHashes[f.Path] = f.ContentHash

		if sinceCheckpoint >= opts.CheckpointEvery {
			o.saveCheckpoint(ckpt, repo.CollectionName, completedHashes)
			sinceCheckpoint = 0
		}
	}

	if ctx.Err() != nil {
		o.saveCheckpoint(ckpt, repo.CollectionName, completedHashes)
		o.setState(repo.CollectionName, StateIdle)
		return &PrimeResult{FilesIndexed: filesIndexed, ChunksUpserted: chunksUpserted, Resumed: resumed, Duration: time.Since(start)}, ctx.Err()
	}

	if err := ckpt.Clear(); err != nil {
		o.logger.Warn("indexer: clearing checkpoint failed", slog.String("error", err.Error()))
	}

	if degraded {
		o.setState(repo.CollectionName, StateDegraded)
	} else {
		o.setState(repo.CollectionName, StateIdle)
	}

	return &PrimeResult{
		FilesIndexed:   filesIndexed,
		ChunksUpserted: chunksUpserted,
		Resumed:        resumed,
		Duration:       time.Since(start),
	}, nil
}

func (o *Orchestrator) saveCheckpoint(ckpt *metastore.CheckpointStore, collection string, completed map[string]string) {
	cp := metastore.Checkpoint{
		Collection:     collection,
		CompletedFiles: make([]metastore.CompletedFile, 0, len(completed)),
		RetryQueue:     nil,
	}
	for path, hash := range completed {
		cp.CompletedFiles = append(cp.CompletedFiles, metastore.CompletedFile{Path: path, Hash: hash})
	}
	if err := ckpt.Save(cp); err != nil {
		o.logger.Warn("indexer: checkpoint save failed", slog.String("collection", collection), slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) indexOneFile(ctx context.Context, repo discovery.RepositoryDescriptor, f *discovery.FileRecord, opts Options) (int, error) {
	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", f.Path, err)
	}

	chunks, err := o.chunker.Chunk(ctx, &chunk.FileInput{Path: f.Path, Content: content, Language: f.Language})
	if err != nil {
		return 0, fmt.Errorf("chunk %s: %w", f.Path, err)
	}

	n, err := o.embedAndUpsert(ctx, repo.CollectionName, f.Path, chunks, opts)
	if err != nil {
		return 0, err
	}

	if err := o.meta.SaveFile(ctx, repo.CollectionName, *f); err != nil {
		return n, fmt.Errorf("save file record %s: %w", f.Path, err)
	}
	return n, nil
}

// embedAndUpsert runs the embedding pipeline over chunks (all belonging
// to one file), upserts every resulting batch, and records the file's
// final chunk_id set so the next incremental update can diff against it
// (spec §4.8 step 2). A file with zero chunks clears any prior set.
func (o *Orchestrator) embedAndUpsert(ctx context.Context, collection, path string, chunks []*chunk.Chunk, opts Options) (int, error) {
	if len(chunks) == 0 {
		return 0, o.meta.SetFileChunks(ctx, collection, path, nil)
	}

	in := make(chan chunk.Chunk, len(chunks))
	for _, c := range chunks {
		in <- *c
	}
	close(in)

	out, rejected := o.pipeline.Run(ctx, in)

	rejDone := make(chan struct{})
	go func() {
		defer close(rejDone)
		for r := range rejected {
			o.logger.Warn("indexer: chunk rejected",
				slog.String("chunk_id", r.Chunk.ChunkID), slog.String("path", path), slog.String("error", r.Err.Error()))
		}
	}()

	var upserted int
	var ids []string
	for batch := range out {
		if err := o.store.Upsert(ctx, collection, batch); err != nil {
			<-rejDone
			return upserted, fmt.Errorf("upsert %s: %w", path, err)
		}
		for _, c := range batch {
			ids = append(ids, c.ChunkID)
		}
		upserted += len(batch)
		opts.OnProgress(ProgressEvent{
			Collection: collection, Stage: StageUpserting, ChunksUpserted: upserted, Timestamp: time.Now(),
		})
	}
	<-rejDone

	if err := o.meta.SetFileChunks(ctx, collection, path, ids); err != nil {
		return upserted, fmt.Errorf("record chunk set %s: %w", path, err)
	}
	return upserted, nil
}
