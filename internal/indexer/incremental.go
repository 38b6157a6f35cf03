package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/knitli/codeweaver/internal/chunk"
	"github.com/knitli/codeweaver/internal/discovery"
)

// Incremental applies a single filesystem change event to an already
// primed collection (spec §4.8 mode 2): delete, (re)index, or reconcile
// a move, without a full repository walk.
func (o *Orchestrator) Incremental(ctx context.Context, repo discovery.RepositoryDescriptor, event discovery.ChangeEvent) error {
	prev := o.State(repo.CollectionName)
	o.setState(repo.CollectionName, StateUpdating)
	defer o.setState(repo.CollectionName, prev)

	switch event.Kind {
	case discovery.ChangeDeleted:
		return o.handleDelete(ctx, repo, event.Path)
	case discovery.ChangeMoved:
		return o.handleMove(ctx, repo, event)
	case discovery.ChangeCreated, discovery.ChangeModified:
		return o.reindexFile(ctx, repo, event.Path)
	default:
		return fmt.Errorf("indexer: unknown change kind %q", event.Kind)
	}
}

func (o *Orchestrator) handleDelete(ctx context.Context, repo discovery.RepositoryDescriptor, path string) error {
	collection := repo.CollectionName
	ids, err := o.meta.GetFileChunks(ctx, collection, path)
	if err != nil {
		return fmt.Errorf("indexer: lookup chunks for deleted file %s: %w", path, err)
	}
	if len(ids) > 0 {
		if err := o.store.DeleteByID(ctx, collection, ids); err != nil {
			return fmt.Errorf("indexer: delete chunks for %s: %w", path, err)
		}
	} else if err := o.store.DeleteByFile(ctx, collection, path); err != nil {
		return fmt.Errorf("indexer: delete by file %s: %w", path, err)
	}
	if err := o.meta.DeleteFile(ctx, collection, path); err != nil {
		return fmt.Errorf("indexer: delete file record %s: %w", path, err)
	}
	return nil
}

// reindexFile re-walks a single file: chunk it fresh, embed the batch,
// upsert it, and delete whatever chunk_ids the file used to own but no
// longer does (spec §4.8 step 2's diff-against-prior-set rule).
func (o *Orchestrator) reindexFile(ctx context.Context, repo discovery.RepositoryDescriptor, relPath string) error {
	collection := repo.CollectionName

	priorIDs, err := o.meta.GetFileChunks(ctx, collection, relPath)
	if err != nil {
		return fmt.Errorf("indexer: lookup prior chunks for %s: %w", relPath, err)
	}

	rec, statErr := statFileRecord(repo, relPath)
	if statErr != nil {
		// File vanished between the watch event firing and us reading it:
		// treat it as a delete rather than surfacing a transient error.
		return o.handleDelete(ctx, repo, relPath)
	}
	if err := discovery.Hash(rec); err != nil {
		return fmt.Errorf("indexer: hash %s: %w", relPath, err)
	}

	content, err := readFile(rec.AbsPath)
	if err != nil {
		return fmt.Errorf("indexer: read %s: %w", relPath, err)
	}

	chunks, err := o.chunker.Chunk(ctx, &chunk.FileInput{Path: relPath, Content: content, Language: rec.Language})
	if err != nil {
		return fmt.Errorf("indexer: chunk %s: %w", relPath, err)
	}

	opts := Options{}.withDefaults()
	newCount, err := o.embedAndUpsert(ctx, collection, relPath, chunks, opts)
	if err != nil {
		return err
	}

	newIDs, err := o.meta.GetFileChunks(ctx, collection, relPath)
	if err != nil {
		return fmt.Errorf("indexer: lookup new chunks for %s: %w", relPath, err)
	}
	if stale := diffIDs(priorIDs, newIDs); len(stale) > 0 {
		if err := o.store.DeleteByID(ctx, collection, stale); err != nil {
			return fmt.Errorf("indexer: delete stale chunks for %s: %w", relPath, err)
		}
	}

	if err := o.meta.SaveFile(ctx, collection, *rec); err != nil {
		return fmt.Errorf("indexer: save file record %s: %w", relPath, err)
	}

	o.logger.Debug("indexer: reindexed file",
		slog.String("path", relPath), slog.Int("chunks", newCount))
	return nil
}

// handleMove reconciles a detected rename (spec §4.8's moved-file case).
// When the moved file's content is unchanged from what is already
// indexed under the old path, the existing chunks (embeddings included)
// are fetched via ChunksForFile and re-upserted under the new path and
// chunk_ids, with no embedder call at all. Any content drift falls back
// to a full reindex of the new path plus a delete of the old one.
func (o *Orchestrator) handleMove(ctx context.Context, repo discovery.RepositoryDescriptor, event discovery.ChangeEvent) error {
	collection := repo.CollectionName

	rec, statErr := statFileRecord(repo, event.Path)
	if statErr != nil {
		return o.handleDelete(ctx, repo, event.OldPath)
	}
	if err := discovery.Hash(rec); err != nil {
		return fmt.Errorf("indexer: hash moved file %s: %w", event.Path, err)
	}

	oldRecord, hadOld, err := o.meta.GetFile(ctx, collection, event.OldPath)
	if err != nil {
		return fmt.Errorf("indexer: lookup old file record %s: %w", event.OldPath, err)
	}
	if !hadOld || oldRecord.ContentHash != rec.ContentHash {
		// Either the old path was never indexed, or content diverged between
		// the rename and this hash: no reuse possible, index fresh.
		if err := o.reindexFile(ctx, repo, event.Path); err != nil {
			return err
		}
		return o.handleDelete(ctx, repo, event.OldPath)
	}

	oldChunks, err := o.store.ChunksForFile(ctx, collection, event.OldPath)
	if err != nil {
		return fmt.Errorf("indexer: fetch chunks for moved file %s: %w", event.OldPath, err)
	}
	if len(oldChunks) == 0 {
		// Metadata said the file was indexed but the vector store disagrees:
		// fall back to a fresh embed rather than leaving the new path empty.
		if err := o.reindexFile(ctx, repo, event.Path); err != nil {
			return err
		}
		return o.handleDelete(ctx, repo, event.OldPath)
	}

	now := time.Now().UTC()
	rewritten := make([]chunk.Chunk, 0, len(oldChunks))
	newIDs := make([]string, 0, len(oldChunks))
	for _, ck := range oldChunks {
		ck.FilePath = event.Path
		ck.ChunkName = event.Path + ":" + symbolSuffix(ck.ChunkName)
		ck.ChunkID = chunk.ChunkID(event.Path, chunk.ContentHash([]byte(ck.Content)), ck.LineStart, ck.LineEnd)
		ck.Metadata.IndexedAt = now
		rewritten = append(rewritten, ck)
		newIDs = append(newIDs, ck.ChunkID)
	}

	if err := o.store.Upsert(ctx, collection, rewritten); err != nil {
		return fmt.Errorf("indexer: upsert moved chunks for %s: %w", event.Path, err)
	}
	if err := o.meta.SetFileChunks(ctx, collection, event.Path, newIDs); err != nil {
		return fmt.Errorf("indexer: record chunk set for moved file %s: %w", event.Path, err)
	}

	if err := o.handleDelete(ctx, repo, event.OldPath); err != nil {
		return fmt.Errorf("indexer: clear old path after move %s: %w", event.OldPath, err)
	}

	newRec := oldRecord
	newRec.Path = event.Path
	newRec.AbsPath = rec.AbsPath
	if err := o.meta.SaveFile(ctx, collection, newRec); err != nil {
		return fmt.Errorf("indexer: save moved file record %s: %w", event.Path, err)
	}

	o.logger.Debug("indexer: reconciled move without re-embedding",
		slog.String("old_path", event.OldPath), slog.String("new_path", event.Path), slog.Int("chunks", len(rewritten)))
	return nil
}

// Watch drives a long-lived Watching session: it consumes debounced
// ChangeEvents from w and dispatches each into Incremental, transitioning
// Watching<->Updating per event (spec §4.8 mode 3). Watch returns when
// ctx is cancelled or w's event channel closes.
func (o *Orchestrator) Watch(ctx context.Context, repo discovery.RepositoryDescriptor, w *discovery.Watcher) error {
	o.setState(repo.CollectionName, StateWatching)

	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()

	events := w.Events()
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			<-runErr
			o.setState(repo.CollectionName, StateIdle)
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				err := <-runErr
				o.setState(repo.CollectionName, StateIdle)
				return err
			}
			if err := o.Incremental(ctx, repo, ev); err != nil {
				o.logger.Warn("indexer: incremental update failed",
					slog.String("path", ev.Path), slog.String("kind", string(ev.Kind)), slog.String("error", err.Error()))
			}
		}
	}
}

func diffIDs(prior, current []string) []string {
	currentSet := make(map[string]struct{}, len(current))
	for _, id := range current {
		currentSet[id] = struct{}{}
	}
	var stale []string
	for _, id := range prior {
		if _, ok := currentSet[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale
}

func symbolSuffix(chunkName string) string {
	for i := len(chunkName) - 1; i >= 0; i-- {
		if chunkName[i] == ':' {
			return chunkName[i+1:]
		}
	}
	return chunkName
}
