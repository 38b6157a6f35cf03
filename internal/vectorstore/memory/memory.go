// Package memory implements the embedded, no-network vector store backend
// (spec §4.7): a dense HNSW index plus a sparse dot-product accumulator
// running in the hosting process, periodically snapshotted to a JSON
// file. Intended for development and tests; the soft cap documented on
// SoftCapChunks is the point at which the Qdrant backend
// (vectorstore/qdrant) should be used instead.
//
// Grounded on the teacher's internal/store.HNSWStore (dense ANN index,
// ID mapping, atomic temp-file+rename persistence) and
// internal/async.IndexProgress's pattern of a background goroutine
// driven by a ticker, adapted to snapshot a whole collection set
// instead of a single index.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/hnsw"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gofrs/flock"

	"github.com/knitli/codeweaver/internal/chunk"
	cwerrors "github.com/knitli/codeweaver/internal/errors"
	"github.com/knitli/codeweaver/internal/vectorstore"
)

// MinSnapshotInterval is the floor on snapshot frequency (spec §4.7).
const MinSnapshotInterval = 10 * time.Second

// SoftCapChunks is the point beyond which the Qdrant backend is
// recommended instead of this one (spec §4.7). Store logs nothing when it
// is reached; the payload cache (payloadCacheSize) holds at most this many
// chunks per collection and evicts the least recently used beyond it.
const SoftCapChunks = 10000

// payloadCacheSize bounds the in-memory chunk payload cache per
// collection. Acting as the store of record as well as a cache, its
// size is the practical soft cap on collection size for this backend.
const payloadCacheSize = SoftCapChunks

// Options configures a Store.
type Options struct {
	// SnapshotPath is the JSON file snapshots are written to. Empty
	// disables persistence (useful for ephemeral tests).
	SnapshotPath string
	// SnapshotInterval is how often the background snapshot loop runs.
	// Clamped up to MinSnapshotInterval.
	SnapshotInterval time.Duration
	Logger           *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.SnapshotInterval < MinSnapshotInterval {
		o.SnapshotInterval = MinSnapshotInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Store is the embedded in-process vectorstore.Store implementation.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	opts        Options
	flock       *flock.Flock

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type collection struct {
	metadata vectorstore.CollectionMetadata

	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64 // chunk_id -> hnsw key
	keyMap  map[uint64]string // hnsw key -> chunk_id
	nextKey uint64

	sparse map[string]chunk.SparseVector // chunk_id -> sparse vector
	chunks *lru.Cache[string, chunk.Chunk]
}

func newCollection(metadata vectorstore.CollectionMetadata) (*collection, error) {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	cache, err := lru.New[string, chunk.Chunk](payloadCacheSize)
	if err != nil {
		return nil, fmt.Errorf("vectorstore/memory: create payload cache: %w", err)
	}

	return &collection{
		metadata: metadata,
		graph:    graph,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		sparse:   make(map[string]chunk.SparseVector),
		chunks:   cache,
	}, nil
}

// NewStore creates a Store, restoring from opts.SnapshotPath if present,
// and starts the background snapshot loop. Call Close to stop the loop
// and write a final snapshot.
func NewStore(opts Options) (*Store, error) {
	opts = opts.withDefaults()

	s := &Store{
		collections: make(map[string]*collection),
		opts:        opts,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	if opts.SnapshotPath != "" {
		s.flock = flock.New(opts.SnapshotPath + ".lock")
		if err := s.restore(); err != nil && !os.IsNotExist(err) {
			opts.Logger.Warn("vectorstore/memory: snapshot restore failed, starting empty",
				slog.String("error", err.Error()))
		}
		go s.snapshotLoop()
	} else {
		close(s.done)
	}

	return s, nil
}

func (s *Store) snapshotLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.snapshot(); err != nil {
				s.opts.Logger.Warn("vectorstore/memory: periodic snapshot failed",
					slog.String("error", err.Error()))
			}
		case <-s.stop:
			return
		}
	}
}

func (s *Store) EnsureCollection(ctx context.Context, name string, metadata vectorstore.CollectionMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.collections[name]
	if !ok {
		c, err := newCollection(metadata)
		if err != nil {
			return err
		}
		s.collections[name] = c
		return nil
	}

	if !existing.metadata.Matches(metadata) {
		return cwerrors.ProviderSwitchError(
			existing.metadata.ProviderTag, metadata.ProviderTag,
			existing.metadata.DenseDimension, metadata.DenseDimension,
		)
	}
	return nil
}

func (s *Store) getCollection(name string) (*collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, vectorstore.ErrCollectionNotFound{Collection: name}
	}
	return c, nil
}

func (s *Store) Upsert(ctx context.Context, collectionName string, chunks []chunk.Chunk) error {
	c, err := s.getCollection(collectionName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ck := range chunks {
		if len(ck.Embeddings.Dense) > 0 && c.metadata.DenseDimension != 0 && len(ck.Embeddings.Dense) != c.metadata.DenseDimension {
			return cwerrors.DimensionMismatch(c.metadata.DenseDimension, len(ck.Embeddings.Dense))
		}
	}
	for _, ck := range chunks {
		if len(ck.Embeddings.Dense) > 0 {
			s.upsertDenseLocked(c, ck)
		}
		if len(ck.Embeddings.Sparse.Indices) > 0 {
			c.sparse[ck.ChunkID] = ck.Embeddings.Sparse
		}
		ck.Metadata.IndexedAt = time.Now()
		c.chunks.Add(ck.ChunkID, ck)
	}
	return nil
}

func (s *Store) upsertDenseLocked(c *collection, ck chunk.Chunk) {
	if existingKey, exists := c.idMap[ck.ChunkID]; exists {
		// Lazy deletion: orphan the old graph node rather than call
		// graph.Delete, which mishandles removing the last node.
		delete(c.keyMap, existingKey)
		delete(c.idMap, ck.ChunkID)
	}

	key := c.nextKey
	c.nextKey++

	vec := make([]float32, len(ck.Embeddings.Dense))
	copy(vec, ck.Embeddings.Dense)
	normalizeInPlace(vec)

	c.graph.Add(hnsw.MakeNode(key, vec))
	c.idMap[ck.ChunkID] = key
	c.keyMap[key] = ck.ChunkID
}

func (s *Store) DeleteByFile(ctx context.Context, collectionName, path string) error {
	c, err := s.getCollection(collectionName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, key := range c.chunks.Keys() {
		ck, ok := c.chunks.Peek(key)
		if ok && ck.FilePath == path {
			ids = append(ids, key)
		}
	}
	s.deleteIDsLocked(c, ids)
	return nil
}

// ChunksForFile returns every chunk cached for path within collectionName,
// including the embeddings attached at Upsert time.
func (s *Store) ChunksForFile(ctx context.Context, collectionName, path string) ([]chunk.Chunk, error) {
	c, err := s.getCollection(collectionName)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []chunk.Chunk
	for _, key := range c.chunks.Keys() {
		ck, ok := c.chunks.Peek(key)
		if ok && ck.FilePath == path {
			out = append(out, ck)
		}
	}
	return out, nil
}

func (s *Store) DeleteByID(ctx context.Context, collectionName string, ids []string) error {
	c, err := s.getCollection(collectionName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteIDsLocked(c, ids)
	return nil
}

func (s *Store) DeleteByName(ctx context.Context, collectionName string, names []string) error {
	c, err := s.getCollection(collectionName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}

	var ids []string
	for _, key := range c.chunks.Keys() {
		ck, ok := c.chunks.Peek(key)
		if !ok {
			continue
		}
		if _, match := wanted[ck.ChunkName]; match {
			ids = append(ids, key)
		}
	}
	s.deleteIDsLocked(c, ids)
	return nil
}

func (s *Store) deleteIDsLocked(c *collection, ids []string) {
	for _, id := range ids {
		if key, exists := c.idMap[id]; exists {
			delete(c.keyMap, key)
			delete(c.idMap, id)
		}
		delete(c.sparse, id)
		c.chunks.Remove(id)
	}
}

func (s *Store) Search(ctx context.Context, collectionName string, query vectorstore.QueryVectors, filter vectorstore.Filter, limit int) ([]vectorstore.SearchResult, error) {
	c, err := s.getCollection(collectionName)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var denseHits, sparseHits []vectorstore.SearchResult
	if query.HasDense() {
		denseHits = s.searchDenseLocked(c, query.Dense, limit*3)
	}
	if query.HasSparse() {
		sparseHits = s.searchSparseLocked(c, query.Sparse, limit*3)
	}

	results := s.combineAndFilter(c, denseHits, sparseHits, filter)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Store) searchDenseLocked(c *collection, query []float32, k int) []vectorstore.SearchResult {
	if c.graph.Len() == 0 {
		return nil
	}
	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := c.graph.Search(normalized, k)
	out := make([]vectorstore.SearchResult, 0, len(nodes))
	for _, n := range nodes {
		id, ok := c.keyMap[n.Key]
		if !ok {
			continue
		}
		ck, ok := c.chunks.Get(id)
		if !ok {
			continue
		}
		dist := c.graph.Distance(normalized, n.Value)
		score := 1.0 - dist/2.0
		out = append(out, vectorstore.SearchResult{
			Chunk: ck, Score: score, DenseScore: score, SearchMode: vectorstore.ModeDense,
		})
	}
	return out
}

func (s *Store) searchSparseLocked(c *collection, query chunk.SparseVector, k int) []vectorstore.SearchResult {
	queryMap := make(map[uint32]float32, len(query.Indices))
	for i, idx := range query.Indices {
		queryMap[idx] = query.Values[i]
	}

	type scored struct {
		id    string
		score float32
	}
	var all []scored
	for id, vec := range c.sparse {
		var dot float32
		for i, idx := range vec.Indices {
			if v, ok := queryMap[idx]; ok {
				dot += v * vec.Values[i]
			}
		}
		if dot > 0 {
			all = append(all, scored{id: id, score: dot})
		}
	}

	sortScored(all)
	if len(all) > k {
		all = all[:k]
	}

	out := make([]vectorstore.SearchResult, 0, len(all))
	for _, sc := range all {
		ck, ok := c.chunks.Get(sc.id)
		if !ok {
			continue
		}
		out = append(out, vectorstore.SearchResult{
			Chunk: ck, Score: sc.score, SparseScore: sc.score, SearchMode: vectorstore.ModeSparse,
		})
	}
	return out
}

func sortScored(all []struct {
	id    string
	score float32
}) {
	for i := 1; i < len(all); i++ {
		j := i
		for j > 0 && all[j-1].score < all[j].score {
			all[j-1], all[j] = all[j], all[j-1]
			j--
		}
	}
}

// combineAndFilter fuses dense and sparse hit lists (RRF, when both are
// present) and applies the query Filter.
func (s *Store) combineAndFilter(c *collection, dense, sparse []vectorstore.SearchResult, filter vectorstore.Filter) []vectorstore.SearchResult {
	byID := make(map[string]vectorstore.SearchResult)
	for _, r := range dense {
		byID[r.Chunk.ChunkID] = r
	}
	for _, r := range sparse {
		if existing, ok := byID[r.Chunk.ChunkID]; ok {
			existing.SparseScore = r.SparseScore
			existing.SearchMode = vectorstore.ModeHybrid
			byID[r.Chunk.ChunkID] = existing
		} else {
			byID[r.Chunk.ChunkID] = r
		}
	}

	if len(dense) > 0 && len(sparse) > 0 {
		fused := fuseRankedLists(dense, sparse)
		for id, score := range fused {
			r := byID[id]
			r.Score = score
			r.SearchMode = vectorstore.ModeHybrid
			byID[id] = r
		}
	}

	out := make([]vectorstore.SearchResult, 0, len(byID))
	for _, r := range byID {
		if !matchesFilter(r.Chunk, filter) {
			continue
		}
		r.FileExists = fileExists(r.Chunk.FilePath)
		out = append(out, r)
	}
	sortResultsDescending(out)
	return out
}

func fuseRankedLists(dense, sparse []vectorstore.SearchResult) map[string]float32 {
	toHits := func(rs []vectorstore.SearchResult) []vectorstore.RankedHit {
		hits := make([]vectorstore.RankedHit, len(rs))
		for i, r := range rs {
			hits[i] = vectorstore.RankedHit{ID: r.Chunk.ChunkID, Score: r.Score}
		}
		return hits
	}
	return vectorstore.FuseRRF(toHits(dense), toHits(sparse))
}

func matchesFilter(ck chunk.Chunk, f vectorstore.Filter) bool {
	if len(f.Languages) > 0 {
		found := false
		for _, lang := range f.Languages {
			if ck.Language == lang {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.LineRangeStart > 0 && ck.LineEnd < f.LineRangeStart {
		return false
	}
	if f.LineRangeEnd > 0 && ck.LineStart > f.LineRangeEnd {
		return false
	}
	if f.EmbeddingComplete != nil && ck.Metadata.EmbeddingComplete != *f.EmbeddingComplete {
		return false
	}
	if len(f.FilePathPatterns) > 0 {
		found := false
		for _, pattern := range f.FilePathPatterns {
			if matched, _ := filepath.Match(pattern, ck.FilePath); matched {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.CommitHashes) > 0 {
		found := false
		for _, h := range f.CommitHashes {
			if ck.Metadata.GitCommit == h {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func sortResultsDescending(results []vectorstore.SearchResult) {
	for i := 1; i < len(results); i++ {
		j := i
		for j > 0 && results[j-1].Score < results[j].Score {
			results[j-1], results[j] = results[j], results[j-1]
			j--
		}
	}
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	return names, nil
}

func (s *Store) Health(ctx context.Context) vectorstore.HealthStatus {
	return vectorstore.HealthStatus{Healthy: true, Detail: "embedded in-process store"}
}

// Close stops the snapshot loop, writes a final snapshot, and releases
// the lock file.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.opts.SnapshotPath != "" {
		<-s.done
		return s.snapshot()
	}
	return nil
}

// normalizeInPlace normalizes a vector to unit length, matching the
// teacher's cosine-similarity preparation step.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// snapshotSchemaVersion guards snapshot-file compatibility across
// releases of this backend.
const snapshotSchemaVersion = 1

type snapshotCollection struct {
	Metadata vectorstore.CollectionMetadata `json:"metadata"`
	Chunks   []chunk.Chunk                  `json:"chunks"`
}

type snapshotFile struct {
	SchemaVersion int                            `json:"schema_version"`
	Collections   map[string]snapshotCollection  `json:"collections"`
	WrittenAt     time.Time                      `json:"written_at"`
}

func (s *Store) snapshot() error {
	if s.opts.SnapshotPath == "" {
		return nil
	}
	if err := s.flock.Lock(); err != nil {
		return fmt.Errorf("vectorstore/memory: lock snapshot file: %w", err)
	}
	defer func() { _ = s.flock.Unlock() }()

	s.mu.RLock()
	file := snapshotFile{
		SchemaVersion: snapshotSchemaVersion,
		Collections:   make(map[string]snapshotCollection, len(s.collections)),
		WrittenAt:     time.Now(),
	}
	for name, c := range s.collections {
		chunks := make([]chunk.Chunk, 0, c.chunks.Len())
		for _, key := range c.chunks.Keys() {
			if ck, ok := c.chunks.Peek(key); ok {
				chunks = append(chunks, ck)
			}
		}
		file.Collections[name] = snapshotCollection{Metadata: c.metadata, Chunks: chunks}
	}
	s.mu.RUnlock()

	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("vectorstore/memory: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.opts.SnapshotPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("vectorstore/memory: create snapshot dir: %w", err)
	}
	tmp := s.opts.SnapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("vectorstore/memory: write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.opts.SnapshotPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("vectorstore/memory: rename snapshot into place: %w", err)
	}
	return nil
}

func (s *Store) restore() error {
	if err := s.flock.Lock(); err != nil {
		return fmt.Errorf("vectorstore/memory: lock snapshot file: %w", err)
	}
	defer func() { _ = s.flock.Unlock() }()

	data, err := os.ReadFile(s.opts.SnapshotPath)
	if err != nil {
		return err
	}

	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("vectorstore/memory: decode snapshot: %w", err)
	}
	if file.SchemaVersion != snapshotSchemaVersion {
		return fmt.Errorf("vectorstore/memory: snapshot schema version %d unsupported (want %d)",
			file.SchemaVersion, snapshotSchemaVersion)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, sc := range file.Collections {
		c, err := newCollection(sc.Metadata)
		if err != nil {
			return err
		}
		s.collections[name] = c
		for _, ck := range sc.Chunks {
			if len(ck.Embeddings.Dense) > 0 {
				s.upsertDenseLocked(c, ck)
			}
			if len(ck.Embeddings.Sparse.Indices) > 0 {
				c.sparse[ck.ChunkID] = ck.Embeddings.Sparse
			}
			c.chunks.Add(ck.ChunkID, ck)
		}
	}
	return nil
}

var _ vectorstore.Store = (*Store)(nil)
