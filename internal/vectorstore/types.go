// Package vectorstore defines the uniform persistence/retrieval contract
// (spec §4.5) that every concrete backend — Qdrant (vectorstore/qdrant)
// and the embedded in-process engine (vectorstore/memory) — implements
// identically, so the indexer and query pipeline never branch on which
// one is active.
//
// Grounded on the teacher's internal/store.VectorStore interface,
// generalized from a single anonymous vector per point to named
// dense+sparse vectors and from ID-only results to full Chunk-carrying
// SearchResults, per the spec's richer contract.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/knitli/codeweaver/internal/chunk"
)

// VectorName identifies one of a point's named vectors.
type VectorName string

const (
	VectorDense  VectorName = "dense"
	VectorSparse VectorName = "sparse"
)

// QueryVectors bundles whichever named vectors a search call provides.
// Search accepts any non-empty combination.
type QueryVectors struct {
	Dense  []float32
	Sparse chunk.SparseVector
}

// HasDense reports whether a dense query vector was supplied.
func (q QueryVectors) HasDense() bool { return len(q.Dense) > 0 }

// HasSparse reports whether a sparse query vector was supplied.
func (q QueryVectors) HasSparse() bool { return len(q.Sparse.Indices) > 0 }

// Filter is a conjunction of optional clauses; all supplied clauses are
// AND-combined (spec §3's Filter definition).
type Filter struct {
	FilePathPatterns    []string
	Languages           []string
	LineRangeStart      int
	LineRangeEnd        int
	EmbeddingComplete   *bool
	CommitHashes        []string
}

// IsZero reports whether the filter carries no clauses.
func (f Filter) IsZero() bool {
	return len(f.FilePathPatterns) == 0 && len(f.Languages) == 0 &&
		f.LineRangeStart == 0 && f.LineRangeEnd == 0 &&
		f.EmbeddingComplete == nil && len(f.CommitHashes) == 0
}

// SearchMode records which vectors contributed to a SearchResult.
type SearchMode string

const (
	ModeDense  SearchMode = "dense"
	ModeSparse SearchMode = "sparse"
	ModeHybrid SearchMode = "hybrid"
)

// SearchResult is a single hit: the Chunk plus its score and provenance
// (spec §3's SearchResult definition).
type SearchResult struct {
	Chunk       chunk.Chunk
	Score       float32
	DenseScore  float32
	SparseScore float32
	RerankScore float32
	SearchMode  SearchMode
	FileExists  bool
}

// CollectionMetadata is persisted once at collection creation and is
// immutable thereafter; ensure_collection compares it against the active
// provider config to detect a provider switch (spec §3/§4.5/§4.6).
type CollectionMetadata struct {
	ProviderTag        string
	SchemaVersion      int
	CreatedAt          time.Time
	DenseDimension     int
	MaxSparseDimension int
	ProjectName        string
}

// Matches reports whether desired is compatible with the metadata already
// stored for a collection. Only the fields relevant to embedding
// compatibility are compared; ProjectName and CreatedAt never trigger a
// mismatch.
func (m CollectionMetadata) Matches(desired CollectionMetadata) bool {
	return m.ProviderTag == desired.ProviderTag &&
		m.SchemaVersion == desired.SchemaVersion &&
		m.DenseDimension == desired.DenseDimension
}

// HealthStatus is the result of a lightweight liveness probe.
type HealthStatus struct {
	Healthy bool
	Detail  string
}

// Store is the uniform contract every vector store backend implements
// (spec §4.5). In the in-memory backend Upsert and Search are
// linearizable per collection; the Qdrant backend upserts with
// wait=false, so a search right after Upsert may not see the new points
// yet. Deletes are observable on the very next search.
type Store interface {
	// EnsureCollection is idempotent. If the collection already exists,
	// its stored CollectionMetadata is validated against metadata;
	// on mismatch it returns a *errors.CodeWeaverError built via
	// errors.ProviderSwitchError.
	EnsureCollection(ctx context.Context, collection string, metadata CollectionMetadata) error

	// Upsert batch-writes chunks. Each chunk produces one point with
	// named vectors for whichever of {dense, sparse} are present, plus
	// a payload carrying the chunk's metadata and an indexed-at
	// timestamp. Atomic per batch.
	Upsert(ctx context.Context, collection string, chunks []chunk.Chunk) error

	// DeleteByFile removes every chunk whose FilePath equals path, using
	// an indexed payload filter.
	DeleteByFile(ctx context.Context, collection, path string) error

	// DeleteByID removes points by chunk_id.
	DeleteByID(ctx context.Context, collection string, ids []string) error

	// DeleteByName removes points by chunk_name (symbol name) payload match.
	DeleteByName(ctx context.Context, collection string, names []string) error

	// ChunksForFile returns every chunk currently stored for path,
	// including its embeddings, so a caller can rewrite payload fields
	// (e.g. file_path on a detected move) without a fresh embed call
	// (spec §4.8's moved-file case).
	ChunksForFile(ctx context.Context, collection, path string) ([]chunk.Chunk, error)

	// Search executes a hybrid or single-mode search. Single-mode
	// searches use the corresponding named vector only; when both are
	// present the backend fuses the per-vector result sets by reciprocal
	// rank fusion and returns one ranked list (SearchMode "hybrid").
	Search(ctx context.Context, collection string, query QueryVectors, filter Filter, limit int) ([]SearchResult, error)

	// ListCollections enumerates every collection the backend knows about.
	ListCollections(ctx context.Context) ([]string, error)

	// Health is a lightweight liveness probe.
	Health(ctx context.Context) HealthStatus

	// Close releases backend resources.
	Close() error
}

// ErrCollectionNotFound is returned by backends when an operation
// targets a collection that EnsureCollection has never been called for.
type ErrCollectionNotFound struct {
	Collection string
}

func (e ErrCollectionNotFound) Error() string {
	return fmt.Sprintf("vectorstore: collection %q not found", e.Collection)
}
