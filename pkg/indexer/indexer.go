// Package indexer is the stable external façade over the indexing
// orchestration in internal/indexer: it resolves the vector-store and
// embedding capabilities from a registry.Registry, wires them with a
// file walker, chunker, and metadata store, and exposes Prime/
// Incremental/Watch as a single Service so a caller never needs to
// import internal packages directly (spec §9's DI-container design:
// "callers borrow via handles").
package indexer

import (
	"context"
	"log/slog"

	"github.com/knitli/codeweaver/internal/chunk"
	"github.com/knitli/codeweaver/internal/discovery"
	"github.com/knitli/codeweaver/internal/embedding"
	intindexer "github.com/knitli/codeweaver/internal/indexer"
	"github.com/knitli/codeweaver/internal/registry"
	metastore "github.com/knitli/codeweaver/internal/store"
	"github.com/knitli/codeweaver/internal/vectorstore"
)

// Re-exported so callers depend only on this package.
type (
	State         = intindexer.State
	Stage         = intindexer.Stage
	ProgressEvent = intindexer.ProgressEvent
	ProgressFunc  = intindexer.ProgressFunc
	Options       = intindexer.Options
	PrimeResult   = intindexer.PrimeResult
)

const (
	StateIdle     = intindexer.StateIdle
	StatePriming  = intindexer.StatePriming
	StateWatching = intindexer.StateWatching
	StateUpdating = intindexer.StateUpdating
	StateDegraded = intindexer.StateDegraded
	StateFailed   = intindexer.StateFailed
)

// Config bundles the construction-time knobs a Service needs beyond
// what the registry supplies.
type Config struct {
	Chunker       chunk.Options
	Embedding     embedding.Config
	CheckpointDir string
	MetadataPath  string // empty uses an in-memory metadata store
	Logger        *slog.Logger
}

// Service is the exported façade over one collection's index lifecycle.
type Service struct {
	orch *intindexer.Orchestrator
	meta *metastore.Store
}

// New resolves CapabilityVectorStore, CapabilityDenseEmbedding, and
// (optionally) CapabilitySparseEmbedding from reg, builds a Walker,
// ASTChunker, and metadata Store, and returns a ready-to-use Service.
func New(reg *registry.Registry, collection string, cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	store, err := registry.Resolve[vectorstore.Store](reg, registry.CapabilityVectorStore)
	if err != nil {
		return nil, err
	}
	dense, err := registry.Resolve[embedding.DenseEmbedder](reg, registry.CapabilityDenseEmbedding)
	if err != nil {
		return nil, err
	}
	var sparse embedding.SparseEmbedder
	if s, sErr := registry.Resolve[embedding.SparseEmbedder](reg, registry.CapabilitySparseEmbedding); sErr == nil {
		sparse = s
	}

	walker, err := discovery.NewWalker()
	if err != nil {
		return nil, err
	}
	chunker := chunk.New(cfg.Chunker)

	meta, err := metastore.Open(cfg.MetadataPath)
	if err != nil {
		return nil, err
	}

	pipeline := embedding.New(dense, sparse, cfg.Embedding, store, collection, cfg.Logger)
	orch := intindexer.New(walker, chunker, pipeline, store, meta, cfg.CheckpointDir, cfg.Logger)

	return &Service{orch: orch, meta: meta}, nil
}

// Prime runs a full index of repo (spec §4.8 mode 1).
func (s *Service) Prime(ctx context.Context, repo discovery.RepositoryDescriptor, opts Options) (*PrimeResult, error) {
	return s.orch.Prime(ctx, repo, opts)
}

// Incremental applies a single filesystem change event (spec §4.8 mode 2).
func (s *Service) Incremental(ctx context.Context, repo discovery.RepositoryDescriptor, event discovery.ChangeEvent) error {
	return s.orch.Incremental(ctx, repo, event)
}

// Watch drives a long-lived watch session over w (spec §4.8 mode 3).
func (s *Service) Watch(ctx context.Context, repo discovery.RepositoryDescriptor, w *discovery.Watcher) error {
	return s.orch.Watch(ctx, repo, w)
}

// State reports the current indexing state for collection.
func (s *Service) State(collection string) State {
	return s.orch.State(collection)
}

// Close releases the Service's metadata store connection.
func (s *Service) Close() error {
	return s.meta.Close()
}
