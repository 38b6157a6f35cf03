// Package searcher is the stable external façade over find_code
// (internal/query): it resolves the vector-store, embedding, reranking,
// and tokenizer capabilities from a registry.Registry and exposes Find
// as a single Service, per spec §9's "callers borrow via handles"
// DI design.
package searcher

import (
	"context"
	"log/slog"

	"github.com/knitli/codeweaver/internal/embedding"
	intquery "github.com/knitli/codeweaver/internal/query"
	"github.com/knitli/codeweaver/internal/registry"
	"github.com/knitli/codeweaver/internal/tokenizer"
	"github.com/knitli/codeweaver/internal/vectorstore"
)

// Re-exported so callers depend only on this package.
type (
	Options        = intquery.Options
	Response       = intquery.Response
	CodeMatch      = intquery.CodeMatch
	FileDescriptor = intquery.FileDescriptor
	ContentMatch   = intquery.ContentMatch
	Intent         = intquery.Intent
	Reranker       = intquery.Reranker
	FileExistsChecker = intquery.FileExistsChecker
)

const (
	IntentDefault    = intquery.IntentDefault
	IntentDebug      = intquery.IntentDebug
	IntentDocument   = intquery.IntentDocument
	IntentRefactor   = intquery.IntentRefactor
	IntentUnderstand = intquery.IntentUnderstand
	IntentGeneric    = intquery.IntentGeneric
)

// DirFileExistsChecker resolves a result's repo-relative path against a
// fixed repository root to decide whether it still exists on disk.
type DirFileExistsChecker = intquery.DirFileExistsChecker

// Config bundles the construction-time knobs a Service needs beyond
// what the registry supplies.
type Config struct {
	FileExists FileExistsChecker
	Logger     *slog.Logger
}

// Service is the exported façade over one collection's query pipeline.
type Service struct {
	pipeline *intquery.Pipeline
}

// New resolves CapabilityVectorStore, CapabilityDenseEmbedding,
// CapabilitySparseEmbedding, CapabilityReranking, and CapabilityTokenizer
// from reg. Sparse embedding and reranking are optional capabilities: if
// unregistered, the pipeline runs dense-only search and skips reranking
// respectively.
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

	var reranker intquery.Reranker
	if r, rErr := registry.Resolve[intquery.Reranker](reg, registry.CapabilityReranking); rErr == nil {
		reranker = r
	}

	var counter tokenizer.Counter
	if c, cErr := registry.Resolve[tokenizer.Counter](reg, registry.CapabilityTokenizer); cErr == nil {
		counter = c
	}

	pipeline := intquery.New(dense, sparse, store, collection, counter, reranker, cfg.FileExists, cfg.Logger)
	return &Service{pipeline: pipeline}, nil
}

// Find executes find_code(query, options) → Response (spec §6).
func (s *Service) Find(ctx context.Context, q string, opts Options) (*Response, error) {
	return s.pipeline.Find(ctx, q, opts)
}
