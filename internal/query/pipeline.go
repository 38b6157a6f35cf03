package query

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/knitli/codeweaver/internal/chunk"
	cwerrors "github.com/knitli/codeweaver/internal/errors"
	"github.com/knitli/codeweaver/internal/tokenizer"
	"github.com/knitli/codeweaver/internal/vectorstore"
)

// DenseEmbedder embeds a single query string into a dense vector.
// Satisfied by embedding.DenseEmbedder's EmbedBatch with a one-element
// slice; kept as its own narrow interface here so this package doesn't
// need to import internal/embedding for a single method.
type DenseEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// SparseEmbedder embeds a single query string into a sparse vector.
type SparseEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([]chunk.SparseVector, error)
}

// RerankResult is one scored (document) pairing from a Reranker call.
type RerankResult struct {
	Index int
	Score float64
}

// Reranker reorders candidates by cross-encoder relevance to the query
// (spec §4.9 step 5). Grounded on the teacher's internal/search.Reranker.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)
	Available(ctx context.Context) bool
}

// NoOpReranker leaves candidates in their existing order, used when no
// reranker capability is registered.
type NoOpReranker struct{}

func (NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	out := make([]RerankResult, len(documents))
	for i := range documents {
		out[i] = RerankResult{Index: i, Score: 1.0 - float64(i)*0.001}
	}
	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}

func (NoOpReranker) Available(context.Context) bool { return true }

var _ Reranker = NoOpReranker{}

// FileExistsChecker reports whether a result's source file still
// exists on disk, supporting step 4's "drop results whose files no
// longer exist" filter without this package hard-coding a filesystem
// root.
type FileExistsChecker interface {
	Exists(relPath string) bool
}

// DirFileExistsChecker resolves relPath against a fixed repository root.
type DirFileExistsChecker struct {
	Root string
}

func (d DirFileExistsChecker) Exists(relPath string) bool {
	_, err := os.Stat(filepath.Join(d.Root, relPath))
	return err == nil
}

// Pipeline implements find_code for one collection.
type Pipeline struct {
	dense      DenseEmbedder
	sparse     SparseEmbedder
	store      vectorstore.Store
	collection string
	counter    tokenizer.Counter
	reranker   Reranker
	fileExists FileExistsChecker
	logger     *slog.Logger
}

// New creates a Pipeline. sparse, reranker, and fileExists may be nil/zero;
// reranker defaults to NoOpReranker and fileExists defaults to "always
// exists" (callers that can't cheaply check existence should pass their
// own checker rather than rely on this default in production).
func New(dense DenseEmbedder, sparse SparseEmbedder, store vectorstore.Store, collection string, counter tokenizer.Counter, reranker Reranker, fileExists FileExistsChecker, logger *slog.Logger) *Pipeline {
	if reranker == nil {
		reranker = NoOpReranker{}
	}
	if counter == nil {
		counter = tokenizer.WordCounter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		dense:      dense,
		sparse:     sparse,
		store:      store,
		collection: collection,
		counter:    counter,
		reranker:   reranker,
		fileExists: fileExists,
		logger:     logger,
	}
}

// Find executes find_code against q (spec §4.9's nine steps).
func (p *Pipeline) Find(ctx context.Context, q string, opts Options) (*Response, error) {
	start := time.Now()
	opts = opts.withDefaults()

	normalized := strings.TrimSpace(q)
	if normalized == "" {
		return degradedResponse(opts, cwerrors.BadQuery("query must not be empty")), nil
	}

	strategies := []string{}

	qv, err := p.embedQuery(ctx, normalized)
	if err != nil {
		p.logger.Warn("query: embed failed", slog.String("error", err.Error()))
		return degradedResponse(opts, err), nil
	}
	if qv.HasDense() {
		strategies = append(strategies, "dense")
	}
	if qv.HasSparse() {
		strategies = append(strategies, "sparse")
	}
	if len(strategies) == 2 {
		strategies = []string{"hybrid"}
	}

	filter := vectorstore.Filter{
		FilePathPatterns: opts.PathFilter,
		Languages:        opts.Languages,
	}

	if ctx.Err() != nil {
		return degradedResponse(opts, ctx.Err()), nil
	}

	hits, err := p.store.Search(ctx, p.collection, qv, filter, opts.overfetchLimit())
	if err != nil {
		p.logger.Warn("query: search failed", slog.String("error", err.Error()))
		return degradedResponse(opts, err), nil
	}

	totalMatches := len(hits)
	candidates := p.filterCandidates(hits, opts)

	if len(candidates) >= opts.RerankThreshold && p.reranker.Available(ctx) {
		candidates = p.rerank(ctx, normalized, candidates)
		strategies = append(strategies, "rerank")
	}

	p.applySemanticWeighting(candidates, opts.Intent)

	sort.Slice(candidates, func(i, j int) bool {
		return lessCandidate(candidates[i], candidates[j])
	})

	budgeted, tokenCount := p.applyTokenBudget(candidates, opts.TokenBudget)

	results := make([]CodeMatch, 0, len(budgeted))
	langSet := make(map[string]struct{})
	for _, c := range budgeted {
		ck := c.result.Chunk
		results = append(results, CodeMatch{
			File:    FileDescriptor{Path: ck.FilePath, Language: ck.Language},
			Content: ContentMatch{Text: ck.Content, LineStart: ck.LineStart, LineEnd: ck.LineEnd, Kind: string(ck.Kind)},
			Score:   c.score,
		})
		if ck.Language != "" {
			langSet[ck.Language] = struct{}{}
		}
	}

	languages := make([]string, 0, len(langSet))
	for l := range langSet {
		languages = append(languages, l)
	}
	sort.Strings(languages)

	return &Response{
		Results:         results,
		Summary:         summarize(normalized, len(results), totalMatches),
		QueryIntent:     string(opts.Intent),
		TotalMatches:    totalMatches,
		TotalResults:    len(results),
		TokenCount:      tokenCount,
		ExecutionTimeMS: float64(time.Since(start).Microseconds()) / 1000.0,
		SearchStrategy:  strategies,
		LanguagesFound:  languages,
	}, nil
}

func (p *Pipeline) embedQuery(ctx context.Context, q string) (vectorstore.QueryVectors, error) {
	var qv vectorstore.QueryVectors

	if p.dense != nil {
		vecs, err := p.dense.EmbedBatch(ctx, []string{q})
		if err != nil {
			return qv, cwerrors.Wrap(cwerrors.KindTransient, err, "embed query (dense)")
		}
		if len(vecs) > 0 {
			qv.Dense = vecs[0]
		}
	}
	if p.sparse != nil {
		vecs, err := p.sparse.EmbedBatch(ctx, []string{q})
		if err == nil && len(vecs) > 0 {
			qv.Sparse = vecs[0]
		}
	}
	if !qv.HasDense() && !qv.HasSparse() {
		return qv, cwerrors.New(cwerrors.KindProviderUnavailable, "no embedding provider produced a query vector")
	}
	return qv, nil
}

// filterCandidates implements step 4: drop missing files, drop test
// paths unless include_tests, apply language filter.
func (p *Pipeline) filterCandidates(hits []vectorstore.SearchResult, opts Options) []candidate {
	out := make([]candidate, 0, len(hits))
	for _, h := range hits {
		if p.fileExists != nil && !p.fileExists.Exists(h.Chunk.FilePath) {
			continue
		}
		if !opts.IncludeTests && isTestPath(h.Chunk.FilePath) {
			continue
		}
		if len(opts.Languages) > 0 && !containsFold(opts.Languages, h.Chunk.Language) {
			continue
		}
		out = append(out, candidate{result: h, score: float64(h.Score)})
	}
	return out
}

// rerank implements step 5: submit (query, content) pairs and replace
// score with the rerank score.
func (p *Pipeline) rerank(ctx context.Context, q string, candidates []candidate) []candidate {
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.result.Chunk.Content
	}

	reranked, err := p.reranker.Rerank(ctx, q, docs, 0)
	if err != nil {
		p.logger.Warn("query: rerank failed, keeping prior scores", slog.String("error", err.Error()))
		return candidates
	}

	out := make([]candidate, 0, len(reranked))
	for _, r := range reranked {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		c := candidates[r.Index]
		c.result.RerankScore = float32(r.Score)
		c.score = r.Score
		out = append(out, c)
	}
	return out
}

// applySemanticWeighting implements step 6: a bounded (±20%) multiplier
// on score, based on query intent and chunk kind.
func (p *Pipeline) applySemanticWeighting(candidates []candidate, intent Intent) {
	for i := range candidates {
		w := semanticWeight(intent, string(candidates[i].result.Chunk.Kind))
		candidates[i].score *= float64(w)
	}
}

// lessCandidate implements step 7's ordering: higher score first, then
// the deterministic tiebreak (file_path, line_start, chunk_id).
func lessCandidate(a, b candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	ca, cb := a.result.Chunk, b.result.Chunk
	if ca.FilePath != cb.FilePath {
		return ca.FilePath < cb.FilePath
	}
	if ca.LineStart != cb.LineStart {
		return ca.LineStart < cb.LineStart
	}
	return ca.ChunkID < cb.ChunkID
}

// applyTokenBudget implements step 8: include results top-down until
// the budget is reached, never splitting a chunk, always including at
// least one result if any candidate exists.
func (p *Pipeline) applyTokenBudget(candidates []candidate, budget int) ([]candidate, int) {
	if len(candidates) == 0 {
		return nil, 0
	}

	var out []candidate
	total := 0
	for _, c := range candidates {
		n := p.counter.Count(c.result.Chunk.Content)
		if total > 0 && total+n > budget {
			break
		}
		out = append(out, c)
		total += n
	}
	if len(out) == 0 {
		out = append(out, candidates[0])
		total = p.counter.Count(candidates[0].result.Chunk.Content)
	}
	return out, total
}

func isTestPath(path string) bool {
	if strings.HasSuffix(path, "_test.go") {
		return true
	}
	if strings.Contains(path, ".test.") || strings.Contains(path, ".spec.") {
		return true
	}
	base := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		base = path[idx+1:]
	}
	if strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py") {
		return true
	}
	if strings.HasSuffix(base, "_test.py") {
		return true
	}
	if strings.Contains(path, "/test/") || strings.Contains(path, "/tests/") ||
		strings.HasPrefix(path, "test/") || strings.HasPrefix(path, "tests/") {
		return true
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func summarize(q string, returned, total int) string {
	if total == 0 {
		return fmt.Sprintf("no matches for %q", q)
	}
	return fmt.Sprintf("%d of %d matches for %q", returned, total, q)
}

// degradedResponse builds the empty-results response the pipeline
// returns on failure instead of propagating (spec §7: "the query
// pipeline never panics; if search fails, it returns a response with
// results: [], total_matches: 0, and a diagnostic summary naming the
// failure kind").
func degradedResponse(opts Options, err error) *Response {
	kind := cwerrors.KindOf(err)
	if kind == "" {
		kind = cwerrors.KindInternal
	}
	return &Response{
		Results:        nil,
		Summary:        fmt.Sprintf("search unavailable: %s", kind),
		QueryIntent:    string(opts.Intent),
		TotalMatches:   0,
		TotalResults:   0,
		SearchStrategy: nil,
		LanguagesFound: nil,
	}
}
