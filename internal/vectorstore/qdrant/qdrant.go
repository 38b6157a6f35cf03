// Package qdrant implements the vectorstore.Store contract (spec §4.6)
// against a real Qdrant service, local or remote, over its native gRPC
// client. Named vectors "dense" and "sparse" are configured at
// collection creation; payload indexes on file_path, language,
// chunk_name and embedding_complete are created alongside.
//
// Grounded on other_examples/82591a8e_First008-mesh's QdrantStore:
// client construction from a host:port URL, CreateCollection with an
// HnswConfigDiff, Upsert/Query/Scroll/Delete point shapes, and the
// sha256-derived deterministic point ID. That example used a single
// unnamed vector; here collections carry two named vectors (dense,
// sparse) plus payload indexes, since a real Qdrant backend with
// hybrid search is a capability the teacher itself never had.
package qdrant

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/knitli/codeweaver/internal/chunk"
	cwerrors "github.com/knitli/codeweaver/internal/errors"
	"github.com/knitli/codeweaver/internal/vectorstore"
)

// DefaultBatchSize is the default upsert batch size (spec §4.6).
const DefaultBatchSize = 64

// DefaultPort is the gRPC port assumed when a URL omits one.
const DefaultPort = 6334

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// Options configures a Store.
type Options struct {
	URL        string
	APIKey     string
	BatchSize  int
	ProviderTag string // not read by Store; EnsureCollection compares the CollectionMetadata it is passed
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// Store is the Qdrant-backed vectorstore.Store implementation.
type Store struct {
	client *qdrant.Client
	opts   Options
}

// NewStore dials qdrantURL (host or host:port; defaults to localhost and
// DefaultPort) and returns a Store. Authentication is read from opts.APIKey.
func NewStore(opts Options) (*Store, error) {
	opts = opts.withDefaults()
	host, port := parseURL(opts.URL)

	cfg := &qdrant.Config{Host: host, Port: port}
	if opts.APIKey != "" {
		cfg.APIKey = opts.APIKey
		cfg.UseTLS = true
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore/qdrant: create client: %w", err)
	}

	return &Store{client: client, opts: opts}, nil
}

func (s *Store) EnsureCollection(ctx context.Context, collection string, metadata vectorstore.CollectionMetadata) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("vectorstore/qdrant: check collection exists: %w", err)
	}

	if exists {
		stored, err := s.readMetadata(ctx, collection)
		if err != nil {
			return err
		}
		if stored != nil && !stored.Matches(metadata) {
			return cwerrors.ProviderSwitchError(
				stored.ProviderTag, metadata.ProviderTag,
				stored.DenseDimension, metadata.DenseDimension,
			)
		}
		return nil
	}

	m := uint64(16)
	efConstruct := uint64(128)

	vectorsConfig := qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
		denseVectorName: {
			Size:     uint64(metadata.DenseDimension),
			Distance: qdrant.Distance_Cosine,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &m,
				EfConstruct: &efConstruct,
			},
		},
	})

	onDisk := true
	sparseConfig := qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
		sparseVectorName: {
			Index: &qdrant.SparseIndexConfig{OnDisk: &onDisk},
		},
	})

	if err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName:      collection,
		VectorsConfig:       vectorsConfig,
		SparseVectorsConfig: sparseConfig,
	}); err != nil {
		return fmt.Errorf("vectorstore/qdrant: create collection: %w", err)
	}

	fieldTypes := map[string]qdrant.FieldType{
		"file_path":          qdrant.FieldType_FieldTypeKeyword,
		"language":           qdrant.FieldType_FieldTypeKeyword,
		"chunk_name":         qdrant.FieldType_FieldTypeKeyword,
		"embedding_complete": qdrant.FieldType_FieldTypeBool,
	}
	for _, field := range []string{"file_path", "language", "chunk_name", "embedding_complete"} {
		ft := fieldTypes[field]
		if _, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field,
			FieldType:      &ft,
		}); err != nil {
			return fmt.Errorf("vectorstore/qdrant: create payload index on %s: %w", field, err)
		}
	}

	return s.writeMetadata(ctx, collection, metadata)
}

// metadataPointID is a fixed point carrying the collection's
// CollectionMetadata in its payload, since Qdrant has no native
// collection-metadata field usable for provider-switch detection.
const metadataPointID = uint64(0)

func (s *Store) readMetadata(ctx context.Context, collection string) (*vectorstore.CollectionMetadata, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDNum(metadataPointID)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore/qdrant: read collection metadata: %w", err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	payload := points[0].Payload
	m := &vectorstore.CollectionMetadata{
		ProviderTag:        stringValue(payload, "provider_tag"),
		SchemaVersion:      int(intValue(payload, "schema_version")),
		DenseDimension:     int(intValue(payload, "dense_dimension")),
		MaxSparseDimension: int(intValue(payload, "max_sparse_dimension")),
		ProjectName:        stringValue(payload, "project_name"),
	}
	return m, nil
}

func (s *Store) writeMetadata(ctx context.Context, collection string, metadata vectorstore.CollectionMetadata) error {
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           boolPtr(true),
		Points: []*qdrant.PointStruct{
			{
				Id: qdrant.NewIDNum(metadataPointID),
				Payload: qdrant.NewValueMap(map[string]any{
					"provider_tag":          metadata.ProviderTag,
					"schema_version":        int64(metadata.SchemaVersion),
					"dense_dimension":       int64(metadata.DenseDimension),
					"max_sparse_dimension":  int64(metadata.MaxSparseDimension),
					"project_name":          metadata.ProjectName,
					"created_at":            metadata.CreatedAt.Format(time.RFC3339),
					"is_collection_metadata": true,
				}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore/qdrant: write collection metadata: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, chunks []chunk.Chunk) error {
	batchSize := s.opts.BatchSize
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := s.upsertBatch(ctx, collection, chunks[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertBatch(ctx context.Context, collection string, chunks []chunk.Chunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, ck := range chunks {
		vectors := make(map[string]*qdrant.Vector)
		if len(ck.Embeddings.Dense) > 0 {
			vectors[denseVectorName] = qdrant.NewVectorDense(ck.Embeddings.Dense)
		}
		if len(ck.Embeddings.Sparse.Indices) > 0 {
			vectors[sparseVectorName] = qdrant.NewVectorSparse(ck.Embeddings.Sparse.Indices, ck.Embeddings.Sparse.Values)
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(chunkPointID(ck.ChunkID)),
			Vectors: qdrant.NewVectorsMap(vectors),
			Payload: qdrant.NewValueMap(map[string]any{
				"chunk_id":            ck.ChunkID,
				"chunk_name":          ck.ChunkName,
				"file_path":           ck.FilePath,
				"language":            ck.Language,
				"line_start":          int64(ck.LineStart),
				"line_end":            int64(ck.LineEnd),
				"content":             ck.Content,
				"kind":                string(ck.Kind),
				"embedding_complete":  ck.Metadata.EmbeddingComplete,
				"git_commit":          ck.Metadata.GitCommit,
				"provider":            ck.Metadata.Provider,
				"indexed_at":          time.Now().Format(time.RFC3339),
			}),
		})
	}

	// Every batch is sent with wait=false, for an initial seed as well as
	// for incremental updates: Upsert returns once Qdrant has accepted the
	// points, not once they are applied. Deletes and the collection
	// metadata point use wait=true.
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           boolPtr(false),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vectorstore/qdrant: upsert batch: %w", err)
	}
	return nil
}

func (s *Store) DeleteByFile(ctx context.Context, collection, path string) error {
	return s.deleteByFilter(ctx, collection, matchFilter("file_path", path))
}

func (s *Store) DeleteByID(ctx context.Context, collection string, ids []string) error {
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(chunkPointID(id))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           boolPtr(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore/qdrant: delete by id: %w", err)
	}
	return nil
}

// ChunksForFile scrolls every point matching file_path, with vectors
// included, so a move can rewrite file_path without a fresh embed call
// (spec §4.8). Grounded on other_examples/82591a8e_First008-mesh's
// FetchAllChunks Scroll-by-filter pattern, widened to fetch vectors too.
func (s *Store) ChunksForFile(ctx context.Context, collection, path string) ([]chunk.Chunk, error) {
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         matchFilter("file_path", path),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
		Limit:          uint32Ptr(10000),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore/qdrant: scroll file %s: %w", path, err)
	}

	out := make([]chunk.Chunk, 0, len(points))
	for _, p := range points {
		if boolValue(p.Payload, "is_collection_metadata") {
			continue
		}
		ck := chunkFromPayload(p.Payload)
		if vecs := p.GetVectors(); vecs != nil {
			if dense, ok := vecs.GetVectors().GetVectors()[denseVectorName]; ok {
				ck.Embeddings.Dense = dense.GetDense().GetData()
			}
			if sparse, ok := vecs.GetVectors().GetVectors()[sparseVectorName]; ok {
				s := sparse.GetSparse()
				ck.Embeddings.Sparse = chunk.SparseVector{Indices: s.GetIndices(), Values: s.GetValues()}
			}
		}
		out = append(out, ck)
	}
	return out, nil
}

func (s *Store) DeleteByName(ctx context.Context, collection string, names []string) error {
	for _, name := range names {
		if err := s.deleteByFilter(ctx, collection, matchFilter("chunk_name", name)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) deleteByFilter(ctx context.Context, collection string, filter *qdrant.Filter) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           boolPtr(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore/qdrant: delete by filter: %w", err)
	}
	return nil
}

// matchFilter builds an exact-equality filter on a keyword-indexed field.
// It must use Match_Keyword rather than Match_Text: file_path and
// chunk_name are indexed as FieldType_FieldTypeKeyword, and a text match
// evaluates against a tokenized index, so e.g. "a/b.go" could tokenize-
// match a point whose file_path is "a/c.go". DeleteByFile/DeleteByName
// rely on this filter being exact, since an over-broad match would
// delete chunks belonging to a different file.
func matchFilter(key, value string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key:   key,
						Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
					},
				},
			},
		},
	}
}

func (s *Store) Search(ctx context.Context, collection string, query vectorstore.QueryVectors, filter vectorstore.Filter, limit int) ([]vectorstore.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	qdrantFilter := buildQdrantFilter(filter)

	prefetches := make([]*qdrant.PrefetchQuery, 0, 2)
	if query.HasDense() {
		prefetches = append(prefetches, &qdrant.PrefetchQuery{
			Query:  qdrant.NewQueryDense(query.Dense),
			Using:  strPtr(denseVectorName),
			Filter: qdrantFilter,
			Limit:  uint64Ptr(uint64(limit * 3)),
		})
	}
	if query.HasSparse() {
		prefetches = append(prefetches, &qdrant.PrefetchQuery{
			Query:  qdrant.NewQuerySparse(query.Sparse.Indices, query.Sparse.Values),
			Using:  strPtr(sparseVectorName),
			Filter: qdrantFilter,
			Limit:  uint64Ptr(uint64(limit * 3)),
		})
	}
	if len(prefetches) == 0 {
		return nil, cwerrors.BadQuery("search requires at least one of {dense, sparse} query vectors")
	}

	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Filter:         qdrantFilter,
		Limit:          uint64Ptr(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	mode := vectorstore.ModeDense
	switch {
	case len(prefetches) == 2:
		// Native server-side RRF fusion across the dense and sparse
		// prefetches, matching vectorstore.RRFConstant's k=60 semantics.
		req.Prefetch = prefetches
		req.Query = qdrant.NewQueryFusion(qdrant.Fusion_RRF)
		mode = vectorstore.ModeHybrid
	case query.HasSparse():
		req.Query = qdrant.NewQuerySparse(query.Sparse.Indices, query.Sparse.Values)
		req.Using = strPtr(sparseVectorName)
		mode = vectorstore.ModeSparse
	default:
		req.Query = qdrant.NewQueryDense(query.Dense)
		req.Using = strPtr(denseVectorName)
		mode = vectorstore.ModeDense
	}

	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore/qdrant: query: %w", err)
	}

	results := make([]vectorstore.SearchResult, 0, len(points))
	for _, p := range points {
		payload := p.Payload
		if boolValue(payload, "is_collection_metadata") {
			continue // skip the sentinel metadata point
		}
		ck := chunkFromPayload(payload)
		r := vectorstore.SearchResult{
			Chunk:      ck,
			Score:      p.Score,
			SearchMode: mode,
			FileExists: fileExists(ck.FilePath),
		}
		switch mode {
		case vectorstore.ModeDense:
			r.DenseScore = p.Score
		case vectorstore.ModeSparse:
			r.SparseScore = p.Score
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	cols, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("vectorstore/qdrant: list collections: %w", err)
	}
	return cols, nil
}

func (s *Store) Health(ctx context.Context) vectorstore.HealthStatus {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return vectorstore.HealthStatus{Healthy: false, Detail: err.Error()}
	}
	return vectorstore.HealthStatus{Healthy: true, Detail: "qdrant reachable"}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func buildQdrantFilter(f vectorstore.Filter) *qdrant.Filter {
	if f.IsZero() {
		return nil
	}
	var conditions []*qdrant.Condition
	for _, lang := range f.Languages {
		conditions = append(conditions, fieldMatch("language", lang))
	}
	if f.EmbeddingComplete != nil {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "embedding_complete",
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: *f.EmbeddingComplete}},
				},
			},
		})
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

func fieldMatch(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func chunkFromPayload(payload map[string]*qdrant.Value) chunk.Chunk {
	return chunk.Chunk{
		ChunkID:   stringValue(payload, "chunk_id"),
		ChunkName: stringValue(payload, "chunk_name"),
		FilePath:  stringValue(payload, "file_path"),
		Language:  stringValue(payload, "language"),
		LineStart: int(intValue(payload, "line_start")),
		LineEnd:   int(intValue(payload, "line_end")),
		Content:   stringValue(payload, "content"),
		Kind:      chunk.Kind(stringValue(payload, "kind")),
		Metadata: chunk.Metadata{
			EmbeddingComplete: boolValue(payload, "embedding_complete"),
			GitCommit:         stringValue(payload, "git_commit"),
			Provider:          stringValue(payload, "provider"),
		},
	}
}

func stringValue(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func intValue(payload map[string]*qdrant.Value, key string) int64 {
	if v, ok := payload[key]; ok {
		return v.GetIntegerValue()
	}
	return 0
}

func boolValue(payload map[string]*qdrant.Value, key string) bool {
	if v, ok := payload[key]; ok {
		return v.GetBoolValue()
	}
	return false
}

// chunkPointID derives a deterministic UUID-shaped point ID from a
// chunk_id, following the teacher example's sha256-derived deterministic
// point ID, widened from a uint64 to a full 128-bit UUID string since
// chunk_id is already a UUIDv5, not a bare file path.
func chunkPointID(chunkID string) string {
	sum := sha256.Sum256([]byte(chunkID))
	hi := binary.BigEndian.Uint64(sum[:8])
	lo := binary.BigEndian.Uint64(sum[8:16])
	return formatUUID(hi, lo)
}

func formatUUID(hi, lo uint64) string {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], hi)
	binary.BigEndian.PutUint64(b[8:], lo)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

func fileExists(path string) bool {
	// Non-fatal existence probe; the query pipeline already drops
	// results for missing files per spec §4.9 step 4, this is a
	// best-effort hint for backends that can answer cheaply.
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func parseURL(raw string) (host string, port int) {
	port = DefaultPort
	if raw == "" {
		return "localhost", port
	}
	parts := strings.Split(raw, ":")
	if len(parts) == 2 {
		host = parts[0]
		if p, err := strconv.Atoi(parts[1]); err == nil {
			port = p
		}
		return host, port
	}
	return raw, port
}

func boolPtr(b bool) *bool       { return &b }
func strPtr(s string) *string    { return &s }
func uint64Ptr(u uint64) *uint64 { return &u }
func uint32Ptr(u uint32) *uint32 { return &u }

var _ vectorstore.Store = (*Store)(nil)
