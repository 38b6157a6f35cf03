// Package chunk decomposes a file's source text into a finite sequence of
// non-overlapping Chunks ordered by source position (spec §4.2), selecting
// an AST-aware, delimiter-based, or sliding-window strategy per language.
package chunk

import (
	"context"
	"time"
)

// Size defaults carried from the teacher's RAG-tuned chunking constants.
const (
	DefaultMaxChunkTokens = 512 // optimal for 85-90% recall
	DefaultOverlapTokens  = 64  // ~12.5% overlap on sliding-window fallback
	MinChunkTokens        = 100 // merge adjacent tiny siblings below this
	TokensPerChar         = 4   // rough approximation: 4 chars = 1 token
)

// Kind classifies a Chunk per spec §3.
type Kind string

const (
	KindDefinition   Kind = "definition"
	KindDeclaration  Kind = "declaration"
	KindCommentBlock Kind = "comment-block"
	KindImport       Kind = "import"
	KindOther        Kind = "other"
)

// Embeddings holds a chunk's dense and/or sparse vectors (spec §3). At
// least one of Dense or Sparse must be present once a chunk is considered
// indexed; EmbeddingComplete in Metadata tracks whether both are.
type Embeddings struct {
	Dense  []float32
	Sparse SparseVector
}

// SparseVector is a (indices, values) pair. Indices must be sorted and
// unique, with len(Indices) == len(Values) (spec §3 invariant).
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// Metadata carries the non-content bookkeeping fields from spec §3.
type Metadata struct {
	EmbeddingComplete bool
	IndexedAt         time.Time
	GitCommit         string
	Provider          string
}

// Chunk is the atomic unit of indexing (spec §3).
type Chunk struct {
	ChunkID   string // UUIDv5 over (file_path, content_hash, line_start, line_end)
	ChunkName string // qualified identifier: file path + symbol/section label
	FilePath  string
	Language  string
	LineStart int // inclusive, 1-indexed
	LineEnd   int // inclusive, 1-indexed
	Content   string
	Kind      Kind

	Embeddings Embeddings
	Metadata   Metadata
}

// FileInput is the input to a Chunker.
type FileInput struct {
	Path     string // repo-relative
	Content  []byte
	Language string
}

// Chunker splits a file into an ordered, non-overlapping sequence of
// Chunks, selecting a strategy per spec §4.2's three-tier rule.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)
	SupportedExtensions() []string
}

// SymbolType represents the kind of code symbol a language grammar can
// surface; narrower than Kind, it feeds Kind classification.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// Symbol is a code symbol extracted from parsing.
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
}

// Tree is a parsed AST.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node is a node in the AST.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point is a position in the source.
type Point struct {
	Row    uint32
	Column uint32
}

// LanguageConfig holds per-language tree-sitter node-type mappings.
type LanguageConfig struct {
	Name       string
	Extensions []string

	FunctionTypes  []string
	ClassTypes     []string
	InterfaceTypes []string
	MethodTypes    []string
	TypeDefTypes   []string
	ConstantTypes  []string
	VariableTypes  []string

	NameField string
}

// symbolKind maps a SymbolType onto the spec's narrower Kind taxonomy.
func symbolKind(t SymbolType) Kind {
	switch t {
	case SymbolTypeFunction, SymbolTypeMethod, SymbolTypeClass, SymbolTypeInterface:
		return KindDefinition
	case SymbolTypeType, SymbolTypeVariable, SymbolTypeConstant:
		return KindDeclaration
	default:
		return KindOther
	}
}
