package chunk

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// chunkIDNamespace is a fixed UUID namespace so chunk_id derivation is
// deterministic across process restarts (spec §3: "changes when any of
// these change" implies it must NOT change when none of them do).
var chunkIDNamespace = uuid.MustParse("7c2c8f2e-4c33-4f1d-9a0a-0a7a1f0d9f4b")

// ASTChunker implements the three-tier strategy of spec §4.2: AST-aware
// where a grammar is registered, delimiter-based for a known language
// family otherwise, sliding-window as the final fallback.
//
// Grounded on the teacher's internal/chunk/code_chunker.go, generalized
// so that oversize AST bodies and oversize delimiter-tier sections use the
// same line-splitting primitive (splitLinesWithOverlap).
type ASTChunker struct {
	parser    *Parser
	extractor *SymbolExtractor
	registry  *LanguageRegistry

	maxChunkTokens int
	overlapTokens  int
	minChunkTokens int
	maxFileBytes   int
}

// Options configures ASTChunker construction.
type Options struct {
	MaxChunkTokens int
	OverlapTokens  int
	MinChunkTokens int
	MaxFileBytes   int // files larger than this are partitioned before chunking
}

// DefaultMaxFileBytes bounds how large a single file may be before the
// chunker partitions it into independently-chunked segments.
const DefaultMaxFileBytes = 2 << 20 // 2MiB

// New creates an ASTChunker with the given options, defaulting unset
// fields to the teacher's RAG-tuned constants.
func New(opts Options) *ASTChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	if opts.MinChunkTokens == 0 {
		opts.MinChunkTokens = MinChunkTokens
	}
	if opts.MaxFileBytes == 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}

	registry := DefaultRegistry()
	return &ASTChunker{
		parser:         NewParserWithRegistry(registry),
		extractor:      NewSymbolExtractorWithRegistry(registry),
		registry:       registry,
		maxChunkTokens: opts.MaxChunkTokens,
		overlapTokens:  opts.OverlapTokens,
		minChunkTokens: opts.MinChunkTokens,
		maxFileBytes:   opts.MaxFileBytes,
	}
}

// Close releases parser resources.
func (c *ASTChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns extensions with a registered AST grammar.
// Other extensions still chunk, via the delimiter or sliding-window tier.
func (c *ASTChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk implements Chunker. Binary content is skipped with no chunks and
// no error (caller logs the diagnostic); empty files produce no chunks.
func (c *ASTChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}
	if isBinary(file.Content) {
		return nil, nil
	}

	if len(file.Content) > c.maxFileBytes {
		return c.chunkPartitioned(ctx, file)
	}
	return c.chunkOne(ctx, file)
}

func (c *ASTChunker) chunkPartitioned(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	var all []*Chunk
	lines := splitLinesKeepEmpty(string(file.Content))
	linesPerPart := (c.maxFileBytes / averageLineBytes(lines)) + 1

	for start := 0; start < len(lines); start += linesPerPart {
		end := start + linesPerPart
		if end > len(lines) {
			end = len(lines)
		}
		part := &FileInput{
			Path:     file.Path,
			Content:  []byte(strings.Join(lines[start:end], "\n")),
			Language: file.Language,
		}
		chunks, err := c.chunkOne(ctx, part)
		if err != nil {
			return nil, err
		}
		offset := start
		for _, ch := range chunks {
			ch.LineStart += offset
			ch.LineEnd += offset
		}
		all = append(all, chunks...)
	}
	return all, nil
}

func (c *ASTChunker) chunkOne(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	lang := primaryLanguage(file.Language)

	if _, ok := c.registry.GetByName(lang); ok {
		chunks, err := c.chunkAST(ctx, file, lang)
		if err == nil && len(chunks) > 0 {
			return chunks, nil
		}
		// Parse failure or no symbols found: fall through to tier 2/3.
	}
	if profile, ok := delimiterProfile(lang); ok {
		chunks := chunkByDelimiters(file, profile, c.maxChunkTokens, c.minChunkTokens)
		if len(chunks) > 0 {
			return finalize(chunks), nil
		}
	}
	return finalize(chunkSlidingWindow(file, c.maxChunkTokens, c.overlapTokens)), nil
}

func (c *ASTChunker) chunkAST(ctx context.Context, file *FileInput, language string) ([]*Chunk, error) {
	tree, err := c.parser.Parse(ctx, file.Content, language)
	if err != nil {
		return nil, err
	}

	fileContext := c.extractFileContext(tree, language)
	symbolNodes := c.findSymbolNodes(tree, language)
	if len(symbolNodes) == 0 {
		return nil, nil
	}

	raw := make([]*Chunk, 0, len(symbolNodes))
	for _, info := range symbolNodes {
		raw = append(raw, c.chunksFromSymbol(info, tree, file, fileContext)...)
	}

	merged := mergeTinySiblings(raw, c.minChunkTokens)
	return finalize(merged), nil
}

type symbolNodeInfo struct {
	node   *Node
	symbol *Symbol
}

func (c *ASTChunker) findSymbolNodes(tree *Tree, language string) []*symbolNodeInfo {
	config, ok := c.registry.GetByName(language)
	if !ok {
		return nil
	}

	symbolTypes := make(map[string]SymbolType)
	add := func(types []string, t SymbolType) {
		for _, n := range types {
			symbolTypes[n] = t
		}
	}
	add(config.FunctionTypes, SymbolTypeFunction)
	add(config.MethodTypes, SymbolTypeMethod)
	add(config.ClassTypes, SymbolTypeClass)
	add(config.InterfaceTypes, SymbolTypeInterface)
	add(config.TypeDefTypes, SymbolTypeType)
	add(config.ConstantTypes, SymbolTypeConstant)
	add(config.VariableTypes, SymbolTypeVariable)

	var nodes []*symbolNodeInfo
	tree.Root.Walk(func(n *Node) bool {
		if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
			if sym := c.extractor.extractSpecialSymbol(n, tree.Source, language); sym != nil {
				nodes = append(nodes, &symbolNodeInfo{node: n, symbol: sym})
				// The declaration is collected as one unit; don't also
				// collect whatever's nested inside its initializer.
				return false
			}
		}
		if symType, ok := symbolTypes[n.Type]; ok {
			name := c.extractor.extractName(n, tree.Source, config, language)
			if name == "" {
				return true
			}
			nodes = append(nodes, &symbolNodeInfo{node: n, symbol: &Symbol{
				Name:       name,
				Type:       symType,
				StartLine:  int(n.StartPoint.Row) + 1,
				EndLine:    int(n.EndPoint.Row) + 1,
				Signature:  c.extractor.extractSignature(n, tree.Source, symType, language),
				DocComment: c.extractor.extractDocComment(n, tree.Source, language),
			}})
			// Don't descend into a matched symbol's own subtree: a class
			// body's methods are part of that class chunk's content, not
			// separate chunks with an overlapping line range (spec §4.2's
			// non-overlap invariant). A top-level function with no
			// matched ancestor is still visited on its own.
			return false
		}
		return true
	})
	return nodes
}

func (c *ASTChunker) chunksFromSymbol(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string) []*Chunk {
	node := info.node
	content := string(tree.Source[node.StartByte:node.EndByte])
	kind := symbolKind(info.symbol.Type)
	if info.symbol.DocComment != "" && isDocOnly(info.symbol) {
		kind = KindCommentBlock
	}

	if estimateTokens(content) <= c.maxChunkTokens {
		return []*Chunk{c.newChunk(file, content, info.symbol.StartLine, info.symbol.EndLine, kind, info.symbol.Name)}
	}

	// Oversize body: split at nested boundaries (line-based, with overlap),
	// per spec §4.2 "split oversize bodies at nested boundaries."
	parts := splitLinesWithOverlap(content, c.maxChunkTokens, c.overlapTokens, info.symbol.StartLine)
	chunks := make([]*Chunk, 0, len(parts))
	for i, p := range parts {
		partContent := p.content
		if i > 0 && info.symbol.Signature != "" {
			// Continuation parts lose the def/class header that made the
			// first part self-describing; recap it so each part embeds
			// with enough context to be retrieved on its own.
			partContent = info.symbol.Signature + "\n" + partContent
		}
		chunks = append(chunks, c.newChunk(file, partContent, p.startLine, p.endLine, kind, info.symbol.Name))
	}
	return chunks
}

func isDocOnly(s *Symbol) bool {
	return s.Type == SymbolTypeConstant && s.EndLine == s.StartLine && s.DocComment != ""
}

func (c *ASTChunker) newChunk(file *FileInput, content string, startLine, endLine int, kind Kind, name string) *Chunk {
	return &Chunk{
		ChunkName: file.Path + ":" + name,
		FilePath:  file.Path,
		Language:  file.Language,
		LineStart: startLine,
		LineEnd:   endLine,
		Content:   content,
		Kind:      kind,
	}
}

func (c *ASTChunker) extractFileContext(tree *Tree, language string) string {
	var declTypes, importTypes []string
	switch primaryLanguage(language) {
	case "go":
		declTypes = []string{"package_clause"}
		importTypes = []string{"import_declaration"}
	default:
		importTypes = []string{"import_statement", "import_from_statement"}
	}

	var parts []string
	for _, t := range declTypes {
		for _, node := range tree.Root.FindChildrenByType(t) {
			parts = append(parts, node.GetContent(tree.Source))
		}
	}
	for _, t := range importTypes {
		for _, node := range tree.Root.FindChildrenByType(t) {
			parts = append(parts, node.GetContent(tree.Source))
		}
	}
	return strings.Join(parts, "\n")
}

// mergeTinySiblings merges a chunk below minChunkTokens with the chunk
// that follows it (same file only), repeating until the accumulated chunk
// reaches minChunkTokens or no chunk follows, per spec §4.2 step 1. The
// combined size is not checked against maxChunkTokens.
func mergeTinySiblings(chunks []*Chunk, minChunkTokens int) []*Chunk {
	if len(chunks) == 0 {
		return chunks
	}
	var merged []*Chunk
	var pending *Chunk
	for _, ch := range chunks {
		if pending == nil {
			pending = ch
			continue
		}
		if estimateTokens(pending.Content) < minChunkTokens && pending.FilePath == ch.FilePath {
			pending = &Chunk{
				ChunkName: pending.ChunkName,
				FilePath:  pending.FilePath,
				Language:  pending.Language,
				LineStart: pending.LineStart,
				LineEnd:   ch.LineEnd,
				Content:   pending.Content + "\n\n" + ch.Content,
				Kind:      pending.Kind,
			}
			continue
		}
		merged = append(merged, pending)
		pending = ch
	}
	if pending != nil {
		merged = append(merged, pending)
	}
	return merged
}

// finalize assigns deterministic chunk_ids and suppresses whitespace-only
// tails, per spec §4.2's edge cases.
func finalize(chunks []*Chunk) []*Chunk {
	out := make([]*Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if strings.TrimSpace(ch.Content) == "" {
			continue
		}
		ch.ChunkID = chunkID(ch.FilePath, contentHash(ch.Content), ch.LineStart, ch.LineEnd)
		out = append(out, ch)
	}
	return out
}

// chunkID derives the stable UUID described in spec §3: it changes iff
// file_path, content_hash, line_start, or line_end changes.
func chunkID(filePath, contentHash string, lineStart, lineEnd int) string {
	key := strings.Join([]string{filePath, contentHash, itoa(lineStart), itoa(lineEnd)}, "|")
	return uuid.NewSHA1(chunkIDNamespace, []byte(key)).String()
}

// ChunkID exports the same derivation for callers outside this package
// that need to recompute a chunk_id under a new file_path without
// redoing the chunking pass — the indexer's move-reconciliation path
// (spec §4.8), which keeps a chunk's content_hash and line range but
// must mint a fresh id under the new path.
func ChunkID(filePath, contentHash string, lineStart, lineEnd int) string {
	return chunkID(filePath, contentHash, lineStart, lineEnd)
}

// ContentHash returns the stable content hash used both for chunk_id
// derivation and for FileRecord move-detection (spec §3).
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func contentHash(content string) string {
	return ContentHash([]byte(content))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}

func isBinary(content []byte) bool {
	sample := content
	if len(sample) > 8000 {
		sample = sample[:8000]
	}
	if bytes.IndexByte(sample, 0) != -1 {
		return true
	}
	return !utf8.Valid(sample)
}

// primaryLanguage picks the dominant language for mixed-language files
// (e.g. templates carrying an embedded language tag like "html+go").
func primaryLanguage(language string) string {
	if idx := strings.IndexAny(language, "+ "); idx > 0 {
		return language[:idx]
	}
	return language
}

func splitLinesKeepEmpty(s string) []string {
	return strings.Split(s, "\n")
}

func averageLineBytes(lines []string) int {
	if len(lines) == 0 {
		return 1
	}
	total := 0
	for _, l := range lines {
		total += len(l) + 1
	}
	avg := total / len(lines)
	if avg < 1 {
		avg = 1
	}
	return avg
}

var _ Chunker = (*ASTChunker)(nil)
