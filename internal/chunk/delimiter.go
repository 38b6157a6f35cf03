package chunk

import "strings"

// delimiterLanguageProfile approximates definition boundaries for a
// language family that has no registered tree-sitter grammar, via comment
// markers and keyword-led section starts (spec §4.2 step 2).
type delimiterLanguageProfile struct {
	lineComment   string
	blockStart    string
	blockEnd      string
	sectionKeywords []string // tokens that, when first on a line, start a new section
}

var delimiterProfiles = map[string]delimiterLanguageProfile{
	"ruby":  {lineComment: "#", sectionKeywords: []string{"def ", "class ", "module "}},
	"shell": {lineComment: "#", sectionKeywords: []string{"function ", "() {"}},
	"bash":  {lineComment: "#", sectionKeywords: []string{"function ", "() {"}},
	"yaml":  {lineComment: "#", sectionKeywords: []string{}},
	"sql":   {lineComment: "--", sectionKeywords: []string{"create ", "alter ", "drop ", "select "}},
	"c":     {lineComment: "//", blockStart: "/*", blockEnd: "*/", sectionKeywords: []string{}},
	"cpp":   {lineComment: "//", blockStart: "/*", blockEnd: "*/", sectionKeywords: []string{}},
	"java":  {lineComment: "//", blockStart: "/*", blockEnd: "*/", sectionKeywords: []string{"public ", "private ", "protected "}},
	"rust":  {lineComment: "//", blockStart: "/*", blockEnd: "*/", sectionKeywords: []string{"fn ", "impl ", "struct ", "enum ", "trait "}},
}

func delimiterProfile(language string) (delimiterLanguageProfile, bool) {
	p, ok := delimiterProfiles[language]
	return p, ok
}

// chunkByDelimiters segments a file using comment blocks and keyword-led
// section starts as approximate definition boundaries. Sections exceeding
// maxTokens are further split by splitLinesWithOverlap; sections
// below minTokens are merged forward, matching the AST tier's behavior.
func chunkByDelimiters(file *FileInput, profile delimiterLanguageProfile, maxTokens, minTokens int) []*Chunk {
	lines := strings.Split(string(file.Content), "\n")
	if len(lines) == 0 {
		return nil
	}

	type section struct {
		start, end int // 0-indexed, end exclusive
		kind       Kind
	}
	var sections []section
	cur := section{start: 0, kind: KindOther}
	inBlockComment := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if profile.blockStart != "" {
			if inBlockComment {
				if strings.Contains(trimmed, profile.blockEnd) {
					inBlockComment = false
				}
				continue
			}
			if strings.HasPrefix(trimmed, profile.blockStart) {
				inBlockComment = true
				continue
			}
		}

		isSectionStart := false
		for _, kw := range profile.sectionKeywords {
			if strings.HasPrefix(trimmed, kw) {
				isSectionStart = true
				break
			}
		}
		if isSectionStart && i > cur.start {
			sections = append(sections, section{start: cur.start, end: i, kind: cur.kind})
			cur = section{start: i, kind: KindDefinition}
		} else if profile.lineComment != "" && strings.HasPrefix(trimmed, profile.lineComment) && cur.kind != KindCommentBlock && trimmed != "" {
			if i > cur.start {
				sections = append(sections, section{start: cur.start, end: i, kind: cur.kind})
			}
			cur = section{start: i, kind: KindCommentBlock}
		} else if cur.kind == KindCommentBlock && trimmed != "" && !strings.HasPrefix(trimmed, profile.lineComment) {
			sections = append(sections, section{start: cur.start, end: i, kind: cur.kind})
			cur = section{start: i, kind: KindOther}
		}
	}
	sections = append(sections, section{start: cur.start, end: len(lines), kind: cur.kind})

	var chunks []*Chunk
	for _, s := range sections {
		text := strings.Join(lines[s.start:s.end], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		if estimateTokens(text) > maxTokens {
			parts := splitLinesWithOverlap(text, maxTokens, DefaultOverlapTokens, s.start+1)
			for _, p := range parts {
				chunks = append(chunks, &Chunk{
					ChunkName: file.Path,
					FilePath:  file.Path,
					Language:  file.Language,
					LineStart: p.startLine,
					LineEnd:   p.endLine,
					Content:   p.content,
					Kind:      s.kind,
				})
			}
			continue
		}
		chunks = append(chunks, &Chunk{
			ChunkName: file.Path,
			FilePath:  file.Path,
			Language:  file.Language,
			LineStart: s.start + 1,
			LineEnd:   s.end,
			Content:   text,
			Kind:      s.kind,
		})
	}

	return mergeTinySiblings(chunks, minTokens)
}
