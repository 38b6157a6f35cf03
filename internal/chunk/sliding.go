package chunk

import "strings"

// linePart is an intermediate line range produced by line-based splitting,
// before chunk_id derivation (finalize assigns ids).
type linePart struct {
	content   string
	startLine int
	endLine   int
}

const approxCharsPerLine = 80

// splitLinesWithOverlap partitions content into line ranges of roughly
// maxTokens each, overlapping by roughly overlapTokens, used to break up an
// oversize AST symbol body and an oversize delimiter-tier section. The
// tier-3 fallback, chunkSlidingWindow, has its own loop.
func splitLinesWithOverlap(content string, maxTokens, overlapTokens, firstLine int) []linePart {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return nil
	}

	maxLines := (maxTokens * TokensPerChar) / approxCharsPerLine
	if maxLines < 20 {
		maxLines = 20
	}
	overlapLines := (overlapTokens * TokensPerChar) / approxCharsPerLine
	if overlapLines < 2 {
		overlapLines = 2
	}
	if overlapLines >= maxLines {
		overlapLines = maxLines / 2
	}

	var parts []linePart
	for i := 0; i < len(lines); {
		end := i + maxLines
		if end > len(lines) {
			end = len(lines)
		}
		parts = append(parts, linePart{
			content:   strings.Join(lines[i:end], "\n"),
			startLine: firstLine + i,
			endLine:   firstLine + end - 1,
		})
		if end >= len(lines) {
			break
		}
		next := end - overlapLines
		if next <= i {
			next = end
		}
		i = next
	}
	return trimWhitespaceTails(parts)
}

// chunkSlidingWindow is tier 3 of spec §4.2: size-capped sliding
// segmentation with a preference for breaking on blank lines so chunk
// boundaries land on paragraph breaks where possible.
func chunkSlidingWindow(file *FileInput, maxTokens, overlapTokens int) []*Chunk {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	maxLines := (maxTokens * TokensPerChar) / approxCharsPerLine
	if maxLines < 20 {
		maxLines = 20
	}
	overlapLines := (overlapTokens * TokensPerChar) / approxCharsPerLine
	if overlapLines < 2 {
		overlapLines = 2
	}

	var chunks []*Chunk
	for i := 0; i < len(lines); {
		end := i + maxLines
		if end > len(lines) {
			end = len(lines)
		}
		// Prefer to end on a blank line within the last quarter of the
		// window, so chunks don't split mid-paragraph when one is handy.
		if end < len(lines) {
			for j := end; j > i+maxLines*3/4; j-- {
				if strings.TrimSpace(lines[j-1]) == "" {
					end = j
					break
				}
			}
		}

		text := strings.Join(lines[i:end], "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, &Chunk{
				ChunkName: file.Path,
				FilePath:  file.Path,
				Language:  file.Language,
				LineStart: i + 1,
				LineEnd:   end,
				Content:   text,
				Kind:      KindOther,
			})
		}

		if end >= len(lines) {
			break
		}
		next := end - overlapLines
		if next <= i {
			next = end
		}
		i = next
	}
	return chunks
}

// trimWhitespaceTails drops whitespace-only parts, per spec §4.2
// "whitespace-only tails are suppressed." Trailing blank lines inside a
// part that also has other content are kept.
func trimWhitespaceTails(parts []linePart) []linePart {
	out := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p.content) == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
