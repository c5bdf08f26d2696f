package document

import (
	"regexp"
	"strings"
)

// Default chunking window used by the embedding pipeline. Sizes are in
// characters, not tokens.
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 200
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeWhitespace collapses all whitespace runs to single spaces and
// trims the result.
func NormalizeWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

// ChunkText splits text into consecutive windows of size characters,
// advancing by size-overlap each step. The guard on nextStart prevents an
// infinite loop when overlap >= size. Empty input yields no chunks.
func ChunkText(text string, size, overlap int) []string {
	var chunks []string
	if text == "" || size <= 0 {
		return chunks
	}

	cleaned := NormalizeWhitespace(text)
	runes := []rune(cleaned)

	i := 0
	for i < len(runes) {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))

		nextStart := i + size - overlap
		if nextStart >= len(runes) || nextStart <= i {
			break
		}
		i = nextStart
	}
	return chunks
}
