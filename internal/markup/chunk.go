// ABOUTME: Lossless chunking of outbound text to a platform's message size limit.
// ABOUTME: Prefers newline splits, then spaces, then a hard cut; never drops characters.

package markup

import (
	"strings"
	"unicode/utf8"
)

// Chunk splits text into pieces of at most max bytes. The split point is the
// last newline within the limit, else the last space, else a hard cut.
// Separators stay with the leading chunk, so concatenating the result yields
// the input exactly. Chunks are never empty.
func Chunk(text string, max int) []string {
	if max < 1 {
		max = 1
	}
	if len(text) <= max {
		return []string{text}
	}

	var chunks []string
	for len(text) > max {
		cut := strings.LastIndexByte(text[:max], '\n')
		if cut < 0 {
			cut = strings.LastIndexByte(text[:max], ' ')
		}
		if cut >= 0 {
			cut++ // keep the separator with the leading chunk
		} else {
			cut = hardCut(text, max)
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

// hardCut returns max backed off to a rune boundary, unless that would
// produce an empty chunk.
func hardCut(text string, max int) int {
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		return max
	}
	return cut
}
