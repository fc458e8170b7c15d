package retrieval

import (
	"fmt"
	"strings"
)

// TruncationMarker is appended when the assembled context exceeds its
// character budget.
const TruncationMarker = "..."

// BuildContext concatenates the retrieved chunks into one bounded prompt
// context plus parallel source citations. Chunks are bullet-prefixed in
// input order and separated by blank lines. Truncation applies to the whole
// string, not per chunk, so late chunks may be dropped entirely. The
// citation list always has one entry per input chunk regardless of
// truncation.
func BuildContext(chunks []RetrievedChunk, maxChars int) (string, []string) {
	if len(chunks) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(chunks))
	sources := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, "- "+c.Content)
		sources = append(sources, Citation(c))
	}

	contextStr := strings.Join(parts, "\n\n")
	if maxChars > 0 {
		if runes := []rune(contextStr); len(runes) > maxChars {
			contextStr = string(runes[:maxChars]) + TruncationMarker
		}
	}
	return contextStr, sources
}

// Citation formats a structured source reference for one chunk:
// doc:<document-id>(<title>)#<chunk-index>, with the title parenthetical
// omitted when absent.
func Citation(c RetrievedChunk) string {
	if c.Title != "" {
		return fmt.Sprintf("doc:%s(%s)#%d", c.DocumentID, c.Title, c.ChunkIndex)
	}
	return fmt.Sprintf("doc:%s#%d", c.DocumentID, c.ChunkIndex)
}
