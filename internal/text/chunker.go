package text

import (
	"errors"
	"strings"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
)

// ErrInvalidChunkConfig is returned when the requested overlap would prevent
// the chunking window from advancing.
var ErrInvalidChunkConfig = errors.New("chunk overlap must be smaller than chunk size")

// Chunk is one bounded window of a document's text. Index is 0-based and
// order-significant; it is the unit of embedding and retrieval.
type Chunk struct {
	Index   int
	Content string
}

// Split cuts text into overlapping fixed-size windows. Consecutive windows
// share `overlap` characters so sentences that straddle a boundary appear in
// both neighbours. The trailing chunk may be shorter than size. Chunks that
// are empty after trimming whitespace are skipped, but the index keeps
// counting the window position so re-indexing stays deterministic.
func Split(text string, size, overlap int) ([]Chunk, error) {
	if size <= 0 {
		return nil, ErrInvalidChunkConfig
	}
	if overlap < 0 || overlap >= size {
		return nil, ErrInvalidChunkConfig
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	step := size - overlap

	var chunks []Chunk
	index := 0
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			chunks = append(chunks, Chunk{Index: index, Content: content})
		}
		index++

		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}
