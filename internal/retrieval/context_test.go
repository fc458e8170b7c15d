package retrieval

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildContext_FormatsBullets(t *testing.T) {
	chunks := []RetrievedChunk{
		{Content: "first passage", DocumentID: "d1", Title: "Doc One", ChunkIndex: 0},
		{Content: "second passage", DocumentID: "d2", ChunkIndex: 3},
	}

	ctxStr, sources := BuildContext(chunks, 4000)

	assert.Equal(t, "- first passage\n\n- second passage", ctxStr)
	assert.Equal(t, []string{"doc:d1(Doc One)#0", "doc:d2#3"}, sources)
}

func TestBuildContext_EmptyInput(t *testing.T) {
	ctxStr, sources := BuildContext(nil, 4000)
	assert.Empty(t, ctxStr)
	assert.Nil(t, sources)
}

func TestBuildContext_TruncatesWholeString(t *testing.T) {
	chunks := []RetrievedChunk{
		{Content: strings.Repeat("a", 80), DocumentID: "d1", ChunkIndex: 0},
		{Content: strings.Repeat("b", 80), DocumentID: "d1", ChunkIndex: 1},
	}

	ctxStr, sources := BuildContext(chunks, 100)

	assert.Equal(t, 100+len(TruncationMarker), len(ctxStr))
	assert.True(t, strings.HasSuffix(ctxStr, TruncationMarker))
	// truncation never shortens the citation list
	assert.Len(t, sources, 2)
}

func TestBuildContext_BudgetIsRuneBased(t *testing.T) {
	chunks := []RetrievedChunk{
		{Content: strings.Repeat("é", 50), DocumentID: "d1", ChunkIndex: 0},
	}

	ctxStr, _ := BuildContext(chunks, 20)

	require.True(t, utf8.ValidString(ctxStr), "cut must land on a rune boundary")
	assert.Equal(t, 20+len(TruncationMarker), utf8.RuneCountInString(ctxStr))
}

func TestBuildContext_UnderBudgetUntouched(t *testing.T) {
	chunks := []RetrievedChunk{{Content: "short", DocumentID: "d1", ChunkIndex: 0}}

	ctxStr, _ := BuildContext(chunks, 4000)

	assert.Equal(t, "- short", ctxStr)
	assert.False(t, strings.HasSuffix(ctxStr, TruncationMarker))
}

func TestBuildContext_ZeroBudgetDisablesTruncation(t *testing.T) {
	chunks := []RetrievedChunk{{Content: strings.Repeat("x", 500), DocumentID: "d1", ChunkIndex: 0}}

	ctxStr, _ := BuildContext(chunks, 0)
	assert.Equal(t, 502, len(ctxStr))
}

func TestCitation(t *testing.T) {
	assert.Equal(t, "doc:abc(Pricing FAQ)#2", Citation(RetrievedChunk{DocumentID: "abc", Title: "Pricing FAQ", ChunkIndex: 2}))
	assert.Equal(t, "doc:abc#0", Citation(RetrievedChunk{DocumentID: "abc"}))
}
