package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidocs/docpipe/internal/models"
	"github.com/omnidocs/docpipe/pkg/tokenizer"
)

func newTestChunker(target, overlap, min int) *Chunker {
	return New(Params{TargetTokens: target, OverlapTokens: overlap, MinTokens: min}, tokenizer.Words{})
}

func words(n int, prefix string) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(out, " ")
}

func TestChunkEmptyText(t *testing.T) {
	c := newTestChunker(10, 0, 1)
	assert.Nil(t, c.Chunk("", nil))
	assert.Nil(t, c.Chunk("   \n\t\n", nil))
}

func TestChunkOrderIsGapFree(t *testing.T) {
	c := newTestChunker(10, 0, 1)
	text := words(8, "a") + "\n\n" + words(8, "b") + "\n\n" + words(8, "c")

	chunks := c.Chunk(text, nil)
	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Order)
	}
}

func TestChunkDeterministic(t *testing.T) {
	c := newTestChunker(12, 4, 2)
	text := "# Title\n\n" + words(30, "w") + "\n\n- one\n- two\n- three\n\n" + words(9, "z")

	first := c.Chunk(text, nil)
	second := c.Chunk(text, nil)
	assert.Equal(t, first, second)
}

func TestChunkRespectsTargetBound(t *testing.T) {
	target := 10
	c := newTestChunker(target, 0, 1)
	text := words(45, "w")

	chunks := c.Chunk(text, nil)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenCount, target, "chunk %d over target", ch.Order)
	}

	// All words survive, none duplicated (no overlap configured).
	var all []string
	for _, ch := range chunks {
		all = append(all, strings.Fields(ch.Content)...)
	}
	assert.Equal(t, strings.Fields(text), all)
}

func TestChunkOverlapPrependsPreviousTail(t *testing.T) {
	target, overlap := 10, 3
	base := newTestChunker(target, 0, 1)
	c := newTestChunker(target, overlap, 1)
	text := words(10, "a") + "\n\n" + words(10, "b")

	plain := base.Chunk(text, nil)
	require.Len(t, plain, 2)

	chunks := c.Chunk(text, nil)
	require.Len(t, chunks, 2)

	// First chunk is untouched; the second starts with the tail of the
	// first chunk's pre-overlap content.
	assert.Equal(t, plain[0].Content, chunks[0].Content)
	tail := tokenizer.Words{}.Tail(plain[0].Content, overlap)
	assert.True(t, strings.HasPrefix(chunks[1].Content, tail+"\n\n"),
		"chunk 1 should start with %q, got %q", tail, chunks[1].Content)
	assert.Equal(t, tokenizer.Words{}.Count(chunks[1].Content), chunks[1].TokenCount)
}

func TestChunkOverlapDoesNotCompound(t *testing.T) {
	target, overlap := 10, 3
	c := newTestChunker(target, overlap, 1)
	text := words(10, "a") + "\n\n" + words(10, "b") + "\n\n" + words(10, "c")

	chunks := c.Chunk(text, nil)
	require.Len(t, chunks, 3)
	// Each chunk carries at most target + overlap tokens: its own content
	// plus one tail, never a tail of a tail.
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenCount, target+overlap)
	}
	assert.NotContains(t, chunks[2].Content, "a7", "tail from chunk 0 leaked past chunk 1")
}

func TestChunkTableStaysAtomic(t *testing.T) {
	// Each row is 7 whitespace tokens; 5 rows are 35, over the target of 20
	// but within twice the target.
	target := 20
	c := newTestChunker(target, 0, 1)
	var rows []string
	for i := 0; i < 5; i++ {
		rows = append(rows, fmt.Sprintf("| r%dc1 | r%dc2 | r%dc3 |", i, i, i))
	}
	text := strings.Join(rows, "\n")

	chunks := c.Chunk(text, nil)
	require.Len(t, chunks, 1)
	assert.Equal(t, models.ChunkTable, chunks[0].Type)
	assert.Greater(t, chunks[0].TokenCount, target)
}

func TestChunkHugeTableSplitsByRow(t *testing.T) {
	target := 20
	c := newTestChunker(target, 0, 1)
	var rows []string
	for i := 0; i < 10; i++ {
		rows = append(rows, fmt.Sprintf("| r%dc1 | r%dc2 | r%dc3 |", i, i, i))
	}
	text := strings.Join(rows, "\n") // 70 tokens, over twice the target

	chunks := c.Chunk(text, nil)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.Equal(t, models.ChunkTable, ch.Type)
		assert.LessOrEqual(t, ch.TokenCount, target)
		// Row boundaries are respected.
		for _, line := range strings.Split(ch.Content, "\n") {
			assert.True(t, strings.HasPrefix(line, "|"))
		}
	}
}

func TestChunkParentHeadingAttribution(t *testing.T) {
	c := newTestChunker(10, 0, 1)
	text := "# Title\n\n" + words(10, "intro") + "\n\n## Sub\n\n" + words(10, "body")

	chunks := c.Chunk(text, nil)
	require.Len(t, chunks, 4)

	// The top heading has no parent.
	assert.Equal(t, models.ChunkHeading, chunks[0].Type)
	assert.Nil(t, chunks[0].ParentHeading)

	// Intro falls under Title.
	require.NotNil(t, chunks[1].ParentHeading)
	assert.Equal(t, "Title", *chunks[1].ParentHeading)

	// The subheading's parent is the enclosing level-1 heading.
	require.NotNil(t, chunks[2].ParentHeading)
	assert.Equal(t, "Title", *chunks[2].ParentHeading)

	// Body falls under the nearest heading.
	require.NotNil(t, chunks[3].ParentHeading)
	assert.Equal(t, "Sub", *chunks[3].ParentHeading)
}

func TestChunkSiblingHeadingReplacesScope(t *testing.T) {
	c := newTestChunker(10, 0, 1)
	text := "## First\n\n" + words(10, "a") + "\n\n## Second\n\n" + words(10, "b")

	chunks := c.Chunk(text, nil)
	require.Len(t, chunks, 4)
	require.NotNil(t, chunks[3].ParentHeading)
	assert.Equal(t, "Second", *chunks[3].ParentHeading)
}

func TestChunkPageAttribution(t *testing.T) {
	c := newTestChunker(3, 0, 1)
	page1 := "alpha beta gamma"
	page2 := "delta epsilon zeta"
	text := page1 + "\n\n" + page2
	pages := []PageBoundary{
		{Page: 1, Offset: 0},
		{Page: 2, Offset: len(page1) + 2},
	}

	chunks := c.Chunk(text, pages)
	require.Len(t, chunks, 2)

	require.NotNil(t, chunks[0].StartPage)
	require.NotNil(t, chunks[0].EndPage)
	assert.Equal(t, 1, *chunks[0].StartPage)
	assert.Equal(t, 1, *chunks[0].EndPage)

	require.NotNil(t, chunks[1].StartPage)
	assert.Equal(t, 2, *chunks[1].StartPage)
	assert.Equal(t, 2, *chunks[1].EndPage)
}

func TestChunkSpanningPages(t *testing.T) {
	c := newTestChunker(100, 0, 1)
	page1 := words(10, "a")
	page2 := words(10, "b")
	text := page1 + "\n\n" + page2
	pages := []PageBoundary{
		{Page: 1, Offset: 0},
		{Page: 2, Offset: len(page1) + 2},
	}

	chunks := c.Chunk(text, pages)
	require.Len(t, chunks, 1)
	require.NotNil(t, chunks[0].StartPage)
	require.NotNil(t, chunks[0].EndPage)
	assert.Equal(t, 1, *chunks[0].StartPage)
	assert.Equal(t, 2, *chunks[0].EndPage)
}

func TestChunkNoPagesMeansNilPages(t *testing.T) {
	c := newTestChunker(10, 0, 1)
	chunks := c.Chunk(words(5, "w"), nil)
	require.Len(t, chunks, 1)
	assert.Nil(t, chunks[0].StartPage)
	assert.Nil(t, chunks[0].EndPage)
}

func TestChunkMergesSmallChunks(t *testing.T) {
	c := newTestChunker(10, 0, 5)
	// The paragraphs do not fit one chunk, so the tiny one initially stands
	// alone; being under the minimum it folds into the chunk after it.
	text := words(3, "tiny") + "\n\n" + words(9, "full")

	chunks := c.Chunk(text, nil)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "tiny0")
	assert.Contains(t, chunks[0].Content, "full8")
}

func TestMergeSmallKeepsKnownPages(t *testing.T) {
	c := newTestChunker(10, 0, 5)
	one := 1
	three := 3
	chunks := []Chunk{
		{Content: words(2, "tiny"), TokenCount: 2, StartPage: &one, EndPage: &one},
		{Content: words(9, "w"), TokenCount: 9},
		{Content: words(9, "v"), TokenCount: 9, StartPage: &three, EndPage: &three},
	}

	merged := c.mergeSmall(chunks)
	require.Len(t, merged, 2)

	// Folding an unpaged chunk into a paged one keeps the known pages.
	require.NotNil(t, merged[0].StartPage)
	assert.Equal(t, 1, *merged[0].StartPage)
	require.NotNil(t, merged[0].EndPage)
	assert.Equal(t, 1, *merged[0].EndPage)

	require.NotNil(t, merged[1].EndPage)
	assert.Equal(t, 3, *merged[1].EndPage)
}

func TestChunkGiantWordNeverCut(t *testing.T) {
	c := newTestChunker(3, 0, 1)
	giant := strings.Repeat("x", 500)
	text := words(3, "a") + " " + giant + " " + words(3, "b")

	chunks := c.Chunk(text, nil)
	for _, ch := range chunks {
		if strings.Contains(ch.Content, "x") {
			assert.Contains(t, ch.Content, giant, "giant word was cut")
		}
	}
}
