// Package chunker splits extracted document text into retrieval-ready,
// token-bounded segments. The algorithm is hybrid: it cuts at the strongest
// available semantic boundary (heading, paragraph, sentence, word, in that
// order), then packs the resulting units greedily up to the target size.
package chunker

import (
	"regexp"
	"strings"

	"github.com/omnidocs/docpipe/internal/models"
	"github.com/omnidocs/docpipe/pkg/tokenizer"
)

// Params bound the size of emitted chunks, in tokens.
type Params struct {
	TargetTokens  int
	OverlapTokens int
	MinTokens     int
}

// DefaultParams matches the retrieval defaults used across the pipeline.
func DefaultParams() Params {
	return Params{TargetTokens: 512, OverlapTokens: 50, MinTokens: 100}
}

// PageBoundary marks the byte offset in the extracted text where a page
// starts. Boundaries must be sorted by offset, pages starting at 1.
type PageBoundary struct {
	Page   int
	Offset int
}

// Chunk is one emitted segment, ready for persistence.
type Chunk struct {
	Order         int
	Type          models.ChunkType
	Content       string
	TokenCount    int
	StartPage     *int
	EndPage       *int
	ParentHeading *string
}

// Chunker converts text into chunks using one token codec, so chunk sizing
// agrees with any downstream consumer that re-counts.
type Chunker struct {
	params Params
	codec  tokenizer.Codec
}

func New(params Params, codec tokenizer.Codec) *Chunker {
	return &Chunker{params: params, codec: codec}
}

// segment is one semantic unit produced by splitting the source text.
type segment struct {
	kind    models.ChunkType
	text    string
	offset  int // byte offset into the source text
	level   int // heading nesting level, 0 for non-headings
	heading string
	tokens  int
}

var (
	headingRe  = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	listItemRe = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
	sentenceRe = regexp.MustCompile(`[.!?]+(?:\s+|$)`)
)

// Chunk splits text into ordered chunks. The same inputs always produce the
// same chunk sequence.
func (c *Chunker) Chunk(text string, pages []PageBoundary) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	segments := c.split(text)
	segments = c.enforceBounds(segments)
	chunks := c.pack(segments, pages)
	chunks = c.mergeSmall(chunks)
	c.addOverlap(chunks)

	for i := range chunks {
		chunks[i].Order = i
	}
	return chunks
}

// split cuts the text into heading, table, list and paragraph segments,
// tracking byte offsets and the heading stack for parent attribution.
func (c *Chunker) split(text string) []segment {
	var segments []segment

	// Heading stack: headingStack[i] holds the most recent heading text at
	// level i+1. A new heading at level L clears deeper levels.
	var headingStack []string

	parentFor := func(level int) string {
		// Nearest heading strictly above the given level.
		for i := level - 2; i >= 0; i-- {
			if i < len(headingStack) && headingStack[i] != "" {
				return headingStack[i]
			}
		}
		return ""
	}
	currentHeading := func() string {
		for i := len(headingStack) - 1; i >= 0; i-- {
			if headingStack[i] != "" {
				return headingStack[i]
			}
		}
		return ""
	}

	offset := 0
	var buf []string
	bufKind := models.ChunkText
	bufOffset := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		content := strings.Join(buf, "\n")
		segments = append(segments, segment{
			kind:    bufKind,
			text:    content,
			offset:  bufOffset,
			heading: currentHeading(),
			tokens:  c.codec.Count(content),
		})
		buf = nil
	}

	lines := strings.Split(text, "\n")
	for _, line := range lines {
		lineOffset := offset
		offset += len(line) + 1
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			flush()

		case headingRe.MatchString(trimmed):
			flush()
			m := headingRe.FindStringSubmatch(trimmed)
			level := len(m[1])
			title := strings.TrimSpace(m[2])

			if level <= len(headingStack) {
				headingStack = headingStack[:level-1]
			}
			for len(headingStack) < level-1 {
				headingStack = append(headingStack, "")
			}

			segments = append(segments, segment{
				kind:    models.ChunkHeading,
				text:    trimmed,
				offset:  lineOffset,
				level:   level,
				heading: parentFor(level),
				tokens:  c.codec.Count(trimmed),
			})
			headingStack = append(headingStack, title)

		case strings.HasPrefix(trimmed, "|"):
			if len(buf) > 0 && bufKind != models.ChunkTable {
				flush()
			}
			if len(buf) == 0 {
				bufKind = models.ChunkTable
				bufOffset = lineOffset
			}
			buf = append(buf, trimmed)

		case listItemRe.MatchString(line):
			if len(buf) > 0 && bufKind != models.ChunkList {
				flush()
			}
			if len(buf) == 0 {
				bufKind = models.ChunkList
				bufOffset = lineOffset
			}
			buf = append(buf, trimmed)

		default:
			if len(buf) > 0 && bufKind != models.ChunkText {
				flush()
			}
			if len(buf) == 0 {
				bufKind = models.ChunkText
				bufOffset = lineOffset
			}
			buf = append(buf, trimmed)
		}
	}
	flush()

	return segments
}

// enforceBounds force-splits any single segment that exceeds the target on
// its own. Paragraphs split at sentence boundaries; tables over twice the
// target split by row; lists split by item. Words are never cut.
func (c *Chunker) enforceBounds(segments []segment) []segment {
	var out []segment
	for _, seg := range segments {
		switch {
		case seg.tokens <= c.params.TargetTokens:
			out = append(out, seg)
		case seg.kind == models.ChunkTable:
			// A table is atomic as long as it fits within twice the target.
			if seg.tokens <= 2*c.params.TargetTokens {
				out = append(out, seg)
			} else {
				out = append(out, c.splitLines(seg)...)
			}
		case seg.kind == models.ChunkList:
			out = append(out, c.splitLines(seg)...)
		default:
			out = append(out, c.splitSentences(seg)...)
		}
	}
	return out
}

// splitLines regroups a table or list segment row-by-row into pieces that
// stay within the target.
func (c *Chunker) splitLines(seg segment) []segment {
	lines := strings.Split(seg.text, "\n")
	var out []segment
	var buf []string
	bufTokens := 0
	bufOffset := seg.offset
	lineOffset := seg.offset

	flush := func() {
		if len(buf) == 0 {
			return
		}
		content := strings.Join(buf, "\n")
		out = append(out, segment{
			kind:    seg.kind,
			text:    content,
			offset:  bufOffset,
			heading: seg.heading,
			tokens:  c.codec.Count(content),
		})
		buf = nil
		bufTokens = 0
	}

	for _, line := range lines {
		n := c.codec.Count(line)
		if bufTokens+n > c.params.TargetTokens && len(buf) > 0 {
			flush()
			bufOffset = lineOffset
		}
		buf = append(buf, line)
		bufTokens += n
		lineOffset += len(line) + 1
	}
	flush()
	return out
}

// splitSentences breaks an oversized paragraph at sentence boundaries,
// falling back to word boundaries when one sentence alone exceeds the
// target.
func (c *Chunker) splitSentences(seg segment) []segment {
	sentences := splitAfter(seg.text, sentenceRe)

	var expanded []string
	for _, s := range sentences {
		if c.codec.Count(s) > c.params.TargetTokens {
			// Word pieces drop their source whitespace, so restore a
			// separator for the eventual rejoin.
			for _, piece := range c.splitWords(s) {
				expanded = append(expanded, piece+" ")
			}
		} else {
			expanded = append(expanded, s)
		}
	}

	var out []segment
	var buf []string
	bufTokens := 0
	consumed := 0
	bufOffset := seg.offset

	flush := func() {
		if len(buf) == 0 {
			return
		}
		content := strings.TrimSpace(strings.Join(buf, ""))
		out = append(out, segment{
			kind:    seg.kind,
			text:    content,
			offset:  bufOffset,
			heading: seg.heading,
			tokens:  c.codec.Count(content),
		})
		buf = nil
		bufTokens = 0
	}

	for _, s := range expanded {
		n := c.codec.Count(s)
		if bufTokens+n > c.params.TargetTokens && len(buf) > 0 {
			flush()
			bufOffset = seg.offset + consumed
		}
		buf = append(buf, s)
		bufTokens += n
		consumed += len(s)
	}
	flush()
	return out
}

// splitWords cuts a single enormous sentence into target-sized pieces at
// whitespace only.
func (c *Chunker) splitWords(s string) []string {
	words := strings.Fields(s)
	var out []string
	var buf []string
	bufTokens := 0

	for _, w := range words {
		n := c.codec.Count(w)
		if bufTokens+n > c.params.TargetTokens && len(buf) > 0 {
			out = append(out, strings.Join(buf, " "))
			buf = nil
			bufTokens = 0
		}
		buf = append(buf, w)
		bufTokens += n
	}
	if len(buf) > 0 {
		out = append(out, strings.Join(buf, " "))
	}
	return out
}

// pack greedily accumulates segments into chunks up to the target size.
func (c *Chunker) pack(segments []segment, pages []PageBoundary) []Chunk {
	var chunks []Chunk

	var parts []string
	var kinds []models.ChunkType
	tokens := 0
	startOffset, endOffset := 0, 0
	heading := ""

	flush := func() {
		if len(parts) == 0 {
			return
		}
		content := strings.Join(parts, "\n\n")
		ch := Chunk{
			Type:       dominantKind(kinds),
			Content:    content,
			TokenCount: c.codec.Count(content),
		}
		if p := pageAt(pages, startOffset); p > 0 {
			ch.StartPage = &p
		}
		if p := pageAt(pages, endOffset); p > 0 {
			ch.EndPage = &p
		}
		if heading != "" {
			h := heading
			ch.ParentHeading = &h
		}
		chunks = append(chunks, ch)
		parts = nil
		kinds = nil
		tokens = 0
	}

	for _, seg := range segments {
		if tokens+seg.tokens > c.params.TargetTokens && len(parts) > 0 {
			flush()
		}
		if len(parts) == 0 {
			startOffset = seg.offset
			heading = seg.heading
		}
		parts = append(parts, seg.text)
		kinds = append(kinds, seg.kind)
		tokens += seg.tokens
		endOffset = seg.offset + len(seg.text)
	}
	flush()

	return chunks
}

// mergeSmall folds any chunk below the minimum into the chunk that follows
// it. The final chunk may stay small; there is nothing after it to merge
// into.
func (c *Chunker) mergeSmall(chunks []Chunk) []Chunk {
	if len(chunks) <= 1 {
		return chunks
	}
	var out []Chunk
	for i := 0; i < len(chunks); i++ {
		cur := chunks[i]
		for cur.TokenCount < c.params.MinTokens && i+1 < len(chunks) {
			next := chunks[i+1]
			cur.Content = cur.Content + "\n\n" + next.Content
			cur.TokenCount = c.codec.Count(cur.Content)
			// Keep whatever page attribution is known; a chunk without
			// boundaries must not erase its neighbor's.
			if next.EndPage != nil {
				cur.EndPage = next.EndPage
			}
			if cur.StartPage == nil {
				cur.StartPage = next.StartPage
			}
			if cur.Type != next.Type {
				cur.Type = models.ChunkText
			}
			i++
		}
		out = append(out, cur)
	}
	return out
}

// addOverlap prepends the token tail of each chunk to its successor so
// retrieval keeps cross-boundary context. Token counts are updated to the
// stored content.
func (c *Chunker) addOverlap(chunks []Chunk) {
	if c.params.OverlapTokens <= 0 || len(chunks) <= 1 {
		return
	}
	// Tails come from the original content, before overlap is prepended, so
	// context never compounds across chunks.
	tails := make([]string, len(chunks))
	for i := 0; i < len(chunks)-1; i++ {
		tails[i] = c.codec.Tail(chunks[i].Content, c.params.OverlapTokens)
	}
	for i := 1; i < len(chunks); i++ {
		if tails[i-1] == "" {
			continue
		}
		chunks[i].Content = tails[i-1] + "\n\n" + chunks[i].Content
		chunks[i].TokenCount = c.codec.Count(chunks[i].Content)
	}
}

// splitAfter splits s keeping each delimiter attached to the preceding
// piece.
func splitAfter(s string, re *regexp.Regexp) []string {
	var out []string
	last := 0
	for _, loc := range re.FindAllStringIndex(s, -1) {
		out = append(out, s[last:loc[1]])
		last = loc[1]
	}
	if last < len(s) {
		out = append(out, s[last:])
	}
	return out
}

func dominantKind(kinds []models.ChunkType) models.ChunkType {
	if len(kinds) == 1 {
		return kinds[0]
	}
	for _, k := range kinds {
		if k == models.ChunkTable {
			return models.ChunkTable
		}
	}
	for _, k := range kinds {
		if k == models.ChunkList {
			return models.ChunkList
		}
	}
	return models.ChunkText
}

// pageAt returns the page containing the given byte offset, or 0 when no
// boundaries are known.
func pageAt(pages []PageBoundary, offset int) int {
	page := 0
	for _, b := range pages {
		if b.Offset <= offset {
			page = b.Page
		} else {
			break
		}
	}
	return page
}
