// Package chunking splits long document content into token-bounded windows
// before embedding. Statute texts and advisory case exports routinely exceed
// embedding-model context limits; overlapping windows keep article boundaries
// from cutting evidence in half.
package chunking

import (
	"regexp"
)

var tokenRegex = regexp.MustCompile(`\p{L}[\p{L}\p{M}]*|\p{N}+|[^\s]`)

// Chunker approximates token-aware chunking without depending on
// provider-specific codecs. It keeps whitespace intact while enforcing token
// windows and overlaps.
type Chunker struct {
	maxTokens     int
	overlapTokens int
}

// Option customises the token chunker.
type Option func(*Chunker)

// WithMaxTokens sets the maximum allowed tokens per chunk (default 256).
func WithMaxTokens(tokens int) Option {
	return func(c *Chunker) {
		if tokens > 0 {
			c.maxTokens = tokens
		}
	}
}

// WithOverlapTokens sets how many tokens are shared between consecutive chunks.
func WithOverlapTokens(tokens int) Option {
	return func(c *Chunker) {
		if tokens >= 0 {
			c.overlapTokens = tokens
		}
	}
}

// New creates a new token-aware chunker.
func New(opts ...Option) *Chunker {
	ch := &Chunker{
		maxTokens:     256,
		overlapTokens: 32,
	}
	for _, opt := range opts {
		opt(ch)
	}
	if ch.overlapTokens >= ch.maxTokens {
		ch.overlapTokens = ch.maxTokens / 4
	}
	return ch
}

type segment struct {
	start  int
	end    int
	counts bool
}

// Split cuts content into chunks of at most maxTokens tokens, consecutive
// chunks overlapping by overlapTokens. Content within one window is returned
// as-is.
func (c *Chunker) Split(content string) []string {
	segments, tokenSegments := buildSegments(content)
	if len(tokenSegments) == 0 || len(tokenSegments) <= c.maxTokens {
		return []string{content}
	}

	var chunks []string
	tokenStart := 0
	for tokenStart < len(tokenSegments) {
		tokenEnd := tokenStart + c.maxTokens
		if tokenEnd > len(tokenSegments) {
			tokenEnd = len(tokenSegments)
		}
		startSegment := tokenSegments[tokenStart]
		if startSegment > 0 && !segments[startSegment-1].counts {
			startSegment--
		}
		endSegment := tokenSegments[tokenEnd-1] + 1
		for endSegment < len(segments) && !segments[endSegment].counts {
			endSegment++
		}

		chunks = append(chunks, extract(content, segments[startSegment:endSegment]))

		if tokenEnd == len(tokenSegments) {
			break
		}
		tokenStart = tokenEnd - c.overlapTokens
		if tokenStart < 0 {
			tokenStart = 0
		}
	}
	return chunks
}

func buildSegments(text string) ([]segment, []int) {
	var segments []segment
	var tokenSegments []int
	matches := tokenRegex.FindAllStringIndex(text, -1)
	prevEnd := 0
	for _, loc := range matches {
		if loc[0] > prevEnd {
			segments = append(segments, segment{start: prevEnd, end: loc[0]})
		}
		tokenSegments = append(tokenSegments, len(segments))
		segments = append(segments, segment{start: loc[0], end: loc[1], counts: true})
		prevEnd = loc[1]
	}
	if prevEnd < len(text) {
		segments = append(segments, segment{start: prevEnd, end: len(text)})
	}
	return segments, tokenSegments
}

func extract(text string, segments []segment) string {
	if len(segments) == 0 {
		return ""
	}
	return text[segments[0].start:segments[len(segments)-1].end]
}
