package tokenizer

import (
	"strings"
	"unicode"
)

// Tokenizer counts tokens in user questions; the router's length-based
// complexity signal depends on it.
type Tokenizer interface {
	CountTokens(text string) int
}

var _ Tokenizer = (*SimpleTokenizer)(nil)

// SimpleTokenizer approximates token counts without a model vocabulary:
// letter/digit runs form one token, CJK characters count individually,
// punctuation stands alone.
type SimpleTokenizer struct{}

// NewSimpleTokenizer creates the heuristic tokenizer.
func NewSimpleTokenizer() *SimpleTokenizer {
	return &SimpleTokenizer{}
}

// CountTokens implements Tokenizer.
func (t *SimpleTokenizer) CountTokens(text string) int {
	count := 0
	inRun := false

	flush := func() {
		if inRun {
			count++
			inRun = false
		}
	}

	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.Is(unicode.Han, r), unicode.Is(unicode.Hangul, r), unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			flush()
			count++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			inRun = true
		default:
			flush()
			count++
		}
	}
	flush()
	return count
}

// Words splits text on whitespace; shared helper for keyword matching.
func Words(text string) []string {
	return strings.Fields(text)
}
