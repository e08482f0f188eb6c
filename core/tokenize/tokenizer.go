// Package tokenize provides the pluggable word-segmentation strategy used by
// the analysis pipeline. Segmentation here is deliberately loose: children's
// speech arrives as short kana/latin bursts, and the pipeline only needs a
// stable, bounded token stream, not linguistically correct morphemes.
package tokenize

import "strings"

// Tokenizer turns raw turn text into candidate vocabulary words.
type Tokenizer interface {
	Tokenize(text string) []string
}

// Default bounds for loose tokenization.
const (
	DefaultMaxTokenLength = 12
	DefaultMaxTokens      = 30
)

// strippedPunctuation is the fixed set removed before splitting.
const strippedPunctuation = "！!？?。、，．・…"

// Loose is a whitespace tokenizer with normalization:
// runs of whitespace (including full-width space) collapse to one space, the
// fixed punctuation set becomes spaces, tokens longer than MaxTokenLength are
// truncated to their leading runes, and at most MaxTokens earliest tokens are
// kept.
type Loose struct {
	MaxTokenLength int
	MaxTokens      int
}

// NewLoose returns a Loose tokenizer with the default bounds.
func NewLoose() *Loose {
	return &Loose{
		MaxTokenLength: DefaultMaxTokenLength,
		MaxTokens:      DefaultMaxTokens,
	}
}

// Tokenize implements Tokenizer.
func (l *Loose) Tokenize(text string) []string {
	maxLen := l.MaxTokenLength
	if maxLen <= 0 {
		maxLen = DefaultMaxTokenLength
	}
	maxTokens := l.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	normalized := normalize(text)
	if normalized == "" {
		return nil
	}

	var tokens []string
	for _, raw := range strings.Split(normalized, " ") {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}
		tokens = append(tokens, truncateRunes(token, maxLen))
		if len(tokens) == maxTokens {
			break
		}
	}
	return tokens
}

// normalize collapses whitespace runs and strips punctuation, returning a
// single-space-separated string.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true // leading spaces are dropped
	for _, r := range text {
		switch {
		case r == '　' || r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case strings.ContainsRune(strippedPunctuation, r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}

	return strings.TrimRight(b.String(), " ")
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
