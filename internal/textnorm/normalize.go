// Package textnorm normalizes free text before embedding. Questions
// are normalized identically at index-build time and at query time so
// that superficial formatting differences never affect similarity.
package textnorm

import (
	"strings"
	"unicode"
)

// Normalize lowercases the text, strips punctuation and symbols, and
// collapses runs of whitespace into single spaces. Letters, digits and
// underscores are kept, including non-ASCII letters (accented
// characters survive normalization unchanged apart from case).
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			// Punctuation and whitespace both act as separators.
			space = true
		}
	}
	return b.String()
}
