// Package sanitize strips markup from scraped ad text before it is
// persisted or embedded in a notification payload.
package sanitize

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var htmlPolicy = bluemonday.StrictPolicy()

// Text strips HTML tags, decodes entities, and removes control
// characters from scraped ad text. The result is trimmed of surrounding
// whitespace.
func Text(raw string) string {
	clean := htmlPolicy.Sanitize(raw)
	clean = html.UnescapeString(clean)
	clean = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, clean)
	return strings.TrimSpace(clean)
}

// Truncate truncates s to at most n runes.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// ASCIILower lowercases only ASCII letters, leaving all other runes
// (including non-ASCII letters) untouched. This matches the filter and
// text-hash case-folding contract: comparisons are ASCII lower-case on
// both sides, not full Unicode case folding.
func ASCIILower(s string) string {
	b := []byte(s)
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
