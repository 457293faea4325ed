package catalog

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	quoteChars         = "\"'“”‘’「」"
	trailingPunctChars = ",.;，。；、"
)

// NormalizeFilename cleans a catalog filename cell: NFKC normalization,
// surrounding whitespace and quotes removed, trailing punctuation removed,
// any directory part dropped. The result is "" when nothing usable is left.
// NormalizeFilename(NormalizeFilename(s)) == NormalizeFilename(s).
func NormalizeFilename(s string) string {
	s = trimEdges(norm.NFKC.String(s))
	s = strings.TrimRight(strings.ReplaceAll(s, `\`, "/"), "/")
	if s == "" {
		return ""
	}
	s = trimEdges(path.Base(s))
	if s == "." || s == ".." {
		return ""
	}
	return s
}

func trimEdges(s string) string {
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(quoteChars, r)
	})
	return strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(quoteChars, r) || strings.ContainsRune(trailingPunctChars, r)
	})
}
