// Package text provides message canonicalization used for cache keying.
package text

import (
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	// Everything outside word characters, whitespace, and CJK ideographs.
	nonWord = regexp.MustCompile(`[^\w\s\x{4e00}-\x{9fff}]+`)
)

// Normalize lowercases, collapses whitespace runs to a single space, and
// strips characters outside word/whitespace/CJK ranges. The result is used
// for cache keys only; keyword matching runs on lowercased raw text so that
// punctuation-bearing keywords still match.
func Normalize(s string) string {
	n := strings.ToLower(strings.TrimSpace(s))
	n = whitespaceRun.ReplaceAllString(n, " ")
	n = nonWord.ReplaceAllString(n, "")
	n = whitespaceRun.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}
