package extract

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// CleanText normalises extracted text for storage and display.
// It collapses whitespace, removes zero-width characters, and trims.
func CleanText(text string) string {
	text = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff', '\u00ad':
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(text, " "))
}

var multiSpaceRe = regexp.MustCompile(`\s+`)

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips every tag from an HTML fragment (engine snippets, feed
// descriptions), decodes entities and cleans the result.
func PlainText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return CleanText(fragment)
	}
	return CleanText(html.UnescapeString(strictPolicy.Sanitize(fragment)))
}

// Truncate cuts s to at most n runes. n <= 0 returns s unchanged.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
