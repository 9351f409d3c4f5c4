package extract

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// metaContent returns the content attribute of the first <meta> whose key
// attribute (name or property) equals val, case-insensitively.
func metaContent(doc *html.Node, key, val string) string {
	n := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Meta &&
			strings.EqualFold(Attr(n, key), val)
	})
	if n == nil {
		return ""
	}
	return CleanText(Attr(n, "content"))
}

// firstParagraph returns the text of the first non-empty <p> outside
// boilerplate regions.
func firstParagraph(doc *html.Node) string {
	var out string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if isBoilerplate(n) {
			return false
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.P {
			if t := CleanText(Text(n)); t != "" {
				out = t
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(doc)
	return out
}
