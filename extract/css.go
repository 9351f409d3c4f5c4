// CLAUDE:SUMMARY CSS selector subset over parsed HTML: used for selector-driven content extraction and for scraping engine result pages.
package extract

import (
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// extractCSS joins the text of all nodes matching selectors. ok is false
// when nothing long enough matched.
//
// Supported selector forms:
//   - tag: "article", "main", "div"
//   - .class: ".content", ".article-body"
//   - #id: "#main-content"
//   - tag.class, tag#id, tag[attr], tag[attr=val]
//   - combinations separated by space (descendant combinator)
func extractCSS(doc *html.Node, selectors []string, minLen int) (Content, bool) {
	var texts, parts []string
	for _, sel := range selectors {
		for _, n := range QuerySelectorAll(doc, sel) {
			text := Text(n)
			if len(text) >= minLen {
				texts = append(texts, text)
				parts = append(parts, renderNode(n))
			}
		}
	}
	if len(texts) == 0 {
		return Content{}, false
	}
	text := strings.Join(texts, "\n\n")
	return Content{Text: text, HTML: strings.Join(parts, "\n"), Hash: hashText(text)}, true
}

// QuerySelectorAll returns all nodes below root matching selector, in
// document order.
func QuerySelectorAll(root *html.Node, selector string) []*html.Node {
	parts := strings.Fields(selector)
	if len(parts) == 0 {
		return nil
	}
	matches := matchSimple(root, parts[0], true)
	for _, part := range parts[1:] {
		var next []*html.Node
		for _, parent := range matches {
			next = append(next, matchSimple(parent, part, false)...)
		}
		matches = next
	}
	return matches
}

// QuerySelector returns the first match of selector below root, or nil.
func QuerySelector(root *html.Node, selector string) *html.Node {
	if m := QuerySelectorAll(root, selector); len(m) > 0 {
		return m[0]
	}
	return nil
}

func matchSimple(root *html.Node, sel string, includeRoot bool) []*html.Node {
	s := parseSimpleSelector(sel)
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if (n != root || includeRoot) && s.matches(n) {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

type simpleSelector struct {
	tag     string
	id      string
	class   string
	attrKey string
	attrVal string
}

// parseSimpleSelector parses "tag.class", "#id", "tag[attr=val]", etc.
func parseSimpleSelector(sel string) simpleSelector {
	var s simpleSelector
	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		attrPart := strings.TrimRight(sel[idx+1:], "]")
		sel = sel[:idx]
		if k, v, ok := strings.Cut(attrPart, "="); ok {
			s.attrKey = k
			s.attrVal = strings.Trim(v, `"'`)
		} else {
			s.attrKey = attrPart
		}
	}
	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		s.id = sel[idx+1:]
		sel = sel[:idx]
	}
	if idx := strings.IndexByte(sel, '.'); idx >= 0 {
		s.class = sel[idx+1:]
		sel = sel[:idx]
	}
	s.tag = sel
	return s
}

func (s simpleSelector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && Attr(n, "id") != s.id {
		return false
	}
	if s.class != "" && !HasClass(n, s.class) {
		return false
	}
	if s.attrKey != "" {
		if s.attrVal != "" {
			return Attr(n, s.attrKey) == s.attrVal
		}
		return hasAttr(n, s.attrKey)
	}
	return true
}

// Attr returns the value of attribute key on n, or "".
func Attr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// HasClass reports whether n's class list contains class.
func HasClass(n *html.Node, class string) bool {
	return slices.Contains(strings.Fields(Attr(n, "class")), class)
}

func hasAttr(n *html.Node, key string) bool {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}
