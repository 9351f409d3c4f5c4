// Package extract pulls readable content and page metadata out of raw HTML.
//
// It supports two extraction modes:
//   - density: main content by semantic landmarks, then text-to-markup density
//   - css:     content matching a small subset of CSS selectors
//
// Analyze parses once and returns everything the fetch tiers need: the
// <title>, meta/og descriptions, the first paragraph and the main content.
package extract

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Content is one extracted region of a document.
type Content struct {
	Text string // clean extracted text
	HTML string // extracted HTML subtree
	Hash string // SHA-256 of Text
}

// Page is the result of Analyze.
type Page struct {
	Title          string
	Description    string // <meta name="description">
	OGDescription  string // <meta property="og:description">
	FirstParagraph string
	Main           Content
}

// Options controls extraction behaviour.
type Options struct {
	Selectors  []string // CSS selectors tried before density analysis
	MinTextLen int      // minimum text length to accept (default: 50)
}

func (o *Options) defaults() {
	if o.MinTextLen <= 0 {
		o.MinTextLen = 50
	}
}

// Analyze parses rawHTML and extracts metadata and main content.
func Analyze(rawHTML []byte, opts Options) (*Page, error) {
	opts.defaults()
	doc, err := html.Parse(bytes.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("extract: parse HTML: %w", err)
	}
	return AnalyzeNode(doc, opts), nil
}

// AnalyzeNode is Analyze over an already parsed document.
func AnalyzeNode(doc *html.Node, opts Options) *Page {
	opts.defaults()
	p := &Page{
		Title:          findTitle(doc),
		Description:    metaContent(doc, "name", "description"),
		OGDescription:  metaContent(doc, "property", "og:description"),
		FirstParagraph: firstParagraph(doc),
	}
	if len(opts.Selectors) > 0 {
		if c, ok := extractCSS(doc, opts.Selectors, opts.MinTextLen); ok {
			p.Main = c
			return p
		}
	}
	p.Main = extractDensity(doc, opts.MinTextLen)
	return p
}

// findTitle extracts the page <title> text.
func findTitle(doc *html.Node) string {
	n := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Title
	})
	if n == nil {
		return ""
	}
	return CleanText(Text(n))
}

func findFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	if match(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := findFirst(c, match); n != nil {
			return n
		}
	}
	return nil
}

func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}

func newContent(text string, n *html.Node) Content {
	c := Content{Text: text, Hash: hashText(text)}
	if n != nil {
		c.HTML = renderNode(n)
	}
	return c
}

// renderNode serialises an HTML node subtree back to a string.
func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	html.Render(&buf, n)
	return buf.String()
}

// Text returns all visible text below n, space-joined, skipping script,
// style and noscript.
func Text(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

// isContentTag returns true for tags likely to contain main content.
func isContentTag(a atom.Atom) bool {
	switch a {
	case atom.Main, atom.Article, atom.Section, atom.Div, atom.P,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Li,
		atom.Table, atom.Td, atom.Th, atom.Dl, atom.Dd, atom.Dt,
		atom.Figure, atom.Figcaption, atom.Details, atom.Summary:
		return true
	}
	return false
}

// isBoilerplate checks if a node is likely boilerplate (nav, footer, etc).
func isBoilerplate(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Header, atom.Aside, atom.Form:
		return true
	}
	for _, attr := range n.Attr {
		switch attr.Key {
		case "class", "id":
			lower := strings.ToLower(attr.Val)
			for _, pattern := range boilerplatePatterns {
				if strings.Contains(lower, pattern) {
					return true
				}
			}
		case "role":
			switch attr.Val {
			case "navigation", "banner", "contentinfo", "complementary":
				return true
			}
		}
	}
	return false
}

var boilerplatePatterns = []string{
	"sidebar", "footer", "header", "nav", "menu", "breadcrumb",
	"cookie", "banner", "advert", "social", "share", "comment",
	"related", "widget", "popup", "modal", "newsletter",
}
