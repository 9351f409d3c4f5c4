package extract

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// extractDensity picks the main content of doc. Semantic landmarks
// (<main>, <article>) win when they carry enough text; otherwise the DOM
// subtree with the best text-to-markup ratio is chosen. An empty Content
// means nothing readable was found.
func extractDensity(doc *html.Node, minLen int) Content {
	var texts, parts []string
	for _, n := range findContentByLandmarks(doc) {
		if isBoilerplate(n) {
			continue
		}
		text := cleanSubtreeText(n)
		if len(text) >= minLen {
			texts = append(texts, text)
			parts = append(parts, renderNode(n))
		}
	}
	if len(texts) > 0 {
		text := strings.Join(texts, "\n\n")
		return Content{Text: text, HTML: strings.Join(parts, "\n"), Hash: hashText(text)}
	}

	body := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Body
	})
	if body == nil {
		body = doc
	}

	if best := findDensestNode(body, minLen); best != nil {
		return newContent(cleanSubtreeText(best), best)
	}
	text := cleanSubtreeText(body)
	if len(text) < minLen {
		return Content{}
	}
	return newContent(text, body)
}

type nodeScore struct {
	node     *html.Node
	textLen  int
	density  float64
	linkDens float64 // fraction of text inside <a>
}

// findDensestNode walks the DOM and returns the content node with the best
// density * log(textLen) * (1 - linkDensity) score.
func findDensestNode(root *html.Node, minLen int) *html.Node {
	var candidates []nodeScore

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type != html.ElementNode || isBoilerplate(n) {
			return
		}
		defer func() {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}()
		if !isContentTag(n.DataAtom) {
			return
		}
		text := Text(n)
		if len(text) < minLen {
			return
		}
		markupLen := max(len(renderNode(n)), 1)
		candidates = append(candidates, nodeScore{
			node:     n,
			textLen:  len(text),
			density:  float64(len(text)) / float64(markupLen),
			linkDens: float64(len(linkText(n))) / float64(len(text)),
		})
	}
	walk(root)

	var best *html.Node
	var bestScore float64
	for _, c := range candidates {
		if c.linkDens > 0.5 {
			continue // navigation-like
		}
		score := c.density * logScale(c.textLen) * (1 - c.linkDens)
		if score > bestScore {
			bestScore = score
			best = c.node
		}
	}
	return best
}

func logScale(n int) float64 {
	if n <= 0 {
		return 0
	}
	scale := 1.0
	for v := n; v > 100; v /= 2 {
		scale++
	}
	return scale
}

func linkText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node, bool)
	f = func(n *html.Node, inLink bool) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			inLink = true
		}
		if n.Type == html.TextNode && inLink {
			sb.WriteString(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c, inLink)
		}
	}
	f(n, false)
	return sb.String()
}

// cleanSubtreeText is Text with boilerplate regions removed.
func cleanSubtreeText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if isBoilerplate(n) {
				return
			}
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

// findContentByLandmarks returns <main> elements, or <article> elements
// when the page has no <main>.
func findContentByLandmarks(doc *html.Node) []*html.Node {
	for _, tag := range []atom.Atom{atom.Main, atom.Article} {
		if nodes := findAllByTag(doc, tag); len(nodes) > 0 {
			return nodes
		}
	}
	return nil
}

func findAllByTag(root *html.Node, tag atom.Atom) []*html.Node {
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == tag {
			results = append(results, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}
