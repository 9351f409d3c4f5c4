package fetch

import (
	"errors"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"

	"github.com/hazyhaar/fouille/extract"
)

var errNoText = errors.New("no usable text")

// tierResult is the outcome of one extraction tier.
type tierResult struct {
	page Page
	err  error
}

type tier struct {
	name string
	run  func(*extract.Page, string) tierResult
}

func (f *Fetcher) extract(body []byte, contentType, rawURL string) Page {
	ct := strings.ToLower(contentType)
	if strings.HasPrefix(ct, "text/plain") {
		text := extract.Truncate(extract.CleanText(string(body)), f.config.MaxChars)
		return Page{Extract: text}
	}
	if ct != "" && !strings.Contains(ct, "html") {
		f.logger.Debug("fetch: skipped non-html", "url", rawURL, "content_type", contentType)
		return Page{}
	}

	doc, err := extract.Analyze(body, extract.Options{})
	if err != nil {
		f.logger.Debug("fetch: parse failed", "url", rawURL, "error", err)
		return Page{}
	}

	tiers := []tier{
		{"main_content", f.mainContentTier},
		{"metadata", f.metadataTier},
	}
	for _, t := range tiers {
		res := t.run(doc, rawURL)
		if res.err != nil {
			f.logger.Debug("fetch: tier empty", "url", rawURL, "tier", t.name, "error", res.err)
			continue
		}
		res.page.Title = doc.Title
		return res.page
	}
	return Page{Title: doc.Title}
}

// mainContentTier renders the main content as markdown, falling back to its
// plain text when conversion yields nothing.
func (f *Fetcher) mainContentTier(doc *extract.Page, rawURL string) tierResult {
	if doc.Main.Text == "" {
		return tierResult{err: errNoText}
	}
	text := f.toMarkdown(doc.Main.HTML, rawURL)
	if text == "" {
		text = doc.Main.Text
	}
	return tierResult{page: Page{Extract: extract.Truncate(text, f.config.MaxChars)}}
}

// metadataTier uses the first of meta description, og:description and first
// paragraph that is non-empty.
func (f *Fetcher) metadataTier(doc *extract.Page, _ string) tierResult {
	for _, s := range []string{doc.Description, doc.OGDescription, doc.FirstParagraph} {
		if s != "" {
			return tierResult{page: Page{Snippet: extract.Truncate(s, f.config.MaxChars)}}
		}
	}
	return tierResult{err: errNoText}
}

func (f *Fetcher) toMarkdown(fragment, rawURL string) string {
	if fragment == "" {
		return ""
	}
	out, err := f.md.ConvertString(fragment, converter.WithDomain(rawURL))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}
