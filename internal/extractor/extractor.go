// Package extractor locates article content in fetched HTML using an
// ordered chain of CSS-selector strategies.
package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/newsloom/crawler/internal/crawler"
)

// nonContentSelector lists nodes stripped before any strategy runs.
const nonContentSelector = "script, style, noscript, nav"

// Config tunes the fallback chain and link discovery.
type Config struct {
	// FallbackMinChars is the minimum whitespace-normalized content
	// length a strategy must produce before the chain stops.
	FallbackMinChars int
	// MaxLinksPerPage caps same-site link discovery.
	MaxLinksPerPage int
}

// Extractor implements crawler.Extractor with goquery.
type Extractor struct {
	cfg Config
}

// New builds an Extractor.
func New(cfg Config) *Extractor {
	if cfg.FallbackMinChars <= 0 {
		cfg.FallbackMinChars = 100
	}
	if cfg.MaxLinksPerPage <= 0 {
		cfg.MaxLinksPerPage = 10
	}
	return &Extractor{cfg: cfg}
}

// strategy is one step of the content fallback chain.
type strategy struct {
	name    string
	extract func(doc *goquery.Document) string
}

// Extract parses the document and applies the strategy chain:
// configured selector, semantic tags, class-name patterns, paragraph
// aggregation, then full-page text. The first strategy clearing the
// minimum length wins. Title/author/date use independent heuristics
// and do not participate in the chain.
func (e *Extractor) Extract(raw crawler.RawDocument, selectorHint string) (crawler.ExtractedItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw.Body))
	if err != nil {
		return crawler.ExtractedItem{}, fmt.Errorf("parse html: %w", err)
	}

	pageURL := raw.FinalURL
	if pageURL == "" {
		pageURL = raw.URL
	}

	doc.Find(nonContentSelector).Remove()

	content := e.runChain(doc, selectorHint)
	if content == "" {
		return crawler.ExtractedItem{}, crawler.Dropf(crawler.DropEmptyContent, "no text found at %s", pageURL)
	}

	item := crawler.ExtractedItem{
		URL:         pageURL,
		Title:       extractTitle(doc),
		Content:     content,
		Author:      extractAuthor(doc),
		PublishDate: extractDate(doc),
		Source:      extractSource(doc, pageURL),
		RawHTML:     string(raw.Body),
		Metadata: crawler.ItemMetadata{
			StatusCode: raw.StatusCode,
			Headers:    headerMap(raw),
		},
		Links: e.extractLinks(doc, pageURL),
	}
	return item, nil
}

func (e *Extractor) runChain(doc *goquery.Document, selectorHint string) string {
	for _, s := range e.chain(selectorHint) {
		text := normalizeWhitespace(s.extract(doc))
		if len(text) >= e.cfg.FallbackMinChars {
			return text
		}
	}
	// Last resort: full-page text, accepted at any length.
	return normalizeWhitespace(doc.Find("body").Text())
}

func (e *Extractor) chain(selectorHint string) []strategy {
	chain := make([]strategy, 0, 6)
	if selectorHint != "" {
		chain = append(chain, strategy{
			name: "configured",
			extract: func(doc *goquery.Document) string {
				return doc.Find(selectorHint).First().Text()
			},
		})
	}
	chain = append(chain,
		strategy{name: "article", extract: selectorText("article")},
		strategy{name: "main", extract: selectorText("main")},
		strategy{name: "class_pattern", extract: selectorText(
			`div[class*="content"], div[class*="article"], div[class*="post"]`)},
		strategy{name: "paragraphs", extract: paragraphText},
	)
	return chain
}

func selectorText(selector string) func(*goquery.Document) string {
	return func(doc *goquery.Document) string {
		return doc.Find(selector).First().Text()
	}
}

func paragraphText(doc *goquery.Document) string {
	var parts []string
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n")
}

// normalizeWhitespace collapses runs of whitespace to single spaces.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func headerMap(raw crawler.RawDocument) map[string][]string {
	if len(raw.Headers) == 0 {
		return nil
	}
	out := make(map[string][]string, len(raw.Headers))
	for k, v := range raw.Headers {
		out[k] = append([]string(nil), v...)
	}
	return out
}
