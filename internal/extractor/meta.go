package extractor

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/newsloom/crawler/internal/crawler"
)

// extractTitle prefers og:title, then h1, <title>, h2. A page with no
// usable heading still yields "Untitled" so validation fails on
// content, not on a missing title, for otherwise-good pages.
func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if t := strings.TrimSpace(og); t != "" {
			return t
		}
	}
	for _, sel := range []string{"h1", "title", "h2"} {
		if t := strings.TrimSpace(doc.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return "Untitled"
}

func extractAuthor(doc *goquery.Document) string {
	for _, sel := range []string{`meta[name="author"]`, `meta[property="article:author"]`} {
		if v, ok := doc.Find(sel).Attr("content"); ok {
			if a := strings.TrimSpace(v); a != "" {
				return a
			}
		}
	}
	for _, sel := range []string{"span.author", "div.author", "p.author"} {
		if a := strings.TrimSpace(doc.Find(sel).First().Text()); a != "" {
			return a
		}
	}
	return ""
}

// dateLayouts covers the formats commonly seen in article markup.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"02.01.2006",
}

func extractDate(doc *goquery.Document) time.Time {
	var candidates []string
	for _, sel := range []string{`meta[property="article:published_time"]`, `meta[name="publish_date"]`} {
		if v, ok := doc.Find(sel).Attr("content"); ok {
			candidates = append(candidates, v)
		}
	}
	timeNode := doc.Find("time").First()
	if dt, ok := timeNode.Attr("datetime"); ok {
		candidates = append(candidates, dt)
	} else if t := timeNode.Text(); t != "" {
		candidates = append(candidates, t)
	}
	for _, sel := range []string{"span.date", "div.date"} {
		if t := doc.Find(sel).First().Text(); t != "" {
			candidates = append(candidates, t)
		}
	}

	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

func extractSource(doc *goquery.Document, pageURL string) string {
	if v, ok := doc.Find(`meta[property="og:site_name"]`).Attr("content"); ok {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return crawler.Domain(pageURL)
}
