package extractor

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/newsloom/crawler/internal/crawler"
)

// binaryExtensions are skipped during link discovery; fetching them
// would never yield article text.
var binaryExtensions = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".zip", ".rar", ".gz"}

// extractLinks returns absolute same-site links found on the page,
// capped at MaxLinksPerPage. Cross-domain links are discarded here;
// they only enter the system when configured as their own source.
func (e *Extractor) extractLinks(doc *goquery.Document, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return true
		}
		if !crawler.SameDomain(abs.String(), pageURL) {
			return true
		}
		if hasBinaryExtension(abs.Path) {
			return true
		}
		normalized, err := crawler.NormalizeURL(abs.String())
		if err != nil {
			return true
		}
		if _, dup := seen[normalized]; dup || normalized == pageURL {
			return true
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
		return len(links) < e.cfg.MaxLinksPerPage
	})
	return links
}

func hasBinaryExtension(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range binaryExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
