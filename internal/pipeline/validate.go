package pipeline

import (
	"context"
	"unicode/utf8"

	"github.com/newsloom/crawler/internal/crawler"
)

// ValidateStage rejects items missing required fields or below the
// minimum content length, and stamps crawl_time and source_domain.
type ValidateStage struct {
	minContentLength int
	clock            crawler.Clock
}

// NewValidateStage builds the stage. minContentLength of zero selects
// the default of 50 characters.
func NewValidateStage(minContentLength int, clock crawler.Clock) *ValidateStage {
	if minContentLength <= 0 {
		minContentLength = 50
	}
	return &ValidateStage{minContentLength: minContentLength, clock: clock}
}

// Name identifies the stage in logs and metrics.
func (s *ValidateStage) Name() string { return "validate" }

// Process enforces the required-field invariant. After this stage,
// URL, Title and Content are guaranteed non-empty and the URL is in
// normalized form.
func (s *ValidateStage) Process(_ context.Context, item *crawler.ExtractedItem) error {
	if item.URL == "" {
		return &crawler.DropError{Reason: crawler.DropMissingURL}
	}
	if item.Title == "" {
		return crawler.Dropf(crawler.DropMissingTitle, "url %s", item.URL)
	}
	if item.Content == "" {
		return crawler.Dropf(crawler.DropMissingContent, "url %s", item.URL)
	}
	// Character count, not bytes: multibyte scripts must not need
	// double-length articles to pass.
	if n := utf8.RuneCountInString(item.Content); n < s.minContentLength {
		return crawler.Dropf(crawler.DropContentTooShort, "%d < %d chars at %s",
			n, s.minContentLength, item.URL)
	}

	normalized, err := crawler.NormalizeURL(item.URL)
	if err != nil {
		return crawler.Dropf(crawler.DropMissingURL, "unparseable url %q", item.URL)
	}
	item.URL = normalized
	item.SourceDomain = crawler.Domain(normalized)
	item.CrawlTime = s.clock.Now()
	return nil
}
