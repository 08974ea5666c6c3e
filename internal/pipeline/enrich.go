package pipeline

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/newsloom/crawler/internal/crawler"
)

const (
	defaultAnalyzeTimeout = 10 * time.Second
	degradedCategory      = "uncategorized"
	degradedSummaryMaxLen = 200
)

// EnrichStage attaches analyzer output to the item. Analysis failure is
// never fatal: the item continues with degraded defaults so persistence
// always sees a complete record.
type EnrichStage struct {
	analyzer crawler.Analyzer
	timeout  time.Duration
	logger   *zap.Logger
}

// NewEnrichStage builds the stage. A non-positive timeout selects the
// default of 10 seconds.
func NewEnrichStage(analyzer crawler.Analyzer, timeout time.Duration, logger *zap.Logger) *EnrichStage {
	if timeout <= 0 {
		timeout = defaultAnalyzeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrichStage{analyzer: analyzer, timeout: timeout, logger: logger}
}

// Name identifies the stage in logs and metrics.
func (s *EnrichStage) Name() string { return "enrich" }

// Process runs the analyzer under its own deadline and falls back to
// defaults on error or panic.
func (s *EnrichStage) Process(ctx context.Context, item *crawler.ExtractedItem) error {
	enrichment, err := s.analyze(ctx, item.Title, item.Content)
	if err != nil {
		s.logger.Warn("analysis failed, storing degraded item",
			zap.String("url", item.URL),
			zap.Error(err),
		)
		enrichment = degradedEnrichment(item.Content)
	}
	item.Enrichment = enrichment
	return nil
}

func (s *EnrichStage) analyze(ctx context.Context, title, content string) (enrichment crawler.Enrichment, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = &analyzerPanicError{value: r}
		}
	}()
	return s.analyzer.Analyze(ctx, title, content)
}

func degradedEnrichment(content string) crawler.Enrichment {
	// Truncate on rune boundaries so the summary stays valid UTF-8.
	summary := content
	if utf8.RuneCountInString(summary) > degradedSummaryMaxLen {
		summary = string([]rune(summary)[:degradedSummaryMaxLen])
	}
	return crawler.Enrichment{
		Category:  degradedCategory,
		Tags:      []string{},
		Level:     0,
		Sentiment: 0,
		Keywords:  []string{},
		Summary:   summary,
	}
}

type analyzerPanicError struct {
	value any
}

func (e *analyzerPanicError) Error() string {
	return fmt.Sprintf("analyzer panic: %v", e.value)
}
