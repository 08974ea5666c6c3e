package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newsloom/crawler/internal/crawler"
	"github.com/newsloom/crawler/internal/nlp"
)

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(context.Context, string, string) (crawler.Enrichment, error) {
	return crawler.Enrichment{}, errors.New("model unavailable")
}

type panickingAnalyzer struct{}

func (panickingAnalyzer) Analyze(context.Context, string, string) (crawler.Enrichment, error) {
	panic("index out of range")
}

type slowAnalyzer struct{}

func (slowAnalyzer) Analyze(ctx context.Context, _, _ string) (crawler.Enrichment, error) {
	select {
	case <-ctx.Done():
		return crawler.Enrichment{}, ctx.Err()
	case <-time.After(time.Minute):
		return crawler.Enrichment{Category: "late"}, nil
	}
}

func TestEnrichAttachesAnalysis(t *testing.T) {
	t.Parallel()

	stage := NewEnrichStage(nlp.NewProcessor(zap.NewNop()), time.Second, zap.NewNop())
	item := validItem("https://example.com/story")

	require.NoError(t, stage.Process(context.Background(), &item))
	require.NotEmpty(t, item.Enrichment.Category)
	require.NotEqual(t, degradedCategory, item.Enrichment.Category)
	require.NotEmpty(t, item.Enrichment.Summary)
}

func TestEnrichDegradesOnFailure(t *testing.T) {
	t.Parallel()

	stage := NewEnrichStage(failingAnalyzer{}, time.Second, zap.NewNop())
	item := validItem("https://example.com/story")

	require.NoError(t, stage.Process(context.Background(), &item),
		"analysis failure never fails the stage")
	require.Equal(t, "uncategorized", item.Enrichment.Category)
	require.Empty(t, item.Enrichment.Tags)
	require.Empty(t, item.Enrichment.Keywords)
	require.Zero(t, item.Enrichment.Level)
	require.Zero(t, item.Enrichment.Sentiment)
	require.Equal(t, item.Content, item.Enrichment.Summary)
}

func TestEnrichDegradedSummaryTruncated(t *testing.T) {
	t.Parallel()

	stage := NewEnrichStage(failingAnalyzer{}, time.Second, zap.NewNop())
	item := validItem("https://example.com/story")
	item.Content = strings.Repeat("y", 500)

	require.NoError(t, stage.Process(context.Background(), &item))
	require.Len(t, item.Enrichment.Summary, 200)
}

func TestEnrichDegradedSummaryKeepsRunesIntact(t *testing.T) {
	t.Parallel()

	stage := NewEnrichStage(failingAnalyzer{}, time.Second, zap.NewNop())
	item := validItem("https://example.com/story")
	item.Content = strings.Repeat("é", 300)

	require.NoError(t, stage.Process(context.Background(), &item))
	require.True(t, utf8.ValidString(item.Enrichment.Summary),
		"truncation never splits a multibyte character")
	require.Equal(t, 200, utf8.RuneCountInString(item.Enrichment.Summary))
}

func TestEnrichRecoversFromPanic(t *testing.T) {
	t.Parallel()

	stage := NewEnrichStage(panickingAnalyzer{}, time.Second, zap.NewNop())
	item := validItem("https://example.com/story")

	require.NoError(t, stage.Process(context.Background(), &item))
	require.Equal(t, "uncategorized", item.Enrichment.Category)
}

func TestEnrichEnforcesTimeout(t *testing.T) {
	t.Parallel()

	stage := NewEnrichStage(slowAnalyzer{}, 20*time.Millisecond, zap.NewNop())
	item := validItem("https://example.com/story")

	start := time.Now()
	require.NoError(t, stage.Process(context.Background(), &item))
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, "uncategorized", item.Enrichment.Category)
}
