package nlp

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAnalyzeClassifiesTechnology(t *testing.T) {
	t.Parallel()

	p := NewProcessor(zap.NewNop())
	content := "The startup released new software built on machine learning. " +
		"Their cloud platform uses a novel algorithm for semiconductor design."

	enrichment, err := p.Analyze(context.Background(), "Chip startup news", content)
	require.NoError(t, err)
	require.Equal(t, "technology", enrichment.Category)
	require.NotEmpty(t, enrichment.Keywords)
	require.NotEmpty(t, enrichment.Tags)
	require.LessOrEqual(t, len(enrichment.Tags), len(enrichment.Keywords))
}

func TestAnalyzeDefaultCategory(t *testing.T) {
	t.Parallel()

	p := NewProcessor(zap.NewNop())
	enrichment, err := p.Analyze(context.Background(), "Note",
		"Nothing here maps onto any particular topic vocabulary whatsoever today.")
	require.NoError(t, err)
	require.Equal(t, DefaultCategory, enrichment.Category)
}

func TestAnalyzeEmptyContentFails(t *testing.T) {
	t.Parallel()

	p := NewProcessor(zap.NewNop())
	_, err := p.Analyze(context.Background(), "Title", "   ")
	require.Error(t, err)
}

func TestAnalyzeRespectsContext(t *testing.T) {
	t.Parallel()

	p := NewProcessor(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Analyze(ctx, "Title", "some content")
	require.Error(t, err)
}

func TestCalculateLevel(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, calculateLevel("a short plain text", "general"))

	// One indicator plus the important-category bonus.
	require.Equal(t, 3, calculateLevel("an exclusive look at the industry", "technology"))

	// Long text with several indicators caps at 5.
	long := strings.Repeat("exclusive in-depth analysis research report interview ", 200)
	require.Equal(t, 5, calculateLevel(long, "technology"))
}

func TestAnalyzeSentiment(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1.0, analyzeSentiment("great success and strong growth"))
	require.Equal(t, -1.0, analyzeSentiment("a bad failure and weak decline"))
	require.Equal(t, 0.0, analyzeSentiment("the report was published on tuesday"))

	// Two positive, one negative: (2-1)/3 rounded to 0.33.
	require.Equal(t, 0.33, analyzeSentiment("good growth despite the loss"))
}

func TestGenerateSummary(t *testing.T) {
	t.Parallel()

	content := "Quantum processors reached a new milestone this week. " +
		"The weather was mild across the region. " +
		"Researchers say quantum error correction is finally practical. " +
		"Local bakeries reported steady sales. " +
		"The quantum team plans to scale the processor next year."
	keywords := []string{"quantum", "processor", "processors"}

	summary := generateSummary(content, keywords)
	require.NotEmpty(t, summary)
	require.LessOrEqual(t, len(summary), 200)
	require.Contains(t, strings.ToLower(summary), "quantum")
	require.NotContains(t, summary, "bakeries")
}

func TestGenerateSummaryFallsBackToPrefix(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 400)
	summary := generateSummary(long, nil)
	require.Len(t, summary, 200)
}

func TestSummaryTruncationKeepsRunesIntact(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 300)
	summary := generateSummary(long, nil)
	require.True(t, utf8.ValidString(summary))
	require.Equal(t, 200, utf8.RuneCountInString(summary))
}

func TestExtractKeywordsDeterministic(t *testing.T) {
	t.Parallel()

	text := "crawler crawler crawler pipeline pipeline storage the and of 123 456"
	keywords := extractKeywords(text, 5)
	require.Equal(t, []string{"crawler", "pipeline", "storage"}, keywords)
}

func TestTokenizeStripsPunctuation(t *testing.T) {
	t.Parallel()

	tokens := tokenize("Hello, World! It's 2026-ready.")
	require.Contains(t, tokens, "hello")
	require.Contains(t, tokens, "world")
	require.Contains(t, tokens, "it's")
}
