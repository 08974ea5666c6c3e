// Package nlp implements the heuristic analyzer attached at the
// enrichment stage: category classification, keyword and tag
// extraction, a 1-5 quality grade, sentiment scoring and extractive
// summarization.
package nlp

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/newsloom/crawler/internal/crawler"
)

const (
	topKeywords      = 10
	topTags          = 8
	summaryMaxChars  = 200
	summarySentences = 3
)

// qualityIndicators raise the level grade when present in the text.
var qualityIndicators = []string{
	"exclusive", "in-depth", "analysis", "research", "report",
	"white paper", "interview", "official", "investigation", "original",
}

// importantCategories get a one-point level bonus.
var importantCategories = map[string]struct{}{
	"technology": {}, "business": {}, "politics": {}, "science": {},
}

var positiveWords = map[string]struct{}{
	"good": {}, "great": {}, "excellent": {}, "success": {}, "successful": {},
	"growth": {}, "improve": {}, "improved": {}, "innovation": {}, "innovative": {},
	"breakthrough": {}, "leading": {}, "advantage": {}, "positive": {},
	"progress": {}, "strong": {}, "win": {}, "record": {}, "gain": {}, "rise": {},
}

var negativeWords = map[string]struct{}{
	"bad": {}, "poor": {}, "failure": {}, "failed": {}, "decline": {},
	"problem": {}, "crisis": {}, "risk": {}, "loss": {}, "weak": {},
	"negative": {}, "drop": {}, "fall": {}, "recession": {}, "lawsuit": {},
	"fraud": {}, "scandal": {}, "concern": {}, "threat": {}, "collapse": {},
}

// Processor implements crawler.Analyzer with keyword heuristics. It is
// stateless and safe for concurrent use.
type Processor struct {
	logger *zap.Logger
}

// NewProcessor builds a Processor.
func NewProcessor(logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{logger: logger}
}

// Analyze derives enrichment fields from the title and content. It
// respects context cancellation but otherwise never fails: degraded
// results fall back to defaults at the enrichment stage instead.
func (p *Processor) Analyze(ctx context.Context, title, content string) (crawler.Enrichment, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Enrichment{}, fmt.Errorf("analyze: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		return crawler.Enrichment{}, fmt.Errorf("analyze: empty content")
	}

	fullText := title + " " + content
	category := classify(fullText)
	keywords := extractKeywords(fullText, topKeywords)

	tags := keywords
	if len(tags) > topTags {
		tags = tags[:topTags]
	}

	enrichment := crawler.Enrichment{
		Category:  category,
		Tags:      append([]string(nil), tags...),
		Level:     calculateLevel(fullText, category),
		Sentiment: analyzeSentiment(fullText),
		Keywords:  keywords,
		Summary:   generateSummary(content, keywords),
	}
	p.logger.Debug("analyzed item",
		zap.String("category", enrichment.Category),
		zap.Int("level", enrichment.Level),
		zap.Float64("sentiment", enrichment.Sentiment),
	)
	return enrichment, nil
}

// calculateLevel grades 1-5 from quality indicators, length and
// category importance.
func calculateLevel(text, category string) int {
	level := 1
	lower := strings.ToLower(text)
	for _, indicator := range qualityIndicators {
		if strings.Contains(lower, indicator) {
			level++
		}
	}
	if len(text) > 2000 {
		level++
	}
	if len(text) > 5000 {
		level++
	}
	if _, ok := importantCategories[category]; ok {
		level++
	}
	if level > 5 {
		level = 5
	}
	return level
}

// analyzeSentiment returns (positive-negative)/(positive+negative) in
// [-1, 1], rounded to two decimals, or 0 when no polarity words hit.
func analyzeSentiment(text string) float64 {
	var pos, neg int
	for _, token := range tokenize(text) {
		if _, ok := positiveWords[token]; ok {
			pos++
		}
		if _, ok := negativeWords[token]; ok {
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return 0
	}
	return math.Round(float64(pos-neg)/float64(total)*100) / 100
}

var sentenceSplit = regexp.MustCompile(`[.!?\n]+`)

// generateSummary picks the sentences densest in top keywords, up to
// three and capped at summaryMaxChars, preserving document order.
// Falls back to a content prefix for keyword-free text.
func generateSummary(content string, keywords []string) string {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return truncate(content, summaryMaxChars)
	}

	kwSet := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kwSet[kw] = struct{}{}
	}

	type scored struct {
		index int
		score float64
	}
	var ranked []scored
	for i, sentence := range sentences {
		tokens := tokenize(sentence)
		if len(tokens) < 5 {
			continue
		}
		hits := 0
		for _, t := range tokens {
			if _, ok := kwSet[t]; ok {
				hits++
			}
		}
		if hits > 0 {
			ranked = append(ranked, scored{index: i, score: float64(hits) / float64(len(tokens))})
		}
	}
	if len(ranked) == 0 {
		return truncate(sentences[0], summaryMaxChars)
	}

	// Highest keyword density first, then back to document order.
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > summarySentences {
		ranked = ranked[:summarySentences]
	}
	picked := make([]int, 0, len(ranked))
	for _, r := range ranked {
		picked = append(picked, r.index)
	}
	sort.Ints(picked)

	var b strings.Builder
	for _, idx := range picked {
		sentence := sentences[idx]
		if b.Len() > 0 && b.Len()+len(sentence)+2 > summaryMaxChars {
			break
		}
		if b.Len() > 0 {
			b.WriteString(". ")
		}
		b.WriteString(sentence)
	}
	if b.Len() == 0 {
		return truncate(sentences[ranked[0].index], summaryMaxChars)
	}
	return truncate(b.String(), summaryMaxChars)
}

func splitSentences(text string) []string {
	raw := sentenceSplit.Split(text, -1)
	sentences := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if len(s) > 10 {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// truncate caps the summary at max characters without splitting a
// multibyte rune.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
