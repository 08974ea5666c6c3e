package nlp

import (
	"regexp"
	"sort"
	"strings"
)

// stopWords filters function words out of keyword ranking.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "of": {},
	"to": {}, "in": {}, "on": {}, "at": {}, "for": {}, "with": {}, "from": {},
	"by": {}, "as": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"been": {}, "being": {}, "it": {}, "its": {}, "this": {}, "that": {},
	"these": {}, "those": {}, "he": {}, "she": {}, "they": {}, "we": {},
	"you": {}, "i": {}, "his": {}, "her": {}, "their": {}, "our": {},
	"has": {}, "have": {}, "had": {}, "will": {}, "would": {}, "can": {},
	"could": {}, "should": {}, "not": {}, "no": {}, "than": {}, "then": {},
	"there": {}, "here": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"what": {}, "how": {}, "all": {}, "also": {}, "more": {}, "most": {},
	"some": {}, "such": {}, "only": {}, "into": {}, "over": {}, "after": {},
	"before": {}, "about": {}, "up": {}, "down": {}, "out": {}, "if": {},
	"so": {}, "said": {}, "says": {}, "new": {}, "one": {}, "two": {},
}

var nonWord = regexp.MustCompile(`[^a-z0-9'-]+`)

// tokenize lowercases the text and splits it into word tokens.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := nonWord.Split(lower, -1)
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.Trim(t, "'-")
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// extractKeywords ranks content words by frequency, filtering stop
// words, short tokens and pure numbers, and returns the top k in
// descending relevance. Ordering is deterministic: frequency first,
// then lexicographic.
func extractKeywords(text string, topK int) []string {
	freq := make(map[string]int)
	for _, token := range tokenize(text) {
		if len(token) < 3 {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		if isNumeric(token) {
			continue
		}
		freq[token]++
	}
	if len(freq) == 0 {
		return nil
	}

	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})

	if len(words) > topK {
		words = words[:topK]
	}
	return words
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
