package nlp

import "strings"

// categoryKeywords maps each category to its indicator terms. Scoring
// counts occurrences; ties break on map iteration so callers should
// not rely on tie order.
var categoryKeywords = map[string][]string{
	"technology": {
		"software", "hardware", "ai", "artificial intelligence", "machine learning",
		"algorithm", "startup", "cloud", "chip", "semiconductor", "internet",
		"cybersecurity", "blockchain", "robotics", "5g", "data",
	},
	"business": {
		"stock", "market", "investment", "investor", "economy", "economic",
		"bank", "revenue", "profit", "earnings", "inflation", "interest rate",
		"merger", "acquisition", "currency", "trade",
	},
	"education": {
		"school", "student", "teacher", "university", "college", "curriculum",
		"exam", "tuition", "scholarship", "classroom", "degree", "campus",
	},
	"health": {
		"health", "hospital", "doctor", "disease", "treatment", "vaccine",
		"medicine", "patient", "clinical", "mental health", "nutrition", "fitness",
	},
	"entertainment": {
		"movie", "film", "music", "album", "celebrity", "concert", "streaming",
		"television", "actor", "singer", "box office", "festival",
	},
	"sports": {
		"football", "soccer", "basketball", "tennis", "olympics", "championship",
		"tournament", "athlete", "league", "coach", "world cup", "season",
	},
	"politics": {
		"government", "policy", "election", "senate", "congress", "parliament",
		"legislation", "regulation", "minister", "president", "campaign", "reform",
	},
	"science": {
		"research", "study", "scientist", "experiment", "physics", "biology",
		"climate", "space", "nasa", "discovery", "laboratory", "genome",
	},
	"world": {
		"international", "diplomatic", "united nations", "embassy", "border",
		"treaty", "sanctions", "summit", "foreign", "global", "conflict",
	},
}

// DefaultCategory is used when no category keyword matches.
const DefaultCategory = "general"

// classify scores the text against every category's keyword list and
// returns the best match, or DefaultCategory when nothing hits.
func classify(text string) string {
	lower := strings.ToLower(text)

	best := DefaultCategory
	bestScore := 0
	for category, keywords := range categoryKeywords {
		score := 0
		for _, kw := range keywords {
			score += strings.Count(lower, kw)
		}
		if score > bestScore {
			bestScore = score
			best = category
		}
	}
	return best
}
