package profiler

import (
	"strings"
)

var positiveWords = map[string]struct{}{
	"good": {}, "great": {}, "productive": {}, "focused": {}, "energized": {},
	"finished": {}, "shipped": {}, "progress": {}, "proud": {}, "momentum": {},
	"clear": {}, "strong": {}, "win": {},
}

var negativeWords = map[string]struct{}{
	"tired": {}, "stuck": {}, "distracted": {}, "overwhelmed": {}, "behind": {},
	"failed": {}, "slow": {}, "blocked": {}, "frustrated": {}, "drained": {},
	"anxious": {}, "scattered": {}, "procrastinated": {},
}

// sentimentScore is (positive - negative) / (positive + negative) per
// text, 0 when neither set matches.
func sentimentScore(text string) float64 {
	pos, neg := 0, 0
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if _, ok := positiveWords[word]; ok {
			pos++
		}
		if _, ok := negativeWords[word]; ok {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

// SentimentTrend compares the recent half of reflections against the
// older half. Texts arrive in chronological order.
func SentimentTrend(texts []string) string {
	if len(texts) < 4 {
		return "stable"
	}
	mid := len(texts) / 2
	var early, late float64
	for _, t := range texts[:mid] {
		early += sentimentScore(t)
	}
	for _, t := range texts[mid:] {
		late += sentimentScore(t)
	}
	early /= float64(mid)
	late /= float64(len(texts) - mid)

	switch diff := late - early; {
	case diff > 0.15:
		return "improving"
	case diff < -0.15:
		return "declining"
	default:
		return "stable"
	}
}
