package chat

import (
	"regexp"
	"strings"
)

var (
	numericTokenPattern = regexp.MustCompile(`\b\d{4,}\b`)
	wordSplitPattern    = regexp.MustCompile(`[^a-z0-9äöüß]+`)
)

// Short function words that dominate German queries and match everything.
var stopwords = map[string]struct{}{
	"welcher": {}, "ist": {}, "für": {}, "und": {}, "oder": {},
	"eine": {}, "einen": {}, "die": {}, "der": {}, "das": {},
}

// ExtractSearchTokens picks candidate search terms from a query for the
// relational keyword fallback: numeric codes of 4+ digits (order numbers,
// postal codes) plus lowercased words longer than 3 characters. Order is
// deterministic, numeric tokens first, duplicates removed.
func ExtractSearchTokens(text string) []string {
	seen := make(map[string]struct{})
	var tokens []string
	add := func(token string) {
		if _, dup := seen[token]; dup {
			return
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}

	for _, t := range numericTokenPattern.FindAllString(text, -1) {
		add(t)
	}
	for _, w := range wordSplitPattern.Split(strings.ToLower(text), -1) {
		if len([]rune(w)) <= 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		add(w)
	}
	return tokens
}
