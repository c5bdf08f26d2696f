package document

import (
	"math"
	"strings"
)

// CSV detection thresholds. Candidate delimiters are scored over the first
// few non-empty lines; a file qualifies when some delimiter appears in every
// sampled line with low per-line variance.
const (
	csvSampleLines      = 5
	csvMaxAvgLineLength = 500
	csvMinConsistency   = 1.5
	csvMaxProseMatches  = 10
)

var csvDelimiters = []rune{',', ';', '\t', '|'}

// Substrings whose presence marks content as markup rather than tabular data.
var markupMarkers = []string{
	"<html", "<!doctype", "<head>", "<body>", "<div", "<span", "<p>",
	"<script", "<style",
	"# ", "## ", "### ", "**", "```",
}

// Common-word fragments used to estimate natural-language density.
var proseIndicators = []string{
	"the ", "and ", "or ", "but ", "in ", "on ", "at ", "to ", "for ", "of ",
	"with ", "by ",
	"http://", "https://", "www.", ".com", ".de", ".org", ".net",
	"ich ", "ist ", "das ", "der ", "die ", "und ", "oder ", "für ", "mit ",
}

// IsValidCSV reports whether content looks like a delimited table: not
// markup, not JSON, not prose, at least a header plus one data row, and a
// consistently-used delimiter across the sampled lines.
func IsValidCSV(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}

	lowered := strings.ToLower(trimmed)
	for _, marker := range markupMarkers {
		if strings.Contains(lowered, marker) {
			return false
		}
	}

	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		return false
	}

	lines := nonEmptyLines(trimmed)
	if len(lines) < 2 {
		return false
	}

	sample := lines
	if len(sample) > csvSampleLines {
		sample = sample[:csvSampleLines]
	}

	_, consistency := bestDelimiter(sample, true)
	if consistency < csvMinConsistency {
		return false
	}

	var total int
	for _, line := range sample {
		total += len(line)
	}
	if float64(total)/float64(len(sample)) > csvMaxAvgLineLength {
		return false
	}

	matches := 0
	for _, indicator := range proseIndicators {
		if strings.Contains(lowered, indicator) {
			matches++
		}
	}
	return matches <= csvMaxProseMatches
}

// DetectDelimiter returns the best-scoring delimiter over the first few
// lines, defaulting to comma.
func DetectDelimiter(content string) rune {
	lines := nonEmptyLines(content)
	if len(lines) > csvSampleLines {
		lines = lines[:csvSampleLines]
	}

	delim, consistency := bestDelimiter(lines, false)
	if consistency == 0 {
		return ','
	}
	return delim
}

// ParseSimpleCSV splits content into rows of trimmed cells. A double quote
// toggles quoted mode and the delimiter only separates outside quotes.
// Escaped embedded quotes ("") are not supported. Blank lines are dropped.
func ParseSimpleCSV(content string, delimiter rune) [][]string {
	var rows [][]string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		var row []string
		var cell strings.Builder
		inQuotes := false

		for _, ch := range line {
			switch {
			case ch == '"':
				inQuotes = !inQuotes
			case ch == delimiter && !inQuotes:
				row = append(row, strings.TrimSpace(cell.String()))
				cell.Reset()
			default:
				cell.WriteRune(ch)
			}
		}
		row = append(row, strings.TrimSpace(cell.String()))
		rows = append(rows, row)
	}
	return rows
}

func nonEmptyLines(content string) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// bestDelimiter scores each candidate by avg/(1+variance) of its per-line
// occurrence count. With requireAll set, a delimiter missing from any
// sampled line scores zero.
func bestDelimiter(lines []string, requireAll bool) (rune, float64) {
	best := ','
	bestScore := 0.0

	for _, delim := range csvDelimiters {
		counts := make([]float64, len(lines))
		missing := false
		for i, line := range lines {
			n := float64(strings.Count(line, string(delim)))
			if n == 0 {
				missing = true
			}
			counts[i] = n
		}
		if requireAll && missing {
			continue
		}

		var sum float64
		for _, n := range counts {
			sum += n
		}
		avg := sum / float64(len(counts))
		if requireAll && avg < 1 {
			continue
		}

		var variance float64
		for _, n := range counts {
			variance += math.Pow(n-avg, 2)
		}
		variance /= float64(len(counts))

		score := 0.0
		if avg > 0 {
			score = avg / (1 + variance)
		}
		if score > bestScore {
			bestScore = score
			best = delim
		}
	}
	return best, bestScore
}
