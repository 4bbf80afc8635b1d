// Package fuzzy provides typo-tolerant matching for command names and
// subscription filters.
package fuzzy

import (
	"strings"
	"unicode"
)

// Distance is the case-insensitive Levenshtein distance between a and b,
// counted in runes.
func Distance(a, b string) int {
	ra := []rune(strings.ToLower(a))
	rb := []rune(strings.ToLower(b))
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Similarity maps Distance onto [0, 1]; 1 means equal ignoring case.
func Similarity(a, b string) float64 {
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	return 1 - float64(Distance(a, b))/float64(longest)
}

// Suggest returns the candidate closest to input, if any is within two edits.
func Suggest(input string, candidates []string) (string, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", false
	}
	best, bestDist := "", 3
	for _, c := range candidates {
		if d := Distance(input, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, best != ""
}

// Matches reports whether every word of query appears in text, either as a
// substring or as a word with a small typo.
func Matches(text, query string) bool {
	queryWords := words(query)
	if len(queryWords) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	textWords := words(text)

next:
	for _, q := range queryWords {
		if strings.Contains(lower, q) {
			continue
		}
		for _, w := range textWords {
			if Similarity(w, q) >= threshold(q) {
				continue next
			}
		}
		return false
	}
	return true
}

func threshold(word string) float64 {
	switch n := len([]rune(word)); {
	case n <= 3:
		return 1
	case n <= 5:
		return 0.75
	default:
		return 0.65
	}
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
