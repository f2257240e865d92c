// Package suggest finds "did you mean" candidates for mistyped object ids and
// config keys.
package suggest

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// maxSuggestions caps how many candidates are returned.
const maxSuggestions = 3

// levenshtein calculates the edit distance between two strings
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
		matrix[i][0] = i
	}
	for j := range matrix[0] {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(a)][len(b)]
}

// Closest returns up to three candidates similar to unknown, best first.
// Subsequence matches ("nts" for "notes") rank ahead of candidates within a
// small edit distance.
func Closest(unknown string, candidates []string) []string {
	unknown = strings.ToLower(strings.TrimSpace(unknown))
	if unknown == "" || len(candidates) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var result []string
	add := func(s string) bool {
		if !seen[s] && s != unknown {
			seen[s] = true
			result = append(result, s)
		}
		return len(result) >= maxSuggestions
	}

	for _, m := range fuzzy.Find(unknown, candidates) {
		if add(m.Str) {
			return result
		}
	}

	type scored struct {
		s    string
		dist int
	}
	var near []scored
	maxDist := max(2, len(unknown)/2)
	for _, c := range candidates {
		if d := levenshtein(unknown, strings.ToLower(c)); d <= maxDist {
			near = append(near, scored{c, d})
		}
	}
	sort.SliceStable(near, func(i, j int) bool { return near[i].dist < near[j].dist })
	for _, c := range near {
		if add(c.s) {
			break
		}
	}
	return result
}

// Hint formats suggestions as " (did you mean a, b?)", or "" when there are
// none.
func Hint(suggestions []string) string {
	if len(suggestions) == 0 {
		return ""
	}
	return " (did you mean " + strings.Join(suggestions, ", ") + "?)"
}
