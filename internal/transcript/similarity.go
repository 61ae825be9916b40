package transcript

import (
	"fmt"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Metric scores two strings in [0, 1]; 1 means identical.
type Metric func(a, b string) float64

// MetricByName resolves a configured similarity metric.
func MetricByName(name string) (Metric, error) {
	switch name {
	case "", "levenshtein":
		return LevenshteinSimilarity, nil
	case "ratcliff":
		return RatcliffObershelp, nil
	case "jaro-winkler":
		return JaroWinkler, nil
	}
	return nil, fmt.Errorf("unknown similarity metric %q", name)
}

// LevenshteinSimilarity is 1 - editDistance/max(len(a), len(b)) over runes.
func LevenshteinSimilarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 && lb == 0 {
		return 1
	}
	dist := matchr.Levenshtein(a, b)
	return 1 - float64(dist)/float64(max(la, lb))
}

func JaroWinkler(a, b string) float64 {
	if a == b {
		return 1
	}
	return matchr.JaroWinkler(a, b, false)
}

// RatcliffObershelp is the gestalt pattern-matching ratio 2*M/T, where M is
// the number of characters in recursively found longest common substrings.
func RatcliffObershelp(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingRunes(ra, rb)) / float64(total)
}

func matchingRunes(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, size := longestCommon(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchingRunes(a[:ai], b[:bi]) +
		matchingRunes(a[ai+size:], b[bi+size:])
}

// longestCommon finds the leftmost longest common substring of a and b.
func longestCommon(a, b []rune) (ai, bi, size int) {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > size {
					size = cur[j]
					ai, bi = i-size, j-size
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return ai, bi, size
}
