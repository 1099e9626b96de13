package similarity

import (
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

// Distance returns the Levenshtein edit distance between a and b with unit
// costs for insertion, deletion and substitution.
func Distance(a, b string) int {
	return levenshtein.Distance(a, b, nil)
}

// Similarity returns 100 * (1 - distance / max(len)) over runes. Two empty
// strings are identical.
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 100
	}
	return 100 * (1 - float64(Distance(a, b))/float64(longest))
}
