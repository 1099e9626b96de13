// Package normalize turns raw provider payloads into canonical candidates.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// corporateSuffixes are trailing tokens removed from studio names. Matching
// is case-insensitive and ignores trailing dots and commas.
var corporateSuffixes = map[string]bool{
	"inc":          true,
	"incorporated": true,
	"llc":          true,
	"l.l.c":        true,
	"ltd":          true,
	"limited":      true,
	"corp":         true,
	"corporation":  true,
	"co":           true,
	"gmbh":         true,
	"ag":           true,
	"sa":           true,
	"s.a":          true,
	"srl":          true,
	"s.r.l":        true,
	"bv":           true,
	"b.v":          true,
	"ab":           true,
	"oy":           true,
	"plc":          true,
	"kk":           true,
	"k.k":          true,
	"pty":          true,
	"studios":      true,
	"studio":       true,
}

// CleanName strips corporate suffixes and a leading article while keeping
// display casing. "The Chinese Room Ltd." becomes "Chinese Room".
func CleanName(name string) string {
	words := strings.Fields(name)
	if len(words) == 0 {
		return ""
	}

	if len(words) > 1 && strings.EqualFold(words[0], "the") {
		words = words[1:]
	}

	for len(words) > 1 {
		last := strings.ToLower(strings.TrimRight(words[len(words)-1], ".,"))
		if !corporateSuffixes[last] {
			break
		}
		words = words[:len(words)-1]
	}

	return strings.TrimRight(strings.Join(words, " "), " ,;-")
}

// IdentityKey is the catalog uniqueness key for a name: cleaned, folded to
// ASCII where possible, lower-cased, '&' spelled out and punctuation removed.
func IdentityKey(name string) string {
	return tokenKey(CleanName(name))
}

// Fold removes diacritics and lower-cases s.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// ItemKey is the case-insensitive comparison key for catalog items,
// technologies and aliases.
func ItemKey(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

func tokenKey(s string) string {
	s = strings.ReplaceAll(Fold(s), "&", " and ")
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

// BlockKey returns the first token of an identity key. Stores index it so
// fuzzy candidates sharing a leading word can be found cheaply.
func BlockKey(identityKey string) string {
	if i := strings.IndexByte(identityKey, ' '); i > 0 {
		return identityKey[:i]
	}
	return identityKey
}
