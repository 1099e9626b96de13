package similarity

import (
	"math"
	"strings"

	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/normalize"
)

// variantScore is awarded when two names differ only by a known variant
// (spacing, plural form, acronym).
const variantScore = 0.95

// NameScore compares two names on their identity keys.
func NameScore(a, b string) float64 {
	ka, kb := normalize.IdentityKey(a), normalize.IdentityKey(b)
	return keyScore(ka, kb)
}

func keyScore(ka, kb string) float64 {
	if ka == kb {
		return 1.0
	}
	if isVariant(ka, kb) {
		return variantScore
	}
	return Similarity(ka, kb) / 100
}

// isVariant reports whether two distinct keys name the same studio under a
// spacing, plural or acronym variation.
func isVariant(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if strings.ReplaceAll(a, " ", "") == strings.ReplaceAll(b, " ", "") {
		return true
	}
	if singular(a) == singular(b) {
		return true
	}
	return isAcronymOf(a, b) || isAcronymOf(b, a)
}

func singular(key string) string {
	toks := strings.Fields(key)
	for i, t := range toks {
		if len(t) > 3 && strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss") {
			toks[i] = strings.TrimSuffix(t, "s")
		}
	}
	return strings.Join(toks, " ")
}

// isAcronymOf reports whether short is a single token spelling the initials
// of the multi-word long.
func isAcronymOf(short, long string) bool {
	letters := []rune(short)
	if strings.Contains(short, " ") || len(letters) < 2 || len(letters) > 5 {
		return false
	}
	toks := strings.Fields(long)
	if len(toks) != len(letters) {
		return false
	}
	for i, t := range toks {
		if []rune(t)[0] != letters[i] {
			return false
		}
	}
	return true
}

// WebsiteScore is 1.0 when the two site lists share a host, else 0.
func WebsiteScore(a, b []string) float64 {
	hosts := make(map[string]bool, len(a))
	for _, w := range a {
		if h := normalize.Host(w); h != "" {
			hosts[h] = true
		}
	}
	for _, w := range b {
		if hosts[normalize.Host(w)] {
			return 1.0
		}
	}
	return 0
}

// CatalogScore is the Jaccard index of the two catalogs compared
// case-insensitively. Two empty catalogs score 1.0.
func CatalogScore(a, b []string) float64 {
	sa := itemSet(a)
	sb := itemSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1.0
	}
	inter := 0
	for k := range sa {
		if sb[k] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func itemSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		if k := normalize.ItemKey(it); k != "" {
			out[k] = true
		}
	}
	return out
}

// LocationScore grades two locations: identical 1.0, one containing the
// other 0.8, same city 0.7, otherwise 0.
func LocationScore(a, b string) float64 {
	ka, kb := normalize.LocationKey(a), normalize.LocationKey(b)
	if ka == "" || kb == "" {
		return 0
	}
	switch {
	case ka == kb:
		return 1.0
	case strings.Contains(ka, kb) || strings.Contains(kb, ka):
		return 0.8
	case normalize.Locality(a) == normalize.Locality(b):
		return 0.7
	}
	return 0
}

// FoundedScore decays linearly to 0 over a ten-year gap.
func FoundedScore(a, b int) float64 {
	return math.Max(0, 1-math.Abs(float64(a-b))/10)
}

func identityKey(e model.CandidateEntity) string {
	if e.IdentityKey != "" {
		return e.IdentityKey
	}
	return normalize.IdentityKey(e.Name)
}
