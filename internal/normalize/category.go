package normalize

import (
	"strings"
	"unicode"

	"github.com/sells-group/studio-catalog/internal/model"
)

// Inferred categories.
const (
	CategoryVR     = "vr"
	CategoryMobile = "mobile"
	CategoryIndie  = "indie"
)

var (
	vrTokens = map[string]bool{
		"vr": true, "psvr": true, "psvr2": true, "oculus": true, "quest": true,
		"vive": true, "virtual": true, "steamvr": true, "rift": true,
	}
	mobilePlatforms = map[string]bool{
		"ios": true, "android": true, "iphone": true, "ipad": true, "mobile": true,
	}
)

// categoryOrder breaks vote ties.
var categoryOrder = []string{CategoryVR, CategoryMobile, CategoryIndie}

// InferCategory votes over a studio's games. A game counts as vr when any
// platform or keyword names a headset, mobile when every platform is a
// phone or tablet, indie when tagged indie. Returns "" when nothing votes.
func InferCategory(games []model.Attributes) string {
	votes := make(map[string]int, len(categoryOrder))
	for _, g := range games {
		if c := gameCategory(g); c != "" {
			votes[c]++
		}
	}

	best, bestVotes := "", 0
	for _, c := range categoryOrder {
		if votes[c] > bestVotes {
			best, bestVotes = c, votes[c]
		}
	}
	return best
}

func gameCategory(g model.Attributes) string {
	platforms := g.Strings("platforms")
	keywords := g.Strings("keywords")

	for _, s := range append(append([]string{}, platforms...), keywords...) {
		for _, tok := range words(s) {
			if vrTokens[tok] {
				return CategoryVR
			}
		}
	}

	if len(platforms) > 0 {
		allMobile := true
		for _, p := range platforms {
			if !mobilePlatforms[strings.ToLower(strings.TrimSpace(p))] {
				allMobile = false
				break
			}
		}
		if allMobile {
			return CategoryMobile
		}
	}

	for _, k := range keywords {
		for _, tok := range words(k) {
			if tok == "indie" {
				return CategoryIndie
			}
		}
	}
	return ""
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
