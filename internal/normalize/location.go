package normalize

import (
	"strings"

	"github.com/sells-group/studio-catalog/internal/model"
)

// DisplayLocation assembles the human-readable location from the
// attribute bag: "location" wins, otherwise city/region/country joined.
func DisplayLocation(attrs model.Attributes) string {
	if loc := collapseSpace(attrs.String("location")); loc != "" {
		return loc
	}
	var parts []string
	for _, key := range []string{"city", "region", "country"} {
		if v := collapseSpace(attrs.String(key)); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

// LocationKey is the comparison form of a location: folded, lower-cased,
// whitespace collapsed, commas kept as separators.
func LocationKey(loc string) string {
	parts := strings.Split(loc, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := tokenKey(p); k != "" {
			out = append(out, k)
		}
	}
	return strings.Join(out, ", ")
}

// Locality is a best-effort city token: the first comma-separated part of
// the location key.
func Locality(loc string) string {
	key := LocationKey(loc)
	if i := strings.IndexByte(key, ','); i >= 0 {
		return key[:i]
	}
	return key
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
