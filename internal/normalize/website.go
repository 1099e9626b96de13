package normalize

import (
	"net/url"
	"strings"
)

// NormalizeWebsite returns the display form of a website (scheme added when
// missing, host lower-cased) and its dedupe key. ok is false for values that
// cannot be a website.
func NormalizeWebsite(raw string) (display, key string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, " \t\n") {
		return "", "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || !strings.Contains(u.Hostname(), ".") {
		return "", "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", false
	}
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	display = strings.TrimRight(u.String(), "/")
	return display, strings.ToLower(display), true
}

// Host extracts the bare host of a website for comparison: lower-cased,
// without port or a leading "www.".
func Host(website string) string {
	raw := strings.TrimSpace(website)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// DedupeWebsites normalizes and dedupes websites case-insensitively,
// keeping the first display form seen. Unparseable values are returned
// separately.
func DedupeWebsites(values []string) (websites, invalid []string) {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		display, key, ok := NormalizeWebsite(v)
		if !ok {
			if s := strings.TrimSpace(v); s != "" {
				invalid = append(invalid, s)
			}
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		websites = append(websites, display)
	}
	return websites, invalid
}
