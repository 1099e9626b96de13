package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Attributes is the loosely typed payload a source delivers. Accessors
// coerce the shapes produced by JSON, YAML, CSV and Notion decoding.
//
// Documented keys: name, description, location, city, region, country,
// website, websites, games, founded, founded_year, founded_date, category,
// technologies. Anything else is carried through untouched.
type Attributes map[string]any

// KnownAttributeKeys lists the keys the normalization pipeline interprets.
var KnownAttributeKeys = map[string]bool{
	"name":         true,
	"description":  true,
	"location":     true,
	"city":         true,
	"region":       true,
	"country":      true,
	"website":      true,
	"websites":     true,
	"games":        true,
	"founded":      true,
	"founded_year": true,
	"founded_date": true,
	"category":     true,
	"technologies": true,
}

// Has reports whether key is present with a non-nil value.
func (a Attributes) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

// String returns the value at key rendered as a trimmed string.
func (a Attributes) String(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(toString(v))
}

// Strings returns the value at key as a list. Scalar strings are split on
// ';' and '|' so spreadsheet cells can carry several values.
func (a Attributes) Strings(key string) []string {
	v, ok := a[key]
	if !ok || v == nil {
		return nil
	}
	var raw []string
	switch t := v.(type) {
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			if item == nil {
				continue
			}
			raw = append(raw, toString(item))
		}
	default:
		raw = strings.FieldsFunc(toString(v), func(r rune) bool { return r == ';' || r == '|' })
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Int returns the value at key as an int.
func (a Attributes) Int(key string) (int, bool) {
	v, ok := a[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return int(n), true
	default:
		n, err := strconv.Atoi(strings.TrimSpace(toString(v)))
		if err != nil {
			return 0, false
		}
		return n, true
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006-01",
	"2006",
}

// Time returns the value at key parsed as a timestamp.
func (a Attributes) Time(key string) (time.Time, bool) {
	v, ok := a[key]
	if !ok || v == nil {
		return time.Time{}, false
	}
	if t, ok := v.(time.Time); ok {
		return t, true
	}
	if n, ok := a.Int(key); ok && n > 0 && n < 10000 {
		return time.Date(n, time.January, 1, 0, 0, 0, 0, time.UTC), true
	}
	return ParseTime(toString(v))
}

// Items returns the value at key as a list of nested attribute bags.
// Plain strings become {"name": s}.
func (a Attributes) Items(key string) []Attributes {
	v, ok := a[key]
	if !ok || v == nil {
		return nil
	}
	var out []Attributes
	appendItem := func(item any) {
		switch t := item.(type) {
		case map[string]any:
			out = append(out, Attributes(t))
		case Attributes:
			out = append(out, t)
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out = append(out, Attributes{"name": s})
			}
		}
	}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			appendItem(item)
		}
	case []map[string]any:
		for _, item := range t {
			appendItem(item)
		}
	case []Attributes:
		out = append(out, t...)
	default:
		for _, s := range a.Strings(key) {
			appendItem(s)
		}
	}
	return out
}

// Unknown returns the attributes the pipeline does not interpret.
func (a Attributes) Unknown() map[string]any {
	var out map[string]any
	for k, v := range a {
		if KnownAttributeKeys[k] {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}
	return out
}

// ParseTime parses the date layouts sources commonly emit.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
