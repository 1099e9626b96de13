package notion

import (
	"strings"
	"time"

	"github.com/jomei/notionapi"
)

// PropertyKey lower-cases a property name and joins its words with
// underscores.
func PropertyKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}

// Values flattens a page's properties into plain Go values keyed by
// PropertyKey. Text becomes string, multi-select []string, numbers
// float64, dates time.Time and checkboxes bool. Empty properties and
// unsupported types are left out.
func Values(page notionapi.Page) map[string]any {
	out := make(map[string]any, len(page.Properties))
	for name, prop := range page.Properties {
		key := PropertyKey(name)
		if key == "" {
			continue
		}
		if v, ok := value(prop); ok {
			out[key] = v
		}
	}
	return out
}

func value(prop notionapi.Property) (any, bool) {
	switch p := prop.(type) {
	case *notionapi.TitleProperty:
		return nonEmpty(PlainText(p.Title))
	case *notionapi.RichTextProperty:
		return nonEmpty(PlainText(p.RichText))
	case *notionapi.URLProperty:
		return nonEmpty(strings.TrimSpace(p.URL))
	case *notionapi.SelectProperty:
		return nonEmpty(p.Select.Name)
	case *notionapi.MultiSelectProperty:
		names := make([]string, 0, len(p.MultiSelect))
		for _, o := range p.MultiSelect {
			if o.Name != "" {
				names = append(names, o.Name)
			}
		}
		return names, len(names) > 0
	case *notionapi.NumberProperty:
		return p.Number, p.Number != 0
	case *notionapi.CheckboxProperty:
		return p.Checkbox, true
	case *notionapi.DateProperty:
		if p.Date == nil || p.Date.Start == nil {
			return nil, false
		}
		return time.Time(*p.Date.Start), true
	}
	return nil, false
}

func nonEmpty(s string) (any, bool) {
	return s, s != ""
}

// PlainText concatenates rich text segments and trims the result.
func PlainText(rts []notionapi.RichText) string {
	var b strings.Builder
	for _, rt := range rts {
		b.WriteString(rt.PlainText)
	}
	return strings.TrimSpace(b.String())
}
