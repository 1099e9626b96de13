package normalize

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/studio-catalog/internal/model"
)

// ErrMalformed marks a raw record the pipeline cannot turn into a candidate.
var ErrMalformed = eris.New("normalize: malformed record")

const (
	defaultConfidence = 0.5
	minFoundedYear    = 1950
)

// Pipeline converts raw source records into candidates. It performs no I/O
// and is safe for concurrent use.
type Pipeline struct {
	quality map[string]float64
	nowFunc func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSourceQuality sets the starting confidence for candidates from a source.
func WithSourceQuality(sourceID string, quality float64) Option {
	return func(p *Pipeline) {
		p.quality[sourceID] = clamp01(quality)
	}
}

// NewPipeline creates a normalization pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		quality: make(map[string]float64),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Normalize maps a raw record onto the canonical candidate shape.
func (p *Pipeline) Normalize(raw model.RawEntity) (model.CandidateEntity, error) {
	if raw.SourceID == "" {
		return model.CandidateEntity{}, eris.Wrapf(ErrMalformed, "record %q has no source", raw.SourceEntityID)
	}
	if raw.Attributes == nil {
		return model.CandidateEntity{}, eris.Wrapf(ErrMalformed, "record %s/%s has no attributes", raw.SourceID, raw.SourceEntityID)
	}

	rawName := collapseSpace(raw.Attributes.String("name"))
	if rawName == "" {
		return model.CandidateEntity{}, eris.Wrapf(ErrMalformed, "record %s/%s has no name", raw.SourceID, raw.SourceEntityID)
	}
	name := CleanName(rawName)
	key := tokenKey(name)
	if key == "" {
		return model.CandidateEntity{}, eris.Wrapf(ErrMalformed, "record %s/%s name %q has no identifying characters", raw.SourceID, raw.SourceEntityID, rawName)
	}

	games := raw.Attributes.Items("games")
	src := raw.SourceID

	c := model.CandidateEntity{
		IdentityKey: key,
		Name:        name,
		Description: collapseSpace(raw.Attributes.String("description")),
		Location:    DisplayLocation(raw.Attributes),
		Confidence:  p.confidence(src),
		Metadata: model.Metadata{
			Sources:    []string{src},
			Provenance: map[string]string{model.FieldName: src},
			SourceRefs: map[string]string{},
			Extra:      raw.Attributes.Unknown(),
		},
	}
	if raw.SourceEntityID != "" {
		c.Metadata.SourceRefs[src] = raw.SourceEntityID
	}
	if rawName != name {
		c.Metadata.Aliases = []string{rawName}
	}
	c.Locality = Locality(c.Location)

	websites, invalid := DedupeWebsites(append(raw.Attributes.Strings("websites"), raw.Attributes.Strings("website")...))
	c.Websites = websites
	if len(invalid) > 0 {
		if c.Metadata.Extra == nil {
			c.Metadata.Extra = make(map[string]any)
		}
		c.Metadata.Extra["invalid_websites"] = invalid
	}

	c.CatalogItems = UniqueItems(gameNames(games))
	c.Technologies = UniqueItems(raw.Attributes.Strings("technologies"))

	c.Category = strings.ToLower(collapseSpace(raw.Attributes.String("category")))
	if c.Category == "" {
		c.Category = InferCategory(games)
	}

	if year, date, ok := p.foundedYear(raw.Attributes, games); ok {
		c.FoundedYear = &year
		c.Metadata.FoundedDate = date
	}

	for field, set := range map[string]bool{
		model.FieldDescription: c.Description != "",
		model.FieldLocation:    c.Location != "",
		model.FieldCategory:    c.Category != "",
		model.FieldFoundedYear: c.FoundedYear != nil,
		model.FieldWebsite:     len(c.Websites) > 0,
	} {
		if set {
			c.Metadata.Provenance[field] = src
		}
	}

	return c, nil
}

func (p *Pipeline) confidence(sourceID string) float64 {
	if q, ok := p.quality[sourceID]; ok {
		return q
	}
	return defaultConfidence
}

// foundedYear prefers explicit founding data and falls back to the earliest
// release year among the studio's games.
func (p *Pipeline) foundedYear(attrs model.Attributes, games []model.Attributes) (int, string, bool) {
	maxYear := p.nowFunc().Year() + 1
	plausible := func(y int) bool { return y >= minFoundedYear && y <= maxYear }

	if y, ok := attrs.Int("founded_year"); ok && plausible(y) {
		return y, "", true
	}
	for _, key := range []string{"founded_date", "founded"} {
		t, ok := attrs.Time(key)
		if !ok || !plausible(t.Year()) {
			continue
		}
		date := ""
		if s := attrs.String(key); len(s) > 4 {
			date = s
		}
		return t.Year(), date, true
	}

	earliest := 0
	for _, g := range games {
		var t time.Time
		var ok bool
		for _, key := range []string{"release_date", "released", "year"} {
			if t, ok = g.Time(key); ok {
				break
			}
		}
		if !ok || !plausible(t.Year()) {
			continue
		}
		if earliest == 0 || t.Year() < earliest {
			earliest = t.Year()
		}
	}
	if earliest > 0 {
		return earliest, "", true
	}
	return 0, "", false
}

func gameNames(games []model.Attributes) []string {
	names := make([]string, 0, len(games))
	for _, g := range games {
		if n := collapseSpace(g.String("name")); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// UniqueItems dedupes case-insensitively, keeping first-seen order and casing.
func UniqueItems(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = collapseSpace(it)
		k := ItemKey(it)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
