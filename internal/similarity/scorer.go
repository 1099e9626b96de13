// Package similarity scores how likely two candidates describe the same studio.
package similarity

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/normalize"
)

// Signal names reported in Result.Signals.
const (
	SignalName     = "name"
	SignalWebsite  = "website"
	SignalCatalog  = "catalog"
	SignalLocation = "location"
	SignalFounded  = "founded_year"
)

// Weights sets each signal's share of the composite score.
type Weights struct {
	Name     float64 `yaml:"name" mapstructure:"name"`
	Website  float64 `yaml:"website" mapstructure:"website"`
	Catalog  float64 `yaml:"catalog" mapstructure:"catalog"`
	Location float64 `yaml:"location" mapstructure:"location"`
	Founded  float64 `yaml:"founded" mapstructure:"founded"`
}

// Thresholds gate match types and the minimum score worth considering.
type Thresholds struct {
	ExactName      float64 `yaml:"exact_name" mapstructure:"exact_name"`
	FuzzyName      float64 `yaml:"fuzzy_name" mapstructure:"fuzzy_name"`
	Website        float64 `yaml:"website" mapstructure:"website"`
	CatalogOverlap float64 `yaml:"catalog_overlap" mapstructure:"catalog_overlap"`
	Location       float64 `yaml:"location" mapstructure:"location"`
	Minimum        float64 `yaml:"minimum" mapstructure:"minimum"`
}

// Config tunes a Scorer.
type Config struct {
	Weights    Weights    `yaml:"weights" mapstructure:"weights"`
	Thresholds Thresholds `yaml:"thresholds" mapstructure:"thresholds"`
}

// DefaultConfig returns the stock weights and thresholds.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Name:     0.40,
			Website:  0.20,
			Catalog:  0.25,
			Location: 0.10,
			Founded:  0.05,
		},
		Thresholds: Thresholds{
			ExactName:      0.95,
			FuzzyName:      0.85,
			Website:        0.90,
			CatalogOverlap: 0.70,
			Location:       0.60,
			Minimum:        0.75,
		},
	}
}

// Validate rejects negative weights or a configuration with no weight at all.
func (c Config) Validate() error {
	w := c.Weights
	for name, v := range map[string]float64{
		SignalName: w.Name, SignalWebsite: w.Website, SignalCatalog: w.Catalog,
		SignalLocation: w.Location, SignalFounded: w.Founded,
	} {
		if v < 0 {
			return eris.Errorf("similarity: weight %s is negative (%v)", name, v)
		}
	}
	if w.Name+w.Website+w.Catalog+w.Location+w.Founded <= 0 {
		return eris.New("similarity: weights sum to zero")
	}
	return nil
}

// ConflictResolver decides how a differing field should be resolved. The
// merge policy implements it.
type ConflictResolver interface {
	Resolve(field string, existing, candidate model.CandidateEntity) model.FieldConflict
}

// Result is the outcome of scoring one pair.
type Result struct {
	Score      float64
	MatchTypes []model.MatchType
	Conflicts  []model.FieldConflict
	Signals    map[string]float64
}

// Scorer computes weighted composite similarity between candidates.
type Scorer struct {
	cfg      Config
	resolver ConflictResolver
}

// NewScorer creates a scorer. resolver may be nil, in which case conflicts
// are reported with a manual_review resolution.
func NewScorer(cfg Config, resolver ConflictResolver) *Scorer {
	return &Scorer{cfg: cfg, resolver: resolver}
}

// Config returns the scorer configuration.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score compares an existing catalog entity with an incoming candidate.
// Signals missing on either side drop out and the remaining weights are
// renormalized, so the score is symmetric in its arguments.
func (s *Scorer) Score(existing, candidate model.CandidateEntity) Result {
	w := s.cfg.Weights
	th := s.cfg.Thresholds
	signals := make(map[string]float64, 5)
	var weighted, total float64
	add := func(name string, weight, score float64) {
		signals[name] = score
		weighted += weight * score
		total += weight
	}

	nameScore := keyScore(identityKey(existing), identityKey(candidate))
	add(SignalName, w.Name, nameScore)

	var types []model.MatchType
	if nameScore >= th.ExactName {
		types = append(types, model.MatchExactName)
	}
	if nameScore >= th.FuzzyName {
		types = append(types, model.MatchFuzzyName)
	}

	if len(existing.Websites) > 0 && len(candidate.Websites) > 0 {
		ws := WebsiteScore(existing.Websites, candidate.Websites)
		add(SignalWebsite, w.Website, ws)
		if ws >= th.Website {
			types = append(types, model.MatchWebsite)
		}
	}

	cs := CatalogScore(existing.CatalogItems, candidate.CatalogItems)
	add(SignalCatalog, w.Catalog, cs)
	if len(existing.CatalogItems) > 0 && len(candidate.CatalogItems) > 0 && cs >= th.CatalogOverlap {
		types = append(types, model.MatchCatalogOverlap)
	}

	if existing.Location != "" && candidate.Location != "" {
		ls := LocationScore(existing.Location, candidate.Location)
		add(SignalLocation, w.Location, ls)
		if ls >= th.Location {
			types = append(types, model.MatchLocation)
		}
	}

	if ey, ok := existing.Year(); ok {
		if cy, ok := candidate.Year(); ok {
			add(SignalFounded, w.Founded, FoundedScore(ey, cy))
		}
	}

	score := 0.0
	if total > 0 {
		score = weighted / total
	}

	return Result{
		Score:      score,
		MatchTypes: types,
		Conflicts:  s.Conflicts(existing, candidate),
		Signals:    signals,
	}
}

// Conflicts lists every field both sides carry with differing values,
// each with the resolution the merge policy would apply.
func (s *Scorer) Conflicts(existing, candidate model.CandidateEntity) []model.FieldConflict {
	var out []model.FieldConflict
	for _, field := range differingFields(existing, candidate) {
		if s.resolver != nil {
			out = append(out, s.resolver.Resolve(field, existing, candidate))
			continue
		}
		ev, cv := FieldValues(field, existing, candidate)
		out = append(out, model.FieldConflict{
			Field:          field,
			ExistingValue:  ev,
			CandidateValue: cv,
			Resolution:     model.ResolutionManualReview,
			Confidence:     0.5,
			Reason:         "no merge policy configured",
		})
	}
	return out
}

// Rank scores candidate against each catalog entity and returns those at or
// above the minimum threshold, best first. Ties keep ID order.
func (s *Scorer) Rank(candidate model.CandidateEntity, existing []model.CandidateEntity) []model.MatchCandidate {
	var out []model.MatchCandidate
	for _, e := range existing {
		r := s.Score(e, candidate)
		if r.Score < s.cfg.Thresholds.Minimum {
			continue
		}
		out = append(out, model.MatchCandidate{
			Existing:   e,
			MatchScore: r.Score,
			MatchTypes: r.MatchTypes,
			Conflicts:  r.Conflicts,
			Signals:    r.Signals,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MatchScore != out[j].MatchScore {
			return out[i].MatchScore > out[j].MatchScore
		}
		return out[i].Existing.ID < out[j].Existing.ID
	})
	return out
}

// Best returns the top-ranked match, or nil when nothing clears the minimum.
func (s *Scorer) Best(candidate model.CandidateEntity, existing []model.CandidateEntity) *model.MatchCandidate {
	ranked := s.Rank(candidate, existing)
	if len(ranked) == 0 {
		return nil
	}
	return &ranked[0]
}

// differingFields returns the scalar fields present on both sides whose
// values disagree.
func differingFields(a, b model.CandidateEntity) []string {
	var out []string
	if a.Name != "" && b.Name != "" && !sameText(a.Name, b.Name) {
		out = append(out, model.FieldName)
	}
	if a.Description != "" && b.Description != "" && !sameText(a.Description, b.Description) {
		out = append(out, model.FieldDescription)
	}
	if a.Location != "" && b.Location != "" && normalize.LocationKey(a.Location) != normalize.LocationKey(b.Location) {
		out = append(out, model.FieldLocation)
	}
	if a.Category != "" && b.Category != "" && !sameText(a.Category, b.Category) {
		out = append(out, model.FieldCategory)
	}
	if ay, ok := a.Year(); ok {
		if by, ok := b.Year(); ok && ay != by {
			out = append(out, model.FieldFoundedYear)
		}
	}
	if aw, bw := a.PrimaryWebsite(), b.PrimaryWebsite(); aw != "" && bw != "" && !strings.EqualFold(aw, bw) {
		out = append(out, model.FieldWebsite)
	}
	return out
}

// FieldValues returns the values of a scalar field on both sides.
func FieldValues(field string, a, b model.CandidateEntity) (any, any) {
	return a.FieldValue(field), b.FieldValue(field)
}

func sameText(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}
