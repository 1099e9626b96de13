package merge

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/normalize"
)

// ErrNotMergeable is returned when Merge is asked to apply a strategy other
// than merge.
var ErrNotMergeable = eris.New("merge: strategy is not merge")

// Strategy confidences for each decision band.
const (
	confidenceAutoMerge   = 0.95
	confidenceMerge       = 0.85
	confidenceReviewMerge = 0.75
	confidenceReview      = 0.6
	confidenceCreate      = 0.8
	weakIdentityConflict  = 0.7
)

// Bands sets the match-score boundaries between decisions.
type Bands struct {
	AutoMerge float64
	Merge     float64
	Review    float64
}

// DefaultBands returns the stock 0.95 / 0.85 / 0.75 boundaries.
func DefaultBands() Bands {
	return Bands{AutoMerge: 0.95, Merge: 0.85, Review: 0.75}
}

// Context identifies the job and record a merge is applied for.
type Context struct {
	JobID         string
	SourceUpdated time.Time
}

// Outcome is the result of resolving one candidate against its best match.
// Merged is nil for manual_review and skip.
type Outcome struct {
	Strategy model.MergeStrategy
	Merged   *model.CandidateEntity
	Match    *model.MatchCandidate
}

// Engine selects merge strategies and builds merged records.
type Engine struct {
	policy  *Policy
	bands   Bands
	nowFunc func() time.Time
}

// NewEngine creates a merge engine.
func NewEngine(policy *Policy, bands Bands) *Engine {
	return &Engine{policy: policy, bands: bands, nowFunc: time.Now}
}

// Policy returns the field resolution policy.
func (e *Engine) Policy() *Policy {
	return e.policy
}

// Decide picks the whole-record action for a match. A nil match means no
// catalog entity cleared the minimum score.
func (e *Engine) Decide(match *model.MatchCandidate) model.MergeStrategy {
	if match == nil {
		return model.MergeStrategy{
			Action:     model.ActionCreateNew,
			Confidence: confidenceCreate,
			Reasoning:  []string{fmt.Sprintf("no catalog entity scored at least %.2f", e.bands.Review)},
		}
	}

	s := match.MatchScore
	scoreLine := fmt.Sprintf("match score %.3f against %s (%s)", s, match.Existing.ID, joinTypes(match.MatchTypes))

	if s >= e.bands.AutoMerge {
		if weak := weakIdentityConflicts(match.Conflicts); len(weak) == 0 {
			return model.MergeStrategy{
				Action:     model.ActionMerge,
				Confidence: confidenceAutoMerge,
				Reasoning:  []string{scoreLine, "no low-confidence name or website conflicts"},
			}
		}
	}

	if s >= e.bands.Merge {
		if review := manualReviewFields(match.Conflicts); len(review) > 0 {
			return model.MergeStrategy{
				Action:     model.ActionManualReview,
				Confidence: confidenceReviewMerge,
				Reasoning:  []string{scoreLine, "conflicts need review: " + strings.Join(review, ", ")},
			}
		}
		return model.MergeStrategy{
			Action:     model.ActionMerge,
			Confidence: confidenceMerge,
			Reasoning:  []string{scoreLine, "all conflicts resolvable by policy"},
		}
	}

	if s >= e.bands.Review {
		return model.MergeStrategy{
			Action:     model.ActionManualReview,
			Confidence: confidenceReview,
			Reasoning:  []string{scoreLine, "score in review band"},
		}
	}

	return model.MergeStrategy{
		Action:     model.ActionCreateNew,
		Confidence: confidenceCreate,
		Reasoning:  []string{scoreLine, fmt.Sprintf("below review threshold %.2f", e.bands.Review)},
	}
}

// Resolve decides the strategy for candidate and, for merge and create_new,
// returns the record to persist. The match is never mutated.
func (e *Engine) Resolve(candidate model.CandidateEntity, match *model.MatchCandidate, mc Context) (Outcome, error) {
	strategy := e.Decide(match)
	out := Outcome{Strategy: strategy, Match: match}

	switch strategy.Action {
	case model.ActionCreateNew:
		created := candidate.Clone()
		created.ID = ""
		entry := e.historyEntry(candidate, model.ActionCreateNew, mc)
		entry.Reasoning = slices.Clone(strategy.Reasoning)
		created.MergeHistory = append(created.MergeHistory, entry)
		out.Merged = &created
	case model.ActionMerge:
		merged, trail, err := e.Merge(*match, candidate, strategy, mc)
		if err != nil {
			return out, err
		}
		out.Strategy.Reasoning = append(out.Strategy.Reasoning, trail...)
		out.Merged = &merged
	}
	return out, nil
}

// Merge applies candidate onto the matched entity. Set-valued fields are
// unioned, scalar fields follow the pre-computed conflict resolutions and
// empty scalars are filled. The returned trail explains each change.
func (e *Engine) Merge(match model.MatchCandidate, candidate model.CandidateEntity, strategy model.MergeStrategy, mc Context) (model.CandidateEntity, []string, error) {
	if strategy.Action != model.ActionMerge {
		return model.CandidateEntity{}, nil, eris.Wrapf(ErrNotMergeable, "action %s", strategy.Action)
	}

	out := match.Existing.Clone()
	src := candidate.Metadata.PrimarySource()
	var trail []string
	var changes []model.FieldConflict

	if out.Metadata.Provenance == nil {
		out.Metadata.Provenance = make(map[string]string)
	}

	for _, c := range match.Conflicts {
		switch c.Resolution {
		case model.ResolutionUseCandidate:
			oldName := out.Name
			applyField(&out, candidate, c.Field)
			out.Metadata.Provenance[c.Field] = src
			if c.Field == model.FieldName && oldName != out.Name {
				out.Metadata.Aliases = append(out.Metadata.Aliases, oldName)
				out.IdentityKey = candidate.IdentityKey
				if out.IdentityKey == "" {
					out.IdentityKey = normalize.IdentityKey(out.Name)
				}
			}
			change := c
			change.CandidateValue = out.FieldValue(c.Field)
			changes = append(changes, change)
			trail = append(trail, fmt.Sprintf("%s: took %v from %s (%s)", c.Field, c.CandidateValue, src, c.Reason))
		case model.ResolutionManualReview:
			changes = append(changes, c)
			trail = append(trail, fmt.Sprintf("%s: kept %v, %v from %s left for review", c.Field, c.ExistingValue, c.CandidateValue, src))
		default:
			changes = append(changes, c)
			trail = append(trail, fmt.Sprintf("%s: kept %v (%s)", c.Field, c.ExistingValue, c.Reason))
		}
	}

	for _, field := range fillableFields(out, candidate) {
		applyField(&out, candidate, field)
		out.Metadata.Provenance[field] = src
		changes = append(changes, model.FieldConflict{
			Field:          field,
			CandidateValue: out.FieldValue(field),
			Resolution:     model.ResolutionUseCandidate,
			Confidence:     candidate.Confidence,
			Reason:         "existing value empty",
		})
		trail = append(trail, fmt.Sprintf("%s: filled empty field from %s", field, src))
	}

	out.Websites = unionWebsites(out.Websites, candidate.Websites)
	out.CatalogItems = normalize.UniqueItems(append(out.CatalogItems, candidate.CatalogItems...))
	out.Technologies = normalize.UniqueItems(append(out.Technologies, candidate.Technologies...))

	aliases := append(out.Metadata.Aliases, candidate.Metadata.Aliases...)
	if !strings.EqualFold(candidate.Name, out.Name) {
		aliases = append(aliases, candidate.Name)
	}
	out.Metadata.Aliases = normalize.UniqueItems(aliases)

	for _, s := range candidate.Metadata.Sources {
		if !out.Metadata.HasSource(s) {
			out.Metadata.Sources = append(out.Metadata.Sources, s)
		}
	}
	for k, v := range candidate.Metadata.SourceRefs {
		if out.Metadata.SourceRefs == nil {
			out.Metadata.SourceRefs = make(map[string]string)
		}
		out.Metadata.SourceRefs[k] = v
	}
	for k, v := range candidate.Metadata.Extra {
		if out.Metadata.Extra == nil {
			out.Metadata.Extra = make(map[string]any)
		}
		if _, ok := out.Metadata.Extra[k]; !ok {
			out.Metadata.Extra[k] = v
		}
	}
	if out.Metadata.FoundedDate == "" {
		out.Metadata.FoundedDate = candidate.Metadata.FoundedDate
	}

	out.Confidence = max(out.Confidence, candidate.Confidence)
	entry := e.historyEntry(candidate, model.ActionMerge, mc)
	entry.ConflictCount = len(match.Conflicts)
	entry.Changes = changes
	entry.Reasoning = append(slices.Clone(strategy.Reasoning), trail...)
	out.MergeHistory = append(out.MergeHistory, entry)

	return out, trail, nil
}

func (e *Engine) historyEntry(candidate model.CandidateEntity, action model.MergeAction, mc Context) model.MergeHistoryEntry {
	src := candidate.Metadata.PrimarySource()
	return model.MergeHistoryEntry{
		SourceID:       src,
		SourceEntityID: candidate.Metadata.SourceRefs[src],
		JobID:          mc.JobID,
		Action:         action,
		SourceUpdated:  mc.SourceUpdated,
		MergedAt:       e.nowFunc().UTC(),
	}
}

// AlreadyApplied reports whether entity's history already holds a merge or
// create of the same source record at the same revision.
func AlreadyApplied(entity model.CandidateEntity, sourceID, sourceEntityID string, sourceUpdated time.Time) bool {
	if sourceEntityID == "" || sourceUpdated.IsZero() {
		return false
	}
	for _, h := range entity.MergeHistory {
		if h.SourceID == sourceID && h.SourceEntityID == sourceEntityID && h.SourceUpdated.Equal(sourceUpdated) {
			return true
		}
	}
	return false
}

func applyField(out *model.CandidateEntity, c model.CandidateEntity, field string) {
	switch field {
	case model.FieldName:
		out.Name = c.Name
	case model.FieldDescription:
		out.Description = c.Description
	case model.FieldLocation:
		out.Location = c.Location
		out.Locality = c.Locality
	case model.FieldCategory:
		out.Category = c.Category
	case model.FieldFoundedYear:
		if y, ok := c.Year(); ok {
			out.FoundedYear = &y
		}
	case model.FieldWebsite:
		if w := c.PrimaryWebsite(); w != "" {
			out.Websites = unionWebsites([]string{w}, out.Websites)
		}
	}
}

// fillableFields lists scalar fields empty on out and set on candidate.
func fillableFields(out, c model.CandidateEntity) []string {
	var fields []string
	if out.Description == "" && c.Description != "" {
		fields = append(fields, model.FieldDescription)
	}
	if out.Location == "" && c.Location != "" {
		fields = append(fields, model.FieldLocation)
	}
	if out.Category == "" && c.Category != "" {
		fields = append(fields, model.FieldCategory)
	}
	if out.FoundedYear == nil && c.FoundedYear != nil {
		fields = append(fields, model.FieldFoundedYear)
	}
	if len(out.Websites) == 0 && len(c.Websites) > 0 {
		fields = append(fields, model.FieldWebsite)
	}
	return fields
}

// unionWebsites keeps first-seen order and display form, deduping on the
// normalized key.
func unionWebsites(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, w := range append(append([]string{}, a...), b...) {
		_, key, ok := normalize.NormalizeWebsite(w)
		if !ok {
			key = strings.ToLower(strings.TrimSpace(w))
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, w)
	}
	return out
}

func weakIdentityConflicts(conflicts []model.FieldConflict) []string {
	var out []string
	for _, c := range conflicts {
		if (c.Field == model.FieldName || c.Field == model.FieldWebsite) && c.Confidence < weakIdentityConflict {
			out = append(out, c.Field)
		}
	}
	return out
}

func manualReviewFields(conflicts []model.FieldConflict) []string {
	var out []string
	for _, c := range conflicts {
		if c.Resolution == model.ResolutionManualReview {
			out = append(out, c.Field)
		}
	}
	return out
}

func joinTypes(types []model.MatchType) string {
	if len(types) == 0 {
		return "no match types"
	}
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
