// Package merge decides how incoming candidates combine with catalog
// entities and assembles merged records.
package merge

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/similarity"
)

// FoundedYearPolicy chooses how an equal-priority founded-year conflict is
// settled.
type FoundedYearPolicy string

const (
	// FoundedPreferCandidate takes the incoming year.
	FoundedPreferCandidate FoundedYearPolicy = "prefer_candidate"
	// FoundedSourcePriority decides by source rank only and keeps the
	// existing year on a tie.
	FoundedSourcePriority FoundedYearPolicy = "source_priority"
)

// ParseFoundedYearPolicy validates a configured policy name.
func ParseFoundedYearPolicy(s string) (FoundedYearPolicy, error) {
	switch p := FoundedYearPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return FoundedPreferCandidate, nil
	case FoundedPreferCandidate, FoundedSourcePriority:
		return p, nil
	}
	return "", eris.Errorf("merge: unknown founded year policy %q", s)
}

// Confidence attached to each kind of field resolution.
const (
	confidencePriority     = 0.9
	confidenceHTTPS        = 0.8
	confidenceLonger       = 0.7
	confidenceLongerURL    = 0.65
	confidenceFoundedTie   = 0.6
	confidenceManualReview = 0.5
)

// Policy resolves field conflicts by source trust first and per-field
// tie-break rules second.
type Policy struct {
	priorities map[string]int
	founded    FoundedYearPolicy
}

// NewPolicy creates a policy from source priorities (higher is more
// trusted). Unknown sources rank 0.
func NewPolicy(priorities map[string]int, founded FoundedYearPolicy) *Policy {
	p := make(map[string]int, len(priorities))
	for k, v := range priorities {
		p[k] = v
	}
	if founded == "" {
		founded = FoundedPreferCandidate
	}
	return &Policy{priorities: p, founded: founded}
}

// Priority returns the configured rank of a source.
func (p *Policy) Priority(sourceID string) int {
	return p.priorities[sourceID]
}

// fieldSource returns the source responsible for an entity's value of
// field: its provenance, or the highest-ranked listed source.
func (p *Policy) fieldSource(e model.CandidateEntity, field string) (string, int) {
	if src, ok := e.Metadata.Provenance[field]; ok && src != "" {
		return src, p.Priority(src)
	}
	best, bestPri := "", -1
	for _, s := range e.Metadata.Sources {
		if pri := p.Priority(s); pri > bestPri {
			best, bestPri = s, pri
		}
	}
	if bestPri < 0 {
		bestPri = 0
	}
	return best, bestPri
}

// Resolve decides a single differing field between an existing catalog
// entity and an incoming candidate.
func (p *Policy) Resolve(field string, existing, candidate model.CandidateEntity) model.FieldConflict {
	ev, cv := similarity.FieldValues(field, existing, candidate)
	fc := model.FieldConflict{Field: field, ExistingValue: ev, CandidateValue: cv}

	eSrc, ePri := p.fieldSource(existing, field)
	cSrc, cPri := p.fieldSource(candidate, field)

	switch {
	case cPri > ePri:
		fc.Resolution, fc.Confidence = model.ResolutionUseCandidate, confidencePriority
		fc.Reason = fmt.Sprintf("source %s (priority %d) outranks %s (priority %d)", cSrc, cPri, eSrc, ePri)
		return fc
	case ePri > cPri:
		fc.Resolution, fc.Confidence = model.ResolutionKeepExisting, confidencePriority
		fc.Reason = fmt.Sprintf("source %s (priority %d) outranks %s (priority %d)", eSrc, ePri, cSrc, cPri)
		return fc
	}

	switch field {
	case model.FieldName, model.FieldDescription:
		return preferLonger(fc, fmt.Sprint(ev), fmt.Sprint(cv))
	case model.FieldFoundedYear:
		if p.founded == FoundedSourcePriority {
			fc.Resolution, fc.Confidence = model.ResolutionKeepExisting, confidenceFoundedTie
			fc.Reason = "equal source priority, founded year policy keeps existing"
			return fc
		}
		fc.Resolution, fc.Confidence = model.ResolutionUseCandidate, confidenceFoundedTie
		fc.Reason = "equal source priority, founded year policy prefers candidate"
		return fc
	case model.FieldWebsite:
		return preferWebsite(fc, fmt.Sprint(ev), fmt.Sprint(cv))
	}

	fc.Resolution, fc.Confidence = model.ResolutionManualReview, confidenceManualReview
	fc.Reason = "equal source priority and no tie-break rule for " + field
	return fc
}

func preferLonger(fc model.FieldConflict, existing, candidate string) model.FieldConflict {
	el, cl := utf8.RuneCountInString(existing), utf8.RuneCountInString(candidate)
	switch {
	case cl > el:
		fc.Resolution, fc.Confidence = model.ResolutionUseCandidate, confidenceLonger
		fc.Reason = "equal source priority, candidate value is longer"
	case el > cl:
		fc.Resolution, fc.Confidence = model.ResolutionKeepExisting, confidenceLonger
		fc.Reason = "equal source priority, existing value is longer"
	default:
		fc.Resolution, fc.Confidence = model.ResolutionManualReview, confidenceManualReview
		fc.Reason = "equal source priority and equal length"
	}
	return fc
}

func preferWebsite(fc model.FieldConflict, existing, candidate string) model.FieldConflict {
	eHTTPS, cHTTPS := isHTTPS(existing), isHTTPS(candidate)
	switch {
	case cHTTPS && !eHTTPS:
		fc.Resolution, fc.Confidence = model.ResolutionUseCandidate, confidenceHTTPS
		fc.Reason = "equal source priority, candidate uses https"
		return fc
	case eHTTPS && !cHTTPS:
		fc.Resolution, fc.Confidence = model.ResolutionKeepExisting, confidenceHTTPS
		fc.Reason = "equal source priority, existing uses https"
		return fc
	}
	fc = preferLonger(fc, existing, candidate)
	if fc.Resolution != model.ResolutionManualReview {
		fc.Confidence = confidenceLongerURL
		fc.Reason = strings.Replace(fc.Reason, "value", "URL", 1)
	}
	return fc
}

func isHTTPS(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	return err == nil && strings.EqualFold(u.Scheme, "https")
}
