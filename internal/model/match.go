package model

import (
	"strings"
	"time"
)

// MatchType names a similarity threshold a pair crossed.
type MatchType string

const (
	MatchExactName      MatchType = "exact_name"
	MatchFuzzyName      MatchType = "fuzzy_name"
	MatchWebsite        MatchType = "website"
	MatchCatalogOverlap MatchType = "catalog_overlap"
	MatchLocation       MatchType = "location"
)

// Resolution is the outcome chosen for a single conflicting field.
type Resolution string

const (
	ResolutionKeepExisting Resolution = "keep_existing"
	ResolutionUseCandidate Resolution = "use_candidate"
	ResolutionMerge        Resolution = "merge"
	ResolutionManualReview Resolution = "manual_review"
)

// MergeAction is the whole-record decision for a candidate.
type MergeAction string

const (
	ActionSkip         MergeAction = "skip"
	ActionMerge        MergeAction = "merge"
	ActionCreateNew    MergeAction = "create_new"
	ActionManualReview MergeAction = "manual_review"
)

// FieldConflict records a shared field whose values differ and how the
// merge policy resolved it.
type FieldConflict struct {
	Field          string     `json:"field"`
	ExistingValue  any        `json:"existing_value"`
	CandidateValue any        `json:"candidate_value"`
	Resolution     Resolution `json:"resolution"`
	Confidence     float64    `json:"confidence"`
	Reason         string     `json:"reason,omitempty"`
}

// MatchCandidate pairs a catalog entity with its score against an
// incoming candidate.
type MatchCandidate struct {
	Existing   CandidateEntity    `json:"existing"`
	MatchScore float64            `json:"match_score"`
	MatchTypes []MatchType        `json:"match_types"`
	Conflicts  []FieldConflict    `json:"conflicts"`
	Signals    map[string]float64 `json:"signals,omitempty"`
}

// HasMatchType reports whether mt was crossed.
func (m MatchCandidate) HasMatchType(mt MatchType) bool {
	for _, t := range m.MatchTypes {
		if t == mt {
			return true
		}
	}
	return false
}

// MergeStrategy is the decision taken for a match, with its audit trail.
type MergeStrategy struct {
	Action     MergeAction `json:"action"`
	Confidence float64     `json:"confidence"`
	Reasoning  []string    `json:"reasoning"`
}

// MergeHistoryEntry is appended to an entity for every merge applied to it.
// Changes lists every scalar field the merge touched or deliberately left
// alone, with the value before and after.
type MergeHistoryEntry struct {
	SourceID       string          `json:"source_id"`
	SourceEntityID string          `json:"source_entity_id,omitempty"`
	JobID          string          `json:"job_id,omitempty"`
	Action         MergeAction     `json:"action"`
	ConflictCount  int             `json:"conflict_count"`
	Changes        []FieldConflict `json:"changes,omitempty"`
	Reasoning      []string        `json:"reasoning,omitempty"`
	SourceUpdated  time.Time       `json:"source_updated,omitempty"`
	MergedAt       time.Time       `json:"merged_at"`
}

// ReviewStatus tracks a queued manual review.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// ParseReviewDecision accepts a reviewer verdict in either imperative or
// past form ("approve", "approved", "reject", "rejected").
func ParseReviewDecision(s string) (ReviewStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return ReviewApproved, true
	case "reject", "rejected":
		return ReviewRejected, true
	}
	return "", false
}

// ReviewItem is a candidate/entity pair awaiting a human decision.
type ReviewItem struct {
	ID             string          `json:"id"`
	JobID          string          `json:"job_id"`
	SourceID       string          `json:"source_id"`
	SourceEntityID string          `json:"source_entity_id,omitempty"`
	SourceUpdated  time.Time       `json:"source_updated,omitempty"`
	ExistingID     string          `json:"existing_id"`
	Candidate      CandidateEntity `json:"candidate"`
	Match          MatchCandidate  `json:"match"`
	Strategy       MergeStrategy   `json:"strategy"`
	Status         ReviewStatus    `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

// RevisionKey identifies the source revision and catalog entity a review
// is about. At most one pending review exists per key.
func (r ReviewItem) RevisionKey() string {
	updated := ""
	if !r.SourceUpdated.IsZero() {
		updated = r.SourceUpdated.UTC().Format(time.RFC3339Nano)
	}
	return strings.Join([]string{r.SourceID, r.SourceEntityID, updated, r.ExistingID}, "|")
}
