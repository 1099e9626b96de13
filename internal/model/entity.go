package model

import (
	"maps"
	"slices"
	"time"
)

// Field names used for conflicts, provenance and merge reasoning.
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldLocation    = "location"
	FieldCategory    = "category"
	FieldFoundedYear = "founded_year"
	FieldWebsite     = "website"
)

// RawEntity is a record exactly as a data source delivered it.
type RawEntity struct {
	SourceID       string     `json:"source_id"`
	SourceEntityID string     `json:"source_entity_id"`
	LastUpdated    time.Time  `json:"last_updated"`
	Attributes     Attributes `json:"attributes"`
}

// CandidateEntity is the canonical studio shape shared by normalization,
// scoring, merging and the catalog.
type CandidateEntity struct {
	ID           string              `json:"id,omitempty"`
	IdentityKey  string              `json:"identity_key"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	Location     string              `json:"location,omitempty"`
	Locality     string              `json:"locality,omitempty"`
	Category     string              `json:"category,omitempty"`
	Websites     []string            `json:"websites,omitempty"`
	CatalogItems []string            `json:"catalog_items,omitempty"`
	Technologies []string            `json:"technologies,omitempty"`
	FoundedYear  *int                `json:"founded_year,omitempty"`
	Confidence   float64             `json:"confidence"`
	Metadata     Metadata            `json:"metadata"`
	MergeHistory []MergeHistoryEntry `json:"merge_history,omitempty"`
	CreatedAt    time.Time           `json:"created_at,omitempty"`
	UpdatedAt    time.Time           `json:"updated_at,omitempty"`
}

// Metadata carries the bookkeeping attached to a candidate. Extra holds
// source attributes the pipeline does not interpret.
type Metadata struct {
	Sources     []string          `json:"sources"`
	Provenance  map[string]string `json:"provenance,omitempty"`
	SourceRefs  map[string]string `json:"source_refs,omitempty"`
	Aliases     []string          `json:"aliases,omitempty"`
	FoundedDate string            `json:"founded_date,omitempty"`
	Extra       map[string]any    `json:"extra,omitempty"`
}

// PrimarySource returns the source that produced a freshly normalized
// candidate, or the first listed source for catalog entities.
func (m Metadata) PrimarySource() string {
	if len(m.Sources) == 0 {
		return ""
	}
	return m.Sources[0]
}

// HasSource reports whether id is listed in Sources.
func (m Metadata) HasSource(id string) bool {
	return slices.Contains(m.Sources, id)
}

// Clone returns a deep copy of the metadata.
func (m Metadata) Clone() Metadata {
	return Metadata{
		Sources:     slices.Clone(m.Sources),
		Provenance:  maps.Clone(m.Provenance),
		SourceRefs:  maps.Clone(m.SourceRefs),
		Aliases:     slices.Clone(m.Aliases),
		FoundedDate: m.FoundedDate,
		Extra:       maps.Clone(m.Extra),
	}
}

// Clone returns a deep copy of the entity so merges never alias the input.
func (e CandidateEntity) Clone() CandidateEntity {
	out := e
	out.Websites = slices.Clone(e.Websites)
	out.CatalogItems = slices.Clone(e.CatalogItems)
	out.Technologies = slices.Clone(e.Technologies)
	if e.FoundedYear != nil {
		y := *e.FoundedYear
		out.FoundedYear = &y
	}
	out.Metadata = e.Metadata.Clone()
	out.MergeHistory = slices.Clone(e.MergeHistory)
	return out
}

// FieldValue returns a scalar field by name. An unset founded year and
// unknown fields are nil.
func (e CandidateEntity) FieldValue(field string) any {
	switch field {
	case FieldName:
		return e.Name
	case FieldDescription:
		return e.Description
	case FieldLocation:
		return e.Location
	case FieldCategory:
		return e.Category
	case FieldFoundedYear:
		if y, ok := e.Year(); ok {
			return y
		}
		return nil
	case FieldWebsite:
		return e.PrimaryWebsite()
	}
	return nil
}

// Year returns the founded year and whether it is set.
func (e CandidateEntity) Year() (int, bool) {
	if e.FoundedYear == nil {
		return 0, false
	}
	return *e.FoundedYear, true
}

// PrimaryWebsite returns the first website, or "".
func (e CandidateEntity) PrimaryWebsite() string {
	if len(e.Websites) == 0 {
		return ""
	}
	return e.Websites[0]
}

// SourceInfo describes a registered data source.
type SourceInfo struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	EstimatedCount int     `json:"estimated_count,omitempty"`
	DataQuality    float64 `json:"data_quality"`
	Priority       int     `json:"priority"`
	Enabled        bool    `json:"enabled"`
}
