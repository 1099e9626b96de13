// Package store persists the studio catalog, ingestion job history and the
// manual review queue in SQLite or Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/normalize"
)

var (
	// ErrNotFound is returned when a lookup by ID matches nothing.
	ErrNotFound = eris.New("store: not found")
	// ErrDuplicateKey is returned when a new studio collides with an existing
	// identity key.
	ErrDuplicateKey = eris.New("store: duplicate identity key")
	// ErrUnavailable is returned when the backing database cannot be reached.
	ErrUnavailable = eris.New("store: repository unavailable")
	// ErrAlreadyResolved is returned when resolving a review that is no
	// longer pending.
	ErrAlreadyResolved = eris.New("store: review already resolved")
)

// EntityFilter narrows ListEntities.
type EntityFilter struct {
	Query  string `json:"query,omitempty"`
	Source string `json:"source,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	SourceID string          `json:"source_id,omitempty"`
	Status   model.JobStatus `json:"status,omitempty"`
	Limit    int             `json:"limit,omitempty"`
}

// ReviewFilter narrows ListReviews.
type ReviewFilter struct {
	Status model.ReviewStatus `json:"status,omitempty"`
	JobID  string             `json:"job_id,omitempty"`
	Limit  int                `json:"limit,omitempty"`
}

// CatalogRepository reads and writes catalog studios.
type CatalogRepository interface {
	// FindCandidateMatches returns studios sharing the identity key or its
	// blocking prefix.
	FindCandidateMatches(ctx context.Context, identityKey string) ([]model.CandidateEntity, error)
	// Upsert inserts entity when its ID is empty and updates it otherwise.
	Upsert(ctx context.Context, entity model.CandidateEntity) (model.CandidateEntity, error)
	// BulkUpsert writes many studios keyed by identity key.
	BulkUpsert(ctx context.Context, entities []model.CandidateEntity) (int, error)
	GetEntity(ctx context.Context, id string) (model.CandidateEntity, error)
	ListEntities(ctx context.Context, filter EntityFilter) ([]model.CandidateEntity, error)
	Ping(ctx context.Context) error
}

// JobStore keeps ingestion job snapshots.
type JobStore interface {
	SaveJob(ctx context.Context, job model.IngestionJob) error
	GetJob(ctx context.Context, id string) (model.IngestionJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.IngestionJob, error)
}

// ReviewQueue holds candidates waiting for a human decision.
type ReviewQueue interface {
	EnqueueReview(ctx context.Context, item model.ReviewItem) (model.ReviewItem, error)
	GetReview(ctx context.Context, id string) (model.ReviewItem, error)
	ListReviews(ctx context.Context, filter ReviewFilter) ([]model.ReviewItem, error)
	ResolveReview(ctx context.Context, id string, status model.ReviewStatus) (model.ReviewItem, error)
}

// Store is the full persistence surface.
type Store interface {
	CatalogRepository
	JobStore
	ReviewQueue

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// studioRow is the column projection shared by both backends. The full
// entity travels in doc.
type studioRow struct {
	ID          string
	IdentityKey string
	NamePrefix  string
	CompactKey  string
	Name        string
	Confidence  float64
	Doc         []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func toStudioRow(e model.CandidateEntity) (studioRow, error) {
	key := e.IdentityKey
	if key == "" {
		key = normalize.IdentityKey(e.Name)
	}
	if key == "" {
		return studioRow{}, eris.Errorf("store: studio %q has no identity key", e.Name)
	}
	e.IdentityKey = key
	doc, err := json.Marshal(e)
	if err != nil {
		return studioRow{}, eris.Wrap(err, "store: marshal studio")
	}
	return studioRow{
		ID:          e.ID,
		IdentityKey: key,
		NamePrefix:  normalize.BlockKey(key),
		CompactKey:  compactKey(key),
		Name:        e.Name,
		Confidence:  e.Confidence,
		Doc:         doc,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}, nil
}

func (r studioRow) entity() (model.CandidateEntity, error) {
	var e model.CandidateEntity
	if err := json.Unmarshal(r.Doc, &e); err != nil {
		return e, eris.Wrapf(err, "store: unmarshal studio %s", r.ID)
	}
	e.ID = r.ID
	e.IdentityKey = r.IdentityKey
	e.CreatedAt = r.CreatedAt.UTC()
	e.UpdatedAt = r.UpdatedAt.UTC()
	return e, nil
}

func blockOf(identityKey string) string {
	return normalize.BlockKey(identityKey)
}

// compactKey drops spaces so "riot games" and "riotgames" share a block.
func compactKey(identityKey string) string {
	return strings.ReplaceAll(identityKey, " ", "")
}

// maxCandidates caps how many studios one blocking lookup returns.
const maxCandidates = 200

// reviewPayload is the JSON body of a review row.
type reviewPayload struct {
	SourceEntityID string                `json:"source_entity_id,omitempty"`
	SourceUpdated  time.Time             `json:"source_updated,omitempty"`
	Candidate      model.CandidateEntity `json:"candidate"`
	Match          model.MatchCandidate  `json:"match"`
	Strategy       model.MergeStrategy   `json:"strategy"`
}

func newReviewPayload(item model.ReviewItem) reviewPayload {
	return reviewPayload{
		SourceEntityID: item.SourceEntityID,
		SourceUpdated:  item.SourceUpdated,
		Candidate:      item.Candidate,
		Match:          item.Match,
		Strategy:       item.Strategy,
	}
}

func (p reviewPayload) apply(item *model.ReviewItem) {
	item.SourceEntityID, item.SourceUpdated = p.SourceEntityID, p.SourceUpdated
	item.Candidate, item.Match, item.Strategy = p.Candidate, p.Match, p.Strategy
}

func marshalJSON(v any, what string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal %s", what)
	}
	return b, nil
}

// IsUnavailable reports whether err means the repository cannot serve any
// request, as opposed to a per-record failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
