// Package ingest runs ingestion jobs: it pulls raw records from registered
// data sources and drives each one through normalization, matching and
// merging into the catalog.
package ingest

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/store"
)

var (
	// ErrSourceNotFound is returned for an unregistered source ID.
	ErrSourceNotFound = eris.New("ingest: source not found")
	// ErrSourceDisabled is returned when starting a job on a disabled source.
	ErrSourceDisabled = eris.New("ingest: source disabled")
	// ErrInvalidOptions is returned when job options do not fit the job type.
	ErrInvalidOptions = eris.New("ingest: invalid job options")
	// ErrJobNotFound is returned for an unknown job ID.
	ErrJobNotFound = eris.New("ingest: job not found")
	// ErrSchedulerClosed is returned by StartJob after Shutdown.
	ErrSchedulerClosed = eris.New("ingest: scheduler shut down")

	// ErrRepositoryUnavailable marks connection-level repository failures.
	// Any job that hits it fails.
	ErrRepositoryUnavailable = store.ErrUnavailable
	// ErrDuplicateKey marks a write that lost an identity-key race. It only
	// fails the record.
	ErrDuplicateKey = store.ErrDuplicateKey
)

// DataSource is implemented once per provider. The scheduler never sees
// provider transport details.
type DataSource interface {
	// Info describes the source.
	Info() model.SourceInfo
	// TestConnection returns nil when the source is reachable.
	TestConnection(ctx context.Context) error
	// FetchData returns the raw records for job in source order. Sources
	// apply the job type filter and Limit themselves.
	FetchData(ctx context.Context, job model.IngestionJob) ([]model.RawEntity, error)
}

// CatalogRepository is the catalog surface the scheduler writes through.
type CatalogRepository interface {
	FindCandidateMatches(ctx context.Context, identityKey string) ([]model.CandidateEntity, error)
	Upsert(ctx context.Context, entity model.CandidateEntity) (model.CandidateEntity, error)
	BulkUpsert(ctx context.Context, entities []model.CandidateEntity) (int, error)
}

// entityGetter is implemented by repositories that can reload one entity.
type entityGetter interface {
	GetEntity(ctx context.Context, id string) (model.CandidateEntity, error)
}

// JobStore persists job snapshots across processes.
type JobStore interface {
	SaveJob(ctx context.Context, job model.IngestionJob) error
	GetJob(ctx context.Context, id string) (model.IngestionJob, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.IngestionJob, error)
}

// ReviewQueue receives manual_review outcomes.
type ReviewQueue interface {
	EnqueueReview(ctx context.Context, item model.ReviewItem) (model.ReviewItem, error)
	GetReview(ctx context.Context, id string) (model.ReviewItem, error)
	ListReviews(ctx context.Context, filter store.ReviewFilter) ([]model.ReviewItem, error)
	ResolveReview(ctx context.Context, id string, status model.ReviewStatus) (model.ReviewItem, error)
}
