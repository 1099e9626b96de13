// Package monitoring watches ingestion health and posts webhook alerts when
// jobs fail too often or the review queue backs up.
package monitoring

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/store"
)

// scanLimit caps how many jobs and reviews one collection reads.
const scanLimit = 10000

// MetricsSnapshot holds a point-in-time view of ingestion health.
type MetricsSnapshot struct {
	// Jobs created within the lookback window.
	JobsTotal     int     `json:"jobs_total"`
	JobsCompleted int     `json:"jobs_completed"`
	JobsFailed    int     `json:"jobs_failed"`
	JobsCancelled int     `json:"jobs_cancelled"`
	JobsActive    int     `json:"jobs_active"`
	JobFailRate   float64 `json:"job_fail_rate"`

	ProcessedItems int `json:"processed_items"`
	FailedItems    int `json:"failed_items"`
	CriticalErrors int `json:"critical_errors"`

	// FailedSources lists sources with at least one failed job, sorted.
	FailedSources []string `json:"failed_sources,omitempty"`

	PendingReviews int `json:"pending_reviews"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobLister reads job history.
type JobLister interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.IngestionJob, error)
}

// ReviewLister reads the review queue.
type ReviewLister interface {
	ListReviews(ctx context.Context, filter store.ReviewFilter) ([]model.ReviewItem, error)
}

// Collector gathers metrics from the job store and review queue.
type Collector struct {
	jobs    JobLister
	reviews ReviewLister
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector. reviews may be nil.
func NewCollector(jobs JobLister, reviews ReviewLister) *Collector {
	return &Collector{jobs: jobs, reviews: reviews, nowFunc: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	jobs, err := c.jobs.ListJobs(ctx, store.JobFilter{Limit: scanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	failedSources := make(map[string]bool)
	for _, j := range jobs {
		if j.CreatedAt.Before(cutoff) {
			continue
		}
		snap.JobsTotal++
		snap.ProcessedItems += j.ProcessedItems
		snap.FailedItems += j.FailedItems
		snap.CriticalErrors += j.CountBySeverity(model.SeverityCritical)

		switch j.Status {
		case model.JobCompleted:
			snap.JobsCompleted++
		case model.JobFailed:
			snap.JobsFailed++
			failedSources[j.SourceID] = true
		case model.JobCancelled:
			snap.JobsCancelled++
		default:
			snap.JobsActive++
		}
	}

	if finished := snap.JobsCompleted + snap.JobsFailed; finished > 0 {
		snap.JobFailRate = float64(snap.JobsFailed) / float64(finished)
	}
	for id := range failedSources {
		snap.FailedSources = append(snap.FailedSources, id)
	}
	slices.Sort(snap.FailedSources)

	if c.reviews != nil {
		items, err := c.reviews.ListReviews(ctx, store.ReviewFilter{Status: model.ReviewPending, Limit: scanLimit})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list reviews")
		}
		snap.PendingReviews = len(items)
	}

	return snap, nil
}
