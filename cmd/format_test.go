package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/monitoring"
)

func TestFormatJobsList(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)
	total := 40
	jobs := []model.IngestionJob{
		{
			ID:             "abc12345-6789-0000-0000-000000000000",
			SourceID:       "igdb",
			Type:           model.JobFullSync,
			Status:         model.JobCompleted,
			Progress:       100,
			TotalItems:     &total,
			ProcessedItems: 38,
			FailedItems:    2,
			CreatedAt:      now,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			SourceID:  "steam",
			Type:      model.JobIncremental,
			Status:    model.JobPending,
			CreatedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatJobsList(&buf, jobs)

	out := buf.String()
	assert.Contains(t, out, "SOURCE")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "38/40")
	assert.Contains(t, out, "100%")
	assert.Contains(t, out, "incremental")
	assert.Contains(t, out, "2026-06-15 10:30")
}

func TestFormatJobSummary(t *testing.T) {
	start := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)
	job := model.IngestionJob{
		ID:          "job-1",
		SourceID:    "wikidata",
		Type:        model.JobFullSync,
		Status:      model.JobFailed,
		StartedAt:   &start,
		CompletedAt: &end,
		Errors: []model.IngestionError{
			{Message: "missing name", EntityID: "Q1", Severity: model.SeverityWarning},
			{Message: "repository unavailable", Severity: model.SeverityCritical, RetryCount: 3},
		},
	}

	var buf bytes.Buffer
	formatJobSummary(&buf, job)

	out := buf.String()
	assert.Contains(t, out, "wikidata")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "Errors (2)")
	assert.Contains(t, out, "WARNING  [Q1] missing name")
	assert.Contains(t, out, "(retries: 3)")
}

func TestFormatSourcesAndStudios(t *testing.T) {
	var buf bytes.Buffer
	formatSourcesList(&buf, []model.SourceInfo{
		{ID: "manual", Name: "Manual entries", Priority: 100, DataQuality: 0.95, Enabled: true},
		{ID: "igdb", Name: "IGDB", Priority: 80, DataQuality: 0.85, EstimatedCount: 50000},
	})
	out := buf.String()
	assert.Contains(t, out, "Manual entries")
	assert.Contains(t, out, "0.95")
	assert.Contains(t, out, "50000")

	year := 2009
	buf.Reset()
	formatStudiosList(&buf, []model.CandidateEntity{{
		ID:          "studio-0001-aaaa",
		Name:        "An Extremely Long Studio Name That Overflows",
		FoundedYear: &year,
		Confidence:  0.9,
		Metadata:    model.Metadata{Sources: []string{"manual", "igdb"}},
	}})
	out = buf.String()
	assert.Contains(t, out, "studio-0")
	assert.Contains(t, out, "...")
	assert.Contains(t, out, "2009")
	assert.Contains(t, out, "manual,igdb")
}

func TestFormatReviewsList(t *testing.T) {
	var buf bytes.Buffer
	formatReviewsList(&buf, []model.ReviewItem{{
		ID:         "rev-12345678",
		SourceID:   "steam",
		ExistingID: "studio-87654321",
		Candidate:  model.CandidateEntity{Name: "Remedy"},
		Match:      model.MatchCandidate{MatchScore: 0.8},
		Status:     model.ReviewPending,
	}})
	out := buf.String()
	assert.Contains(t, out, "rev-1234")
	assert.Contains(t, out, "Remedy")
	assert.Contains(t, out, "0.80")
	assert.Contains(t, out, "pending")
}

func TestFormatStatus(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		JobsTotal:      4,
		JobsCompleted:  2,
		JobsFailed:     2,
		JobFailRate:    0.5,
		FailedSources:  []string{"steam"},
		PendingReviews: 3,
		LookbackHours:  24,
	}
	alerts := []monitoring.Alert{{Severity: "high", Message: "too many failures"}}

	var buf bytes.Buffer
	formatStatus(&buf, snap, alerts)

	out := buf.String()
	assert.Contains(t, out, "last 24h")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "steam")
	assert.Contains(t, out, "[high] too many failures")
}
