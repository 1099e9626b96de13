package model

import (
	"slices"
	"time"
)

// JobType selects how much of a source a job pulls.
type JobType string

const (
	JobFullSync     JobType = "full_sync"
	JobIncremental  JobType = "incremental"
	JobSingleEntity JobType = "single_entity"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobFullSync, JobIncremental, JobSingleEntity:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Severity classifies an ingestion error.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// JobOptions narrows what a job fetches.
type JobOptions struct {
	Since    *time.Time `json:"since,omitempty"`
	EntityID string     `json:"entity_id,omitempty"`
	Limit    int        `json:"limit,omitempty"`
}

// IngestionError is one entry in a job's append-only error log.
type IngestionError struct {
	ID         string    `json:"id"`
	Message    string    `json:"message"`
	EntityID   string    `json:"entity_id,omitempty"`
	EntityName string    `json:"entity_name,omitempty"`
	Severity   Severity  `json:"severity"`
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retry_count"`
	Resolved   bool      `json:"resolved"`
}

// IngestionJob is a single run of one source through the pipeline.
type IngestionJob struct {
	ID             string           `json:"id"`
	SourceID       string           `json:"source_id"`
	Type           JobType          `json:"type"`
	Status         JobStatus        `json:"status"`
	Progress       int              `json:"progress"`
	TotalItems     *int             `json:"total_items,omitempty"`
	ProcessedItems int              `json:"processed_items"`
	FailedItems    int              `json:"failed_items"`
	Options        JobOptions       `json:"options"`
	Errors         []IngestionError `json:"errors"`
	CreatedAt      time.Time        `json:"created_at"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to readers.
func (j IngestionJob) Clone() IngestionJob {
	out := j
	out.Errors = slices.Clone(j.Errors)
	if j.TotalItems != nil {
		n := *j.TotalItems
		out.TotalItems = &n
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.Options.Since != nil {
		t := *j.Options.Since
		out.Options.Since = &t
	}
	return out
}

// CountBySeverity returns how many errors of sev the job recorded.
func (j IngestionJob) CountBySeverity(sev Severity) int {
	n := 0
	for _, e := range j.Errors {
		if e.Severity == sev {
			n++
		}
	}
	return n
}
