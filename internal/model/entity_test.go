package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCandidateEntity_CloneIsDeep(t *testing.T) {
	t.Parallel()

	year := 2006
	orig := CandidateEntity{
		Name:         "Riot Games",
		Websites:     []string{"https://riotgames.com"},
		CatalogItems: []string{"League of Legends"},
		FoundedYear:  &year,
		Metadata: Metadata{
			Sources:    []string{"igdb"},
			Provenance: map[string]string{FieldName: "igdb"},
			Extra:      map[string]any{"twitter": "@riotgames"},
		},
		MergeHistory: []MergeHistoryEntry{{SourceID: "igdb", Action: ActionMerge}},
	}

	c := orig.Clone()
	c.Websites[0] = "https://changed.example"
	c.CatalogItems = append(c.CatalogItems, "Valorant")
	*c.FoundedYear = 1990
	c.Metadata.Sources[0] = "steam"
	c.Metadata.Provenance[FieldName] = "steam"
	c.Metadata.Extra["twitter"] = "@x"
	c.MergeHistory[0].SourceID = "steam"

	assert.Equal(t, "https://riotgames.com", orig.Websites[0])
	assert.Len(t, orig.CatalogItems, 1)
	assert.Equal(t, 2006, *orig.FoundedYear)
	assert.Equal(t, "igdb", orig.Metadata.Sources[0])
	assert.Equal(t, "igdb", orig.Metadata.Provenance[FieldName])
	assert.Equal(t, "@riotgames", orig.Metadata.Extra["twitter"])
	assert.Equal(t, "igdb", orig.MergeHistory[0].SourceID)
}

func TestCandidateEntity_Accessors(t *testing.T) {
	t.Parallel()

	var e CandidateEntity
	_, ok := e.Year()
	assert.False(t, ok)
	assert.Empty(t, e.PrimaryWebsite())
	assert.Empty(t, e.Metadata.PrimarySource())

	y := 2011
	e.FoundedYear = &y
	e.Websites = []string{"https://a.com", "https://b.com"}
	e.Metadata.Sources = []string{"steam", "igdb"}
	got, ok := e.Year()
	assert.True(t, ok)
	assert.Equal(t, 2011, got)
	assert.Equal(t, "https://a.com", e.PrimaryWebsite())
	assert.Equal(t, "steam", e.Metadata.PrimarySource())
	assert.True(t, e.Metadata.HasSource("igdb"))
	assert.False(t, e.Metadata.HasSource("github"))
}

func TestJobStatus_Terminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status JobStatus
		want   bool
	}{
		{JobPending, false},
		{JobRunning, false},
		{JobCompleted, true},
		{JobFailed, true},
		{JobCancelled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.status.Terminal())
		})
	}
}

func TestJobType_Valid(t *testing.T) {
	t.Parallel()

	assert.True(t, JobFullSync.Valid())
	assert.True(t, JobIncremental.Valid())
	assert.True(t, JobSingleEntity.Valid())
	assert.False(t, JobType("nightly").Valid())
}

func TestIngestionJob_Clone(t *testing.T) {
	t.Parallel()

	total := 10
	now := time.Now()
	j := IngestionJob{
		ID:         "job-1",
		TotalItems: &total,
		StartedAt:  &now,
		Errors:     []IngestionError{{Message: "bad", Severity: SeverityWarning}},
	}
	c := j.Clone()
	*c.TotalItems = 3
	c.Errors[0].Message = "changed"

	assert.Equal(t, 10, *j.TotalItems)
	assert.Equal(t, "bad", j.Errors[0].Message)
	assert.Equal(t, 1, j.CountBySeverity(SeverityWarning))
	assert.Equal(t, 0, j.CountBySeverity(SeverityCritical))
}

func TestParseReviewDecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want ReviewStatus
		ok   bool
	}{
		{"approve", ReviewApproved, true},
		{"Approved", ReviewApproved, true},
		{" reject ", ReviewRejected, true},
		{"rejected", ReviewRejected, true},
		{"pending", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseReviewDecision(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
