// Package source adapts exported provider data to the ingest.DataSource
// contract: JSON/XML/CSV feeds, spreadsheet exports, a curated YAML list
// and a curated Notion database.
package source

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/normalize"
)

// Kind selects the adapter for a configured source.
type Kind string

const (
	KindFeed    Kind = "feed"
	KindSheet   Kind = "sheet"
	KindCurated Kind = "curated"
	KindNotion  Kind = "notion"
)

// Config describes one configured source.
type Config struct {
	ID             string
	Name           string
	Description    string
	Kind           Kind
	DataQuality    float64
	EstimatedCount int

	// URL is the http(s), ftp or file location of a feed, sheet or
	// curated list.
	URL string
	// Format overrides the format implied by the URL extension: json, xml,
	// csv or xlsx.
	Format string
	// RecordsKey is the JSON envelope key holding the record array, or the
	// XML element name of one record (default "studio").
	RecordsKey string
	// Headers are sent with every HTTP request, e.g. API tokens.
	Headers map[string]string

	Sheet string

	NotionDatabase string
	NotionToken    string

	// IDField and UpdatedField name the attributes carrying the source's
	// own record id and modification time.
	IDField      string
	UpdatedField string
}

func (c Config) info() model.SourceInfo {
	name := c.Name
	if name == "" {
		name = c.ID
	}
	return model.SourceInfo{
		ID:             c.ID,
		Name:           name,
		Description:    c.Description,
		EstimatedCount: c.EstimatedCount,
		DataQuality:    c.DataQuality,
	}
}

func (c Config) format() string {
	if c.Format != "" {
		return strings.ToLower(c.Format)
	}
	loc := c.URL
	if i := strings.IndexAny(loc, "?#"); i >= 0 {
		loc = loc[:i]
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(loc)), ".")
}

func (c Config) idField() string {
	if c.IDField != "" {
		return c.IDField
	}
	return "id"
}

func (c Config) updatedField() string {
	if c.UpdatedField != "" {
		return c.UpdatedField
	}
	return "updated_at"
}

// toRaw builds a RawEntity from a decoded record. The id and update
// fields are lifted out of the attributes. Records without an id are keyed
// by the identity key of their name so reruns line up.
func (c Config) toRaw(attrs model.Attributes) model.RawEntity {
	id := attrs.String(c.idField())
	updated, _ := attrs.Time(c.updatedField())
	delete(attrs, c.idField())
	delete(attrs, c.updatedField())

	if id == "" {
		id = normalize.IdentityKey(attrs.String("name"))
	}
	return model.RawEntity{
		SourceID:       c.ID,
		SourceEntityID: id,
		LastUpdated:    updated,
		Attributes:     attrs,
	}
}

// Select applies a job's scope to fetched records: incremental keeps
// records updated at or after Since (undated records are kept),
// single_entity keeps the matching source entity id, and Limit caps the
// result.
func Select(job model.IngestionJob, records []model.RawEntity) []model.RawEntity {
	out := make([]model.RawEntity, 0, len(records))
	for _, r := range records {
		switch job.Type {
		case model.JobIncremental:
			if since := job.Options.Since; since != nil && !r.LastUpdated.IsZero() && r.LastUpdated.Before(*since) {
				continue
			}
		case model.JobSingleEntity:
			if r.SourceEntityID != job.Options.EntityID {
				continue
			}
		}
		out = append(out, r)
		if job.Options.Limit > 0 && len(out) == job.Options.Limit {
			break
		}
	}
	return out
}

// since returns the incremental cutoff of job, if any.
func since(job model.IngestionJob) (time.Time, bool) {
	if job.Type != model.JobIncremental || job.Options.Since == nil {
		return time.Time{}, false
	}
	return *job.Options.Since, true
}
