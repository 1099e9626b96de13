package source

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/pkg/notion"
)

// NotionDB reads studios from a curated Notion database. Page properties
// become attributes keyed by their lower-cased names; the page id is the
// source entity id unless an id property is set.
type NotionDB struct {
	cfg    Config
	client notion.Client
}

// NewNotionDB creates a Notion database source.
func NewNotionDB(cfg Config, client notion.Client) (*NotionDB, error) {
	if cfg.NotionDatabase == "" {
		return nil, eris.Errorf("source %s: notion source needs a database id", cfg.ID)
	}
	if client == nil {
		return nil, eris.Errorf("source %s: notion source needs a client", cfg.ID)
	}
	return &NotionDB{cfg: cfg, client: client}, nil
}

func (s *NotionDB) Info() model.SourceInfo { return s.cfg.info() }

func (s *NotionDB) TestConnection(ctx context.Context) error {
	_, err := s.client.GetDatabase(ctx, s.cfg.NotionDatabase)
	return err
}

func (s *NotionDB) FetchData(ctx context.Context, job model.IngestionJob) ([]model.RawEntity, error) {
	var pages []notionapi.Page
	var err error
	if cutoff, ok := since(job); ok {
		pages, err = notion.QueryEditedSince(ctx, s.client, s.cfg.NotionDatabase, cutoff)
	} else {
		pages, err = notion.QueryAll(ctx, s.client, s.cfg.NotionDatabase, nil)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "source %s", s.cfg.ID)
	}

	out := make([]model.RawEntity, 0, len(pages))
	for _, p := range pages {
		out = append(out, s.pageToRaw(p))
	}
	return Select(job, out), nil
}

func (s *NotionDB) pageToRaw(p notionapi.Page) model.RawEntity {
	attrs := model.Attributes(notion.Values(p))
	if _, ok := attrs[s.cfg.idField()]; !ok {
		attrs[s.cfg.idField()] = string(p.ID)
	}
	if _, ok := attrs[s.cfg.updatedField()]; !ok && !p.LastEditedTime.IsZero() {
		attrs[s.cfg.updatedField()] = p.LastEditedTime.UTC()
	}
	return s.cfg.toRaw(attrs)
}
