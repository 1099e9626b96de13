package source

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/studio-catalog/internal/fetcher"
	"github.com/sells-group/studio-catalog/internal/model"
)

// Feed reads a JSON, XML or CSV dump from an http(s), ftp or file
// location.
type Feed struct {
	cfg   Config
	fetch fetcher.Fetcher
}

// NewFeed creates a feed source.
func NewFeed(cfg Config, f fetcher.Fetcher) (*Feed, error) {
	if cfg.URL == "" {
		return nil, eris.Errorf("source %s: feed needs a url", cfg.ID)
	}
	switch cfg.format() {
	case "json", "xml", "csv":
	default:
		return nil, eris.Errorf("source %s: unsupported feed format %q", cfg.ID, cfg.format())
	}
	return &Feed{cfg: cfg, fetch: f}, nil
}

func (s *Feed) Info() model.SourceInfo { return s.cfg.info() }

func (s *Feed) TestConnection(ctx context.Context) error {
	return s.fetch.Probe(ctx, s.cfg.URL)
}

func (s *Feed) FetchData(ctx context.Context, job model.IngestionJob) ([]model.RawEntity, error) {
	body, err := s.fetch.Download(ctx, s.cfg.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: download", s.cfg.ID)
	}
	defer body.Close() //nolint:errcheck

	var records []model.Attributes
	switch s.cfg.format() {
	case "json":
		maps, err := fetcher.DecodeJSONRecords[map[string]any](ctx, body, s.cfg.RecordsKey)
		if err != nil {
			return nil, eris.Wrapf(err, "source %s: decode json", s.cfg.ID)
		}
		for _, m := range maps {
			records = append(records, model.Attributes(m))
		}
	case "xml":
		elem := s.cfg.RecordsKey
		if elem == "" {
			elem = "studio"
		}
		elems, err := fetcher.CollectXML[fetcher.Element](ctx, body, elem)
		if err != nil {
			return nil, eris.Wrapf(err, "source %s: decode xml", s.cfg.ID)
		}
		for _, e := range elems {
			records = append(records, elementAttributes(e.Children))
		}
	case "csv":
		table, err := fetcher.ReadCSV(ctx, body, fetcher.CSVOptions{TrimSpace: true, LazyQuotes: true})
		if err != nil {
			return nil, eris.Wrapf(err, "source %s: decode csv", s.cfg.ID)
		}
		records = tableAttributes(table)
	}

	out := make([]model.RawEntity, 0, len(records))
	for _, attrs := range records {
		out = append(out, s.cfg.toRaw(attrs))
	}
	selected := Select(job, out)
	zap.L().Debug("source: feed fetched",
		zap.String("source", s.cfg.ID),
		zap.Int("records", len(out)),
		zap.Int("selected", len(selected)),
	)
	return selected, nil
}

func tableAttributes(t fetcher.Table) []model.Attributes {
	recs := t.Records()
	out := make([]model.Attributes, 0, len(recs))
	for _, rec := range recs {
		attrs := make(model.Attributes, len(rec))
		for k, v := range rec {
			attrs[k] = v
		}
		out = append(out, attrs)
	}
	return out
}

// elementAttributes maps XML children onto attributes. Repeated children
// become lists; a wrapper whose children are its singular form
// (<games><game>) is a list even with one child.
func elementAttributes(children []fetcher.Element) model.Attributes {
	attrs := make(model.Attributes, len(children))
	for _, c := range children {
		key := fetcher.HeaderKey(c.XMLName.Local)
		v, ok := elementValue(c)
		if key == "" || !ok {
			continue
		}
		switch prev := attrs[key].(type) {
		case nil:
			attrs[key] = v
		case []any:
			attrs[key] = append(prev, v)
		default:
			attrs[key] = []any{prev, v}
		}
	}
	return attrs
}

func elementValue(e fetcher.Element) (any, bool) {
	if len(e.Children) == 0 {
		text := strings.TrimSpace(e.Text)
		return text, text != ""
	}
	if !isListElement(e) {
		return map[string]any(elementAttributes(e.Children)), true
	}
	list := make([]any, 0, len(e.Children))
	for _, c := range e.Children {
		if v, ok := elementValue(c); ok {
			list = append(list, v)
		}
	}
	return list, len(list) > 0
}

func isListElement(e fetcher.Element) bool {
	first := e.Children[0].XMLName.Local
	for _, c := range e.Children[1:] {
		if c.XMLName.Local != first {
			return false
		}
	}
	if len(e.Children) > 1 {
		return true
	}
	parent := e.XMLName.Local
	return parent == first+"s" || (strings.HasSuffix(first, "y") && parent == strings.TrimSuffix(first, "y")+"ies")
}
