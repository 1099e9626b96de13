package source

import (
	"context"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/studio-catalog/internal/fetcher"
	"github.com/sells-group/studio-catalog/internal/model"
)

// Sheet reads a spreadsheet export with a header row. XLSX workbooks are
// downloaded to a temp file first.
type Sheet struct {
	cfg Config
	mux *fetcher.Mux
}

// NewSheet creates a spreadsheet source.
func NewSheet(cfg Config, mux *fetcher.Mux) (*Sheet, error) {
	if cfg.URL == "" {
		return nil, eris.Errorf("source %s: sheet needs a url or path", cfg.ID)
	}
	switch cfg.format() {
	case "xlsx", "csv":
	default:
		return nil, eris.Errorf("source %s: unsupported sheet format %q", cfg.ID, cfg.format())
	}
	return &Sheet{cfg: cfg, mux: mux}, nil
}

func (s *Sheet) Info() model.SourceInfo { return s.cfg.info() }

func (s *Sheet) TestConnection(ctx context.Context) error {
	return s.mux.Probe(ctx, s.cfg.URL)
}

func (s *Sheet) FetchData(ctx context.Context, job model.IngestionJob) ([]model.RawEntity, error) {
	table, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	attrs := tableAttributes(table)
	out := make([]model.RawEntity, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, s.cfg.toRaw(a))
	}
	return Select(job, out), nil
}

func (s *Sheet) read(ctx context.Context) (fetcher.Table, error) {
	if s.cfg.format() == "csv" {
		body, err := s.mux.Download(ctx, s.cfg.URL)
		if err != nil {
			return fetcher.Table{}, eris.Wrapf(err, "source %s: download", s.cfg.ID)
		}
		defer body.Close() //nolint:errcheck
		table, err := fetcher.ReadCSV(ctx, body, fetcher.CSVOptions{TrimSpace: true, LazyQuotes: true})
		if err != nil {
			return fetcher.Table{}, eris.Wrapf(err, "source %s: read csv", s.cfg.ID)
		}
		return table, nil
	}

	path, cleanup, err := s.mux.Localize(ctx, s.cfg.URL, os.TempDir())
	if err != nil {
		return fetcher.Table{}, eris.Wrapf(err, "source %s: download", s.cfg.ID)
	}
	defer cleanup()

	table, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: s.cfg.Sheet})
	if err != nil {
		return fetcher.Table{}, eris.Wrapf(err, "source %s: read workbook", s.cfg.ID)
	}
	return table, nil
}
