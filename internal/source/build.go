package source

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/studio-catalog/internal/fetcher"
	"github.com/sells-group/studio-catalog/internal/ingest"
	"github.com/sells-group/studio-catalog/pkg/notion"
)

// Deps are the shared clients adapters are built on.
type Deps struct {
	// Fetch serves sources without custom headers.
	Fetch *fetcher.Mux
	// HTTP is the template for sources that send their own headers.
	HTTP fetcher.HTTPOptions
	// Notion creates a client for an integration token.
	Notion func(token string) notion.Client
}

// Build creates the adapter cfg.Kind names.
func Build(cfg Config, deps Deps) (ingest.DataSource, error) {
	if cfg.ID == "" {
		return nil, eris.New("source: missing id")
	}

	mux := deps.Fetch
	if mux == nil || len(cfg.Headers) > 0 {
		opts := deps.HTTP
		opts.Headers = cfg.Headers
		mux = fetcher.NewMux(fetcher.NewHTTPFetcher(opts), nil)
	}

	var (
		src ingest.DataSource
		err error
	)
	switch cfg.Kind {
	case KindFeed:
		src, err = NewFeed(cfg, mux)
	case KindSheet:
		src, err = NewSheet(cfg, mux)
	case KindCurated:
		src, err = NewCurated(cfg, mux)
	case KindNotion:
		if cfg.NotionToken == "" {
			return nil, eris.Errorf("source %s: notion source needs a token", cfg.ID)
		}
		newClient := deps.Notion
		if newClient == nil {
			newClient = func(token string) notion.Client { return notion.NewClient(token) }
		}
		src, err = NewNotionDB(cfg, newClient(cfg.NotionToken))
	default:
		return nil, eris.Errorf("source %s: unknown kind %q", cfg.ID, cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}
