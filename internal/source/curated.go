package source

import (
	"bytes"
	"context"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/studio-catalog/internal/fetcher"
	"github.com/sells-group/studio-catalog/internal/model"
)

// Curated reads a hand-maintained YAML list of studios, either a
// top-level sequence or a mapping with a "studios" key.
type Curated struct {
	cfg   Config
	fetch fetcher.Fetcher
}

// NewCurated creates a curated-list source.
func NewCurated(cfg Config, f fetcher.Fetcher) (*Curated, error) {
	if cfg.URL == "" {
		return nil, eris.Errorf("source %s: curated list needs a path", cfg.ID)
	}
	return &Curated{cfg: cfg, fetch: f}, nil
}

func (s *Curated) Info() model.SourceInfo { return s.cfg.info() }

func (s *Curated) TestConnection(ctx context.Context) error {
	return s.fetch.Probe(ctx, s.cfg.URL)
}

func (s *Curated) FetchData(ctx context.Context, job model.IngestionJob) ([]model.RawEntity, error) {
	body, err := s.fetch.Download(ctx, s.cfg.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: open", s.cfg.ID)
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: read", s.cfg.ID)
	}
	entries, err := decodeCurated(data)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s", s.cfg.ID)
	}

	out := make([]model.RawEntity, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.cfg.toRaw(model.Attributes(e)))
	}
	return Select(job, out), nil
}

func decodeCurated(data []byte) ([]map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, eris.Wrap(err, "yaml: parse")
	}
	node := &root
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind == yaml.MappingNode {
		var wrapped struct {
			Studios []map[string]any `yaml:"studios"`
		}
		if err := node.Decode(&wrapped); err != nil {
			return nil, eris.Wrap(err, "yaml: decode studios")
		}
		return wrapped.Studios, nil
	}

	var list []map[string]any
	if err := node.Decode(&list); err != nil {
		return nil, eris.Wrap(err, "yaml: decode list")
	}
	return list, nil
}
