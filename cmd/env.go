package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/studio-catalog/internal/config"
	"github.com/sells-group/studio-catalog/internal/fetcher"
	"github.com/sells-group/studio-catalog/internal/ingest"
	"github.com/sells-group/studio-catalog/internal/merge"
	"github.com/sells-group/studio-catalog/internal/ratelimit"
	"github.com/sells-group/studio-catalog/internal/resilience"
	"github.com/sells-group/studio-catalog/internal/similarity"
	"github.com/sells-group/studio-catalog/internal/source"
	"github.com/sells-group/studio-catalog/internal/store"
	"github.com/sells-group/studio-catalog/pkg/notion"
)

// catalogEnv holds the store, source registry and scheduler shared by the
// ingest, review and serve commands.
type catalogEnv struct {
	Store     store.Store
	Registry  *ingest.Registry
	Scheduler *ingest.Scheduler
}

// Close stops running jobs and releases the store.
func (e *catalogEnv) Close(ctx context.Context) {
	if e.Scheduler != nil {
		if err := e.Scheduler.Shutdown(ctx); err != nil {
			zap.L().Warn("scheduler shutdown incomplete", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(c.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, &c.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv builds the full ingestion stack. Callers should defer env.Close.
func initEnv(ctx context.Context, c *config.Config) (*catalogEnv, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}

	reg, err := buildRegistry(c, sourceDeps(c))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	sched, err := buildScheduler(c, reg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &catalogEnv{Store: st, Registry: reg, Scheduler: sched}, nil
}

func sourceDeps(c *config.Config) source.Deps {
	httpOpts := fetcher.HTTPOptions{
		UserAgent: c.Fetch.UserAgent,
		Timeout:   time.Duration(c.Fetch.TimeoutSecs) * time.Second,
		HostRate:  rate.Limit(c.Fetch.HostRate),
		Retry:     c.RetryPolicy(),
	}
	return source.Deps{
		Fetch: fetcher.NewMux(fetcher.NewHTTPFetcher(httpOpts), fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: httpOpts.Timeout})),
		HTTP:  httpOpts,
		Notion: func(token string) notion.Client {
			return notion.NewClient(token)
		},
	}
}

// buildRegistry registers every configured source. Sources without a
// location are skipped with a warning.
func buildRegistry(c *config.Config, deps source.Deps) (*ingest.Registry, error) {
	limits := make(map[string]ratelimit.Limit, len(c.Sources))
	for id, sc := range c.Sources {
		limits[id] = sc.Limit()
	}
	reg := ingest.NewRegistry(
		ratelimit.New(limits),
		resilience.NewGuard(c.RetryPolicy(), c.BreakerPolicy()),
	)

	for _, id := range c.SourceIDs() {
		sc := c.Sources[id]
		if !sc.Configured() {
			zap.L().Debug("source has no location, skipping", zap.String("source", id))
			continue
		}
		src, err := source.Build(sourceConfig(id, sc), deps)
		if err != nil {
			return nil, eris.Wrapf(err, "build source %s", id)
		}
		if err := reg.Register(src, ingest.SourceSettings{
			Priority:    sc.Priority,
			RateLimit:   sc.Limit(),
			Enabled:     sc.Enabled,
			DataQuality: sc.DataQuality,
		}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func sourceConfig(id string, sc config.SourceConfig) source.Config {
	return source.Config{
		ID:             id,
		Name:           sc.Name,
		Description:    sc.Description,
		Kind:           source.Kind(sc.Kind),
		DataQuality:    sc.DataQuality,
		EstimatedCount: sc.EstimatedCount,
		URL:            sc.URL,
		Format:         sc.Format,
		RecordsKey:     sc.RecordsKey,
		Headers:        sc.Headers,
		Sheet:          sc.Sheet,
		NotionDatabase: sc.NotionDatabase,
		NotionToken:    sc.NotionToken,
		IDField:        sc.IDField,
		UpdatedField:   sc.UpdatedField,
	}
}

// buildScheduler wires the configured merge policy, bands and scorer
// weights into a scheduler over repo.
func buildScheduler(c *config.Config, reg *ingest.Registry, st store.Store) (*ingest.Scheduler, error) {
	founded, err := c.FoundedYearPolicy()
	if err != nil {
		return nil, err
	}
	engine := merge.NewEngine(merge.NewPolicy(reg.Priorities(), founded), c.Bands())
	scorer := similarity.NewScorer(c.Scorer, engine.Policy())

	return ingest.NewScheduler(reg, st,
		ingest.WithEngine(engine),
		ingest.WithScorer(scorer),
		ingest.WithJobStore(st),
		ingest.WithReviewQueue(st),
		ingest.WithRepositoryRetry(c.RetryPolicy()),
	), nil
}

// shutdownTimeout bounds how long Close waits for running jobs.
func shutdownTimeout(c *config.Config) time.Duration {
	if c.Ingest.ShutdownTimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Ingest.ShutdownTimeoutSecs) * time.Second
}
