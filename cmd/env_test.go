package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/studio-catalog/internal/config"
	"github.com/sells-group/studio-catalog/internal/ingest"
	"github.com/sells-group/studio-catalog/internal/merge"
	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/similarity"
	"github.com/sells-group/studio-catalog/internal/store"
)

const curatedStudios = `
studios:
  - id: supergiant
    name: Supergiant Games
    location: San Francisco, CA
    founded: 2009
    websites: [https://supergiantgames.com]
  - id: remedy
    name: Remedy Entertainment
    location: Espoo, Finland
    founded: 1995
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	curated := filepath.Join(dir, "curated.yaml")
	require.NoError(t, os.WriteFile(curated, []byte(curatedStudios), 0o644))

	return &config.Config{
		Store:  config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "catalog.db")},
		Ingest: config.IngestConfig{MaxConcurrentJobs: 2, ShutdownTimeoutSecs: 5},
		Scorer: similarity.DefaultConfig(),
		Merge:  config.MergeConfig{FoundedYearPolicy: string(merge.FoundedPreferCandidate)},
		Retry:  config.RetryConfig{MaxAttempts: 2, InitialBackoffMs: 1, MaxBackoffMs: 2},
		Sources: map[string]config.SourceConfig{
			"manual": {Name: "Manual entries", Kind: "curated", Priority: 100, Enabled: true, DataQuality: 0.95, URL: curated},
			"igdb":   {Name: "IGDB", Kind: "feed", Priority: 80, Enabled: true},
			"backup": {Name: "Backup list", Kind: "curated", Priority: 10, URL: curated},
		},
	}
}

func TestBuildRegistry(t *testing.T) {
	c := testConfig(t)
	reg, err := buildRegistry(c, sourceDeps(c))
	require.NoError(t, err)

	sources := reg.Sources()
	require.Len(t, sources, 2, "sources without a location are skipped")
	byID := make(map[string]model.SourceInfo)
	for _, s := range sources {
		byID[s.ID] = s
	}
	assert.Equal(t, 100, byID["manual"].Priority)
	assert.InDelta(t, 0.95, byID["manual"].DataQuality, 1e-9)
	assert.False(t, byID["backup"].Enabled)
	assert.Equal(t, []string{"manual"}, reg.Enabled())
	assert.NoError(t, reg.TestConnection(context.Background(), "manual"))
}

func TestBuildRegistry_BadSource(t *testing.T) {
	c := testConfig(t)
	c.Sources["broken"] = config.SourceConfig{Kind: "carrier-pigeon", URL: "file:///dev/null"}
	_, err := buildRegistry(c, sourceDeps(c))
	assert.ErrorContains(t, err, "broken")
}

func TestInitStore_Invalid(t *testing.T) {
	c := testConfig(t)
	c.Store.Driver = "mysql"
	_, err := initStore(context.Background(), c)
	assert.Error(t, err)
}

func TestRunJobs_IngestsAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)
	env, err := initEnv(ctx, c)
	require.NoError(t, err)
	defer env.Close(ctx)

	var out bytes.Buffer
	require.NoError(t, runJobs(ctx, env, []string{"manual"}, model.JobFullSync, model.JobOptions{}, 2, &out))
	assert.Contains(t, out.String(), "completed")

	studios, err := env.Store.ListEntities(ctx, store.EntityFilter{})
	require.NoError(t, err)
	assert.Len(t, studios, 2)

	out.Reset()
	require.NoError(t, runJobs(ctx, env, []string{"manual"}, model.JobFullSync, model.JobOptions{}, 2, &out))
	studios, err = env.Store.ListEntities(ctx, store.EntityFilter{})
	require.NoError(t, err)
	assert.Len(t, studios, 2, "a rerun must not duplicate studios")

	jobs, err := env.Store.ListJobs(ctx, store.JobFilter{SourceID: "manual"})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestRunJobs_Errors(t *testing.T) {
	ctx := context.Background()
	env, err := initEnv(ctx, testConfig(t))
	require.NoError(t, err)
	defer env.Close(ctx)

	var out bytes.Buffer
	err = runJobs(ctx, env, []string{"nope"}, model.JobFullSync, model.JobOptions{}, 1, &out)
	assert.ErrorIs(t, err, ingest.ErrSourceNotFound)

	err = runJobs(ctx, env, []string{"backup"}, model.JobFullSync, model.JobOptions{}, 1, &out)
	assert.ErrorIs(t, err, ingest.ErrSourceDisabled)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	env, err := initEnv(ctx, testConfig(t))
	require.NoError(t, err)
	defer env.Close(ctx)

	n, err := env.Scheduler.Seed(ctx, "manual")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	studios, err := env.Store.ListEntities(ctx, store.EntityFilter{Query: "remedy"})
	require.NoError(t, err)
	require.Len(t, studios, 1)
	assert.Equal(t, "Remedy Entertainment", studios[0].Name)
}
