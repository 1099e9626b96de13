package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/studio-catalog/internal/ratelimit"
	"github.com/sells-group/studio-catalog/internal/resilience"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := newTestRegistry()
	lim := ratelimit.Limit{Requests: 4, Window: time.Second}
	require.NoError(t, r.Register(newFakeSource("steam"), SourceSettings{Priority: 50, Enabled: true, RateLimit: lim}))
	require.NoError(t, r.Register(newFakeSource("manual"), SourceSettings{Priority: 100, Enabled: true, DataQuality: 0.95}))
	require.NoError(t, r.Register(newFakeSource("github"), SourceSettings{Priority: 40}))

	err := r.Register(newFakeSource("steam"), SourceSettings{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	src, err := r.Source("steam")
	require.NoError(t, err)
	assert.Equal(t, "steam", src.Info().ID)

	_, err = r.Source("gog")
	assert.ErrorIs(t, err, ErrSourceNotFound)

	settings, ok := r.Settings("steam")
	require.True(t, ok)
	assert.Equal(t, 50, settings.Priority)

	got, ok := r.Limiter().Limit("steam")
	require.True(t, ok)
	assert.Equal(t, lim, got)

	infos := r.Sources()
	require.Len(t, infos, 3)
	assert.Equal(t, "steam", infos[0].ID)
	assert.InDelta(t, 0.7, infos[0].DataQuality, 1e-9)
	assert.InDelta(t, 0.95, infos[1].DataQuality, 1e-9)
	assert.False(t, infos[2].Enabled)

	assert.Equal(t, []string{"manual", "steam"}, r.Enabled())
	assert.Equal(t, map[string]int{"steam": 50, "manual": 100, "github": 40}, r.Priorities())
	assert.Len(t, r.QualityOptions(), 3)
}

func TestRegistry_RejectsAnonymousSource(t *testing.T) {
	r := newTestRegistry()
	assert.Error(t, r.Register(nil, SourceSettings{}))
	assert.Error(t, r.Register(newFakeSource(""), SourceSettings{}))
}

func TestRegistry_TestConnectionTripsBreaker(t *testing.T) {
	guard := resilience.NewGuard(
		resilience.RetryConfig{MaxAttempts: 1},
		resilience.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute, HalfOpenProbes: 1},
	)
	r := NewRegistry(nil, guard)
	src := newFakeSource("wikidata")
	src.connErr = eris.New("authentication failed")
	require.NoError(t, r.Register(src, SourceSettings{Enabled: true}))

	ctx := context.Background()
	assert.Error(t, r.TestConnection(ctx, "wikidata"))
	assert.Error(t, r.TestConnection(ctx, "wikidata"))

	err := r.TestConnection(ctx, "wikidata")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, resilience.StateOpen, guard.States()["wikidata"])

	assert.ErrorIs(t, r.TestConnection(ctx, "gog"), ErrSourceNotFound)
}
