package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_ThirdRequestWaitsForWindow(t *testing.T) {
	l := New(map[string]Limit{"steam": {Requests: 2, Window: time.Second}})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "steam"))
	require.NoError(t, l.Wait(ctx, "steam"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	require.NoError(t, l.Wait(ctx, "steam"))
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestLimiter_UnconfiguredSourcePassesThrough(t *testing.T) {
	t.Parallel()

	l := New(nil)
	start := time.Now()
	for range 100 {
		require.NoError(t, l.Wait(context.Background(), "anything"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 0, l.Count("anything"))
}

func TestLimiter_ZeroRequestsIsUnlimited(t *testing.T) {
	t.Parallel()

	l := New(map[string]Limit{"manual": {Requests: 0, Window: time.Minute}})
	for range 10 {
		require.NoError(t, l.Wait(context.Background(), "manual"))
	}
}

func TestLimiter_SourcesAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(map[string]Limit{
		"igdb":   {Requests: 1, Window: time.Hour},
		"github": {Requests: 1, Window: time.Hour},
	})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "igdb"))
	require.NoError(t, l.Wait(ctx, "github"))
	assert.Equal(t, 1, l.Count("igdb"))
	assert.Equal(t, 1, l.Count("github"))
}

func TestLimiter_ContextCancelled(t *testing.T) {
	t.Parallel()

	l := New(map[string]Limit{"igdb": {Requests: 1, Window: time.Hour}})
	require.NoError(t, l.Wait(context.Background(), "igdb"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "igdb")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Count("igdb"))
}

func TestLimiter_ConcurrentWaitersShareBudget(t *testing.T) {
	t.Parallel()

	window := 200 * time.Millisecond
	l := New(map[string]Limit{"wikidata": {Requests: 3, Window: window}})

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	start := time.Now()
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Wait(context.Background(), "wikidata"))
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	late := 0
	for _, ts := range times {
		if ts.Sub(start) >= window {
			late++
		}
	}
	assert.Equal(t, 3, late)
}

func TestLimiter_CleanupUsesInjectedClock(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(map[string]Limit{"steam": {Requests: 2, Window: time.Second}})
	l.nowFunc = func() time.Time { return now }

	_, ok := l.reserve("steam")
	require.True(t, ok)
	_, ok = l.reserve("steam")
	require.True(t, ok)

	delay, ok := l.reserve("steam")
	assert.False(t, ok)
	assert.Equal(t, time.Second, delay)

	now = now.Add(time.Second)
	assert.Equal(t, 0, l.Count("steam"))
	_, ok = l.reserve("steam")
	assert.True(t, ok)
}

func TestLimiter_ConfigureKeepsHistory(t *testing.T) {
	t.Parallel()

	l := New(map[string]Limit{"steam": {Requests: 5, Window: time.Hour}})
	require.NoError(t, l.Wait(context.Background(), "steam"))
	l.Configure("steam", Limit{Requests: 1, Window: time.Hour})

	lim, ok := l.Limit("steam")
	require.True(t, ok)
	assert.Equal(t, 1, lim.Requests)
	assert.Equal(t, 1, l.Count("steam"))

	_, ok = l.reserve("steam")
	assert.False(t, ok)

	l.Reset("steam")
	_, ok = l.reserve("steam")
	assert.True(t, ok)
}
