package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	t.Parallel()

	var calls int
	var retried []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("busy"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	t.Parallel()

	var calls int
	err := Do(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		return errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	var calls int
	v, err := DoVal(context.Background(), fastRetry(3), func(context.Context) (int, error) {
		calls++
		return 7, NewTransientError(errors.New("down"), 502)
	})
	require.Error(t, err)
	assert.Zero(t, v)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelStopsBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	var calls atomic.Int32

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func(context.Context) error {
			calls.Add(1)
			return NewTransientError(errors.New("busy"), 429)
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(NewTransientError(errors.New("x"), 0)))
	assert.True(t, IsTransient(StatusError("http://feed", 503)))
	assert.False(t, IsTransient(StatusError("http://feed", 404)))
	assert.True(t, IsTransient(errors.New("read tcp: connection reset by peer")))
	assert.True(t, IsTransient(errors.New("425 Can't open data connection")))
	assert.False(t, IsTransient(errors.New("syntax error")))
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 503, HTTPStatus(StatusError("http://feed", 503)))
	assert.Equal(t, 405, HTTPStatus(StatusError("http://feed", 405)))
	assert.Equal(t, 0, HTTPStatus(errors.New("dial tcp: refused")))
	assert.Contains(t, StatusError("http://feed", 404).Error(), "unexpected status 404 from http://feed")
}

func TestBreaker_OpensAndRecovers(t *testing.T) {
	t.Parallel()

	var transitions []string
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.nowFunc = func() time.Time { return now }

	fail := func(context.Context) error { return errors.New("boom") }
	ok := func(context.Context) error { return nil }

	require.Error(t, b.Execute(context.Background(), fail))
	assert.Equal(t, StateClosed, b.State())
	require.Error(t, b.Execute(context.Background(), fail))
	assert.Equal(t, StateOpen, b.State())

	err := b.Execute(context.Background(), func(context.Context) error {
		t.Fatal("called through open breaker")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)

	now = now.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Execute(context.Background(), ok))
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Failures())

	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.nowFunc = func() time.Time { return now }

	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("x") })
	now = now.Add(time.Second)
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("y") })
	assert.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}

func TestCall_SourcesHaveIndependentBreakers(t *testing.T) {
	t.Parallel()

	g := NewGuard(fastRetry(1), BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	_, err := Call(context.Background(), g, "steam", "fetch", func(context.Context) (int, error) {
		return 0, errors.New("steam down")
	})
	require.Error(t, err)

	_, err = Call(context.Background(), g, "steam", "fetch", func(context.Context) (int, error) {
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)

	v, err := Call(context.Background(), g, "igdb", "fetch", func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	states := g.States()
	assert.Equal(t, StateOpen, states["steam"])
	assert.Equal(t, StateClosed, states["igdb"])
	assert.Same(t, g.Breaker("igdb"), g.Breaker("igdb"))
}

func TestCall_RetriesThroughBreaker(t *testing.T) {
	t.Parallel()

	g := NewGuard(fastRetry(3), DefaultBreakerConfig())
	var calls int
	v, err := Call(context.Background(), g, "wikidata", "test_connection", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("timeout"), 504)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
	assert.Zero(t, g.Breaker("wikidata").Failures())
}

func TestConfigConstructors(t *testing.T) {
	t.Parallel()

	r := NewRetryConfig(0, 100, 0)
	assert.Equal(t, 3, r.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, r.InitialBackoff)
	assert.Equal(t, 30*time.Second, r.MaxBackoff)

	b := NewBreakerConfig(7, 0)
	assert.Equal(t, 7, b.FailureThreshold)
	assert.Equal(t, 30*time.Second, b.ResetTimeout)
}
