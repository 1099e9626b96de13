package resilience

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Guard holds one breaker per source and a shared retry policy.
type Guard struct {
	retry   RetryConfig
	breaker BreakerConfig

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewGuard creates a guard.
func NewGuard(retry RetryConfig, breaker BreakerConfig) *Guard {
	return &Guard{retry: retry, breaker: breaker, breakers: make(map[string]*Breaker)}
}

// Breaker returns the breaker for sourceID, creating it on first use.
func (g *Guard) Breaker(sourceID string) *Breaker {
	g.mu.RLock()
	b, ok := g.breakers[sourceID]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok = g.breakers[sourceID]; ok {
		return b
	}
	cfg := g.breaker
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = func(from, to State) {
			zap.L().Warn("resilience: source breaker changed state",
				zap.String("source", sourceID),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}
	}
	b = NewBreaker(cfg)
	g.breakers[sourceID] = b
	return b
}

// States returns a snapshot of every breaker's state.
func (g *Guard) States() map[string]State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]State, len(g.breakers))
	for id, b := range g.breakers {
		out[id] = b.State()
	}
	return out
}

// Call runs fn for sourceID with retries, each attempt passing through the
// source's breaker. An open breaker ends the call without retrying.
func Call[T any](ctx context.Context, g *Guard, sourceID, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	b := g.Breaker(sourceID)
	cfg := g.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = RetryLogger(sourceID, operation)
	}
	return DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
		return ExecuteVal(ctx, b, fn)
	})
}
