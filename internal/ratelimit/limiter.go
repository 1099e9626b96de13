// Package ratelimit enforces per-source request budgets over a sliding window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Limit allows Requests calls within any rolling Window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Unlimited reports whether the limit lets every call through.
func (l Limit) Unlimited() bool {
	return l.Requests <= 0 || l.Window <= 0
}

// Limiter tracks issued requests per source. One Limiter is shared by every
// job so concurrent jobs against the same source draw from one budget.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// slidingWindow holds the timestamps of requests still inside the window,
// oldest first.
type slidingWindow struct {
	limit      Limit
	timestamps []time.Time
}

// New creates a limiter configured with the given per-source limits.
func New(limits map[string]Limit) *Limiter {
	l := &Limiter{
		windows: make(map[string]*slidingWindow),
		nowFunc: time.Now,
	}
	for id, lim := range limits {
		l.Configure(id, lim)
	}
	return l
}

// Configure sets or replaces the limit for a source. Existing history is
// kept so reconfiguring never grants a fresh burst.
func (l *Limiter) Configure(sourceID string, lim Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[sourceID]; ok {
		w.limit = lim
		return
	}
	l.windows[sourceID] = &slidingWindow{limit: lim}
}

// Limit returns the configured limit for a source.
func (l *Limiter) Limit(sourceID string) (Limit, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[sourceID]
	if !ok {
		return Limit{}, false
	}
	return w.limit, true
}

// Wait blocks until sourceID may issue another request, then records it.
// Sources without a limit return immediately.
func (l *Limiter) Wait(ctx context.Context, sourceID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "ratelimit: wait %s", sourceID)
		}

		delay, ok := l.reserve(sourceID)
		if ok {
			return nil
		}

		zap.L().Debug("ratelimit: window full, sleeping",
			zap.String("source", sourceID),
			zap.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return eris.Wrapf(ctx.Err(), "ratelimit: wait %s", sourceID)
		case <-timer.C:
		}
	}
}

// Count returns the number of requests currently inside the source's window.
func (l *Limiter) Count(sourceID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[sourceID]
	if !ok {
		return 0
	}
	w.cleanup(l.nowFunc())
	return len(w.timestamps)
}

// Reset forgets the request history of a source.
func (l *Limiter) Reset(sourceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[sourceID]; ok {
		w.timestamps = nil
	}
}

// reserve records a request if the window has room. Otherwise it returns
// how long until the oldest request leaves the window.
func (l *Limiter) reserve(sourceID string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[sourceID]
	if !ok || w.limit.Unlimited() {
		return 0, true
	}

	now := l.nowFunc()
	w.cleanup(now)
	if len(w.timestamps) < w.limit.Requests {
		w.timestamps = append(w.timestamps, now)
		return 0, true
	}
	return w.timestamps[0].Add(w.limit.Window).Sub(now), false
}

// cleanup drops timestamps at or before now-window.
func (w *slidingWindow) cleanup(now time.Time) {
	cutoff := now.Add(-w.limit.Window)
	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i].After(cutoff) {
			break
		}
	}
	w.timestamps = w.timestamps[i:]
}
