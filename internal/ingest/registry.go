package ingest

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/normalize"
	"github.com/sells-group/studio-catalog/internal/ratelimit"
	"github.com/sells-group/studio-catalog/internal/resilience"
)

// SourceSettings is the per-source configuration applied at registration.
type SourceSettings struct {
	Priority  int
	RateLimit ratelimit.Limit
	Enabled   bool
	// DataQuality overrides the source's own estimate when positive.
	DataQuality float64
}

type registration struct {
	source   DataSource
	settings SourceSettings
}

// Registry holds the data sources known to one process together with the
// rate limiter and circuit breakers they share. Build one at startup and
// hand it to the scheduler.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]registration
	order   []string

	limiter *ratelimit.Limiter
	guard   *resilience.Guard
}

// NewRegistry creates an empty registry. Nil arguments fall back to an
// unconfigured limiter and a guard with default retry and breaker settings.
func NewRegistry(limiter *ratelimit.Limiter, guard *resilience.Guard) *Registry {
	if limiter == nil {
		limiter = ratelimit.New(nil)
	}
	if guard == nil {
		guard = resilience.NewGuard(resilience.DefaultRetryConfig(), resilience.DefaultBreakerConfig())
	}
	return &Registry{
		sources: make(map[string]registration),
		limiter: limiter,
		guard:   guard,
	}
}

// Register adds a source and configures its rate limit. Registering an ID
// twice is an error.
func (r *Registry) Register(src DataSource, settings SourceSettings) error {
	if src == nil {
		return eris.New("ingest: register nil source")
	}
	id := src.Info().ID
	if id == "" {
		return eris.New("ingest: source has no id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[id]; ok {
		return eris.Errorf("ingest: source %q already registered", id)
	}
	r.sources[id] = registration{source: src, settings: settings}
	r.order = append(r.order, id)
	r.limiter.Configure(id, settings.RateLimit)
	return nil
}

// Source returns the registered source for id.
func (r *Registry) Source(id string) (DataSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.sources[id]
	if !ok {
		return nil, eris.Wrapf(ErrSourceNotFound, "source %q", id)
	}
	return reg.source, nil
}

// Settings returns the settings a source was registered with.
func (r *Registry) Settings(id string) (SourceSettings, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.sources[id]
	return reg.settings, ok
}

// Sources describes every registered source in registration order.
func (r *Registry) Sources() []model.SourceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.SourceInfo, 0, len(r.order))
	for _, id := range r.order {
		reg := r.sources[id]
		info := reg.source.Info()
		info.Priority = reg.settings.Priority
		info.Enabled = reg.settings.Enabled
		if reg.settings.DataQuality > 0 {
			info.DataQuality = reg.settings.DataQuality
		}
		out = append(out, info)
	}
	return out
}

// Enabled returns the IDs of enabled sources, highest priority first.
func (r *Registry) Enabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, id := range r.order {
		if r.sources[id].settings.Enabled {
			ids = append(ids, id)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return r.sources[ids[i]].settings.Priority > r.sources[ids[j]].settings.Priority
	})
	return ids
}

// Priorities returns source priorities keyed by ID for the merge policy.
func (r *Registry) Priorities() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.sources))
	for id, reg := range r.sources {
		out[id] = reg.settings.Priority
	}
	return out
}

// QualityOptions returns normalize options seeding candidate confidence
// from each source's data quality.
func (r *Registry) QualityOptions() []normalize.Option {
	var opts []normalize.Option
	for _, info := range r.Sources() {
		if info.DataQuality > 0 {
			opts = append(opts, normalize.WithSourceQuality(info.ID, info.DataQuality))
		}
	}
	return opts
}

// Limiter returns the shared rate limiter.
func (r *Registry) Limiter() *ratelimit.Limiter {
	return r.limiter
}

// Guard returns the shared retry and circuit breaker guard.
func (r *Registry) Guard() *resilience.Guard {
	return r.guard
}

// TestConnection checks one source through its circuit breaker.
func (r *Registry) TestConnection(ctx context.Context, id string) error {
	src, err := r.Source(id)
	if err != nil {
		return err
	}
	_, err = resilience.Call(ctx, r.guard, id, "test_connection", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, src.TestConnection(ctx)
	})
	return err
}
