package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/normalize"
	"github.com/sells-group/studio-catalog/internal/resilience"
	"github.com/sells-group/studio-catalog/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeSource returns a fixed record list.
type fakeSource struct {
	info    model.SourceInfo
	records []model.RawEntity
	connErr error
	fetchFn func(job model.IngestionJob) ([]model.RawEntity, error)

	mu   sync.Mutex
	jobs []model.IngestionJob
}

func newFakeSource(id string, records ...model.RawEntity) *fakeSource {
	return &fakeSource{
		info:    model.SourceInfo{ID: id, Name: id, DataQuality: 0.7, EstimatedCount: len(records)},
		records: records,
	}
}

func (f *fakeSource) Info() model.SourceInfo { return f.info }

func (f *fakeSource) TestConnection(context.Context) error { return f.connErr }

func (f *fakeSource) FetchData(_ context.Context, job model.IngestionJob) ([]model.RawEntity, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	if f.fetchFn != nil {
		return f.fetchFn(job)
	}
	return f.records, nil
}

func raw(source, id, name string, attrs model.Attributes) model.RawEntity {
	a := model.Attributes{}
	if name != "" {
		a["name"] = name
	}
	for k, v := range attrs {
		a[k] = v
	}
	return model.RawEntity{
		SourceID:       source,
		SourceEntityID: id,
		LastUpdated:    time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Attributes:     a,
	}
}

// memRepo is an in-memory catalog that enforces identity-key uniqueness.
type memRepo struct {
	mu       sync.Mutex
	entities map[string]model.CandidateEntity

	findErr    error
	upsertHook func(e model.CandidateEntity) error
	finds      int
}

func newMemRepo(seed ...model.CandidateEntity) *memRepo {
	r := &memRepo{entities: make(map[string]model.CandidateEntity)}
	for _, e := range seed {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.IdentityKey == "" {
			e.IdentityKey = normalize.IdentityKey(e.Name)
		}
		r.entities[e.ID] = e
	}
	return r
}

func (r *memRepo) FindCandidateMatches(_ context.Context, key string) ([]model.CandidateEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []model.CandidateEntity
	for _, e := range r.entities {
		if normalize.BlockKey(e.IdentityKey) == normalize.BlockKey(key) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) Upsert(_ context.Context, e model.CandidateEntity) (model.CandidateEntity, error) {
	if r.upsertHook != nil {
		if err := r.upsertHook(e); err != nil {
			return model.CandidateEntity{}, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.IdentityKey == "" {
		e.IdentityKey = normalize.IdentityKey(e.Name)
	}
	for id, other := range r.entities {
		if other.IdentityKey == e.IdentityKey && id != e.ID {
			return model.CandidateEntity{}, eris.Wrapf(store.ErrDuplicateKey, "identity key %q", e.IdentityKey)
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	} else if _, ok := r.entities[e.ID]; !ok {
		return model.CandidateEntity{}, eris.Wrapf(store.ErrNotFound, "studio %s", e.ID)
	}
	r.entities[e.ID] = e.Clone()
	return e, nil
}

func (r *memRepo) BulkUpsert(ctx context.Context, entities []model.CandidateEntity) (int, error) {
	for _, e := range entities {
		if _, err := r.Upsert(ctx, e); err != nil {
			return 0, err
		}
	}
	return len(entities), nil
}

func (r *memRepo) GetEntity(_ context.Context, id string) (model.CandidateEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[id]
	if !ok {
		return model.CandidateEntity{}, eris.Wrapf(store.ErrNotFound, "studio %s", id)
	}
	return e.Clone(), nil
}

func (r *memRepo) all() []model.CandidateEntity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.CandidateEntity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]model.IngestionJob
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]model.IngestionJob)}
}

func (m *memJobs) SaveJob(_ context.Context, job model.IngestionJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *memJobs) GetJob(_ context.Context, id string) (model.IngestionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return model.IngestionJob{}, eris.Wrapf(store.ErrNotFound, "job %s", id)
	}
	return j.Clone(), nil
}

func (m *memJobs) ListJobs(_ context.Context, f store.JobFilter) ([]model.IngestionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.IngestionJob
	for _, j := range m.jobs {
		if f.SourceID != "" && j.SourceID != f.SourceID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		out = append(out, j.Clone())
	}
	return out, nil
}

type memReviews struct {
	mu    sync.Mutex
	items map[string]model.ReviewItem
}

func newMemReviews() *memReviews {
	return &memReviews{items: make(map[string]model.ReviewItem)}
}

func (m *memReviews) EnqueueReview(_ context.Context, item model.ReviewItem) (model.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	for _, other := range m.items {
		if other.Status == model.ReviewPending && other.RevisionKey() == item.RevisionKey() {
			return model.ReviewItem{}, eris.Wrapf(store.ErrDuplicateKey, "review %s", item.RevisionKey())
		}
	}
	item.Status = model.ReviewPending
	item.CreatedAt = time.Now().UTC()
	m.items[item.ID] = item
	return item, nil
}

func (m *memReviews) GetReview(_ context.Context, id string) (model.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return model.ReviewItem{}, eris.Wrapf(store.ErrNotFound, "review %s", id)
	}
	return item, nil
}

func (m *memReviews) ListReviews(_ context.Context, f store.ReviewFilter) ([]model.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ReviewItem
	for _, item := range m.items {
		if f.Status != "" && item.Status != f.Status {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (m *memReviews) ResolveReview(_ context.Context, id string, status model.ReviewStatus) (model.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return model.ReviewItem{}, eris.Wrapf(store.ErrNotFound, "review %s", id)
	}
	if item.Status != model.ReviewPending {
		return item, store.ErrAlreadyResolved
	}
	now := time.Now().UTC()
	item.Status = status
	item.ResolvedAt = &now
	m.items[id] = item
	return item, nil
}

// fastRetry keeps retry tests quick.
func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
}

func newTestRegistry() *Registry {
	return NewRegistry(nil, resilience.NewGuard(fastRetry(), resilience.DefaultBreakerConfig()))
}
