package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/studio-catalog/internal/merge"
	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/normalize"
	"github.com/sells-group/studio-catalog/internal/resilience"
	"github.com/sells-group/studio-catalog/internal/similarity"
	"github.com/sells-group/studio-catalog/internal/store"
)

// defaultRetention is how many finished jobs stay in memory once a job
// store can serve older ones.
const defaultRetention = 256

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPipeline sets the normalization pipeline.
func WithPipeline(p *normalize.Pipeline) Option {
	return func(s *Scheduler) { s.pipeline = p }
}

// WithScorer sets the similarity scorer.
func WithScorer(sc *similarity.Scorer) Option {
	return func(s *Scheduler) { s.scorer = sc }
}

// WithEngine sets the merge engine.
func WithEngine(e *merge.Engine) Option {
	return func(s *Scheduler) { s.engine = e }
}

// WithJobStore persists job snapshots.
func WithJobStore(js JobStore) Option {
	return func(s *Scheduler) { s.jobs = js }
}

// WithReviewQueue sends manual_review outcomes to q. Without one they are
// only logged.
func WithReviewQueue(q ReviewQueue) Option {
	return func(s *Scheduler) { s.reviews = q }
}

// WithRepositoryRetry sets the retry policy for repository and job store
// calls.
func WithRepositoryRetry(cfg resilience.RetryConfig) Option {
	return func(s *Scheduler) { s.retry = cfg }
}

// Scheduler owns ingestion jobs. Each job runs in its own goroutine and is
// the only writer of its job record; everyone else reads snapshots.
type Scheduler struct {
	reg      *Registry
	repo     CatalogRepository
	jobs     JobStore
	reviews  ReviewQueue
	pipeline *normalize.Pipeline
	scorer   *similarity.Scorer
	engine   *merge.Engine
	retry    resilience.RetryConfig
	retain   int

	baseCtx context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	handles map[string]*jobHandle
	closed  bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// jobHandle supervises one running job.
type jobHandle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.RWMutex
	job model.IngestionJob
}

func (h *jobHandle) snapshot() model.IngestionJob {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.job.Clone()
}

func (h *jobHandle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// NewScheduler creates a scheduler over the registry's sources. Register
// sources first: the default merge policy and pipeline read their
// priorities and data quality at construction.
func NewScheduler(reg *Registry, repo CatalogRepository, opts ...Option) *Scheduler {
	s := &Scheduler{
		reg:     reg,
		repo:    repo,
		retry:   resilience.DefaultRetryConfig(),
		retain:  defaultRetention,
		handles: make(map[string]*jobHandle),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pipeline == nil {
		s.pipeline = normalize.NewPipeline(reg.QualityOptions()...)
	}
	if s.engine == nil {
		s.engine = merge.NewEngine(merge.NewPolicy(reg.Priorities(), merge.FoundedPreferCandidate), merge.DefaultBands())
	}
	if s.scorer == nil {
		s.scorer = similarity.NewScorer(similarity.DefaultConfig(), s.engine.Policy())
	}
	if s.retry.ShouldRetry == nil {
		s.retry.ShouldRetry = retryableRepoError
	}
	s.baseCtx, s.stop = context.WithCancel(context.Background())
	return s
}

func (s *Scheduler) now() time.Time {
	return s.nowFunc().UTC()
}

// StartJob validates the request, records a pending job and starts it in
// the background. The job outlives ctx; use CancelJob to stop it.
func (s *Scheduler) StartJob(ctx context.Context, sourceID string, typ model.JobType, opts model.JobOptions) (string, error) {
	if err := validateOptions(typ, opts); err != nil {
		return "", err
	}
	src, err := s.reg.Source(sourceID)
	if err != nil {
		return "", err
	}
	if settings, _ := s.reg.Settings(sourceID); !settings.Enabled {
		return "", eris.Wrapf(ErrSourceDisabled, "source %q", sourceID)
	}

	now := s.now()
	job := model.IngestionJob{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		Type:      typ,
		Status:    model.JobPending,
		Options:   opts,
		Errors:    []model.IngestionError{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSchedulerClosed
	}
	jobCtx, cancel := context.WithCancel(s.baseCtx)
	h := &jobHandle{cancel: cancel, done: make(chan struct{}), job: job}
	s.pruneLocked()
	s.handles[job.ID] = h
	s.mu.Unlock()

	s.save(ctx, job)
	go s.run(jobCtx, h, src)
	return job.ID, nil
}

// Run starts a job and waits for it. If ctx ends first the job is
// cancelled at its next record boundary and its final state returned.
func (s *Scheduler) Run(ctx context.Context, sourceID string, typ model.JobType, opts model.JobOptions) (model.IngestionJob, error) {
	id, err := s.StartJob(ctx, sourceID, typ, opts)
	if err != nil {
		return model.IngestionJob{}, err
	}
	job, err := s.Wait(ctx, id)
	if err != nil {
		s.CancelJob(id)
		return s.Wait(context.WithoutCancel(ctx), id)
	}
	return job, nil
}

func validateOptions(typ model.JobType, opts model.JobOptions) error {
	if !typ.Valid() {
		return eris.Wrapf(ErrInvalidOptions, "unknown job type %q", typ)
	}
	if opts.Limit < 0 {
		return eris.Wrapf(ErrInvalidOptions, "negative limit %d", opts.Limit)
	}
	if typ == model.JobSingleEntity && opts.EntityID == "" {
		return eris.Wrap(ErrInvalidOptions, "single_entity job needs an entity id")
	}
	return nil
}

// run drives one job to a terminal state.
func (s *Scheduler) run(ctx context.Context, h *jobHandle, src DataSource) {
	defer close(h.done)
	defer h.cancel()

	job := h.snapshot()
	log := zap.L().With(
		zap.String("component", "ingest.scheduler"),
		zap.String("job_id", job.ID),
		zap.String("source", job.SourceID),
		zap.String("type", string(job.Type)),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", zap.Any("panic", r), zap.Stack("stack"))
			entry := s.newError(model.SeverityCritical, fmt.Sprintf("panic: %v", r), "", "", 0)
			s.finish(ctx, h, log, model.JobFailed, &entry)
		}
	}()

	if ctx.Err() != nil {
		s.finish(ctx, h, log, model.JobCancelled, nil)
		return
	}

	started := s.now()
	job = s.update(h, func(j *model.IngestionJob) {
		j.Status = model.JobRunning
		j.StartedAt = &started
	})
	s.save(ctx, job)
	log.Info("job started")

	guard := s.reg.Guard()
	_, err := resilience.Call(ctx, guard, job.SourceID, "test_connection", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, src.TestConnection(ctx)
	})
	if err != nil {
		s.abort(ctx, h, log, eris.Wrap(err, "source unreachable"))
		return
	}

	limiter := s.reg.Limiter()
	if err := limiter.Wait(ctx, job.SourceID); err != nil {
		s.abort(ctx, h, log, err)
		return
	}
	records, err := resilience.Call(ctx, guard, job.SourceID, "fetch_data", func(ctx context.Context) ([]model.RawEntity, error) {
		return src.FetchData(ctx, job)
	})
	if err != nil {
		s.abort(ctx, h, log, eris.Wrap(err, "fetch data"))
		return
	}
	if limit := job.Options.Limit; limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	total := len(records)
	s.update(h, func(j *model.IngestionJob) { j.TotalItems = &total })
	log.Info("fetched records", zap.Int("total", total))

	for i, raw := range records {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := limiter.Wait(ctx, job.SourceID); err != nil {
				if ctx.Err() != nil {
					break
				}
				s.abort(ctx, h, log, err)
				return
			}
		}

		// A started record runs to completion even if the job is cancelled.
		res := s.processRecord(context.WithoutCancel(ctx), job, raw, log)
		s.update(h, func(j *model.IngestionJob) {
			if res.failed {
				j.FailedItems++
			} else {
				j.ProcessedItems++
			}
			if res.entry != nil {
				j.Errors = append(j.Errors, *res.entry)
			}
			j.Progress = progress(j.ProcessedItems+j.FailedItems, total)
		})
		if res.critical {
			s.finish(ctx, h, log, model.JobFailed, nil)
			return
		}
	}

	if ctx.Err() != nil {
		s.finish(ctx, h, log, model.JobCancelled, nil)
		return
	}
	s.finish(ctx, h, log, model.JobCompleted, nil)
}

// abort ends a job that could not proceed: cancelled if its context ended,
// failed with a critical error otherwise.
func (s *Scheduler) abort(ctx context.Context, h *jobHandle, log *zap.Logger, err error) {
	if ctx.Err() != nil {
		s.finish(ctx, h, log, model.JobCancelled, nil)
		return
	}
	log.Error("job failed", zap.Error(err))
	entry := s.newError(model.SeverityCritical, err.Error(), "", "", 0)
	s.finish(ctx, h, log, model.JobFailed, &entry)
}

func (s *Scheduler) finish(ctx context.Context, h *jobHandle, log *zap.Logger, status model.JobStatus, entry *model.IngestionError) {
	done := s.now()
	job := s.update(h, func(j *model.IngestionJob) {
		j.Status = status
		j.CompletedAt = &done
		if entry != nil {
			j.Errors = append(j.Errors, *entry)
		}
		if status == model.JobCompleted {
			j.Progress = 100
		}
	})
	s.save(ctx, job)
	log.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("processed", job.ProcessedItems),
		zap.Int("failed", job.FailedItems),
		zap.Int("errors", len(job.Errors)),
	)
}

// update applies fn to the job under the handle lock and returns a snapshot.
func (s *Scheduler) update(h *jobHandle, fn func(*model.IngestionJob)) model.IngestionJob {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.job)
	h.job.UpdatedAt = s.now()
	return h.job.Clone()
}

// save persists a snapshot. Failures are logged; the in-memory job stays
// authoritative while the process lives.
func (s *Scheduler) save(ctx context.Context, job model.IngestionJob) {
	if s.jobs == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	err := resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.jobs.SaveJob(ctx, job)
	})
	if err != nil {
		zap.L().Warn("ingest: save job snapshot",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) newError(sev model.Severity, msg, entityID, entityName string, retries int) model.IngestionError {
	return model.IngestionError{
		ID:         uuid.NewString(),
		Message:    msg,
		EntityID:   entityID,
		EntityName: entityName,
		Severity:   sev,
		Timestamp:  s.now(),
		RetryCount: retries,
	}
}

func progress(done, total int) int {
	if total <= 0 {
		return 0
	}
	return done * 100 / total
}

func (s *Scheduler) handle(id string) *jobHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[id]
}

// pruneLocked drops finished jobs from memory once the job store can serve
// them. Callers hold s.mu.
func (s *Scheduler) pruneLocked() {
	if s.jobs == nil || len(s.handles) < s.retain {
		return
	}
	for id, h := range s.handles {
		if h.finished() {
			delete(s.handles, id)
		}
	}
}

// GetJob returns a snapshot of a job, falling back to the job store for
// jobs this process no longer holds.
func (s *Scheduler) GetJob(ctx context.Context, id string) (model.IngestionJob, error) {
	if h := s.handle(id); h != nil {
		return h.snapshot(), nil
	}
	if s.jobs != nil {
		job, err := s.jobs.GetJob(ctx, id)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return model.IngestionJob{}, eris.Wrapf(err, "ingest: get job %s", id)
		}
	}
	return model.IngestionJob{}, eris.Wrapf(ErrJobNotFound, "job %s", id)
}

// CancelJob asks a pending or running job to stop at its next record
// boundary. It reports whether the job was still active.
func (s *Scheduler) CancelJob(id string) bool {
	h := s.handle(id)
	if h == nil || h.finished() || h.snapshot().Status.Terminal() {
		return false
	}
	h.cancel()
	zap.L().Info("ingest: job cancel requested", zap.String("job_id", id))
	return true
}

// ListJobs returns jobs newest first, combining live jobs with stored
// history.
func (s *Scheduler) ListJobs(ctx context.Context, filter store.JobFilter) ([]model.IngestionJob, error) {
	byID := make(map[string]model.IngestionJob)
	if s.jobs != nil {
		stored, err := s.jobs.ListJobs(ctx, filter)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: list jobs")
		}
		for _, j := range stored {
			byID[j.ID] = j
		}
	}

	s.mu.Lock()
	handles := make([]*jobHandle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		j := h.snapshot()
		if filter.SourceID != "" && j.SourceID != filter.SourceID {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		byID[j.ID] = j
	}

	out := make([]model.IngestionJob, 0, len(byID))
	for _, j := range byID {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListSources describes the registered sources.
func (s *Scheduler) ListSources() []model.SourceInfo {
	return s.reg.Sources()
}

// Wait blocks until the job reaches a terminal state or ctx ends.
func (s *Scheduler) Wait(ctx context.Context, id string) (model.IngestionJob, error) {
	h := s.handle(id)
	if h == nil {
		return s.GetJob(ctx, id)
	}
	select {
	case <-h.done:
		return h.snapshot(), nil
	case <-ctx.Done():
		return h.snapshot(), eris.Wrapf(ctx.Err(), "ingest: wait for job %s", id)
	}
}

// Shutdown stops accepting jobs, cancels running ones and waits for them to
// reach a record boundary.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	handles := make([]*jobHandle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	s.stop()

	var g errgroup.Group
	for _, h := range handles {
		g.Go(func() error {
			select {
			case <-h.done:
				return nil
			case <-ctx.Done():
				return eris.Wrap(ctx.Err(), "ingest: shutdown")
			}
		})
	}
	return g.Wait()
}
