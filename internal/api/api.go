// Package api exposes job control, the review queue and catalog reads over
// HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/store"
)

// Jobs is the scheduler surface the handlers drive.
type Jobs interface {
	StartJob(ctx context.Context, sourceID string, typ model.JobType, opts model.JobOptions) (string, error)
	GetJob(ctx context.Context, id string) (model.IngestionJob, error)
	CancelJob(id string) bool
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.IngestionJob, error)
	ListSources() []model.SourceInfo
	ListReviews(ctx context.Context, filter store.ReviewFilter) ([]model.ReviewItem, error)
	ResolveReview(ctx context.Context, id string, decision model.ReviewStatus) (model.ReviewItem, error)
}

// Catalog is the read side of the catalog repository.
type Catalog interface {
	GetEntity(ctx context.Context, id string) (model.CandidateEntity, error)
	ListEntities(ctx context.Context, filter store.EntityFilter) ([]model.CandidateEntity, error)
	Ping(ctx context.Context) error
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	Timeout        time.Duration // per request, default 30s
}

// Handler serves the HTTP API.
type Handler struct {
	jobs    Jobs
	catalog Catalog
}

// New creates a Handler.
func New(jobs Jobs, catalog Catalog) *Handler {
	return &Handler{jobs: jobs, catalog: catalog}
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.handleHealth)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.handleStartJob)
		r.Get("/", h.handleListJobs)
		r.Get("/{id}", h.handleGetJob)
		r.Delete("/{id}", h.handleCancelJob)
	})

	r.Get("/sources", h.handleListSources)

	r.Route("/reviews", func(r chi.Router) {
		r.Get("/", h.handleListReviews)
		r.Post("/{id}/resolve", h.handleResolveReview)
	})

	r.Route("/studios", func(r chi.Router) {
		r.Get("/", h.handleListStudios)
		r.Get("/{id}", h.handleGetStudio)
	})
}

// Router builds the full middleware stack around the routes.
func (h *Handler) Router(opts Options) http.Handler {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	h.Register(r)
	return r
}
