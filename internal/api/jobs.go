package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/store"
)

type startJobRequest struct {
	SourceID string `json:"source_id"`
	Type     string `json:"type"`
	Since    string `json:"since,omitempty"`
	EntityID string `json:"entity_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type startJobResponse struct {
	ID     string          `json:"id"`
	Status model.JobStatus `json:"status"`
}

func (req startJobRequest) options() (model.JobOptions, error) {
	opts := model.JobOptions{EntityID: req.EntityID, Limit: req.Limit}
	if req.Limit < 0 {
		return opts, errors.New("limit must be non-negative")
	}
	if req.Since != "" {
		t, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			return opts, errors.New("since must be an RFC 3339 timestamp")
		}
		t = t.UTC()
		opts.Since = &t
	}
	return opts, nil
}

func (h *Handler) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceID == "" {
		writeMessage(w, http.StatusBadRequest, "source_id is required")
		return
	}
	typ := model.JobType(req.Type)
	if typ == "" {
		typ = model.JobFullSync
	}
	if !typ.Valid() {
		writeMessage(w, http.StatusBadRequest, "unknown job type "+req.Type)
		return
	}
	opts, err := req.options()
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.jobs.StartJob(r.Context(), req.SourceID, typ, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+id)
	writeJSON(w, http.StatusAccepted, startJobResponse{ID: id, Status: model.JobPending})
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	jobs, err := h.jobs.ListJobs(r.Context(), store.JobFilter{
		SourceID: q.Get("source_id"),
		Status:   model.JobStatus(q.Get("status")),
		Limit:    limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []model.IngestionJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob requests cancellation. A job that already finished is
// reported with cancelled=false rather than as an error.
func (h *Handler) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.jobs.GetJob(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	ok := h.jobs.CancelJob(id)
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "cancelled": ok})
}

func (h *Handler) handleListSources(w http.ResponseWriter, _ *http.Request) {
	sources := h.jobs.ListSources()
	if sources == nil {
		sources = []model.SourceInfo{}
	}
	writeJSON(w, http.StatusOK, sources)
}
