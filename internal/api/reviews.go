package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/store"
)

func (h *Handler) handleListReviews(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	items, err := h.jobs.ListReviews(r.Context(), store.ReviewFilter{
		Status: model.ReviewStatus(q.Get("status")),
		JobID:  q.Get("job_id"),
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.ReviewItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleResolveReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	decision, ok := model.ParseReviewDecision(req.Decision)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "decision must be approve or reject")
		return
	}

	item, err := h.jobs.ResolveReview(r.Context(), chi.URLParam(r, "id"), decision)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
