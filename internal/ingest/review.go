package ingest

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/studio-catalog/internal/merge"
	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/store"
)

// ErrNoReviewQueue is returned by review operations on a scheduler built
// without a review queue.
var ErrNoReviewQueue = eris.New("ingest: no review queue configured")

// ListReviews returns queued reviews.
func (s *Scheduler) ListReviews(ctx context.Context, filter store.ReviewFilter) ([]model.ReviewItem, error) {
	if s.reviews == nil {
		return nil, ErrNoReviewQueue
	}
	return s.reviews.ListReviews(ctx, filter)
}

// ResolveReview applies a reviewer's decision. Approving merges the
// candidate into the entity it was matched with; rejecting adds it as a new
// studio. If the write fails the review stays pending.
func (s *Scheduler) ResolveReview(ctx context.Context, id string, decision model.ReviewStatus) (model.ReviewItem, error) {
	if s.reviews == nil {
		return model.ReviewItem{}, ErrNoReviewQueue
	}
	if decision != model.ReviewApproved && decision != model.ReviewRejected {
		return model.ReviewItem{}, eris.Errorf("ingest: invalid review decision %q", decision)
	}

	item, err := s.reviews.GetReview(ctx, id)
	if err != nil {
		return model.ReviewItem{}, eris.Wrapf(err, "ingest: get review %s", id)
	}
	if item.Status != model.ReviewPending {
		return item, eris.Wrapf(store.ErrAlreadyResolved, "review %s is %s", id, item.Status)
	}

	mc := merge.Context{JobID: item.JobID, SourceUpdated: item.SourceUpdated}
	var entity model.CandidateEntity
	var trail []string
	if decision == model.ReviewApproved {
		match := item.Match
		if getter, ok := s.repo.(entityGetter); ok && item.ExistingID != "" {
			current, err := getter.GetEntity(ctx, item.ExistingID)
			if err != nil {
				return item, eris.Wrapf(err, "ingest: reload entity %s", item.ExistingID)
			}
			match.Existing = current
			match.Conflicts = s.scorer.Conflicts(current, item.Candidate)
		}
		strategy := model.MergeStrategy{
			Action:     model.ActionMerge,
			Confidence: item.Strategy.Confidence,
			Reasoning:  append(append([]string{}, item.Strategy.Reasoning...), "approved by reviewer"),
		}
		merged, reasons, err := s.engine.Merge(match, item.Candidate, strategy, mc)
		if err != nil {
			return item, eris.Wrap(err, "ingest: merge approved review")
		}
		entity, trail = merged, reasons
	} else {
		outcome, err := s.engine.Resolve(item.Candidate, nil, mc)
		if err != nil {
			return item, eris.Wrap(err, "ingest: create rejected review")
		}
		entity = *outcome.Merged
		trail = []string{"rejected by reviewer as a match for " + item.ExistingID}
		last := &entity.MergeHistory[len(entity.MergeHistory)-1]
		last.Reasoning = append(last.Reasoning, trail...)
	}

	if _, err := s.repo.Upsert(ctx, entity); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return item, eris.Wrapf(err, "ingest: review %s collides with an existing studio", id)
		}
		return item, eris.Wrapf(err, "ingest: persist review %s", id)
	}

	resolved, err := s.reviews.ResolveReview(ctx, id, decision)
	if err != nil {
		return resolved, eris.Wrapf(err, "ingest: resolve review %s", id)
	}
	zap.L().Info("ingest: review resolved",
		zap.String("review_id", id),
		zap.String("decision", string(decision)),
		zap.String("existing_id", item.ExistingID),
		zap.Strings("reasoning", trail),
	)
	return resolved, nil
}

// Seed bulk-loads every record of a source as new studios without
// matching. It is meant for an empty catalog and a trusted source.
func (s *Scheduler) Seed(ctx context.Context, sourceID string) (int, error) {
	src, err := s.reg.Source(sourceID)
	if err != nil {
		return 0, err
	}
	log := zap.L().With(zap.String("component", "ingest.seed"), zap.String("source", sourceID))

	job := model.IngestionJob{ID: "seed-" + sourceID, SourceID: sourceID, Type: model.JobFullSync}
	records, err := src.FetchData(ctx, job)
	if err != nil {
		return 0, eris.Wrapf(err, "ingest: seed fetch %s", sourceID)
	}

	byKey := make(map[string]model.CandidateEntity, len(records))
	var order []string
	for _, raw := range records {
		candidate, err := s.pipeline.Normalize(raw)
		if err != nil {
			log.Warn("seed record dropped", zap.String("entity_id", raw.SourceEntityID), zap.Error(err))
			continue
		}
		outcome, err := s.engine.Resolve(candidate, nil, merge.Context{JobID: job.ID, SourceUpdated: raw.LastUpdated})
		if err != nil {
			return 0, eris.Wrap(err, "ingest: seed resolve")
		}
		if _, ok := byKey[candidate.IdentityKey]; !ok {
			order = append(order, candidate.IdentityKey)
		}
		byKey[candidate.IdentityKey] = *outcome.Merged
	}

	entities := make([]model.CandidateEntity, 0, len(order))
	for _, k := range order {
		entities = append(entities, byKey[k])
	}
	n, err := s.repo.BulkUpsert(ctx, entities)
	if err != nil {
		return 0, eris.Wrapf(err, "ingest: seed %s", sourceID)
	}
	log.Info("seeded catalog", zap.Int("records", len(records)), zap.Int("studios", n))
	return n, nil
}
