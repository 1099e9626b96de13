package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/studio-catalog/internal/merge"
	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/resilience"
)

// recordResult is what one raw record did to its job.
type recordResult struct {
	action   model.MergeAction
	entry    *model.IngestionError
	failed   bool
	critical bool
}

// processRecord normalizes, matches, resolves and persists one raw record.
// Failures are returned in the result and never escape as errors.
func (s *Scheduler) processRecord(ctx context.Context, job model.IngestionJob, raw model.RawEntity, log *zap.Logger) recordResult {
	name := raw.Attributes.String("name")

	candidate, err := s.pipeline.Normalize(raw)
	if err != nil {
		return s.recordFailure(log, model.SeverityWarning, raw, name, eris.Wrap(err, "normalize"), 0)
	}
	name = candidate.Name

	var retries int
	existing, err := retryRepo(ctx, s.retry, &retries, func(ctx context.Context) ([]model.CandidateEntity, error) {
		return s.repo.FindCandidateMatches(ctx, candidate.IdentityKey)
	})
	if err != nil {
		return s.recordFailure(log, severityOf(err), raw, name, eris.Wrap(err, "find candidate matches"), retries)
	}

	for _, e := range existing {
		if merge.AlreadyApplied(e, raw.SourceID, raw.SourceEntityID, raw.LastUpdated) {
			entry := s.newError(model.SeverityWarning,
				fmt.Sprintf("skipped: revision %s already applied to %s", raw.LastUpdated.Format(time.RFC3339), e.ID),
				raw.SourceEntityID, name, 0)
			log.Debug("record skipped", zap.String("entity_id", raw.SourceEntityID), zap.String("existing_id", e.ID))
			return recordResult{action: model.ActionSkip, entry: &entry}
		}
	}

	match := s.scorer.Best(candidate, existing)
	outcome, err := s.engine.Resolve(candidate, match, merge.Context{JobID: job.ID, SourceUpdated: raw.LastUpdated})
	if err != nil {
		return s.recordFailure(log, model.SeverityError, raw, name, eris.Wrap(err, "resolve"), 0)
	}

	action := outcome.Strategy.Action
	switch action {
	case model.ActionMerge, model.ActionCreateNew:
		retries = 0
		_, err := retryRepo(ctx, s.retry, &retries, func(ctx context.Context) (model.CandidateEntity, error) {
			return s.repo.Upsert(ctx, *outcome.Merged)
		})
		if err != nil {
			return s.recordFailure(log, severityOf(err), raw, name, eris.Wrapf(err, "persist %s", action), retries)
		}
	case model.ActionManualReview:
		if s.reviews == nil {
			log.Warn("manual review needed but no review queue configured",
				zap.String("entity_id", raw.SourceEntityID),
				zap.String("existing_id", match.Existing.ID),
			)
			break
		}
		item := model.ReviewItem{
			JobID:          job.ID,
			SourceID:       raw.SourceID,
			SourceEntityID: raw.SourceEntityID,
			SourceUpdated:  raw.LastUpdated,
			ExistingID:     match.Existing.ID,
			Candidate:      candidate,
			Match:          *match,
			Strategy:       outcome.Strategy,
		}
		retries = 0
		_, err := retryRepo(ctx, s.retry, &retries, func(ctx context.Context) (model.ReviewItem, error) {
			return s.reviews.EnqueueReview(ctx, item)
		})
		if errors.Is(err, ErrDuplicateKey) {
			entry := s.newError(model.SeverityWarning,
				fmt.Sprintf("skipped: review for %s already pending", match.Existing.ID),
				raw.SourceEntityID, name, 0)
			log.Debug("review already pending", zap.String("entity_id", raw.SourceEntityID), zap.String("existing_id", match.Existing.ID))
			return recordResult{action: model.ActionSkip, entry: &entry}
		}
		if err != nil {
			return s.recordFailure(log, severityOf(err), raw, name, eris.Wrap(err, "enqueue review"), retries)
		}
	}

	log.Debug("record processed",
		zap.String("entity_id", raw.SourceEntityID),
		zap.String("action", string(action)),
		zap.Float64("confidence", outcome.Strategy.Confidence),
		zap.Strings("reasoning", outcome.Strategy.Reasoning),
	)
	return recordResult{action: action}
}

func (s *Scheduler) recordFailure(log *zap.Logger, sev model.Severity, raw model.RawEntity, name string, err error, retries int) recordResult {
	log.Warn("record failed",
		zap.String("entity_id", raw.SourceEntityID),
		zap.String("severity", string(sev)),
		zap.Int("retries", retries),
		zap.Error(err),
	)
	entry := s.newError(sev, err.Error(), raw.SourceEntityID, name, retries)
	return recordResult{entry: &entry, failed: true, critical: sev == model.SeverityCritical}
}

// severityOf maps a repository error onto the error taxonomy.
func severityOf(err error) model.Severity {
	if errors.Is(err, ErrRepositoryUnavailable) {
		return model.SeverityCritical
	}
	return model.SeverityError
}

func retryableRepoError(err error) bool {
	if errors.Is(err, ErrDuplicateKey) {
		return false
	}
	return errors.Is(err, ErrRepositoryUnavailable) || resilience.IsTransient(err)
}

// retryRepo runs a repository call under cfg and counts the retries taken.
func retryRepo[T any](ctx context.Context, cfg resilience.RetryConfig, retries *int, fn func(context.Context) (T, error)) (T, error) {
	cfg.OnRetry = func(attempt int, err error) {
		*retries = attempt
		zap.L().Debug("ingest: retrying repository call", zap.Int("attempt", attempt), zap.Error(err))
	}
	return resilience.DoVal(ctx, cfg, fn)
}
