package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/studio-catalog/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgresWithPool(mock), mock
}

var studioCols = []string{"id", "identity_key", "name_prefix", "compact_key", "name", "confidence", "doc", "created_at", "updated_at"}

func TestPostgresStore_FindCandidateMatches(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	doc, err := json.Marshal(model.CandidateEntity{Name: "Riot Games", CatalogItems: []string{"Valorant"}})
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM studios\s+WHERE identity_key = \$1 OR name_prefix = \$2 OR compact_key = \$3`).
		WithArgs("riot games", "riot", "riotgames", maxCandidates).
		WillReturnRows(pgxmock.NewRows(studioCols).
			AddRow("s1", "riot games", "riot", "riotgames", "Riot Games", 0.8, doc, now, now))

	found, err := s.FindCandidateMatches(context.Background(), "riot games")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "s1", found[0].ID)
	assert.Equal(t, []string{"Valorant"}, found[0].CatalogItems)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertInsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO studios`).
		WithArgs(pgxmock.AnyArg(), "riot games", "riot", "riotgames", "Riot Games", 0.7, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	saved, err := s.Upsert(context.Background(), model.CandidateEntity{Name: "Riot Games", Confidence: 0.7})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, "riot games", saved.IdentityKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertDuplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO studios`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "studios_identity_key_key"})

	_, err := s.Upsert(context.Background(), model.CandidateEntity{Name: "Riot Games"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertUpdateMissing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE studios SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	_, err := s.Upsert(context.Background(), model.CandidateEntity{ID: "gone", Name: "Riot Games"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UnavailableOnClosedPool(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM studios`).WillReturnError(errors.New("closed pool"))

	_, err := s.FindCandidateMatches(context.Background(), "riot games")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetEntityNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM studios WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetEntity(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BulkUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_studios"}, studioUpsert.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "studios"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.BulkUpsert(context.Background(), []model.CandidateEntity{
		{Name: "Riot Games"},
		{Name: "Epic Games"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BulkUpsertRejectsNamelessStudio(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.BulkUpsert(context.Background(), []model.CandidateEntity{{Name: "!!!"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no identity key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	job := model.IngestionJob{
		ID: "job-1", SourceID: "igdb", Type: model.JobFullSync, Status: model.JobRunning,
		CreatedAt: now, UpdatedAt: now, StartedAt: &now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ingestion_jobs`).
		WithArgs("job-1", "igdb", "full_sync", "running", 0, pgxmock.AnyArg(), 0, 0, `{}`, now, pgxmock.AnyArg(), pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveJob(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveJobRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ingestion_jobs`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.SaveJob(context.Background(), model.IngestionJob{ID: "job-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save job job-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueReviewDuplicatePending(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	item := model.ReviewItem{
		JobID:          "job-2",
		SourceID:       "steam",
		SourceEntityID: "s-9",
		SourceUpdated:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		ExistingID:     "studio-1",
	}
	mock.ExpectExec(`INSERT INTO review_queue`).
		WithArgs(pgxmock.AnyArg(), "job-2", "steam", "studio-1", item.RevisionKey(), "pending", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_review_pending_revision"})

	_, err := s.EnqueueReview(context.Background(), item)
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveReviewAlreadyResolved(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	payload, err := json.Marshal(reviewPayload{Candidate: model.CandidateEntity{Name: "Riot"}})
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE review_queue SET status`).
		WithArgs("rejected", "r1", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`FROM review_queue WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "job_id", "source_id", "existing_id", "status", "payload", "created_at", "resolved_at"}).
			AddRow("r1", "job-1", "steam", "s1", "approved", payload, now, nil))

	item, err := s.ResolveReview(context.Background(), "r1", model.ReviewRejected)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.Equal(t, model.ReviewApproved, item.Status)
	assert.Equal(t, "Riot", item.Candidate.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_catalog.sql").AddRow("002_jobs.sql"))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS review_queue`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("003_reviews.sql").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
