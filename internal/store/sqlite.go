package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/studio-catalog/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS studios (
	id           TEXT PRIMARY KEY,
	identity_key TEXT NOT NULL UNIQUE,
	name_prefix  TEXT NOT NULL,
	compact_key  TEXT NOT NULL,
	name         TEXT NOT NULL,
	confidence   REAL NOT NULL DEFAULT 0,
	doc          TEXT NOT NULL,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ingestion_jobs (
	id              TEXT PRIMARY KEY,
	source_id       TEXT NOT NULL,
	type            TEXT NOT NULL,
	status          TEXT NOT NULL,
	progress        INTEGER NOT NULL DEFAULT 0,
	total_items     INTEGER,
	processed_items INTEGER NOT NULL DEFAULT 0,
	failed_items    INTEGER NOT NULL DEFAULT 0,
	options         TEXT NOT NULL DEFAULT '{}',
	created_at      DATETIME NOT NULL,
	started_at      DATETIME,
	completed_at    DATETIME,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ingestion_errors (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES ingestion_jobs(id) ON DELETE CASCADE,
	message     TEXT NOT NULL,
	entity_id   TEXT NOT NULL DEFAULT '',
	entity_name TEXT NOT NULL DEFAULT '',
	severity    TEXT NOT NULL,
	occurred_at DATETIME NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	resolved    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS review_queue (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	existing_id  TEXT NOT NULL,
	revision_key TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	payload      TEXT NOT NULL,
	created_at   DATETIME NOT NULL,
	resolved_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_studios_name_prefix ON studios(name_prefix);
CREATE INDEX IF NOT EXISTS idx_studios_compact_key ON studios(compact_key);
CREATE INDEX IF NOT EXISTS idx_jobs_source ON ingestion_jobs(source_id, created_at);
CREATE INDEX IF NOT EXISTS idx_errors_job ON ingestion_errors(job_id);
CREATE INDEX IF NOT EXISTS idx_review_status ON review_queue(status, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_review_pending_revision ON review_queue(revision_key) WHERE status = 'pending';
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return sqliteErr(s.db.PingContext(ctx), "ping")
}

// --- catalog ---

const studioColumns = `id, identity_key, name_prefix, compact_key, name, confidence, doc, created_at, updated_at`

func (s *SQLiteStore) FindCandidateMatches(ctx context.Context, identityKey string) ([]model.CandidateEntity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+studioColumns+` FROM studios
		 WHERE identity_key = ? OR name_prefix = ? OR compact_key = ?
		 ORDER BY id LIMIT ?`,
		identityKey, blockOf(identityKey), compactKey(identityKey), maxCandidates,
	)
	if err != nil {
		return nil, sqliteErr(err, "find candidate matches")
	}
	return collectStudios(rows)
}

func (s *SQLiteStore) Upsert(ctx context.Context, e model.CandidateEntity) (model.CandidateEntity, error) {
	now := time.Now().UTC()
	insert := e.ID == ""
	if insert {
		e.ID = uuid.New().String()
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	r, err := toStudioRow(e)
	if err != nil {
		return e, err
	}
	e.IdentityKey = r.IdentityKey

	if insert {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO studios (`+studioColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.IdentityKey, r.NamePrefix, r.CompactKey, r.Name, r.Confidence, string(r.Doc), r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return e, sqliteErr(err, "insert studio "+r.IdentityKey)
		}
		return e, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE studios SET identity_key = ?, name_prefix = ?, compact_key = ?, name = ?, confidence = ?, doc = ?, updated_at = ?
		 WHERE id = ?`,
		r.IdentityKey, r.NamePrefix, r.CompactKey, r.Name, r.Confidence, string(r.Doc), r.UpdatedAt, r.ID,
	)
	if err != nil {
		return e, sqliteErr(err, "update studio "+r.ID)
	}
	if err := checkRowsAffected(res, "studio", r.ID); err != nil {
		return e, err
	}
	return e, nil
}

func (s *SQLiteStore) BulkUpsert(ctx context.Context, entities []model.CandidateEntity) (int, error) {
	if len(entities) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, sqliteErr(err, "bulk upsert begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO studios (`+studioColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(identity_key) DO UPDATE SET
			name = excluded.name,
			confidence = excluded.confidence,
			doc = excluded.doc,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, sqliteErr(err, "bulk upsert prepare")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	n := 0
	for _, e := range entities {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.UpdatedAt = now
		r, err := toStudioRow(e)
		if err != nil {
			return n, err
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.IdentityKey, r.NamePrefix, r.CompactKey, r.Name, r.Confidence, string(r.Doc), r.CreatedAt, r.UpdatedAt); err != nil {
			return n, sqliteErr(err, "bulk upsert "+r.IdentityKey)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, sqliteErr(err, "bulk upsert commit")
	}
	return n, nil
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (model.CandidateEntity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+studioColumns+` FROM studios WHERE id = ?`, id)
	e, err := scanStudio(row)
	if errors.Is(err, sql.ErrNoRows) {
		return e, eris.Wrapf(ErrNotFound, "studio %s", id)
	}
	if err != nil {
		return e, sqliteErr(err, "get studio "+id)
	}
	return e, nil
}

func (s *SQLiteStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.CandidateEntity, error) {
	query := `SELECT ` + studioColumns + ` FROM studios WHERE 1=1`
	var args []any
	if q := strings.TrimSpace(filter.Query); q != "" {
		query += ` AND (name LIKE ? OR identity_key LIKE ?)`
		like := "%" + q + "%"
		args = append(args, like, like)
	}
	if filter.Source != "" {
		query += ` AND EXISTS (SELECT 1 FROM json_each(doc, '$.metadata.sources') WHERE value = ?)`
		args = append(args, filter.Source)
	}
	query += ` ORDER BY name, id LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sqliteErr(err, "list studios")
	}
	return collectStudios(rows)
}

// --- jobs ---

func (s *SQLiteStore) SaveJob(ctx context.Context, job model.IngestionJob) error {
	opts, err := marshalJSON(job.Options, "job options")
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteErr(err, "save job begin")
	}
	defer tx.Rollback() //nolint:errcheck

	var total sql.NullInt64
	if job.TotalItems != nil {
		total = sql.NullInt64{Int64: int64(*job.TotalItems), Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO ingestion_jobs (id, source_id, type, status, progress, total_items, processed_items, failed_items, options, created_at, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			total_items = excluded.total_items,
			processed_items = excluded.processed_items,
			failed_items = excluded.failed_items,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at`,
		job.ID, job.SourceID, string(job.Type), string(job.Status), job.Progress, total,
		job.ProcessedItems, job.FailedItems, string(opts), job.CreatedAt,
		nullTime(job.StartedAt), nullTime(job.CompletedAt), job.UpdatedAt,
	)
	if err != nil {
		return sqliteErr(err, "save job "+job.ID)
	}

	for _, e := range job.Errors {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO ingestion_errors (id, job_id, message, entity_id, entity_name, severity, occurred_at, retry_count, resolved)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET retry_count = excluded.retry_count, resolved = excluded.resolved`,
			e.ID, job.ID, e.Message, e.EntityID, e.EntityName, string(e.Severity), e.Timestamp, e.RetryCount, e.Resolved,
		)
		if err != nil {
			return sqliteErr(err, "save job error "+e.ID)
		}
	}
	return sqliteErr(tx.Commit(), "save job commit")
}

const jobColumns = `id, source_id, type, status, progress, total_items, processed_items, failed_items, options, created_at, started_at, completed_at, updated_at`

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (model.IngestionJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return job, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return job, sqliteErr(err, "get job "+id)
	}
	job.Errors, err = s.jobErrors(ctx, id)
	return job, err
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.IngestionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM ingestion_jobs WHERE 1=1`
	var args []any
	if filter.SourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, filter.SourceID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sqliteErr(err, "list jobs")
	}
	var jobs []model.IngestionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close() //nolint:errcheck
			return nil, sqliteErr(err, "scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Close(); err != nil {
		return nil, sqliteErr(err, "list jobs close")
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteErr(err, "list jobs iterate")
	}

	for i := range jobs {
		if jobs[i].Errors, err = s.jobErrors(ctx, jobs[i].ID); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func (s *SQLiteStore) jobErrors(ctx context.Context, jobID string) ([]model.IngestionError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message, entity_id, entity_name, severity, occurred_at, retry_count, resolved
		 FROM ingestion_errors WHERE job_id = ? ORDER BY occurred_at, id`, jobID)
	if err != nil {
		return nil, sqliteErr(err, "list job errors")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.IngestionError
	for rows.Next() {
		var e model.IngestionError
		var sev string
		if err := rows.Scan(&e.ID, &e.Message, &e.EntityID, &e.EntityName, &sev, &e.Timestamp, &e.RetryCount, &e.Resolved); err != nil {
			return nil, sqliteErr(err, "scan job error")
		}
		e.Severity = model.Severity(sev)
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, sqliteErr(rows.Err(), "job errors iterate")
}

// --- reviews ---

func (s *SQLiteStore) EnqueueReview(ctx context.Context, item model.ReviewItem) (model.ReviewItem, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Status = model.ReviewPending
	payload, err := marshalJSON(newReviewPayload(item), "review")
	if err != nil {
		return item, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO review_queue (id, job_id, source_id, existing_id, revision_key, status, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.JobID, item.SourceID, item.ExistingID, item.RevisionKey(), string(item.Status), string(payload), item.CreatedAt,
	)
	return item, sqliteErr(err, "enqueue review")
}

const reviewColumns = `id, job_id, source_id, existing_id, status, payload, created_at, resolved_at`

func (s *SQLiteStore) GetReview(ctx context.Context, id string) (model.ReviewItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM review_queue WHERE id = ?`, id)
	item, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return item, eris.Wrapf(ErrNotFound, "review %s", id)
	}
	return item, sqliteErr(err, "get review "+id)
}

func (s *SQLiteStore) ListReviews(ctx context.Context, filter ReviewFilter) ([]model.ReviewItem, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_queue WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, filter.JobID)
	}
	query += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sqliteErr(err, "list reviews")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ReviewItem
	for rows.Next() {
		item, err := scanReview(rows)
		if err != nil {
			return nil, sqliteErr(err, "scan review")
		}
		out = append(out, item)
	}
	return out, sqliteErr(rows.Err(), "list reviews iterate")
}

func (s *SQLiteStore) ResolveReview(ctx context.Context, id string, status model.ReviewStatus) (model.ReviewItem, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_queue SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		string(status), now, id, string(model.ReviewPending),
	)
	if err != nil {
		return model.ReviewItem{}, sqliteErr(err, "resolve review "+id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		item, err := s.GetReview(ctx, id)
		if err != nil {
			return item, err
		}
		return item, eris.Wrapf(ErrAlreadyResolved, "review %s is %s", id, item.Status)
	}
	return s.GetReview(ctx, id)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

// sqliteErr maps driver errors onto the store sentinels.
func sqliteErr(err error, op string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return eris.Wrapf(ErrDuplicateKey, "sqlite: %s", op)
	case errors.Is(err, sql.ErrConnDone), strings.Contains(msg, "database is closed"):
		return eris.Wrapf(ErrUnavailable, "sqlite: %s: %s", op, msg)
	}
	return eris.Wrapf(err, "sqlite: %s", op)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanStudio(row scannable) (model.CandidateEntity, error) {
	var r studioRow
	var doc string
	if err := row.Scan(&r.ID, &r.IdentityKey, &r.NamePrefix, &r.CompactKey, &r.Name, &r.Confidence, &doc, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return model.CandidateEntity{}, err
	}
	r.Doc = []byte(doc)
	return r.entity()
}

func collectStudios(rows *sql.Rows) ([]model.CandidateEntity, error) {
	defer rows.Close() //nolint:errcheck
	var out []model.CandidateEntity
	for rows.Next() {
		e, err := scanStudio(rows)
		if err != nil {
			return nil, sqliteErr(err, "scan studio")
		}
		out = append(out, e)
	}
	return out, sqliteErr(rows.Err(), "studios iterate")
}

func scanJob(row scannable) (model.IngestionJob, error) {
	var j model.IngestionJob
	var typ, status, opts string
	var total sql.NullInt64
	var started, completed sql.NullTime
	err := row.Scan(&j.ID, &j.SourceID, &typ, &status, &j.Progress, &total, &j.ProcessedItems, &j.FailedItems,
		&opts, &j.CreatedAt, &started, &completed, &j.UpdatedAt)
	if err != nil {
		return j, err
	}
	j.Type = model.JobType(typ)
	j.Status = model.JobStatus(status)
	if total.Valid {
		n := int(total.Int64)
		j.TotalItems = &n
	}
	j.StartedAt = timePtr(started)
	j.CompletedAt = timePtr(completed)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	if err := json.Unmarshal([]byte(opts), &j.Options); err != nil {
		return j, eris.Wrapf(err, "unmarshal options for job %s", j.ID)
	}
	return j, nil
}

func scanReview(row scannable) (model.ReviewItem, error) {
	var item model.ReviewItem
	var status, payload string
	var resolved sql.NullTime
	if err := row.Scan(&item.ID, &item.JobID, &item.SourceID, &item.ExistingID, &status, &payload, &item.CreatedAt, &resolved); err != nil {
		return item, err
	}
	item.Status = model.ReviewStatus(status)
	item.CreatedAt = item.CreatedAt.UTC()
	item.ResolvedAt = timePtr(resolved)
	var p reviewPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return item, eris.Wrapf(err, "unmarshal review %s", item.ID)
	}
	p.apply(&item)
	return item, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
