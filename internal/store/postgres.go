package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/studio-catalog/internal/db"
	"github.com/sells-group/studio-catalog/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns, pgxCfg.MinConns = 10, 2
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, s.pool, migrationFS, "migrations")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return pgErr(s.pool.Ping(ctx), "ping")
}

// --- catalog ---

var studioUpsert = db.UpsertConfig{
	Table:        "studios",
	Columns:      []string{"id", "identity_key", "name_prefix", "compact_key", "name", "confidence", "doc", "created_at", "updated_at"},
	ConflictKeys: []string{"identity_key"},
	UpdateCols:   []string{"name", "confidence", "doc", "updated_at"},
}

func (s *PostgresStore) FindCandidateMatches(ctx context.Context, identityKey string) ([]model.CandidateEntity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+studioColumns+` FROM studios
		 WHERE identity_key = $1 OR name_prefix = $2 OR compact_key = $3
		 ORDER BY id LIMIT $4`,
		identityKey, blockOf(identityKey), compactKey(identityKey), maxCandidates,
	)
	if err != nil {
		return nil, pgErr(err, "find candidate matches")
	}
	return collectPgStudios(rows)
}

func (s *PostgresStore) Upsert(ctx context.Context, e model.CandidateEntity) (model.CandidateEntity, error) {
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
		_, err = s.pool.Exec(ctx,
			`INSERT INTO studios (`+studioColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			r.ID, r.IdentityKey, r.NamePrefix, r.CompactKey, r.Name, r.Confidence, string(r.Doc), r.CreatedAt, r.UpdatedAt,
		)
		return e, pgErr(err, "insert studio "+r.IdentityKey)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE studios SET identity_key = $1, name_prefix = $2, compact_key = $3, name = $4, confidence = $5, doc = $6, updated_at = $7
		 WHERE id = $8`,
		r.IdentityKey, r.NamePrefix, r.CompactKey, r.Name, r.Confidence, string(r.Doc), r.UpdatedAt, r.ID,
	)
	if err != nil {
		return e, pgErr(err, "update studio "+r.ID)
	}
	if tag.RowsAffected() == 0 {
		return e, eris.Wrapf(ErrNotFound, "studio %s", r.ID)
	}
	return e, nil
}

func (s *PostgresStore) BulkUpsert(ctx context.Context, entities []model.CandidateEntity) (int, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(entities))
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
			return 0, err
		}
		rows = append(rows, []any{r.ID, r.IdentityKey, r.NamePrefix, r.CompactKey, r.Name, r.Confidence, string(r.Doc), r.CreatedAt, r.UpdatedAt})
	}
	n, err := db.BulkUpsert(ctx, s.pool, studioUpsert, rows)
	if err != nil {
		return 0, pgErr(err, "bulk upsert studios")
	}
	return int(n), nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (model.CandidateEntity, error) {
	e, err := scanPgStudio(s.pool.QueryRow(ctx, `SELECT `+studioColumns+` FROM studios WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return e, eris.Wrapf(ErrNotFound, "studio %s", id)
	}
	return e, pgErr(err, "get studio "+id)
}

func (s *PostgresStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.CandidateEntity, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		p := arg("%" + q + "%")
		where = append(where, fmt.Sprintf("(name ILIKE %s OR identity_key ILIKE %s)", p, p))
	}
	if filter.Source != "" {
		where = append(where, fmt.Sprintf("doc -> 'metadata' -> 'sources' ? %s", arg(filter.Source)))
	}
	query := `SELECT ` + studioColumns + ` FROM studios`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY name, id LIMIT %s OFFSET %s`, arg(listLimit(filter.Limit)), arg(max(filter.Offset, 0)))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pgErr(err, "list studios")
	}
	return collectPgStudios(rows)
}

// --- jobs ---

func (s *PostgresStore) SaveJob(ctx context.Context, job model.IngestionJob) error {
	opts, err := marshalJSON(job.Options, "job options")
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return pgErr(err, "save job begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO ingestion_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			total_items = EXCLUDED.total_items,
			processed_items = EXCLUDED.processed_items,
			failed_items = EXCLUDED.failed_items,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at`,
		job.ID, job.SourceID, string(job.Type), string(job.Status), job.Progress, job.TotalItems,
		job.ProcessedItems, job.FailedItems, string(opts), job.CreatedAt,
		job.StartedAt, job.CompletedAt, job.UpdatedAt,
	)
	if err != nil {
		return pgErr(err, "save job "+job.ID)
	}

	if len(job.Errors) > 0 {
		batch := &pgx.Batch{}
		for _, e := range job.Errors {
			batch.Queue(
				`INSERT INTO ingestion_errors (id, job_id, message, entity_id, entity_name, severity, occurred_at, retry_count, resolved)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				 ON CONFLICT (id) DO UPDATE SET retry_count = EXCLUDED.retry_count, resolved = EXCLUDED.resolved`,
				e.ID, job.ID, e.Message, e.EntityID, e.EntityName, string(e.Severity), e.Timestamp, e.RetryCount, e.Resolved,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return pgErr(err, "save job errors "+job.ID)
		}
	}
	return pgErr(tx.Commit(ctx), "save job commit")
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (model.IngestionJob, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return job, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return job, pgErr(err, "get job "+id)
	}
	job.Errors, err = s.jobErrors(ctx, id)
	return job, err
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.IngestionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM ingestion_jobs
		WHERE ($1 = '' OR source_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id LIMIT $3`
	rows, err := s.pool.Query(ctx, query, filter.SourceID, string(filter.Status), listLimit(filter.Limit))
	if err != nil {
		return nil, pgErr(err, "list jobs")
	}
	var jobs []model.IngestionJob
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			rows.Close()
			return nil, pgErr(err, "scan job")
		}
		jobs = append(jobs, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, pgErr(err, "list jobs iterate")
	}
	for i := range jobs {
		if jobs[i].Errors, err = s.jobErrors(ctx, jobs[i].ID); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func (s *PostgresStore) jobErrors(ctx context.Context, jobID string) ([]model.IngestionError, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, message, entity_id, entity_name, severity, occurred_at, retry_count, resolved
		 FROM ingestion_errors WHERE job_id = $1 ORDER BY occurred_at, id`, jobID)
	if err != nil {
		return nil, pgErr(err, "list job errors")
	}
	defer rows.Close()

	var out []model.IngestionError
	for rows.Next() {
		var e model.IngestionError
		var sev string
		if err := rows.Scan(&e.ID, &e.Message, &e.EntityID, &e.EntityName, &sev, &e.Timestamp, &e.RetryCount, &e.Resolved); err != nil {
			return nil, pgErr(err, "scan job error")
		}
		e.Severity = model.Severity(sev)
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, pgErr(rows.Err(), "job errors iterate")
}

// --- reviews ---

func (s *PostgresStore) EnqueueReview(ctx context.Context, item model.ReviewItem) (model.ReviewItem, error) {
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
	_, err = s.pool.Exec(ctx,
		`INSERT INTO review_queue (id, job_id, source_id, existing_id, revision_key, status, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.JobID, item.SourceID, item.ExistingID, item.RevisionKey(), string(item.Status), string(payload), item.CreatedAt,
	)
	return item, pgErr(err, "enqueue review")
}

func (s *PostgresStore) GetReview(ctx context.Context, id string) (model.ReviewItem, error) {
	item, err := scanPgReview(s.pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM review_queue WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return item, eris.Wrapf(ErrNotFound, "review %s", id)
	}
	return item, pgErr(err, "get review "+id)
}

func (s *PostgresStore) ListReviews(ctx context.Context, filter ReviewFilter) ([]model.ReviewItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+reviewColumns+` FROM review_queue
		 WHERE ($1 = '' OR status = $1) AND ($2 = '' OR job_id = $2)
		 ORDER BY created_at, id LIMIT $3`,
		string(filter.Status), filter.JobID, listLimit(filter.Limit))
	if err != nil {
		return nil, pgErr(err, "list reviews")
	}
	defer rows.Close()

	var out []model.ReviewItem
	for rows.Next() {
		item, err := scanPgReview(rows)
		if err != nil {
			return nil, pgErr(err, "scan review")
		}
		out = append(out, item)
	}
	return out, pgErr(rows.Err(), "list reviews iterate")
}

func (s *PostgresStore) ResolveReview(ctx context.Context, id string, status model.ReviewStatus) (model.ReviewItem, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_queue SET status = $1, resolved_at = now() WHERE id = $2 AND status = $3`,
		string(status), id, string(model.ReviewPending),
	)
	if err != nil {
		return model.ReviewItem{}, pgErr(err, "resolve review "+id)
	}
	item, err := s.GetReview(ctx, id)
	if err != nil {
		return item, err
	}
	if tag.RowsAffected() == 0 {
		return item, eris.Wrapf(ErrAlreadyResolved, "review %s is %s", id, item.Status)
	}
	return item, nil
}

// pgErr maps pgx errors onto the store sentinels.
func pgErr(err error, op string) error {
	if err == nil {
		return nil
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == "23505" {
		return eris.Wrapf(ErrDuplicateKey, "postgres: %s: %s", op, pe.ConstraintName)
	}
	var ce *pgconn.ConnectError
	if errors.As(err, &ce) || pgconn.Timeout(err) || strings.Contains(err.Error(), "closed pool") {
		return eris.Wrapf(ErrUnavailable, "postgres: %s: %s", op, err.Error())
	}
	return eris.Wrapf(err, "postgres: %s", op)
}

func scanPgStudio(row pgx.Row) (model.CandidateEntity, error) {
	var r studioRow
	if err := row.Scan(&r.ID, &r.IdentityKey, &r.NamePrefix, &r.CompactKey, &r.Name, &r.Confidence, &r.Doc, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return model.CandidateEntity{}, err
	}
	return r.entity()
}

func collectPgStudios(rows pgx.Rows) ([]model.CandidateEntity, error) {
	defer rows.Close()
	var out []model.CandidateEntity
	for rows.Next() {
		e, err := scanPgStudio(rows)
		if err != nil {
			return nil, pgErr(err, "scan studio")
		}
		out = append(out, e)
	}
	return out, pgErr(rows.Err(), "studios iterate")
}

func scanPgJob(row pgx.Row) (model.IngestionJob, error) {
	var j model.IngestionJob
	var typ, status string
	var opts []byte
	err := row.Scan(&j.ID, &j.SourceID, &typ, &status, &j.Progress, &j.TotalItems, &j.ProcessedItems, &j.FailedItems,
		&opts, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt)
	if err != nil {
		return j, err
	}
	j.Type = model.JobType(typ)
	j.Status = model.JobStatus(status)
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &j.Options); err != nil {
			return j, eris.Wrapf(err, "unmarshal options for job %s", j.ID)
		}
	}
	return j, nil
}

func scanPgReview(row pgx.Row) (model.ReviewItem, error) {
	var item model.ReviewItem
	var status string
	var payload []byte
	if err := row.Scan(&item.ID, &item.JobID, &item.SourceID, &item.ExistingID, &status, &payload, &item.CreatedAt, &item.ResolvedAt); err != nil {
		return item, err
	}
	item.Status = model.ReviewStatus(status)
	var p reviewPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return item, eris.Wrapf(err, "unmarshal review %s", item.ID)
	}
	p.apply(&item)
	return item, nil
}
