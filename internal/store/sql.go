package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/fixwright/fixwright/internal/errors"
	"github.com/fixwright/fixwright/internal/job"
)

// SQL is a Postgres-backed Store using sqlx over the pgx stdlib driver.
// The schema lives in schema.sql next to this file.
type SQL struct {
	db *sqlx.DB
}

// Open connects to Postgres with the given DSN and verifies the connection.
func Open(ctx context.Context, dsn string) (*SQL, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &SQL{db: db}, nil
}

// NewSQL wraps an existing sqlx.DB. Used by tests.
func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{db: db}
}

// Close closes the underlying connection pool.
func (s *SQL) Close() error {
	return s.db.Close()
}

// sqlJob mirrors job.Job with labels flattened to a single text column.
type sqlJob struct {
	job.Job
	LabelsCSV string `db:"labels"`
}

func toSQLJob(j *job.Job) *sqlJob {
	return &sqlJob{Job: *j, LabelsCSV: strings.Join(j.Labels, ",")}
}

func (sj *sqlJob) toJob() *job.Job {
	j := sj.Job
	if sj.LabelsCSV != "" {
		j.Labels = strings.Split(sj.LabelsCSV, ",")
	}
	return &j
}

const jobColumns = `id, url, project_id, state, title, body, labels, pr_url, state_reason, created_at, updated_at`

func (s *SQL) CreateJob(ctx context.Context, j *job.Job) error {
	sj := toSQLJob(j)
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES (:id, :url, :project_id, :state, :title, :body, :labels, :pr_url, :state_reason, :created_at, :updated_at)
		 ON CONFLICT DO NOTHING`, sj)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", j.ID, err)
	}

	// ON CONFLICT DO NOTHING keeps the insert single-row atomic; detect the
	// duplicate after the fact so callers get the sentinel.
	existing, err := s.GetJobByURL(ctx, j.URL)
	if err != nil {
		return fmt.Errorf("verify insert of job %s: %w", j.ID, err)
	}
	if existing.ID != j.ID {
		return fmt.Errorf("%w: url %s", errors.ErrDuplicateJob, j.URL)
	}
	return nil
}

func (s *SQL) GetJob(ctx context.Context, id string) (*job.Job, error) {
	var sj sqlJob
	err := s.db.GetContext(ctx, &sj,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: job %s", errors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return sj.toJob(), nil
}

func (s *SQL) GetJobByURL(ctx context.Context, url string) (*job.Job, error) {
	var sj sqlJob
	err := s.db.GetContext(ctx, &sj,
		`SELECT `+jobColumns+` FROM jobs WHERE url = $1`, url)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: url %s", errors.ErrNotFound, url)
		}
		return nil, fmt.Errorf("get job by url %s: %w", url, err)
	}
	return sj.toJob(), nil
}

func (s *SQL) UpdateJob(ctx context.Context, j *job.Job) error {
	sj := toSQLJob(j)
	res, err := s.db.NamedExecContext(ctx,
		`UPDATE jobs SET state = :state, title = :title, body = :body,
		        labels = :labels, pr_url = :pr_url, state_reason = :state_reason,
		        updated_at = :updated_at
		 WHERE id = :id`, sj)
	if err != nil {
		return fmt.Errorf("update job %s: %w", j.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: job %s", errors.ErrNotFound, j.ID)
	}
	return nil
}

func (s *SQL) ListJobs(ctx context.Context, filter JobFilter) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var clauses []string
	var args []any

	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		q, inArgs, err := sqlx.In(`state IN (?)`, states)
		if err != nil {
			return nil, fmt.Errorf("build state filter: %w", err)
		}
		clauses = append(clauses, q)
		args = append(args, inArgs...)
	}
	if filter.ProjectID != "" {
		clauses = append(clauses, `project_id = ?`)
		args = append(args, filter.ProjectID)
	}

	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += ` ORDER BY created_at ASC`
	query = s.db.Rebind(query)

	var rows []sqlJob
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	result := make([]*job.Job, len(rows))
	for i := range rows {
		result[i] = rows[i].toJob()
	}
	return result, nil
}

func (s *SQL) CreateSession(ctx context.Context, sess *job.Session) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO sessions (id, job_id, status, turn_count, cost_usd, resumable, started_at, last_activity_at)
		 VALUES (:id, :job_id, :status, :turn_count, :cost_usd, :resumable, :started_at, :last_activity_at)`, sess)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQL) UpdateSession(ctx context.Context, sess *job.Session) error {
	res, err := s.db.NamedExecContext(ctx,
		`UPDATE sessions SET status = :status, turn_count = :turn_count,
		        cost_usd = :cost_usd, resumable = :resumable,
		        last_activity_at = :last_activity_at
		 WHERE id = :id`, sess)
	if err != nil {
		return fmt.Errorf("update session %s: %w", sess.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: session %s", errors.ErrSessionNotFound, sess.ID)
	}
	return nil
}

func (s *SQL) ActiveSession(ctx context.Context, jobID string) (*job.Session, error) {
	var sess job.Session
	err := s.db.GetContext(ctx, &sess,
		`SELECT id, job_id, status, turn_count, cost_usd, resumable, started_at, last_activity_at
		 FROM sessions WHERE job_id = $1 AND status = 'active'
		 ORDER BY started_at DESC LIMIT 1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no active session for job %s", errors.ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("active session for job %s: %w", jobID, err)
	}
	return &sess, nil
}

func (s *SQL) PutWorkRecord(ctx context.Context, r *job.WorkRecord) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO work_records (job_id, session_id, branch_ref, workspace_ref, attempts, total_cost_usd, artifact_url)
		 VALUES (:job_id, :session_id, :branch_ref, :workspace_ref, :attempts, :total_cost_usd, :artifact_url)
		 ON CONFLICT (job_id)
		 DO UPDATE SET session_id = EXCLUDED.session_id,
		               branch_ref = EXCLUDED.branch_ref,
		               workspace_ref = EXCLUDED.workspace_ref,
		               attempts = EXCLUDED.attempts,
		               total_cost_usd = EXCLUDED.total_cost_usd,
		               artifact_url = EXCLUDED.artifact_url`, r)
	if err != nil {
		return fmt.Errorf("put work record for job %s: %w", r.JobID, err)
	}
	return nil
}

func (s *SQL) GetWorkRecord(ctx context.Context, jobID string) (*job.WorkRecord, error) {
	var r job.WorkRecord
	err := s.db.GetContext(ctx, &r,
		`SELECT job_id, session_id, branch_ref, workspace_ref, attempts, total_cost_usd, artifact_url
		 FROM work_records WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: work record for job %s", errors.ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("get work record for job %s: %w", jobID, err)
	}
	return &r, nil
}

// sqlBatch mirrors job.ParallelBatch with job IDs flattened to text.
type sqlBatch struct {
	job.ParallelBatch
	JobIDsCSV string `db:"job_ids"`
}

func toSQLBatch(b *job.ParallelBatch) *sqlBatch {
	return &sqlBatch{ParallelBatch: *b, JobIDsCSV: strings.Join(b.JobIDs, ",")}
}

func (sb *sqlBatch) toBatch() *job.ParallelBatch {
	b := sb.ParallelBatch
	if sb.JobIDsCSV != "" {
		b.JobIDs = strings.Split(sb.JobIDsCSV, ",")
	}
	return &b
}

func (s *SQL) CreateBatch(ctx context.Context, b *job.ParallelBatch) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO batches (id, job_ids, max_concurrency, status, completed, failed, cancelled, pending, in_progress, started_at, finished_at)
		 VALUES (:id, :job_ids, :max_concurrency, :status, :completed, :failed, :cancelled, :pending, :in_progress, :started_at, :finished_at)`,
		toSQLBatch(b))
	if err != nil {
		return fmt.Errorf("insert batch %s: %w", b.ID, err)
	}
	return nil
}

func (s *SQL) UpdateBatch(ctx context.Context, b *job.ParallelBatch) error {
	res, err := s.db.NamedExecContext(ctx,
		`UPDATE batches SET status = :status, completed = :completed, failed = :failed,
		        cancelled = :cancelled, pending = :pending, in_progress = :in_progress,
		        finished_at = :finished_at
		 WHERE id = :id`, toSQLBatch(b))
	if err != nil {
		return fmt.Errorf("update batch %s: %w", b.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: batch %s", errors.ErrNotFound, b.ID)
	}
	return nil
}

func (s *SQL) GetBatch(ctx context.Context, id string) (*job.ParallelBatch, error) {
	var sb sqlBatch
	err := s.db.GetContext(ctx, &sb,
		`SELECT id, job_ids, max_concurrency, status, completed, failed, cancelled, pending, in_progress, started_at, finished_at
		 FROM batches WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: batch %s", errors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	return sb.toBatch(), nil
}
