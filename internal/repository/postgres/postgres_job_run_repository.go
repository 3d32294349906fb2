package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"chronos/internal/models"
	"chronos/internal/repository"
)

type PostgresJobRunRepository struct {
	db *sql.DB
}

func NewPostgresJobRunRepository(db *sql.DB) *PostgresJobRunRepository {
	return &PostgresJobRunRepository{db: db}
}

func (r *PostgresJobRunRepository) Create(ctx context.Context, run *models.JobRun) error {
	query := `
		INSERT INTO chronos_schema.job_runs (
			id, job_id, attempt, scheduled_time, start_time,
			outcome, worker_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.JobID,
		run.Attempt,
		run.ScheduledTime,
		run.StartTime,
		run.Outcome,
		run.WorkerID,
	)
	if err != nil {
		var pqErr *pq.Error
		// 23505: unique_violation on (job_id, attempt)
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return repository.ErrDuplicateRun
		}
		return errors.Wrapf(err, "insert run for job %s attempt %d", run.JobID, run.Attempt)
	}
	return nil
}

func (r *PostgresJobRunRepository) Finalize(ctx context.Context, runID string, outcome models.RunOutcome, conditionTag, errMsg string, endedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chronos_schema.job_runs
		SET outcome = $2,
		    condition_tag = $3,
		    error_message = $4,
		    end_time = $5,
		    duration_ms = EXTRACT(EPOCH FROM ($5 - start_time)) * 1000
		WHERE id = $1
	`, runID, outcome, conditionTag, errMsg, endedAt)
	return errors.Wrapf(err, "finalize run %s", runID)
}

func (r *PostgresJobRunRepository) Find(ctx context.Context, jobID string, attempt int) (*models.JobRun, error) {
	query := selectRun + ` WHERE job_id = $1 AND attempt = $2`
	run, err := scanRun(r.db.QueryRowContext(ctx, query, jobID, attempt))
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find run for job %s attempt %d", jobID, attempt)
	}
	return run, nil
}

func (r *PostgresJobRunRepository) Last(ctx context.Context, jobID string) (*models.JobRun, error) {
	query := selectRun + ` WHERE job_id = $1 ORDER BY attempt DESC LIMIT 1`
	run, err := scanRun(r.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "last run for job %s", jobID)
	}
	return run, nil
}

func (r *PostgresJobRunRepository) FindOpen(ctx context.Context, jobID string) (*models.JobRun, error) {
	query := selectRun + ` WHERE job_id = $1 AND outcome = 'pending' ORDER BY attempt DESC LIMIT 1`
	run, err := scanRun(r.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open run for job %s", jobID)
	}
	return run, nil
}

const selectRun = `
	SELECT id, job_id, attempt, scheduled_time, start_time, end_time,
	       outcome, COALESCE(condition_tag, ''), COALESCE(error_message, ''),
	       worker_id, COALESCE(duration_ms, 0)
	FROM chronos_schema.job_runs`

func scanRun(row rowScanner) (*models.JobRun, error) {
	var run models.JobRun
	if err := row.Scan(
		&run.ID,
		&run.JobID,
		&run.Attempt,
		&run.ScheduledTime,
		&run.StartTime,
		&run.EndTime,
		&run.Outcome,
		&run.ConditionTag,
		&run.ErrorMessage,
		&run.WorkerID,
		&run.DurationMs,
	); err != nil {
		return nil, err
	}
	return &run, nil
}
