package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"chronos/internal/models"
	"chronos/internal/repository"
	"chronos/internal/state"
)

type PostgresJobRepository struct {
	db *sql.DB
}

func NewPostgresJobRepository(db *sql.DB) *PostgresJobRepository {
	return &PostgresJobRepository{db: db}
}

func (r *PostgresJobRepository) Create(ctx context.Context, job *models.Job) error {
	scheduleJSON, err := json.Marshal(job.Schedule)
	if err != nil {
		return errors.Wrap(err, "marshal schedule")
	}
	var retryJSON []byte
	if job.RetryPolicy != nil {
		if retryJSON, err = json.Marshal(job.RetryPolicy); err != nil {
			return errors.Wrap(err, "marshal retry policy")
		}
	}

	query := `
		INSERT INTO chronos_schema.jobs (
			id, name, type, status, priority, owner_id,
			payload, schedule, retry_policy, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.ExecContext(ctx, query,
		job.ID,
		job.Name,
		job.Type,
		job.Status,
		int(job.Priority),
		job.OwnerID,
		[]byte(job.Payload),
		scheduleJSON,
		retryJSON,
		job.CreatedAt,
	)
	return errors.Wrapf(err, "insert job %s", job.ID)
}

func (r *PostgresJobRepository) Find(ctx context.Context, id string) (*models.Job, error) {
	query := `
		SELECT id, name, type, status, priority, owner_id,
		       payload, schedule, retry_policy, worker_id,
		       created_at, last_run_at, next_run_at
		FROM chronos_schema.jobs
		WHERE id = $1
	`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find job %s", id)
	}
	return job, nil
}

func (r *PostgresJobRepository) Update(ctx context.Context, job *models.Job) error {
	scheduleJSON, err := json.Marshal(job.Schedule)
	if err != nil {
		return errors.Wrap(err, "marshal schedule")
	}
	var retryJSON []byte
	if job.RetryPolicy != nil {
		if retryJSON, err = json.Marshal(job.RetryPolicy); err != nil {
			return errors.Wrap(err, "marshal retry policy")
		}
	}

	query := `
		UPDATE chronos_schema.jobs
		SET schedule = $2,
		    retry_policy = $3
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, job.ID, scheduleJSON, retryJSON)
	if err != nil {
		return errors.Wrapf(err, "update job %s", job.ID)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateStatus is the single conditional write every status transition goes
// through. The WHERE clause on the expected status makes it a linearizable
// compare-and-set: under concurrent fire/cancel/pause exactly one caller
// sees an affected row.
func (r *PostgresJobRepository) UpdateStatus(ctx context.Context, id string, from, to state.Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE chronos_schema.jobs
		SET status = $3
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, errors.Wrapf(err, "update status of job %s", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *PostgresJobRepository) SetRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time, workerID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chronos_schema.jobs
		SET last_run_at = COALESCE($2, last_run_at),
		    next_run_at = $3,
		    worker_id = COALESCE(NULLIF($4, ''), worker_id)
		WHERE id = $1
	`, id, lastRunAt, nextRunAt, workerID)
	return errors.Wrapf(err, "set run times of job %s", id)
}

func (r *PostgresJobRepository) ListByStatus(ctx context.Context, statuses ...state.Status) ([]models.Job, error) {
	strs := make([]string, len(statuses))
	for i, s := range statuses {
		strs[i] = s.String()
	}

	query := `
		SELECT id, name, type, status, priority, owner_id,
		       payload, schedule, retry_policy, worker_id,
		       created_at, last_run_at, next_run_at
		FROM chronos_schema.jobs
		WHERE status = ANY($1)
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(strs))
	if err != nil {
		return nil, errors.Wrap(err, "list jobs by status")
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *PostgresJobRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chronos_schema.jobs WHERE id = $1`, id)
	if err != nil {
		return errors.Wrapf(err, "delete job %s", id)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job          models.Job
		priority     int
		payload      []byte
		scheduleJSON []byte
		retryJSON    []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Name,
		&job.Type,
		&job.Status,
		&priority,
		&job.OwnerID,
		&payload,
		&scheduleJSON,
		&retryJSON,
		&job.WorkerID,
		&job.CreatedAt,
		&job.LastRunAt,
		&job.NextRunAt,
	); err != nil {
		return nil, err
	}
	job.Priority = models.Priority(priority)
	job.Payload = payload
	if err := json.Unmarshal(scheduleJSON, &job.Schedule); err != nil {
		return nil, errors.Wrap(err, "unmarshal schedule")
	}
	if len(retryJSON) > 0 {
		job.RetryPolicy = &models.RetryPolicy{}
		if err := json.Unmarshal(retryJSON, job.RetryPolicy); err != nil {
			return nil, errors.Wrap(err, "unmarshal retry policy")
		}
	}
	return &job, nil
}
