package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"chronos/internal/models"
	"chronos/internal/state"
)

type PostgresDLQRepository struct {
	db *sql.DB
}

func NewPostgresDLQRepository(db *sql.DB) *PostgresDLQRepository {
	return &PostgresDLQRepository{db: db}
}

func (r *PostgresDLQRepository) Create(ctx context.Context, event *models.DLQEvent) error {
	query := `
		INSERT INTO chronos_schema.dlq_events (id, job_id, run_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.JobID, event.RunID, event.Reason, event.CreatedAt)
	return errors.Wrapf(err, "insert dlq event for job %s", event.JobID)
}

// List joins the current job status so callers see which events were
// resolved by a replay.
func (r *PostgresDLQRepository) List(ctx context.Context, limit int) ([]models.DLQEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT e.id, e.job_id, e.run_id, e.reason, e.created_at,
		       j.status AS job_status
		FROM chronos_schema.dlq_events e
		LEFT JOIN chronos_schema.jobs j ON j.id = e.job_id
		ORDER BY e.created_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list dlq events")
	}
	defer rows.Close()

	var events []models.DLQEvent
	for rows.Next() {
		var (
			ev        models.DLQEvent
			jobStatus sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.RunID, &ev.Reason, &ev.CreatedAt, &jobStatus); err != nil {
			return nil, err
		}
		ev.Resolved = !jobStatus.Valid || jobStatus.String != state.StatusFailed.String()
		events = append(events, ev)
	}
	return events, rows.Err()
}
