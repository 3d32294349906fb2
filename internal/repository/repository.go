// Package repository defines the narrow persistence contract the
// orchestration core depends on. The core is agnostic to the storage
// technology; it only needs these operations, and UpdateStatus must be a
// linearizable conditional update.
package repository

import (
	"context"
	"errors"
	"time"

	"chronos/internal/models"
	"chronos/internal/state"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicateRun is returned when a run already exists for the same
	// (job, attempt) pair. Fire paths treat it as "someone else already did
	// this", not as a failure.
	ErrDuplicateRun = errors.New("job run already exists for this attempt")
)

type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	Find(ctx context.Context, id string) (*models.Job, error)
	// Update persists the job's mutable configuration: schedule and retry
	// policy. Everything else is immutable after Create; status moves only
	// through UpdateStatus.
	Update(ctx context.Context, job *models.Job) error
	// UpdateStatus performs an atomic compare-and-set on the job's status.
	// It returns false when the persisted status did not match from.
	UpdateStatus(ctx context.Context, id string, from, to state.Status) (bool, error)
	// SetRunTimes records informational bookkeeping after a fire.
	SetRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time, workerID string) error
	ListByStatus(ctx context.Context, statuses ...state.Status) ([]models.Job, error)
	Delete(ctx context.Context, id string) error
}

type JobRunRepository interface {
	// Create inserts a run; ErrDuplicateRun when (jobID, attempt) exists.
	Create(ctx context.Context, run *models.JobRun) error
	Finalize(ctx context.Context, runID string, outcome models.RunOutcome, conditionTag, errMsg string, endedAt time.Time) error
	Find(ctx context.Context, jobID string, attempt int) (*models.JobRun, error)
	// Last returns the run with the highest attempt for the job, or
	// ErrNotFound when the job never ran.
	Last(ctx context.Context, jobID string) (*models.JobRun, error)
	// FindOpen returns the job's run that is still pending an outcome, used
	// by crash recovery.
	FindOpen(ctx context.Context, jobID string) (*models.JobRun, error)
}

type DLQRepository interface {
	Create(ctx context.Context, event *models.DLQEvent) error
	// List returns recent DLQ events, newest first, with Resolved computed
	// from the referenced job's current status.
	List(ctx context.Context, limit int) ([]models.DLQEvent, error)
}
