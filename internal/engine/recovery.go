package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chronos/internal/events"
	"chronos/internal/executor"
	"chronos/internal/models"
	"chronos/internal/repository"
	"chronos/internal/retry"
	"chronos/internal/state"
)

// Recover rebuilds the in-memory trigger index from persisted jobs after a
// restart, and settles jobs stranded in RUNNING by a crashed worker: their
// open run fails with the worker_lost condition and flows through the normal
// retry/escalation path.
func (e *Engine) Recover(ctx context.Context) error {
	now := e.now()

	stuck, err := e.jobs.ListByStatus(ctx, state.StatusRunning)
	if err != nil {
		return errors.Wrap(err, "list running jobs")
	}
	for i := range stuck {
		e.recoverStuck(ctx, &stuck[i])
	}

	scheduled, err := e.jobs.ListByStatus(ctx, state.StatusScheduled)
	if err != nil {
		return errors.Wrap(err, "list scheduled jobs")
	}
	for i := range scheduled {
		job := &scheduled[i]
		if e.triggers.Has(job.ID) {
			// already holds a retry trigger from stuck-job settlement
			continue
		}
		if e.rebuildFromNextRun(ctx, job, now) {
			continue
		}
		nextRun, err := e.triggers.Register(job, now)
		if err != nil {
			e.logger.Error("rebuild trigger", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		if err := e.jobs.SetRunTimes(ctx, job.ID, nil, &nextRun, ""); err != nil {
			e.logger.Warn("record next run", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	paused, err := e.jobs.ListByStatus(ctx, state.StatusPaused)
	if err != nil {
		return errors.Wrap(err, "list paused jobs")
	}
	for i := range paused {
		job := &paused[i]
		if _, err := e.triggers.Register(job, now); err != nil {
			e.logger.Error("rebuild trigger", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		e.triggers.Pause(job.ID)
	}

	e.logger.Info("recovery complete",
		zap.Int("stuck_running", len(stuck)),
		zap.Int("scheduled", len(scheduled)),
		zap.Int("paused", len(paused)))
	return nil
}

// rebuildFromNextRun seeds the trigger from the persisted next_run_at when
// that instant carries more than the base schedule. A pending retry (the last
// run failed) is re-armed as a retry trigger, so an instant that came due
// while the process was down fires immediately instead of going through
// misfire handling; a future instant is kept rather than recomputed.
func (e *Engine) rebuildFromNextRun(ctx context.Context, job *models.Job, now time.Time) bool {
	if job.NextRunAt == nil {
		return false
	}

	last, err := e.runs.Last(ctx, job.ID)
	if err == nil && last.Outcome == models.OutcomeFailure {
		at := *job.NextRunAt
		if at.Before(now) {
			at = now
		}
		e.triggers.RegisterRetry(job.ID, job.Priority, at)
		if err := e.jobs.SetRunTimes(ctx, job.ID, nil, &at, ""); err != nil {
			e.logger.Warn("record retry time", zap.String("job_id", job.ID), zap.Error(err))
		}
		return true
	}

	if job.NextRunAt.After(now) {
		e.triggers.RegisterAt(job, *job.NextRunAt)
		return true
	}
	return false
}

func (e *Engine) recoverStuck(ctx context.Context, job *models.Job) {
	now := e.now()
	tag := string(executor.TagWorkerLost)

	run, err := e.runs.FindOpen(ctx, job.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		e.logger.Error("find open run", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	attempt := 0
	runID := ""
	if run != nil {
		attempt = run.Attempt
		runID = run.ID
		if err := e.runs.Finalize(ctx, run.ID, models.OutcomeFailure, tag, "worker lost before completing the run", now); err != nil {
			e.logger.Error("finalize orphaned run", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	e.publish(events.JobFailed, job.ID, runID, attempt, tag)
	e.logger.Warn("recovered job stranded in running state",
		zap.String("job_id", job.ID),
		zap.Int("attempt", attempt))

	if retry.ShouldRetry(job.RetryPolicy, attempt, tag) {
		ok, err := e.jobs.UpdateStatus(ctx, job.ID, state.StatusRunning, state.StatusScheduled)
		if err != nil || !ok {
			e.logger.Error("reschedule recovered job", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		at := retry.NextRetryAt(job.RetryPolicy, attempt, now)
		e.triggers.RegisterRetry(job.ID, job.Priority, at)
		if err := e.jobs.SetRunTimes(ctx, job.ID, nil, &at, ""); err != nil {
			e.logger.Warn("record retry time", zap.String("job_id", job.ID), zap.Error(err))
		}
		e.publish(events.JobRetryScheduled, job.ID, runID, attempt, tag)
		return
	}

	fakeRun := &models.JobRun{ID: runID, Attempt: attempt}
	e.escalate(ctx, job, fakeRun, tag, errors.New("worker lost before completing the run"))
}
