// Package engine ties the trigger store, dispatcher, repositories, executors
// and event bus into the orchestration core. All job state changes go through
// conditional status updates, so concurrent schedulers (or a duplicated fire)
// collapse to exactly one winner.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chronos/internal/custom_errors"
	"chronos/internal/dispatcher"
	"chronos/internal/events"
	"chronos/internal/executor"
	"chronos/internal/models"
	"chronos/internal/repository"
	"chronos/internal/retry"
	"chronos/internal/schedule"
	"chronos/internal/state"
	"chronos/internal/trigger"
)

// ErrJobPaused is returned when an immediate fire is requested for a paused
// job. Resume first.
var ErrJobPaused = errors.New("job is paused")

type Params struct {
	Jobs     repository.JobRepository
	Runs     repository.JobRunRepository
	DLQ      repository.DLQRepository
	Registry *executor.Registry
	Bus      *events.Bus
	Logger   *zap.Logger
	Instance string
	Workers  int
	Tick     time.Duration
	Grace    time.Duration
	// Clock defaults to time.Now; tests inject a fake.
	Clock func() time.Time
}

type Engine struct {
	jobs     repository.JobRepository
	runs     repository.JobRunRepository
	dlq      repository.DLQRepository
	registry *executor.Registry
	bus      *events.Bus
	logger   *zap.Logger

	triggers *trigger.Store
	workers  *dispatcher.Dispatcher

	instance string
	tick     time.Duration
	grace    time.Duration
	now      func() time.Time
}

func New(p Params) *Engine {
	if p.Clock == nil {
		p.Clock = time.Now
	}
	if p.Tick <= 0 {
		p.Tick = time.Second
	}
	if p.Grace <= 0 {
		p.Grace = 30 * time.Second
	}
	return &Engine{
		jobs:     p.Jobs,
		runs:     p.Runs,
		dlq:      p.DLQ,
		registry: p.Registry,
		bus:      p.Bus,
		logger:   p.Logger,
		triggers: trigger.NewStore(p.Logger),
		workers:  dispatcher.New(p.Workers, p.Logger),
		instance: p.Instance,
		tick:     p.Tick,
		grace:    p.Grace,
		now:      p.Clock,
	}
}

// Triggers exposes the in-memory trigger index, mainly for inspection.
func (e *Engine) Triggers() *trigger.Store {
	return e.triggers
}

// Wait blocks until every in-flight execution has finished.
func (e *Engine) Wait() {
	e.workers.Wait()
}

// CreateJob validates, persists and schedules a new job. The job enters the
// store as PENDING and transitions to SCHEDULED once its trigger is
// registered.
func (e *Engine) CreateJob(ctx context.Context, job *models.Job) error {
	if err := e.validate(job); err != nil {
		return err
	}

	now := e.now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = state.StatusPending
	job.CreatedAt = now

	if err := e.jobs.Create(ctx, job); err != nil {
		return errors.Wrap(err, "create job")
	}
	e.publish(events.JobCreated, job.ID, "", 0, "")

	if _, err := e.jobs.UpdateStatus(ctx, job.ID, state.StatusPending, state.StatusScheduled); err != nil {
		return err
	}
	job.Status = state.StatusScheduled
	nextRun, err := e.triggers.Register(job, now)
	if err != nil {
		return err
	}
	job.NextRunAt = &nextRun
	if err := e.jobs.SetRunTimes(ctx, job.ID, nil, &nextRun, ""); err != nil {
		return err
	}
	e.publish(events.JobScheduled, job.ID, "", 0, "")
	e.logger.Info("job scheduled",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.Time("next_run_at", nextRun))
	return nil
}

// UpdateJob replaces the job's schedule and retry policy; every other field
// is immutable after creation. Rejected while a run is in flight so a live
// attempt never observes a policy swap. When the job holds a live unpaused
// trigger, the trigger is recomputed from the new schedule.
func (e *Engine) UpdateJob(ctx context.Context, id string, sched models.Schedule, policy *models.RetryPolicy) error {
	job, err := e.jobs.Find(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == state.StatusRunning {
		return fmt.Errorf("cannot update job %s while a run is in flight", id)
	}

	job.Schedule = sched
	job.RetryPolicy = policy
	if err := e.validate(job); err != nil {
		return err
	}
	if err := e.jobs.Update(ctx, job); err != nil {
		return err
	}

	if job.Status == state.StatusScheduled && e.triggers.Has(id) && !e.triggers.IsPaused(id) {
		nextRun, err := e.triggers.Register(job, e.now())
		if err != nil {
			return err
		}
		if err := e.jobs.SetRunTimes(ctx, id, nil, &nextRun, ""); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return e.jobs.Find(ctx, id)
}

func (e *Engine) ListJobs(ctx context.Context, statuses ...state.Status) ([]models.Job, error) {
	if len(statuses) == 0 {
		statuses = state.AllStatuses
	}
	return e.jobs.ListByStatus(ctx, statuses...)
}

// DeleteJob removes the job, its run history and its trigger.
func (e *Engine) DeleteJob(ctx context.Context, id string) error {
	e.triggers.Cancel(id)
	return e.jobs.Delete(ctx, id)
}

// PauseJob suspends scheduling. The trigger is retained so Resume can pick
// the cadence back up; occurrences missed while paused are never fired.
func (e *Engine) PauseJob(ctx context.Context, id string) error {
	ok, err := e.jobs.UpdateStatus(ctx, id, state.StatusScheduled, state.StatusPaused)
	if err != nil {
		return err
	}
	if !ok {
		job, findErr := e.jobs.Find(ctx, id)
		if findErr != nil {
			return findErr
		}
		return fmt.Errorf("cannot pause job %s in status %s", id, job.Status)
	}
	e.triggers.Pause(id)
	e.publish(events.JobPaused, id, "", 0, "")
	return nil
}

// ResumeJob recomputes the next fire instant from the schedule as of now.
func (e *Engine) ResumeJob(ctx context.Context, id string) error {
	job, err := e.jobs.Find(ctx, id)
	if err != nil {
		return err
	}
	ok, err := e.jobs.UpdateStatus(ctx, id, state.StatusPaused, state.StatusScheduled)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cannot resume job %s in status %s", id, job.Status)
	}
	nextRun, err := e.triggers.Resume(job, e.now())
	if err != nil {
		return err
	}
	if err := e.jobs.SetRunTimes(ctx, id, nil, &nextRun, ""); err != nil {
		return err
	}
	e.publish(events.JobResumed, id, "", 0, "")
	return nil
}

// CancelJob stops the job permanently. Cancelling a running job lets the
// in-flight attempt finish but discards its outcome: no retry, no DLQ entry,
// no rescheduling.
func (e *Engine) CancelJob(ctx context.Context, id string) error {
	job, err := e.jobs.Find(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == state.StatusCancelled {
		return nil
	}
	if !state.IsValidTransition(job.Status, state.StatusCancelled) {
		return fmt.Errorf("cannot cancel job %s in status %s", id, job.Status)
	}
	ok, err := e.jobs.UpdateStatus(ctx, id, job.Status, state.StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %s changed state concurrently, cancel again", id)
	}
	e.triggers.Cancel(id)
	e.publish(events.JobCancelled, id, "", 0, "")
	return nil
}

// TriggerJobNow advances the job's trigger to fire on the next tick without
// disturbing the regular cadence. Rejected for paused jobs.
func (e *Engine) TriggerJobNow(ctx context.Context, id string) error {
	job, err := e.jobs.Find(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == state.StatusPaused {
		return ErrJobPaused
	}
	if job.Status != state.StatusScheduled {
		return fmt.Errorf("cannot trigger job %s in status %s", id, job.Status)
	}
	if err := e.triggers.TriggerNow(job, e.now()); err != nil {
		if errors.Is(err, trigger.ErrPaused) {
			return ErrJobPaused
		}
		return err
	}
	return nil
}

// ReplayFailedJob puts a dead-lettered job back on the schedule to fire
// immediately. Its DLQ events read as resolved once the job leaves FAILED.
func (e *Engine) ReplayFailedJob(ctx context.Context, id string) error {
	job, err := e.jobs.Find(ctx, id)
	if err != nil {
		return err
	}
	ok, err := e.jobs.UpdateStatus(ctx, id, state.StatusFailed, state.StatusScheduled)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cannot replay job %s in status %s", id, job.Status)
	}
	job.Status = state.StatusScheduled
	now := e.now()
	e.triggers.RegisterAt(job, now)
	if err := e.jobs.SetRunTimes(ctx, id, nil, &now, ""); err != nil {
		return err
	}
	e.publish(events.JobScheduled, id, "", 0, "replay")
	return nil
}

// DeadLetters lists recent DLQ escalations, newest first.
func (e *Engine) DeadLetters(ctx context.Context, limit int) ([]models.DLQEvent, error) {
	return e.dlq.List(ctx, limit)
}

func (e *Engine) validate(job *models.Job) error {
	verr := &custom_errors.ValidationError{}
	if job.Name == "" {
		verr.Addf("job name is required")
	}
	if job.Type == "" {
		verr.Addf("job type is required")
	} else if !e.registry.Exists(job.Type) {
		verr.Addf("no executor registered for job type '%s'", job.Type)
	}
	if err := schedule.Validate(job.Schedule); err != nil {
		var sv *custom_errors.ValidationError
		if errors.As(err, &sv) {
			verr.Errors = append(verr.Errors, sv.Errors...)
		} else {
			verr.Add(err)
		}
	}
	if p := job.RetryPolicy; p != nil {
		if p.MaxAttempts < 0 {
			verr.Addf("max_attempts must not be negative")
		}
		if p.Backoff != models.BackoffFixed && p.Backoff != models.BackoffExponential {
			verr.Addf("unknown backoff strategy '%s'", p.Backoff)
		}
		if p.MaxAttempts > 0 && p.BackoffSeconds <= 0 {
			verr.Addf("backoff_seconds must be positive")
		}
	}
	if verr.HasError() {
		return verr
	}
	return nil
}

// runFiring executes one due firing on a worker goroutine. Every step that
// matters is guarded by a conditional status update, so a stale trigger, a
// duplicated firing or a concurrent scheduler all degrade to a no-op.
func (e *Engine) runFiring(ctx context.Context, f trigger.Firing) {
	job, err := e.jobs.Find(ctx, f.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			e.triggers.Cancel(f.JobID)
			return
		}
		e.logger.Error("load job for firing", zap.String("job_id", f.JobID), zap.Error(err))
		e.triggers.Restore(f)
		return
	}

	switch job.Status {
	case state.StatusScheduled:
	case state.StatusSucceeded, state.StatusFailed, state.StatusCancelled:
		// stale trigger for a finished job; drop any re-armed recurrence too
		e.triggers.Cancel(job.ID)
		return
	default:
		return
	}

	ok, err := e.jobs.UpdateStatus(ctx, job.ID, state.StatusScheduled, state.StatusRunning)
	if err != nil {
		e.logger.Error("mark job running", zap.String("job_id", job.ID), zap.Error(err))
		e.triggers.Restore(f)
		return
	}
	if !ok {
		// lost the race to another scheduler instance
		return
	}

	attempt := 1
	if last, err := e.runs.Last(ctx, job.ID); err == nil {
		attempt = last.Attempt + 1
	} else if !errors.Is(err, repository.ErrNotFound) {
		e.logger.Error("load last run", zap.String("job_id", job.ID), zap.Error(err))
		e.rollbackToScheduled(ctx, job.ID)
		return
	}

	now := e.now()
	run := &models.JobRun{
		ID:            uuid.NewString(),
		JobID:         job.ID,
		Attempt:       attempt,
		ScheduledTime: f.ScheduledFor,
		StartTime:     now,
		Outcome:       models.OutcomePending,
		WorkerID:      e.instance,
	}
	if err := e.runs.Create(ctx, run); err != nil {
		if errors.Is(err, repository.ErrDuplicateRun) {
			// another instance already owns this attempt
			e.rollbackToScheduled(ctx, job.ID)
			return
		}
		e.logger.Error("create run", zap.String("job_id", job.ID), zap.Error(err))
		e.rollbackToScheduled(ctx, job.ID)
		return
	}

	if err := e.jobs.SetRunTimes(ctx, job.ID, &now, nil, e.instance); err != nil {
		e.logger.Warn("record run times", zap.String("job_id", job.ID), zap.Error(err))
	}
	e.publish(events.JobStarted, job.ID, run.ID, attempt, "")
	if f.Misfired {
		e.logger.Warn("firing misfired trigger late",
			zap.String("job_id", job.ID),
			zap.Time("scheduled_for", f.ScheduledFor),
			zap.Time("fired_at", f.FireAt))
	}

	ex, err := e.registry.Lookup(job.Type)
	if err != nil {
		e.completeFailure(ctx, job, run, executor.Fail(executor.TagValidationError, "%v", err))
		return
	}

	if execErr := ex.Execute(ctx, job, run); execErr != nil {
		e.completeFailure(ctx, job, run, execErr)
		return
	}
	e.completeSuccess(ctx, job, run)
}

func (e *Engine) completeSuccess(ctx context.Context, job *models.Job, run *models.JobRun) {
	now := e.now()
	if err := e.runs.Finalize(ctx, run.ID, models.OutcomeSuccess, "", "", now); err != nil {
		e.logger.Error("finalize run", zap.String("run_id", run.ID), zap.Error(err))
	}

	target := state.StatusSucceeded
	if job.Schedule.Recurring() {
		target = state.StatusScheduled
	}
	ok, err := e.jobs.UpdateStatus(ctx, job.ID, state.StatusRunning, target)
	if err != nil {
		e.logger.Error("complete job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if !ok {
		// cancelled mid-run: outcome recorded, state effects discarded
		e.discardIfCancelled(ctx, job.ID)
		return
	}

	e.publish(events.JobSucceeded, job.ID, run.ID, run.Attempt, "")
	e.logger.Info("job succeeded",
		zap.String("job_id", job.ID),
		zap.Int("attempt", run.Attempt),
		zap.Int64("duration_ms", now.Sub(run.StartTime).Milliseconds()))

	if !job.Schedule.Recurring() {
		e.triggers.Cancel(job.ID)
		if err := e.jobs.SetRunTimes(ctx, job.ID, nil, nil, ""); err != nil {
			e.logger.Warn("clear next run", zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}

	// A retry trigger replaced the base cadence; put it back at the next
	// occurrence. The normal case re-armed already during PopDue.
	if !e.triggers.Has(job.ID) {
		if next, found := schedule.NextAfter(job.Schedule, now); found {
			e.triggers.RegisterAt(job, next)
		}
	}
	if next, found := e.triggers.NextFireAt(job.ID); found {
		if err := e.jobs.SetRunTimes(ctx, job.ID, nil, &next, ""); err != nil {
			e.logger.Warn("record next run", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

func (e *Engine) completeFailure(ctx context.Context, job *models.Job, run *models.JobRun, execErr error) {
	now := e.now()
	tag := string(executor.Classify(execErr))
	if err := e.runs.Finalize(ctx, run.ID, models.OutcomeFailure, tag, execErr.Error(), now); err != nil {
		e.logger.Error("finalize run", zap.String("run_id", run.ID), zap.Error(err))
	}
	e.publish(events.JobFailed, job.ID, run.ID, run.Attempt, tag)
	e.logger.Warn("job run failed",
		zap.String("job_id", job.ID),
		zap.Int("attempt", run.Attempt),
		zap.String("condition", tag),
		zap.Error(execErr))

	if retry.ShouldRetry(job.RetryPolicy, run.Attempt, tag) {
		ok, err := e.jobs.UpdateStatus(ctx, job.ID, state.StatusRunning, state.StatusScheduled)
		if err != nil {
			e.logger.Error("reschedule for retry", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		if !ok {
			e.discardIfCancelled(ctx, job.ID)
			return
		}
		at := retry.NextRetryAt(job.RetryPolicy, run.Attempt, now)
		e.triggers.RegisterRetry(job.ID, job.Priority, at)
		if err := e.jobs.SetRunTimes(ctx, job.ID, nil, &at, ""); err != nil {
			e.logger.Warn("record retry time", zap.String("job_id", job.ID), zap.Error(err))
		}
		e.publish(events.JobRetryScheduled, job.ID, run.ID, run.Attempt, tag)
		e.logger.Info("retry scheduled",
			zap.String("job_id", job.ID),
			zap.Int("failed_attempt", run.Attempt),
			zap.Time("retry_at", at))
		return
	}

	e.escalate(ctx, job, run, tag, execErr)
}

// escalate moves an exhausted job to FAILED and records a DLQ event.
func (e *Engine) escalate(ctx context.Context, job *models.Job, run *models.JobRun, tag string, execErr error) {
	ok, err := e.jobs.UpdateStatus(ctx, job.ID, state.StatusRunning, state.StatusFailed)
	if err != nil {
		e.logger.Error("mark job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if !ok {
		e.discardIfCancelled(ctx, job.ID)
		return
	}
	e.triggers.Cancel(job.ID)

	now := e.now()
	event := &models.DLQEvent{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		RunID:     run.ID,
		Reason:    fmt.Sprintf("%s after %d attempt(s): %v", tag, run.Attempt, execErr),
		CreatedAt: now,
	}
	if err := e.dlq.Create(ctx, event); err != nil {
		e.logger.Error("write dlq event", zap.String("job_id", job.ID), zap.Error(err))
	}
	if err := e.jobs.SetRunTimes(ctx, job.ID, nil, nil, ""); err != nil {
		e.logger.Warn("clear next run", zap.String("job_id", job.ID), zap.Error(err))
	}
	e.publish(events.JobDLQEscalated, job.ID, run.ID, run.Attempt, event.Reason)
	e.logger.Error("job escalated to dead letter queue",
		zap.String("job_id", job.ID),
		zap.Int("attempts", run.Attempt),
		zap.String("reason", event.Reason))
}

// rollbackToScheduled undoes a RUNNING claim that never produced a run.
func (e *Engine) rollbackToScheduled(ctx context.Context, jobID string) {
	if _, err := e.jobs.UpdateStatus(ctx, jobID, state.StatusRunning, state.StatusScheduled); err != nil {
		e.logger.Error("rollback running status", zap.String("job_id", jobID), zap.Error(err))
	}
}

// discardIfCancelled cleans up the trigger when a completion CAS lost to a
// concurrent cancellation.
func (e *Engine) discardIfCancelled(ctx context.Context, jobID string) {
	job, err := e.jobs.Find(ctx, jobID)
	if err != nil {
		return
	}
	if job.Status == state.StatusCancelled {
		e.triggers.Cancel(jobID)
		e.logger.Info("discarding outcome of cancelled job", zap.String("job_id", jobID))
	}
}

func (e *Engine) publish(t events.Type, jobID, runID string, attempt int, reason string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Type:    t,
		JobID:   jobID,
		RunID:   runID,
		Attempt: attempt,
		Reason:  reason,
		At:      e.now(),
	})
}
