// Package memory implements the repository contracts on in-process maps.
// Used by tests and by embedded single-process deployments that have no
// Postgres; the mutex makes UpdateStatus linearizable.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"chronos/internal/models"
	"chronos/internal/repository"
	"chronos/internal/state"
)

type Store struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	runs map[string][]*models.JobRun // keyed by job id, ordered by attempt
	dlq  []*models.DLQEvent
}

func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*models.Job),
		runs: make(map[string][]*models.JobRun),
	}
}

// Jobs, Runs and DLQ expose the store under each repository interface.
func (s *Store) Jobs() repository.JobRepository    { return (*jobRepo)(s) }
func (s *Store) Runs() repository.JobRunRepository { return (*runRepo)(s) }
func (s *Store) DLQ() repository.DLQRepository     { return (*dlqRepo)(s) }

type jobRepo Store

func (r *jobRepo) Create(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *jobRepo) Find(ctx context.Context, id string) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (r *jobRepo) Update(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.jobs[job.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.Schedule = job.Schedule
	existing.RetryPolicy = job.RetryPolicy
	return nil
}

func (r *jobRepo) UpdateStatus(ctx context.Context, id string, from, to state.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if job.Status != from {
		return false, nil
	}
	job.Status = to
	return true, nil
}

func (r *jobRepo) SetRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if lastRunAt != nil {
		job.LastRunAt = lastRunAt
	}
	job.NextRunAt = nextRunAt
	if workerID != "" {
		job.WorkerID = &workerID
	}
	return nil
}

func (r *jobRepo) ListByStatus(ctx context.Context, statuses ...state.Status) ([]models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Job
	for _, job := range r.jobs {
		for _, st := range statuses {
			if job.Status == st {
				out = append(out, *job)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *jobRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.jobs, id)
	delete(r.runs, id)
	return nil
}

type runRepo Store

func (r *runRepo) Create(ctx context.Context, run *models.JobRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.runs[run.JobID] {
		if existing.Attempt == run.Attempt {
			return repository.ErrDuplicateRun
		}
	}
	clone := *run
	r.runs[run.JobID] = append(r.runs[run.JobID], &clone)
	return nil
}

func (r *runRepo) Finalize(ctx context.Context, runID string, outcome models.RunOutcome, conditionTag, errMsg string, endedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, runs := range r.runs {
		for _, run := range runs {
			if run.ID == runID {
				run.Outcome = outcome
				run.ConditionTag = conditionTag
				run.ErrorMessage = errMsg
				end := endedAt
				run.EndTime = &end
				run.DurationMs = endedAt.Sub(run.StartTime).Milliseconds()
				return nil
			}
		}
	}
	return repository.ErrNotFound
}

func (r *runRepo) Find(ctx context.Context, jobID string, attempt int) (*models.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs[jobID] {
		if run.Attempt == attempt {
			clone := *run
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *runRepo) Last(ctx context.Context, jobID string) (*models.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	runs := r.runs[jobID]
	if len(runs) == 0 {
		return nil, repository.ErrNotFound
	}
	last := runs[0]
	for _, run := range runs[1:] {
		if run.Attempt > last.Attempt {
			last = run
		}
	}
	clone := *last
	return &clone, nil
}

func (r *runRepo) FindOpen(ctx context.Context, jobID string) (*models.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs[jobID] {
		if run.Open() {
			clone := *run
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

type dlqRepo Store

func (r *dlqRepo) Create(ctx context.Context, event *models.DLQEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *event
	r.dlq = append(r.dlq, &clone)
	return nil
}

func (r *dlqRepo) List(ctx context.Context, limit int) ([]models.DLQEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.DLQEvent
	for i := len(r.dlq) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		ev := *r.dlq[i]
		if job, ok := r.jobs[ev.JobID]; ok {
			ev.Resolved = job.Status != state.StatusFailed
		} else {
			ev.Resolved = true
		}
		out = append(out, ev)
	}
	return out, nil
}
