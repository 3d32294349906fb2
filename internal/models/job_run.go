package models

import "time"

type RunOutcome string

const (
	OutcomePending RunOutcome = "pending"
	OutcomeSuccess RunOutcome = "success"
	OutcomeFailure RunOutcome = "failure"
)

// JobRun records one execution attempt. Attempt numbers are 1-based and
// strictly increasing per job; the (JobID, Attempt) pair is unique so that
// duplicate fire events cannot produce a second run for the same attempt.
type JobRun struct {
	ID            string
	JobID         string
	Attempt       int
	ScheduledTime time.Time
	StartTime     time.Time
	EndTime       *time.Time
	Outcome       RunOutcome
	ConditionTag  string
	ErrorMessage  string
	WorkerID      string
	DurationMs    int64
}

func (r *JobRun) Open() bool {
	return r.Outcome == OutcomePending
}
