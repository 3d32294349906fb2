package models

import (
	"chronos/internal/state"
	"encoding/json"
	"time"
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

type ScheduleType string

const (
	ScheduleOnce     ScheduleType = "ONCE"
	ScheduleCron     ScheduleType = "CRON"
	ScheduleInterval ScheduleType = "INTERVAL"
)

// MisfirePolicy governs what happens when a trigger is observed after its
// fire instant has already passed the grace window.
type MisfirePolicy string

const (
	MisfireFireNow        MisfirePolicy = "FIRE_NOW"
	MisfireFireAndProceed MisfirePolicy = "FIRE_AND_PROCEED"
	MisfireReschedule     MisfirePolicy = "RESCHEDULE"
	MisfireIgnore         MisfirePolicy = "IGNORE"
)

// Schedule describes when a job fires. Exactly one of the type-specific
// fields is meaningful, selected by Type.
type Schedule struct {
	Type            ScheduleType  `json:"type"`
	RunAt           time.Time     `json:"run_at,omitempty"`           // ONCE
	Expression      string        `json:"expression,omitempty"`       // CRON
	Timezone        string        `json:"timezone,omitempty"`         // CRON, defaults to UTC
	IntervalSeconds int           `json:"interval_seconds,omitempty"` // INTERVAL
	Misfire         MisfirePolicy `json:"misfire_policy,omitempty"`
}

func (s Schedule) Recurring() bool {
	return s.Type == ScheduleCron || s.Type == ScheduleInterval
}

type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "FIXED"
	BackoffExponential BackoffStrategy = "EXPONENTIAL"
)

// RetryPolicy controls retry eligibility after a failed run. A nil policy on
// a job means no retries at all. An empty RetryOn set retries on any
// condition tag.
type RetryPolicy struct {
	MaxAttempts    int             `json:"max_attempts"`
	Backoff        BackoffStrategy `json:"backoff_strategy"`
	BackoffSeconds int             `json:"backoff_seconds"`
	RetryOn        []string        `json:"retry_on,omitempty"`
}

// Job is the persisted orchestration record. The payload is opaque to the
// core; only the job-type executor selected by Type interprets it.
type Job struct {
	ID          string
	Name        string
	Type        string
	Status      state.Status
	Priority    Priority
	OwnerID     string
	Payload     json.RawMessage
	Schedule    Schedule
	RetryPolicy *RetryPolicy
	WorkerID    *string
	CreatedAt   time.Time
	LastRunAt   *time.Time
	NextRunAt   *time.Time
}
