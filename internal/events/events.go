// Package events carries job lifecycle notifications out of the core.
// Delivery is fire-and-forget: publishing never blocks the scheduling loop
// or a worker, and a slow sink only costs buffered events, not throughput.
package events

import "time"

type Type string

const (
	JobCreated        Type = "job.created"
	JobScheduled      Type = "job.scheduled"
	JobStarted        Type = "job.started"
	JobSucceeded      Type = "job.succeeded"
	JobFailed         Type = "job.failed"
	JobRetryScheduled Type = "job.retry_scheduled"
	JobDLQEscalated   Type = "job.dlq_escalated"
	JobPaused         Type = "job.paused"
	JobResumed        Type = "job.resumed"
	JobCancelled      Type = "job.cancelled"
)

type Event struct {
	Type    Type      `json:"type"`
	JobID   string    `json:"job_id"`
	RunID   string    `json:"run_id,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// Sink receives drained events. Errors are logged by the bus, never
// propagated to the core.
type Sink interface {
	Deliver(event Event) error
}
