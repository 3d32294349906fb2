package models

import "time"

// DLQEvent marks a job whose retries are exhausted. Resolved is derived at
// read time: the event counts as resolved once its job is observed in any
// status other than failed (e.g. after a replay).
type DLQEvent struct {
	ID        string
	JobID     string
	RunID     string
	Reason    string
	CreatedAt time.Time
	Resolved  bool
}
