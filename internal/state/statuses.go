package state

type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

func (s Status) String() string {
	return string(s)
}

var AllStatuses = []Status{
	StatusPending,
	StatusScheduled,
	StatusRunning,
	StatusSucceeded,
	StatusFailed,
	StatusCancelled,
	StatusPaused,
}

type Transition struct {
	From Status
	To   Status
}

var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusScheduled},
	{From: StatusPending, To: StatusCancelled},
	{From: StatusScheduled, To: StatusRunning},
	{From: StatusScheduled, To: StatusPaused},
	{From: StatusScheduled, To: StatusCancelled},
	{From: StatusPaused, To: StatusScheduled},
	{From: StatusPaused, To: StatusCancelled},
	{From: StatusRunning, To: StatusSucceeded},
	{From: StatusRunning, To: StatusScheduled},
	{From: StatusRunning, To: StatusFailed},
	{From: StatusRunning, To: StatusCancelled},
	// replay of a dead-lettered job re-enters the schedule
	{From: StatusFailed, To: StatusScheduled},
}

func IsValidTransition(from, to Status) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a job in this status is done: it holds no live
// trigger and never fires again unless explicitly replayed.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}
