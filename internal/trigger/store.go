// Package trigger holds the in-memory working set of pending triggers,
// ordered by next fire instant. It is rebuilt from persisted jobs at
// startup; nothing here survives a restart.
package trigger

import (
	"container/heap"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"chronos/internal/models"
	"chronos/internal/schedule"
)

var ErrPaused = errors.New("trigger is paused")

// Firing is one due trigger handed to the dispatcher. ScheduledFor is the
// intended fire instant; FireAt is the effective one (now, for misfired
// triggers executed late).
type Firing struct {
	JobID        string
	Priority     models.Priority
	Schedule     models.Schedule
	FireAt       time.Time
	ScheduledFor time.Time
	Generation   uint64
	Retry        bool
	Misfired     bool
}

type entry struct {
	jobID      string
	sched      models.Schedule
	priority   models.Priority
	fireAt     time.Time
	generation uint64
	retry      bool
	paused     bool
	index      int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if !h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].fireAt.Before(h[j].fireAt)
	}
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].generation < h[j].generation
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Store is the ordered trigger index. A job holds at most one live trigger:
// every insert replaces whatever was registered before it.
type Store struct {
	mu     sync.Mutex
	byJob  map[string]*entry
	heap   entryHeap
	gen    uint64
	logger *zap.Logger
}

func NewStore(logger *zap.Logger) *Store {
	return &Store{
		byJob:  make(map[string]*entry),
		logger: logger,
	}
}

// Register computes the first fire instant from the job's schedule and
// inserts a trigger for it, replacing any prior trigger for the same job.
func (s *Store) Register(job *models.Job, now time.Time) (time.Time, error) {
	fireAt, err := schedule.FirstFire(job.Schedule, now)
	if err != nil {
		return time.Time{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(&entry{
		jobID:    job.ID,
		sched:    job.Schedule,
		priority: job.Priority,
		fireAt:   fireAt,
	})
	return fireAt, nil
}

// RegisterRetry inserts a one-shot trigger for a retry attempt. It replaces
// the job's base trigger; the base cadence is re-registered once the retry
// attempt completes.
func (s *Store) RegisterRetry(jobID string, priority models.Priority, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(&entry{
		jobID:    jobID,
		priority: priority,
		fireAt:   at,
		retry:    true,
	})
}

// RegisterAt inserts a trigger with an explicit fire instant, replacing any
// prior trigger for the job. Used to restore a recurring cadence after a
// retry attempt resolved.
func (s *Store) RegisterAt(job *models.Job, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(&entry{
		jobID:    job.ID,
		sched:    job.Schedule,
		priority: job.Priority,
		fireAt:   at,
	})
}

// Cancel removes the job's trigger. No-op if absent.
func (s *Store) Cancel(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(jobID)
}

// Pause retains the trigger but excludes it from due evaluation. Returns
// false when the job has no live trigger.
func (s *Store) Pause(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byJob[jobID]
	if !ok {
		return false
	}
	if !e.paused {
		heap.Remove(&s.heap, e.index)
		e.index = -1
		e.paused = true
	}
	return true
}

// Resume recomputes the next fire instant from the job's current schedule.
// Missed occurrences are never fired retroactively; the misfire policy
// applies only to triggers that were live when they came due.
func (s *Store) Resume(job *models.Job, now time.Time) (time.Time, error) {
	fireAt, err := schedule.FirstFire(job.Schedule, now)
	if err != nil {
		return time.Time{}, err
	}
	if job.Schedule.Type == models.ScheduleOnce && fireAt.Before(now) {
		fireAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(&entry{
		jobID:    job.ID,
		sched:    job.Schedule,
		priority: job.Priority,
		fireAt:   fireAt,
	})
	return fireAt, nil
}

// TriggerNow advances the job's trigger to fire immediately, or inserts one
// if absent. The regular recurrence is undisturbed: a recurring trigger
// re-arms at its next occurrence after popping. Paused triggers reject the
// request.
func (s *Store) TriggerNow(job *models.Job, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.byJob[job.ID]; ok {
		if e.paused {
			return ErrPaused
		}
		e.fireAt = now
		heap.Fix(&s.heap, e.index)
		return nil
	}

	s.insert(&entry{
		jobID:    job.ID,
		sched:    job.Schedule,
		priority: job.Priority,
		fireAt:   now,
	})
	return nil
}

// Restore puts a popped firing back, used when the dispatcher drops it
// under concurrency pressure. If a trigger for the job already exists the
// earlier fire instant wins, so the dropped occurrence is reconsidered on a
// later tick.
func (s *Store) Restore(f Firing) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.byJob[f.JobID]; ok {
		if !e.paused && f.ScheduledFor.Before(e.fireAt) {
			e.fireAt = f.ScheduledFor
			heap.Fix(&s.heap, e.index)
		}
		return
	}

	s.insert(&entry{
		jobID:    f.JobID,
		sched:    f.Schedule,
		priority: f.Priority,
		fireAt:   f.ScheduledFor,
		retry:    f.Retry,
	})
}

// PopDue removes and returns all triggers due at or before now, ordered by
// (priority desc, fire time asc). Recurring triggers are re-inserted at
// their next occurrence; misfire policy applies to triggers observed more
// than grace past their fire instant.
func (s *Store) PopDue(now time.Time, grace time.Duration) []Firing {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Firing
	for s.heap.Len() > 0 && !s.heap[0].fireAt.After(now) {
		e := heap.Pop(&s.heap).(*entry)
		delete(s.byJob, e.jobID)

		misfired := !e.retry && now.Sub(e.fireAt) > grace
		policy := e.sched.Misfire
		if policy == "" {
			policy = models.MisfireFireNow
		}

		fire := true
		effectiveAt := e.fireAt
		if misfired {
			switch policy {
			case models.MisfireFireNow, models.MisfireFireAndProceed:
				effectiveAt = now
			case models.MisfireReschedule, models.MisfireIgnore:
				fire = false
			}
		}

		if !e.retry && e.sched.Recurring() {
			rearm := !(misfired && policy == models.MisfireIgnore)
			from := e.fireAt
			if misfired && policy == models.MisfireFireNow {
				from = now
			}
			if rearm {
				if next, ok := nextFutureFire(e.sched, from, now); ok {
					s.insert(&entry{
						jobID:    e.jobID,
						sched:    e.sched,
						priority: e.priority,
						fireAt:   next,
					})
				}
			}
		}

		if fire {
			out = append(out, Firing{
				JobID:        e.jobID,
				Priority:     e.priority,
				Schedule:     e.sched,
				FireAt:       effectiveAt,
				ScheduledFor: e.fireAt,
				Generation:   e.generation,
				Retry:        e.retry,
				Misfired:     misfired,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ScheduledFor.Before(out[j].ScheduledFor)
	})
	return out
}

// Has reports whether the job holds a live (possibly paused) trigger.
func (s *Store) Has(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byJob[jobID]
	return ok
}

// IsPaused reports whether the job's trigger exists and is paused.
func (s *Store) IsPaused(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byJob[jobID]
	return ok && e.paused
}

// NextFireAt returns the job's pending fire instant, if any.
func (s *Store) NextFireAt(jobID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byJob[jobID]
	if !ok || e.paused {
		return time.Time{}, false
	}
	return e.fireAt, true
}

// Len returns the number of live triggers, paused included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byJob)
}

// insert replaces any existing trigger for the entry's job. Callers hold mu.
func (s *Store) insert(e *entry) {
	s.remove(e.jobID)
	s.gen++
	e.generation = s.gen
	s.byJob[e.jobID] = e
	heap.Push(&s.heap, e)
}

func (s *Store) remove(jobID string) {
	e, ok := s.byJob[jobID]
	if !ok {
		return
	}
	delete(s.byJob, jobID)
	if !e.paused && e.index >= 0 {
		heap.Remove(&s.heap, e.index)
	}
}

// nextFutureFire walks the schedule forward from 'from' until it clears
// 'now', so catch-up work never floods a single tick.
func nextFutureFire(s models.Schedule, from, now time.Time) (time.Time, bool) {
	t := from
	for i := 0; i < 100000; i++ {
		next, ok := schedule.NextAfter(s, t)
		if !ok {
			return time.Time{}, false
		}
		if next.After(now) {
			return next, true
		}
		t = next
	}
	next, ok := schedule.NextAfter(s, now)
	return next, ok
}
