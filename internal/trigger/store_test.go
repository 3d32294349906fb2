package trigger

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chronos/internal/models"
)

var t0 = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

func onceJob(id string, runAt time.Time, misfire models.MisfirePolicy) *models.Job {
	return &models.Job{
		ID:       id,
		Priority: models.PriorityMedium,
		Schedule: models.Schedule{Type: models.ScheduleOnce, RunAt: runAt, Misfire: misfire},
	}
}

func intervalJob(id string, seconds int, misfire models.MisfirePolicy) *models.Job {
	return &models.Job{
		ID:       id,
		Priority: models.PriorityMedium,
		Schedule: models.Schedule{Type: models.ScheduleInterval, IntervalSeconds: seconds, Misfire: misfire},
	}
}

func cronJob(id, expr string, misfire models.MisfirePolicy) *models.Job {
	return &models.Job{
		ID:       id,
		Priority: models.PriorityMedium,
		Schedule: models.Schedule{Type: models.ScheduleCron, Expression: expr, Misfire: misfire},
	}
}

func TestAtMostOneTriggerPerJob(t *testing.T) {
	s := NewStore(zap.NewNop())
	job := onceJob("j1", t0.Add(time.Minute), "")

	for i := 0; i < 5; i++ {
		_, err := s.Register(job, t0)
		require.NoError(t, err)
	}
	s.RegisterRetry("j1", job.Priority, t0.Add(time.Second))
	_, err := s.Register(job, t0)
	require.NoError(t, err)

	assert.Equal(t, 1, s.Len())

	// a single pop drains the single trigger
	got := s.PopDue(t0.Add(2*time.Minute), time.Hour)
	assert.Len(t, got, 1)
	assert.Equal(t, 0, s.Len())
}

func TestCancelIsIdempotent(t *testing.T) {
	s := NewStore(zap.NewNop())
	_, err := s.Register(onceJob("j1", t0.Add(time.Minute), ""), t0)
	require.NoError(t, err)

	s.Cancel("j1")
	s.Cancel("j1")
	s.Cancel("never-existed")
	assert.Equal(t, 0, s.Len())
}

func TestPopDueOrdering(t *testing.T) {
	s := NewStore(zap.NewNop())

	mk := func(id string, prio models.Priority, fireAt time.Time) {
		_, err := s.Register(&models.Job{
			ID:       id,
			Priority: prio,
			Schedule: models.Schedule{Type: models.ScheduleOnce, RunAt: fireAt},
		}, t0)
		require.NoError(t, err)
	}

	mk("low-early", models.PriorityLow, t0.Add(1*time.Second))
	mk("high-late", models.PriorityHigh, t0.Add(3*time.Second))
	mk("high-early", models.PriorityHigh, t0.Add(1*time.Second))
	mk("med", models.PriorityMedium, t0.Add(2*time.Second))

	got := s.PopDue(t0.Add(5*time.Second), time.Hour)
	require.Len(t, got, 4)

	var order []string
	for _, f := range got {
		order = append(order, f.JobID)
	}
	assert.Equal(t, []string{"high-early", "high-late", "med", "low-early"}, order)
}

func TestPopDueLeavesFutureTriggers(t *testing.T) {
	s := NewStore(zap.NewNop())
	_, err := s.Register(onceJob("due", t0, ""), t0)
	require.NoError(t, err)
	_, err = s.Register(onceJob("future", t0.Add(time.Hour), ""), t0)
	require.NoError(t, err)

	got := s.PopDue(t0.Add(time.Second), time.Hour)
	require.Len(t, got, 1)
	assert.Equal(t, "due", got[0].JobID)
	assert.True(t, s.Has("future"))
}

func TestRecurringTriggersRearm(t *testing.T) {
	s := NewStore(zap.NewNop())
	_, err := s.Register(intervalJob("j1", 5, ""), t0)
	require.NoError(t, err)

	// interval first fire is immediate
	got := s.PopDue(t0, time.Hour)
	require.Len(t, got, 1)

	next, ok := s.NextFireAt("j1")
	require.True(t, ok)
	assert.Equal(t, t0.Add(5*time.Second), next)

	got = s.PopDue(t0.Add(5*time.Second), time.Hour)
	require.Len(t, got, 1)
	next, ok = s.NextFireAt("j1")
	require.True(t, ok)
	assert.Equal(t, t0.Add(10*time.Second), next)
}

func TestPauseExcludesFromDue(t *testing.T) {
	s := NewStore(zap.NewNop())
	job := intervalJob("j1", 5, "")
	_, err := s.Register(job, t0)
	require.NoError(t, err)

	require.True(t, s.Pause("j1"))
	assert.True(t, s.IsPaused("j1"))
	assert.Empty(t, s.PopDue(t0.Add(time.Hour), time.Hour))
	assert.True(t, s.Has("j1"), "paused trigger is retained")

	// resume recomputes from the schedule rather than firing missed occurrences
	resumeAt := t0.Add(time.Hour)
	fireAt, err := s.Resume(job, resumeAt)
	require.NoError(t, err)
	assert.False(t, s.IsPaused("j1"))
	assert.Equal(t, resumeAt, fireAt)
}

func TestPauseUnknownJob(t *testing.T) {
	s := NewStore(zap.NewNop())
	assert.False(t, s.Pause("ghost"))
}

func TestTriggerNow(t *testing.T) {
	t.Run("advances an existing trigger", func(t *testing.T) {
		s := NewStore(zap.NewNop())
		job := cronJob("j1", "0 0 * * *", "")
		_, err := s.Register(job, t0)
		require.NoError(t, err)

		require.NoError(t, s.TriggerNow(job, t0))
		got := s.PopDue(t0, time.Hour)
		require.Len(t, got, 1)

		// the regular recurrence is re-armed at the next cron boundary
		next, ok := s.NextFireAt("j1")
		require.True(t, ok)
		assert.Equal(t, time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC), next)
	})

	t.Run("rejected while paused", func(t *testing.T) {
		s := NewStore(zap.NewNop())
		job := intervalJob("j1", 60, "")
		_, err := s.Register(job, t0)
		require.NoError(t, err)
		require.True(t, s.Pause("j1"))

		assert.ErrorIs(t, s.TriggerNow(job, t0), ErrPaused)
		assert.True(t, s.IsPaused("j1"))
	})

	t.Run("inserts when absent", func(t *testing.T) {
		s := NewStore(zap.NewNop())
		job := onceJob("j1", t0.Add(time.Hour), "")
		require.NoError(t, s.TriggerNow(job, t0))

		got := s.PopDue(t0, time.Hour)
		require.Len(t, got, 1)
	})
}

func TestRetryTriggerReplacesBase(t *testing.T) {
	s := NewStore(zap.NewNop())
	job := intervalJob("j1", 60, "")
	_, err := s.Register(job, t0)
	require.NoError(t, err)

	retryAt := t0.Add(10 * time.Second)
	s.RegisterRetry("j1", job.Priority, retryAt)
	assert.Equal(t, 1, s.Len())

	got := s.PopDue(retryAt, time.Hour)
	require.Len(t, got, 1)
	assert.True(t, got[0].Retry)
	// one-shot: nothing re-armed until the engine re-registers the base cadence
	assert.False(t, s.Has("j1"))
}

func TestRestore(t *testing.T) {
	t.Run("reinserts a dropped one-shot firing", func(t *testing.T) {
		s := NewStore(zap.NewNop())
		_, err := s.Register(onceJob("j1", t0, ""), t0)
		require.NoError(t, err)

		got := s.PopDue(t0, time.Hour)
		require.Len(t, got, 1)
		require.False(t, s.Has("j1"))

		s.Restore(got[0])
		assert.True(t, s.Has("j1"))

		again := s.PopDue(t0.Add(time.Second), time.Hour)
		require.Len(t, again, 1)
		assert.Equal(t, got[0].ScheduledFor, again[0].ScheduledFor)
	})

	t.Run("pulls a re-armed recurring trigger back to the dropped occurrence", func(t *testing.T) {
		s := NewStore(zap.NewNop())
		_, err := s.Register(intervalJob("j1", 60, ""), t0)
		require.NoError(t, err)

		got := s.PopDue(t0, time.Hour)
		require.Len(t, got, 1)
		next, _ := s.NextFireAt("j1")
		require.Equal(t, t0.Add(time.Minute), next)

		s.Restore(got[0])
		next, _ = s.NextFireAt("j1")
		assert.Equal(t, t0, next, "restored firing must win over the later re-arm")
		assert.Equal(t, 1, s.Len())
	})
}

func TestMisfirePolicies(t *testing.T) {
	const grace = 30 * time.Second
	late := t0.Add(10 * time.Minute) // far beyond grace

	t.Run("within grace fires normally regardless of policy", func(t *testing.T) {
		for _, p := range []models.MisfirePolicy{models.MisfireFireNow, models.MisfireFireAndProceed, models.MisfireReschedule, models.MisfireIgnore} {
			s := NewStore(zap.NewNop())
			_, err := s.Register(onceJob("j1", t0, p), t0.Add(-time.Minute))
			require.NoError(t, err)

			got := s.PopDue(t0.Add(grace/2), grace)
			require.Len(t, got, 1, "policy %s", p)
			assert.False(t, got[0].Misfired)
		}
	})

	t.Run("FIRE_NOW executes once immediately", func(t *testing.T) {
		s := NewStore(zap.NewNop())
		_, err := s.Register(onceJob("j1", t0, models.MisfireFireNow), t0.Add(-time.Hour))
		require.NoError(t, err)

		got := s.PopDue(late, grace)
		require.Len(t, got, 1)
		assert.True(t, got[0].Misfired)
		assert.Equal(t, late, got[0].FireAt)
		assert.Equal(t, t0, got[0].ScheduledFor)
	})

	t.Run("FIRE_AND_PROCEED on cron fires once then resumes cadence", func(t *testing.T) {
		s := NewStore(zap.NewNop())
		job := cronJob("j1", "0 * * * *", models.MisfireFireAndProceed) // hourly
		_, err := s.Register(job, t0.Add(-time.Minute))
		require.NoError(t, err)

		// outage spanning three missed hourly boundaries
		resume := t0.Add(3*time.Hour + 10*time.Minute)
		got := s.PopDue(resume, grace)
		require.Len(t, got, 1, "exactly one catch-up execution")
		assert.True(t, got[0].Misfired)

		next, ok := s.NextFireAt("j1")
		require.True(t, ok)
		assert.Equal(t, time.Date(2025, 4, 1, 14, 0, 0, 0, time.UTC), next,
			"cadence resumes at the next future boundary")

		// the missed boundaries in between never fire
		assert.Empty(t, s.PopDue(resume.Add(time.Second), grace))
	})

	t.Run("RESCHEDULE skips the missed occurrence", func(t *testing.T) {
		s := NewStore(zap.NewNop())
		_, err := s.Register(intervalJob("j1", 60, models.MisfireReschedule), t0)
		require.NoError(t, err)
		// consume the immediate first fire
		require.Len(t, s.PopDue(t0, grace), 1)

		got := s.PopDue(t0.Add(10*time.Minute), grace)
		assert.Empty(t, got, "missed occurrence must not fire")

		next, ok := s.NextFireAt("j1")
		require.True(t, ok)
		assert.True(t, next.After(t0.Add(10*time.Minute)), "jumped to a future occurrence")
	})

	t.Run("RESCHEDULE on once degenerates to ignore", func(t *testing.T) {
		s := NewStore(zap.NewNop())
		_, err := s.Register(onceJob("j1", t0, models.MisfireReschedule), t0.Add(-time.Hour))
		require.NoError(t, err)

		assert.Empty(t, s.PopDue(late, grace))
		assert.False(t, s.Has("j1"), "no future occurrence exists for ONCE")
	})

	t.Run("IGNORE drops the trigger silently", func(t *testing.T) {
		for _, job := range []*models.Job{
			onceJob("j1", t0, models.MisfireIgnore),
			intervalJob("j2", 60, models.MisfireIgnore),
			cronJob("j3", "* * * * *", models.MisfireIgnore),
		} {
			s := NewStore(zap.NewNop())
			_, err := s.Register(job, t0.Add(-time.Hour))
			require.NoError(t, err)
			// drain any immediate fire so the remaining trigger is overdue
			s.PopDue(t0.Add(-time.Hour), grace)

			assert.Empty(t, s.PopDue(late, grace), "job %s", job.ID)
			assert.False(t, s.Has(job.ID), "job %s trigger must be dropped", job.ID)
		}
	})
}

func TestManyJobsStayIndependent(t *testing.T) {
	s := NewStore(zap.NewNop())
	for i := 0; i < 100; i++ {
		_, err := s.Register(intervalJob(fmt.Sprintf("j%d", i), 60+i, ""), t0)
		require.NoError(t, err)
	}
	assert.Equal(t, 100, s.Len())

	got := s.PopDue(t0, time.Hour)
	assert.Len(t, got, 100)
	assert.Equal(t, 100, s.Len(), "every interval trigger re-armed")
}
