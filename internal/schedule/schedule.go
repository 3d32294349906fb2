// Package schedule computes fire instants for the three schedule kinds.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"chronos/internal/custom_errors"
	"chronos/internal/models"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Validate rejects malformed schedules before they reach the trigger store.
func Validate(s models.Schedule) error {
	verr := &custom_errors.ValidationError{}

	switch s.Type {
	case models.ScheduleOnce:
		if s.RunAt.IsZero() {
			verr.Addf("ONCE schedule requires run_at")
		}
	case models.ScheduleCron:
		if s.Expression == "" {
			verr.Addf("CRON schedule requires an expression")
		} else if _, err := cronParser.Parse(s.Expression); err != nil {
			verr.Addf("invalid cron expression %q: %v", s.Expression, err)
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				verr.Addf("invalid timezone %q: %v", s.Timezone, err)
			}
		}
	case models.ScheduleInterval:
		if s.IntervalSeconds <= 0 {
			verr.Addf("INTERVAL schedule requires interval_seconds > 0")
		}
	default:
		verr.Addf("unknown schedule type %q", s.Type)
	}

	switch s.Misfire {
	case "", models.MisfireFireNow, models.MisfireFireAndProceed,
		models.MisfireReschedule, models.MisfireIgnore:
	default:
		verr.Addf("unknown misfire policy %q", s.Misfire)
	}

	if verr.HasError() {
		return verr
	}
	return nil
}

// FirstFire computes the initial fire instant when a trigger is registered:
// ONCE fires at run_at, CRON at the next expression match, INTERVAL
// immediately.
func FirstFire(s models.Schedule, now time.Time) (time.Time, error) {
	switch s.Type {
	case models.ScheduleOnce:
		return s.RunAt, nil
	case models.ScheduleCron:
		return cronNext(s, now)
	case models.ScheduleInterval:
		return now, nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule type %q", s.Type)
	}
}

// NextAfter computes the fire instant following after. The second return is
// false when no future occurrence exists (ONCE schedules recur never).
func NextAfter(s models.Schedule, after time.Time) (time.Time, bool) {
	switch s.Type {
	case models.ScheduleCron:
		next, err := cronNext(s, after)
		if err != nil {
			return time.Time{}, false
		}
		return next, true
	case models.ScheduleInterval:
		return after.Add(time.Duration(s.IntervalSeconds) * time.Second), true
	default:
		return time.Time{}, false
	}
}

func cronNext(s models.Schedule, after time.Time) (time.Time, error) {
	spec, err := cronParser.Parse(s.Expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", s.Expression, err)
	}
	loc := time.UTC
	if s.Timezone != "" {
		loc, err = time.LoadLocation(s.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
		}
	}
	return spec.Next(after.In(loc)), nil
}
