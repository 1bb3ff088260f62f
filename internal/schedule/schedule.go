// Package schedule computes occurrence dates of recurring definitions.
//
// Every function is pure: dates in, dates out. Dates are handled as UTC
// calendar days; any time-of-day component of the inputs is dropped.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/cashflow-service/internal/models"
)

// ErrInvalidSchedule is wrapped by every error returned from Validate.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Validate checks that the frequency and anchor fields of def fit together.
func Validate(def *models.RecurringDefinition) error {
	if def.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidSchedule)
	}
	switch def.Frequency {
	case models.FrequencyWeekly:
		if def.DayOfMonth != nil {
			return fmt.Errorf("%w: day_of_month is not allowed for weekly schedules", ErrInvalidSchedule)
		}
		if def.DayOfWeek != nil && (*def.DayOfWeek < 0 || *def.DayOfWeek > 6) {
			return fmt.Errorf("%w: day_of_week %d out of range 0-6", ErrInvalidSchedule, *def.DayOfWeek)
		}
	case models.FrequencyMonthly, models.FrequencyYearly:
		if def.DayOfWeek != nil {
			return fmt.Errorf("%w: day_of_week is not allowed for %s schedules", ErrInvalidSchedule, def.Frequency)
		}
		if def.DayOfMonth != nil && (*def.DayOfMonth < 1 || *def.DayOfMonth > 31) {
			return fmt.Errorf("%w: day_of_month %d out of range 1-31", ErrInvalidSchedule, *def.DayOfMonth)
		}
	default:
		return fmt.Errorf("%w: unsupported frequency %q", ErrInvalidSchedule, def.Frequency)
	}
	return nil
}

// First returns the earliest valid occurrence on or after the start date.
func First(def *models.RecurringDefinition) time.Time {
	start := day(def.StartDate)
	anchor := anchorDay(def)

	switch def.Frequency {
	case models.FrequencyWeekly:
		if def.DayOfWeek == nil {
			return start
		}
		return shiftToWeekday(start, *def.DayOfWeek)
	case models.FrequencyMonthly:
		first := clamp(start.Year(), start.Month(), anchor)
		if first.Before(start) {
			y, m := nextMonth(start.Year(), start.Month())
			first = clamp(y, m, anchor)
		}
		return first
	case models.FrequencyYearly:
		first := clamp(start.Year(), start.Month(), anchor)
		if first.Before(start) {
			first = clamp(start.Year()+1, start.Month(), anchor)
		}
		return first
	}
	return start
}

// Advance returns the occurrence following from. When from lies before the
// start date the first valid occurrence is returned instead.
func Advance(def *models.RecurringDefinition, from time.Time) time.Time {
	from = day(from)
	if from.Before(day(def.StartDate)) {
		return First(def)
	}

	switch def.Frequency {
	case models.FrequencyWeekly:
		next := from.AddDate(0, 0, 7)
		if def.DayOfWeek != nil {
			next = shiftToWeekday(next, *def.DayOfWeek)
		}
		return next
	case models.FrequencyMonthly:
		y, m := nextMonth(from.Year(), from.Month())
		return clamp(y, m, anchorDay(def))
	case models.FrequencyYearly:
		return clamp(from.Year()+1, from.Month(), anchorDay(def))
	}
	// Validate rejects anything else; fall back to a daily step so callers
	// looping on Advance still terminate.
	return from.AddDate(0, 0, 1)
}

// Occurrences simulates the schedule from the occurrence at from and returns
// every date that falls inside [start, end]. The definition is not modified.
func Occurrences(def *models.RecurringDefinition, from, start, end time.Time) []time.Time {
	start, end = day(start), day(end)
	current := day(from)
	if current.Before(day(def.StartDate)) {
		current = First(def)
	}

	var dates []time.Time
	for !current.After(end) {
		if !current.Before(start) {
			dates = append(dates, current)
		}
		current = Advance(def, current)
	}
	return dates
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func anchorDay(def *models.RecurringDefinition) int {
	if def.DayOfMonth != nil {
		return *def.DayOfMonth
	}
	return day(def.StartDate).Day()
}

func clamp(year int, month time.Month, dayOfMonth int) time.Time {
	if last := DaysInMonth(year, month); dayOfMonth > last {
		dayOfMonth = last
	}
	return time.Date(year, month, dayOfMonth, 0, 0, 0, 0, time.UTC)
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

func shiftToWeekday(t time.Time, weekday int) time.Time {
	shift := (weekday - int(t.Weekday()) + 7) % 7
	return t.AddDate(0, 0, shift)
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
