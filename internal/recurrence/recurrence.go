// Package recurrence decides on which dates a schedule is due and when it
// fires next. Everything here is pure: results depend only on the schedule
// and the instant passed in, and wall-clock times are resolved in that
// instant's location.
package recurrence

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/hray3182/MedLine/internal/models"
)

// IsDueOn reports whether a dose is due on the given calendar date.
func IsDueOn(s *models.Schedule, d civil.Date) bool {
	if s == nil || !s.Active {
		return false
	}
	if !InRange(s, d) {
		return false
	}
	switch s.Recurrence {
	case models.RecurrenceWeekly:
		return s.RecurrenceDays.Contains(models.Weekday(d))
	case models.RecurrenceDaily, models.RecurrenceAsNeeded:
		return true
	case models.RecurrenceMonthly, models.RecurrenceCustom:
		// No finer rule exists yet; see Recurrence.FallsBackToDaily.
		return true
	}
	return false
}

// InRange reports whether d lies within [StartDate, EndDate], both inclusive.
func InRange(s *models.Schedule, d civil.Date) bool {
	if d.Before(s.StartDate) {
		return false
	}
	if s.EndDate != nil && d.After(*s.EndDate) {
		return false
	}
	return true
}

// NextOccurrence returns the first fire instant strictly after from. The
// second result is false when the schedule never fires again: its range is
// exhausted, it is inactive, or it is as-needed.
func NextOccurrence(s *models.Schedule, from time.Time) (time.Time, bool) {
	if s == nil || !s.Active || s.Recurrence == models.RecurrenceAsNeeded {
		return time.Time{}, false
	}
	if s.Recurrence == models.RecurrenceWeekly && len(s.RecurrenceDays) == 0 {
		return time.Time{}, false
	}
	loc := from.Location()
	today := civil.DateOf(from)

	// Later today is handled here; the scan below always starts tomorrow.
	if at := s.Time.On(today, loc); at.After(from) && IsDueOn(s, today) {
		return at, true
	}

	day := today.AddDays(1)
	if day.Before(s.StartDate) {
		day = s.StartDate
	}
	if s.Recurrence == models.RecurrenceWeekly {
		if wd := models.Weekday(day); !s.RecurrenceDays.Contains(wd) {
			day = day.AddDays(nearestDaysUntil(wd, s.RecurrenceDays))
		}
	}
	if !IsDueOn(s, day) {
		return time.Time{}, false
	}
	return s.Time.On(day, loc), true
}

// Nearest returns the schedule's wall-clock time on the day before, of, or
// after at's date in at's location, whichever is closest to at. It maps a
// firing that drifted across a UTC offset change back to its occurrence.
func Nearest(s *models.Schedule, at time.Time) time.Time {
	loc := at.Location()
	day := civil.DateOf(at)
	best := s.Time.On(day, loc)
	for _, d := range []civil.Date{day.AddDays(-1), day.AddDays(1)} {
		if c := s.Time.On(d, loc); absDuration(c.Sub(at)) < absDuration(best.Sub(at)) {
			best = c
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// DaysUntil is the number of days from current to the next target weekday.
// It is always between 1 and 7: a matching weekday later today must be
// handled by the caller.
func DaysUntil(current, target time.Weekday) int {
	days := int(target) - int(current)
	if days <= 0 {
		days += 7
	}
	return days
}

func nearestDaysUntil(current time.Weekday, set models.Weekdays) int {
	best := 8
	for _, wd := range set {
		if d := DaysUntil(current, wd); d < best {
			best = d
		}
	}
	return best
}

// OnWeekday narrows a weekly schedule to a single weekday. The scheduler
// arms one timer pair per weekday and uses this to find each pair's anchor.
func OnWeekday(s *models.Schedule, wd time.Weekday) *models.Schedule {
	cp := *s
	cp.RecurrenceDays = models.Weekdays{wd}
	return &cp
}
