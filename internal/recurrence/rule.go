package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/MedLine/internal/models"
	"github.com/teambition/rrule-go"
)

var weekdayMap = map[time.Weekday]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// Rule builds the RFC 5545 rule equivalent to the schedule in loc. It
// returns nil for schedules that never fire on their own.
func Rule(s *models.Schedule, loc *time.Location) (*rrule.RRule, error) {
	if s == nil || !s.Active || s.Recurrence == models.RecurrenceAsNeeded {
		return nil, nil
	}

	opt := rrule.ROption{
		Freq:     rrule.DAILY,
		Interval: 1,
		Dtstart:  s.Time.On(s.StartDate, loc),
	}
	if s.Recurrence == models.RecurrenceWeekly {
		if len(s.RecurrenceDays) == 0 {
			return nil, fmt.Errorf("weekly schedule %d has no weekdays", s.ID)
		}
		opt.Freq = rrule.WEEKLY
		for _, wd := range s.RecurrenceDays {
			opt.Byweekday = append(opt.Byweekday, weekdayMap[wd])
		}
	}
	if s.EndDate != nil {
		// Until is inclusive; the last valid instant is the end of the end date.
		opt.Until = s.EndDate.AddDays(1).In(loc).Add(-time.Second)
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule for schedule %d: %w", s.ID, err)
	}
	return rule, nil
}

// RuleString renders the schedule as an RRULE string (without DTSTART).
func RuleString(s *models.Schedule, loc *time.Location) string {
	rule, err := Rule(s, loc)
	if err != nil || rule == nil {
		return ""
	}
	return rule.OrigOptions.RRuleString()
}

// Upcoming returns up to n fire instants strictly after from.
func Upcoming(s *models.Schedule, from time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	rule, err := Rule(s, from.Location())
	if err != nil || rule == nil {
		return nil, err
	}

	var results []time.Time
	current := from
	for len(results) < n {
		next := rule.After(current, false)
		if next.IsZero() {
			break
		}
		results = append(results, next)
		current = next
	}
	return results, nil
}

// Describe returns a short English description such as
// "every Mon, Wed, Fri at 08:00 until 2024-03-01".
func Describe(s *models.Schedule) string {
	var b strings.Builder
	switch s.Recurrence {
	case models.RecurrenceAsNeeded:
		return "as needed"
	case models.RecurrenceWeekly:
		b.WriteString("every ")
		b.WriteString(s.RecurrenceDays.Names())
	case models.RecurrenceMonthly, models.RecurrenceCustom:
		b.WriteString("every day (")
		b.WriteString(string(s.Recurrence))
		b.WriteString(")")
	default:
		b.WriteString("every day")
	}
	b.WriteString(" at ")
	b.WriteString(s.Time.String())
	if s.EndDate != nil {
		b.WriteString(" until ")
		b.WriteString(s.EndDate.String())
	}
	if !s.Active {
		b.WriteString(" (paused)")
	}
	return b.String()
}
