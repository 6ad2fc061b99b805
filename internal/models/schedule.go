package models

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Recurrence is the rule deciding which calendar dates a schedule is active on.
type Recurrence string

const (
	RecurrenceDaily    Recurrence = "daily"
	RecurrenceWeekly   Recurrence = "weekly"
	RecurrenceMonthly  Recurrence = "monthly"
	RecurrenceCustom   Recurrence = "custom"
	RecurrenceAsNeeded Recurrence = "as-needed"
)

// Recurrences lists every accepted recurrence value.
var Recurrences = []Recurrence{
	RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceCustom, RecurrenceAsNeeded,
}

func ParseRecurrence(s string) (Recurrence, error) {
	r := Recurrence(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", &ValidationError{Field: "recurrence", Reason: fmt.Sprintf("unknown value %q", s)}
	}
	return r, nil
}

func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceCustom, RecurrenceAsNeeded:
		return true
	}
	return false
}

// FallsBackToDaily reports recurrences that have no finer rule yet and are
// evaluated as "every day within range".
func (r Recurrence) FallsBackToDaily() bool {
	return r == RecurrenceMonthly || r == RecurrenceCustom
}

// Handles is the ordered collection of platform timer ids armed for a schedule.
type Handles []string

func (h Handles) String() string {
	return strings.Join(h, ",")
}

func (h Handles) Empty() bool {
	return len(h) == 0
}

type Schedule struct {
	ID              int64       `json:"id"`
	MedicineID      int64       `json:"medicine_id"`
	Time            TimeOfDay   `json:"time"`
	Recurrence      Recurrence  `json:"recurrence"`
	RecurrenceDays  Weekdays    `json:"recurrence_days,omitempty"` // weekly only
	StartDate       civil.Date  `json:"start_date"`
	EndDate         *civil.Date `json:"end_date,omitempty"` // inclusive, nil = open-ended
	ReminderHandles Handles     `json:"reminder_handles,omitempty"`
	Active          bool        `json:"active"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Validate checks the schedule invariants before anything is persisted.
func (s *Schedule) Validate() error {
	if s.MedicineID <= 0 {
		return &ValidationError{Field: "medicine_id", Reason: "missing medicine reference"}
	}
	if !s.Time.Valid() {
		return &ValidationError{Field: "time", Reason: "must be HH:MM"}
	}
	if !s.Recurrence.Valid() {
		return &ValidationError{Field: "recurrence", Reason: fmt.Sprintf("unknown value %q", s.Recurrence)}
	}
	if !s.StartDate.IsValid() {
		return &ValidationError{Field: "start_date", Reason: "missing or invalid"}
	}
	if s.EndDate != nil {
		if !s.EndDate.IsValid() {
			return &ValidationError{Field: "end_date", Reason: "invalid date"}
		}
		if s.EndDate.Before(s.StartDate) {
			return &ValidationError{Field: "end_date", Reason: "before start_date"}
		}
	}
	switch s.Recurrence {
	case RecurrenceWeekly:
		if len(s.RecurrenceDays) == 0 {
			return &ValidationError{Field: "recurrence_days", Reason: "weekly recurrence needs at least one weekday"}
		}
	default:
		if len(s.RecurrenceDays) > 0 {
			return &ValidationError{Field: "recurrence_days", Reason: "only allowed for weekly recurrence"}
		}
	}
	if s.Recurrence == RecurrenceAsNeeded && !s.ReminderHandles.Empty() {
		return &ValidationError{Field: "reminder_handles", Reason: "as-needed schedules never carry reminders"}
	}
	return nil
}

// SchedulePatch carries a partial update. Nil fields are left untouched.
type SchedulePatch struct {
	MedicineID      *int64
	Time            *TimeOfDay
	Recurrence      *Recurrence
	RecurrenceDays  *Weekdays
	StartDate       *civil.Date
	EndDate         *civil.Date
	ClearEndDate    bool
	ReminderHandles *Handles
	Active          *bool
}

// Apply returns a copy of s with the patch applied.
func (p SchedulePatch) Apply(s Schedule) Schedule {
	if p.MedicineID != nil {
		s.MedicineID = *p.MedicineID
	}
	if p.Time != nil {
		s.Time = *p.Time
	}
	if p.Recurrence != nil {
		s.Recurrence = *p.Recurrence
	}
	if p.RecurrenceDays != nil {
		s.RecurrenceDays = *p.RecurrenceDays
	}
	if p.StartDate != nil {
		s.StartDate = *p.StartDate
	}
	if p.ClearEndDate {
		s.EndDate = nil
	} else if p.EndDate != nil {
		d := *p.EndDate
		s.EndDate = &d
	}
	if p.ReminderHandles != nil {
		s.ReminderHandles = *p.ReminderHandles
	}
	if p.Active != nil {
		s.Active = *p.Active
	}
	return s
}

// AffectsTiming reports whether the patch changes anything reminders are
// derived from, which forces the timers to be re-registered.
func (p SchedulePatch) AffectsTiming() bool {
	return p.MedicineID != nil || p.Time != nil || p.Recurrence != nil || p.RecurrenceDays != nil ||
		p.StartDate != nil || p.EndDate != nil || p.ClearEndDate || p.Active != nil
}

// Empty reports a patch with nothing to change.
func (p SchedulePatch) Empty() bool {
	return !p.AffectsTiming() && p.ReminderHandles == nil
}

// HandlesPatch builds a patch that only replaces the reminder handles.
func HandlesPatch(h Handles) SchedulePatch {
	return SchedulePatch{ReminderHandles: &h}
}

// ScheduleWithMedicine joins a schedule with its owning medicine.
type ScheduleWithMedicine struct {
	Schedule
	Medicine Medicine `json:"medicine"`
}
