// Package scheduler turns calendar schedules into interval-only platform
// timers. Each recurrence becomes a phase-aligning one-shot for the next
// occurrence plus a timer repeating every day or week from the occurrence
// after it, so the repeat never drifts from the wall-clock time it was
// anchored on.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/hray3182/MedLine/internal/models"
	"github.com/hray3182/MedLine/internal/platform"
	"github.com/hray3182/MedLine/internal/recurrence"
)

const (
	DayPeriod  = 24 * time.Hour
	WeekPeriod = 7 * DayPeriod
)

// ErrTimerFailure is returned when the platform refuses to arm a timer.
// Timers armed earlier in the same registration have been cancelled.
var ErrTimerFailure = errors.New("platform timer failure")

// Arm is one timer a registration would set.
type Arm struct {
	// First is the nominal instant of the timer's first firing.
	First   time.Time
	Trigger platform.Trigger
}

type Scheduler struct {
	timers platform.Timers
	store  Store
	log    zerolog.Logger
	now    func() time.Time
	loc    *time.Location
}

type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLocation sets the zone schedule wall-clock times are read in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

func New(timers platform.Timers, store Store, log zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		timers: timers,
		store:  store,
		log:    log.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now is the scheduler clock in its configured location.
func (s *Scheduler) Now() time.Time {
	return s.now().In(s.loc)
}

func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// Plan lists the timers Register would arm for sched at now. Daily, monthly
// and custom schedules get one pair, weekly schedules one pair per weekday.
// The repeating half starts at the schedule's time on the next day (or
// week), so only its fixed period can drift when the UTC offset changes.
// The repeating half of a pair is left out when its first firing would
// already be past the end date.
func Plan(sched *models.Schedule, now time.Time) []Arm {
	if sched == nil || !sched.Active || sched.Recurrence == models.RecurrenceAsNeeded {
		return nil
	}

	type anchor struct {
		sched  *models.Schedule
		days   int
		period time.Duration
	}
	var anchors []anchor
	if sched.Recurrence == models.RecurrenceWeekly {
		for _, wd := range sched.RecurrenceDays {
			anchors = append(anchors, anchor{recurrence.OnWeekday(sched, wd), 7, WeekPeriod})
		}
	} else {
		anchors = append(anchors, anchor{sched, 1, DayPeriod})
	}

	var arms []Arm
	for _, a := range anchors {
		first, ok := recurrence.NextOccurrence(a.sched, now)
		if !ok {
			continue
		}
		arms = append(arms, Arm{
			First:   first,
			Trigger: platform.Trigger{AfterSeconds: ceilSeconds(first.Sub(now))},
		})

		// Calendar arithmetic keeps the wall-clock time across a DST change.
		second := sched.Time.On(civil.DateOf(first).AddDays(a.days), first.Location())
		if sched.EndDate != nil && civil.DateOf(second).After(*sched.EndDate) {
			continue
		}
		arms = append(arms, Arm{
			First: second,
			Trigger: platform.Trigger{
				AfterSeconds:  ceilSeconds(second.Sub(now)),
				RepeatSeconds: int64(a.period / time.Second),
			},
		})
	}
	return arms
}

func ceilSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Register arms the timers for a schedule and returns their ids. It returns
// nil without touching the platform for as-needed or inactive schedules,
// a missing or inactive medicine, or a schedule that never fires again.
// Denied permission also yields nil and no error.
func (s *Scheduler) Register(ctx context.Context, sched *models.Schedule, med *models.Medicine) (models.Handles, error) {
	if sched == nil || !sched.Active || sched.Recurrence == models.RecurrenceAsNeeded {
		return nil, nil
	}
	log := s.log.With().Int64("schedule_id", sched.ID).Logger()
	if med == nil || med.ID != sched.MedicineID {
		log.Warn().Int64("medicine_id", sched.MedicineID).Msg("medicine missing, no reminders armed")
		return nil, nil
	}
	if !med.Active {
		log.Debug().Msg("medicine inactive, no reminders armed")
		return nil, nil
	}

	arms := Plan(sched, s.Now())
	if len(arms) == 0 {
		log.Debug().Msg("schedule has no future occurrences")
		return nil, nil
	}

	granted, err := s.timers.RequestPermission(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: permission request: %w", ErrTimerFailure, err)
	}
	if !granted {
		log.Warn().Msg("notification permission denied, reminders will not fire")
		return nil, nil
	}
	if sched.Recurrence.FallsBackToDaily() {
		log.Warn().Str("recurrence", string(sched.Recurrence)).Msg("recurrence has no dedicated rule yet, reminding daily")
	}

	handles := make(models.Handles, 0, len(arms))
	for _, arm := range arms {
		payload := platform.Payload{
			ScheduleID:    sched.ID,
			MedicineID:    med.ID,
			MedicineName:  med.Name,
			Dosage:        med.Dosage,
			ScheduledTime: arm.First,
		}
		id, err := s.timers.Schedule(ctx, payload, arm.Trigger)
		if err != nil {
			cancelErr := s.Cancel(ctx, handles)
			return nil, errors.Join(fmt.Errorf("%w: schedule %d: %w", ErrTimerFailure, sched.ID, err), cancelErr)
		}
		handles = append(handles, id)
	}

	log.Info().
		Int("timers", len(handles)).
		Time("first", arms[0].First).
		Msg("reminders registered")
	return handles, nil
}

// Cancel disarms every timer in handles. Unknown ids are fine; other
// failures are collected and returned together.
func (s *Scheduler) Cancel(ctx context.Context, handles models.Handles) error {
	var errs []error
	for _, id := range handles {
		if err := s.timers.Cancel(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("cancel timer %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Reconcile replaces the schedule's timers with ones derived from its
// current fields. A failed cancel is only logged: the old timers are
// rejected at fire time anyway.
func (s *Scheduler) Reconcile(ctx context.Context, sched *models.Schedule, med *models.Medicine) (models.Handles, error) {
	if err := s.Cancel(ctx, sched.ReminderHandles); err != nil {
		s.log.Warn().Err(err).Int64("schedule_id", sched.ID).Msg("failed to cancel old reminders")
	}
	return s.Register(ctx, sched, med)
}

// OnDelete cancels the schedule's timers without replacing them.
func (s *Scheduler) OnDelete(ctx context.Context, sched *models.Schedule) error {
	return s.Cancel(ctx, sched.ReminderHandles)
}
