// Package dispatch drives the reminder engine: it consumes timer and
// response events from the platform queue, records them, and hands fired
// reminders to a Notifier. Periodic maintenance runs on cron but executes on
// the loop goroutine, so every store mutation is serialized.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/civil"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hray3182/MedLine/internal/disposition"
	"github.com/hray3182/MedLine/internal/models"
	"github.com/hray3182/MedLine/internal/platform"
	"github.com/hray3182/MedLine/internal/recurrence"
	"github.com/hray3182/MedLine/internal/repository"
	"github.com/hray3182/MedLine/internal/scheduler"
)

const (
	DefaultSweepSpec   = "@every 15m"
	DefaultPurgeSpec   = "0 3 * * *"
	DefaultRealignSpec = "30 3 * * *"
)

// Store is what the loop reads to validate a firing.
type Store interface {
	GetSchedule(ctx context.Context, id int64) (*models.Schedule, error)
	GetMedicine(ctx context.Context, id int64) (*models.Medicine, error)
}

// Config controls the maintenance jobs. Empty specs disable a job.
type Config struct {
	SweepSpec string
	PurgeSpec string
	// RealignSpec re-arms every schedule, which puts repeating timers back
	// on their wall-clock time after a DST change.
	RealignSpec string
	Retention   time.Duration
}

type Loop struct {
	queue     platform.Queue
	store     Store
	scheduler *scheduler.Scheduler
	tracker   *disposition.Tracker
	notifier  Notifier
	cfg       Config
	log       zerolog.Logger

	parser cron.Parser
	jobs   chan job
}

type job struct {
	name string
	run  func(ctx context.Context) error
}

func New(
	queue platform.Queue,
	store Store,
	sch *scheduler.Scheduler,
	tracker *disposition.Tracker,
	notifier Notifier,
	cfg Config,
	log zerolog.Logger,
) *Loop {
	return &Loop{
		queue:     queue,
		store:     store,
		scheduler: sch,
		tracker:   tracker,
		notifier:  notifier,
		cfg:       cfg,
		log:       log.With().Str("component", "dispatch").Logger(),
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:      make(chan job, 4),
	}
}

// Run consumes events until ctx is done or the queue is closed.
func (l *Loop) Run(ctx context.Context) error {
	c, err := l.startCron()
	if err != nil {
		return err
	}
	defer func() { <-c.Stop().Done() }()

	l.log.Info().Msg("dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("dispatch loop stopped")
			return nil
		case ev, ok := <-l.queue.Events():
			if !ok {
				l.log.Info().Msg("event queue closed")
				return nil
			}
			if err := l.Handle(ctx, ev); err != nil {
				l.log.Error().Err(err).Stringer("kind", ev.Kind).Str("timer_id", ev.TimerID).Msg("failed to handle event")
			}
		case j := <-l.jobs:
			if err := j.run(ctx); err != nil {
				l.log.Error().Err(err).Str("job", j.name).Msg("job failed")
			}
		}
	}
}

// Handle processes one event synchronously.
func (l *Loop) Handle(ctx context.Context, ev platform.Event) error {
	switch ev.Kind {
	case platform.EventFired:
		return l.handleFired(ctx, ev)
	case platform.EventUserResponded:
		entry, err := l.tracker.OnUserResponse(ctx, OccurrenceOf(ev), ev.Choice)
		if ev.Reply != nil {
			ev.Reply(entry, err)
		}
		return err
	}
	return fmt.Errorf("unknown event kind %d", ev.Kind)
}

// OccurrenceOf identifies the reminder instance an event refers to.
func OccurrenceOf(ev platform.Event) disposition.Occurrence {
	return disposition.Occurrence{
		InstanceID:    ev.InstanceID(),
		ScheduleID:    ev.Payload.ScheduleID,
		MedicineID:    ev.Payload.MedicineID,
		ScheduledTime: ev.DueAt,
	}
}

func (l *Loop) handleFired(ctx context.Context, ev platform.Event) error {
	sched, med, nominal, reason, err := l.resolve(ctx, ev)
	if err != nil {
		return err
	}
	if reason != "" {
		l.log.Info().Str("timer_id", ev.TimerID).Str("reason", reason).Msg("cancelling stale timer")
		return l.scheduler.Cancel(ctx, models.Handles{ev.TimerID})
	}
	if !nominal.Equal(ev.DueAt) {
		l.log.Warn().
			Str("timer_id", ev.TimerID).
			Time("fired", ev.DueAt).
			Time("nominal", nominal).
			Msg("timer drifted from wall clock, re-arming schedule")
		if _, err := l.scheduler.Rearm(ctx, sched, med); err != nil {
			l.log.Error().Err(err).Int64("schedule_id", sched.ID).Msg("failed to re-arm drifted schedule")
		}
		if nominal.After(ev.DueAt) {
			// Early: the re-armed one-shot fires at the nominal time.
			return nil
		}
		ev.DueAt = nominal
	}

	occ := OccurrenceOf(ev)
	entry, created, err := l.tracker.OnFire(ctx, occ)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	if err := l.notifier.Notify(ctx, Reminder{
		Occurrence: occ,
		TimerID:    ev.TimerID,
		Schedule:   *sched,
		Medicine:   *med,
		Log:        entry,
	}); err != nil {
		return fmt.Errorf("notify %s: %w", occ.InstanceID, err)
	}
	return nil
}

// resolve loads what a firing refers to and the occurrence it stands for,
// which differs from the firing instant when a fixed-period timer crossed a
// UTC offset change. A non-empty reason means the timer outlived its
// schedule and should be cancelled.
func (l *Loop) resolve(ctx context.Context, ev platform.Event) (*models.Schedule, *models.Medicine, time.Time, string, error) {
	var zero time.Time
	sched, err := l.store.GetSchedule(ctx, ev.Payload.ScheduleID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, zero, "schedule deleted", nil
	}
	if err != nil {
		return nil, nil, zero, "", fmt.Errorf("get schedule %d: %w", ev.Payload.ScheduleID, err)
	}
	med, err := l.store.GetMedicine(ctx, sched.MedicineID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, zero, "medicine deleted", nil
	}
	if err != nil {
		return nil, nil, zero, "", fmt.Errorf("get medicine %d: %w", sched.MedicineID, err)
	}

	nominal := recurrence.Nearest(sched, ev.DueAt.In(l.scheduler.Location()))
	switch {
	case !slices.Contains(sched.ReminderHandles, ev.TimerID):
		return nil, nil, zero, "timer replaced", nil
	case !med.Active:
		return nil, nil, zero, "medicine inactive", nil
	case !recurrence.IsDueOn(sched, civil.DateOf(nominal)):
		return nil, nil, zero, "not due on fire date", nil
	}
	return sched, med, nominal, "", nil
}

func (l *Loop) startCron() (*cron.Cron, error) {
	c := cron.New(cron.WithParser(l.parser), cron.WithLocation(l.scheduler.Location()))
	add := func(name, spec string, run func(ctx context.Context) error) error {
		if spec == "" {
			return nil
		}
		_, err := c.AddFunc(spec, func() {
			select {
			case l.jobs <- job{name: name, run: run}:
			default:
				l.log.Warn().Str("job", name).Msg("previous run still queued, skipping")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid %s spec %q: %w", name, spec, err)
		}
		return nil
	}

	if err := add("sweep", l.cfg.SweepSpec, l.sweep); err != nil {
		return nil, err
	}
	if err := add("purge", l.cfg.PurgeSpec, l.purge); err != nil {
		return nil, err
	}
	if err := add("realign", l.cfg.RealignSpec, l.realign); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func (l *Loop) sweep(ctx context.Context) error {
	_, err := l.scheduler.Sweep(ctx, scheduler.SweepMissing)
	return err
}

func (l *Loop) realign(ctx context.Context) error {
	_, err := l.scheduler.Sweep(ctx, scheduler.SweepAll)
	return err
}

func (l *Loop) purge(ctx context.Context) error {
	_, err := l.tracker.Purge(ctx, l.cfg.Retention)
	return err
}
