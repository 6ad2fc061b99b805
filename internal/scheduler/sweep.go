package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hray3182/MedLine/internal/models"
	"github.com/hray3182/MedLine/internal/repository"
)

// Store is the part of the entity store a sweep needs.
type Store interface {
	ListActiveSchedules(ctx context.Context) ([]*models.Schedule, error)
	GetMedicine(ctx context.Context, id int64) (*models.Medicine, error)
	UpdateSchedule(ctx context.Context, id int64, p models.SchedulePatch) (*models.Schedule, error)
}

type SweepMode int

const (
	// SweepMissing registers active schedules that have no timers, which
	// happens after denied permission or a timer failure.
	SweepMissing SweepMode = iota
	// SweepAll reconciles every active schedule. In-process timers do not
	// survive a restart, so this runs at start-up.
	SweepAll
)

func (m SweepMode) String() string {
	if m == SweepAll {
		return "all"
	}
	return "missing"
}

type SweepResult struct {
	Registered int
	Skipped    int
	Failed     int
}

// Sweep re-registers active schedules and persists their new handles.
// Store errors abort the sweep; timer failures are counted and the schedule
// is stored without handles so the next sweep retries it.
func (s *Scheduler) Sweep(ctx context.Context, mode SweepMode) (SweepResult, error) {
	var res SweepResult
	schedules, err := s.store.ListActiveSchedules(ctx)
	if err != nil {
		return res, fmt.Errorf("list active schedules: %w", err)
	}

	for _, sched := range schedules {
		if sched.Recurrence == models.RecurrenceAsNeeded {
			res.Skipped++
			continue
		}
		if mode == SweepMissing && !sched.ReminderHandles.Empty() {
			res.Skipped++
			continue
		}

		med, err := s.store.GetMedicine(ctx, sched.MedicineID)
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn().Int64("schedule_id", sched.ID).Msg("sweep skipped schedule with missing medicine")
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("get medicine %d: %w", sched.MedicineID, err)
		}

		handles, err := s.Rearm(ctx, sched, med)
		switch {
		case errors.Is(err, ErrTimerFailure):
			s.log.Error().Err(err).Int64("schedule_id", sched.ID).Msg("sweep failed to register reminders")
			res.Failed++
		case err != nil:
			return res, err
		case !handles.Empty():
			res.Registered++
		default:
			res.Skipped++
		}
	}

	s.log.Info().
		Stringer("mode", mode).
		Int("registered", res.Registered).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("sweep finished")
	return res, nil
}

// Rearm reconciles one schedule and stores its new handles. When timers
// cannot be armed the schedule is stored without handles and the
// ErrTimerFailure is returned; a store error takes precedence over it.
func (s *Scheduler) Rearm(ctx context.Context, sched *models.Schedule, med *models.Medicine) (models.Handles, error) {
	handles, regErr := s.Reconcile(ctx, sched, med)
	if regErr != nil {
		handles = nil
	}
	if !slices.Equal(handles, sched.ReminderHandles) {
		if _, err := s.store.UpdateSchedule(ctx, sched.ID, models.HandlesPatch(handles)); err != nil {
			return nil, fmt.Errorf("store handles for schedule %d: %w", sched.ID, err)
		}
	}
	return handles, regErr
}
